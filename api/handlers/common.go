package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			Retryable:  err.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}

// WriteErrorFrom 将任意错误映射为 API 错误后写入
func WriteErrorFrom(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	WriteError(w, r, toAPIError(err), logger)
}

func toAPIError(err error) *types.Error {
	if apiErr, ok := types.AsError(err); ok {
		return apiErr
	}
	var regression *rag.StageRegressionError
	switch {
	case errors.As(err, &regression):
		return types.NewError(types.ErrStageRegression, regression.Error()).
			WithHTTPStatus(http.StatusConflict)
	case errors.Is(err, rag.ErrNotFound):
		return types.NewError(types.ErrNotFound, err.Error()).WithCause(err)
	case errors.Is(err, rag.ErrDimensionMismatch):
		return types.NewError(types.ErrDimensionMismatch, err.Error()).WithCause(err)
	}
	return types.NewInternalError("internal error", err)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := types.RequestID(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrAuthentication, types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrAssistantNotFound, types.ErrAnchorNotFound:
		return http.StatusNotFound
	case types.ErrConflict, types.ErrStageRegression, types.ErrImmutableRecord:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrPromptBudgetExceed:
		return http.StatusRequestEntityTooLarge

	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrCompletionFailed, types.ErrEmbeddingFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 限制，拒绝未知字段），失败时已写响应
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewInvalidRequestError("request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewInvalidRequestError("invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.NewInvalidRequestError("request body too large").
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 验证 Content-Type 为 JSON
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	switch r.Header.Get("Content-Type") {
	case "application/json", "application/json; charset=utf-8":
		return true
	}
	WriteError(w, r, types.NewInvalidRequestError("Content-Type must be application/json"), logger)
	return false
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Size       int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode = code
	rw.Written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Size += n
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层连接（websocket 升级需要）
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
