package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/groundwork/llm"
)

// maxErrorBody 错误响应最多读取的字节数
const maxErrorBody = 64 << 10

// MapHTTPError 将上游 HTTP 状态映射为 llm.Error
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamTimeout
		e.Retryable = true
	case status >= 500:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	case status >= 400:
		e.Code = llm.ErrInvalidRequest
	default:
		e.Code = llm.ErrUpstreamError
	}
	return e
}

// TransportError 网络层错误，可重试
func TransportError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// ReadErrorMessage 提取 {"error":{"message":...}}，失败时返回原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// ChooseModel 请求 > 默认 > 兜底
func ChooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
