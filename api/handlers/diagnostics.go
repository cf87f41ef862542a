package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/api"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

// =============================================================================
// 🩺 诊断 Handler
// =============================================================================

const (
	defaultLogLimit   = 50
	maxLogLimit       = 500
	heartbeatInterval = 30 * time.Second
)

// DriftService 锚点漂移分析，*rag.DriftAnalyzer 实现
type DriftService interface {
	Analyze(ctx context.Context) ([]rag.DriftReport, error)
}

// DiagnosticsHandler 诊断日志查询、漂移报告与实时推送
type DiagnosticsHandler struct {
	logs      rag.GroundingLogStore
	drift     DriftService
	threshold float64
	feed      *rag.Feed
	origins   []string
	logger    *zap.Logger

	heartbeat time.Duration
}

// DiagnosticsOption 处理器选项
type DiagnosticsOption func(*DiagnosticsHandler)

// WithDrift 启用漂移报告端点
func WithDrift(d DriftService, threshold float64) DiagnosticsOption {
	return func(h *DiagnosticsHandler) {
		h.drift = d
		h.threshold = threshold
	}
}

// WithFeed 启用 websocket 推送
func WithFeed(feed *rag.Feed, allowedOrigins []string) DiagnosticsOption {
	return func(h *DiagnosticsHandler) {
		h.feed = feed
		h.origins = allowedOrigins
	}
}

// NewDiagnosticsHandler 创建处理器
func NewDiagnosticsHandler(logs rag.GroundingLogStore, logger *zap.Logger, opts ...DiagnosticsOption) *DiagnosticsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &DiagnosticsHandler{logs: logs, logger: logger, heartbeat: heartbeatInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleListLogs GET /api/v1/diagnostics/grounding-logs?assistant_id=&session_id=&since=&limit=
func (h *DiagnosticsHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	filter, apiErr := parseLogFilter(r)
	if apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	items, err := h.logs.ListGroundingLogs(r.Context(), filter)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	if items == nil {
		items = []rag.GroundingEntry{}
	}
	WriteSuccess(w, r, api.GroundingLogList{Items: items, Count: len(items)})
}

// HandleGetLog GET /api/v1/diagnostics/grounding-logs/{id}
func (h *DiagnosticsHandler) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	entry, playback, err := h.logs.GetGroundingLog(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	if playback == nil {
		playback = []rag.PlaybackEntry{}
	}
	WriteSuccess(w, r, api.GroundingLogDetail{Entry: *entry, Playback: playback})
}

// HandleDrift GET /api/v1/diagnostics/drift
func (h *DiagnosticsHandler) HandleDrift(w http.ResponseWriter, r *http.Request) {
	if h.drift == nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "drift analysis is not configured"), h.logger)
		return
	}
	reports, err := h.drift.Analyze(r.Context())
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	if reports == nil {
		reports = []rag.DriftReport{}
	}
	WriteSuccess(w, r, api.DriftResponse{Threshold: h.threshold, Reports: reports})
}

// HandleStream GET /api/v1/diagnostics/stream，websocket 推送新写入的诊断记录
func (h *DiagnosticsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "diagnostics feed is not configured"), h.logger)
		return
	}
	assistantID := r.URL.Query().Get("assistant_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, cancel := h.feed.Subscribe()
	defer cancel()

	// 只推送，不读取客户端消息；CloseRead 处理对端关闭
	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("diagnostics stream opened", zap.String("assistant_id", assistantID))
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if assistantID != "" && entry.AssistantID != assistantID {
				continue
			}
			if err := h.send(ctx, conn, api.StreamEvent{Type: "grounding", Entry: &entry, Time: time.Now().UTC()}); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.send(ctx, conn, api.StreamEvent{Type: "heartbeat", Time: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (h *DiagnosticsHandler) send(ctx context.Context, conn *websocket.Conn, ev api.StreamEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		h.logger.Debug("diagnostics stream write failed", zap.Error(err))
		return err
	}
	return nil
}

func parseLogFilter(r *http.Request) (rag.GroundingLogFilter, *types.Error) {
	q := r.URL.Query()
	filter := rag.GroundingLogFilter{
		AssistantID: q.Get("assistant_id"),
		SessionID:   q.Get("session_id"),
		Limit:       defaultLogLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, types.NewInvalidRequestError("limit must be a positive integer")
		}
		filter.Limit = min(n, maxLogLimit)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, types.NewInvalidRequestError("since must be an RFC3339 timestamp")
		}
		filter.Since = since
	}
	return filter, nil
}
