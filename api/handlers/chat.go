package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/api"
	"github.com/BaSui01/groundwork/chat"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

// =============================================================================
// 💬 对话与检索 Handler
// =============================================================================

// ChatService 对话编排，*chat.Orchestrator 实现
type ChatService interface {
	Reply(ctx context.Context, in chat.Input) (*chat.Output, error)
}

// ChatHandler 对话与检索处理器
type ChatHandler struct {
	chat      ChatService
	retriever chat.Retriever
	logger    *zap.Logger
}

// NewChatHandler 创建处理器
func NewChatHandler(service ChatService, retriever chat.Retriever, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{chat: service, retriever: retriever, logger: logger}
}

// HandleChat POST /api/v1/assistants/{id}/chat[?debug=true]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	assistantID := r.PathValue("id")
	if assistantID == "" {
		WriteError(w, r, types.NewInvalidRequestError("assistant id is required"), h.logger)
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, r, types.NewInvalidRequestError("message cannot be empty"), h.logger)
		return
	}

	debug, err := boolQuery(r, "debug")
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	ctx := types.WithAssistantID(r.Context(), assistantID)
	if req.SessionID != "" {
		ctx = types.WithSessionID(ctx, req.SessionID)
	}

	start := time.Now()
	out, replyErr := h.chat.Reply(ctx, chat.Input{
		AssistantID:   assistantID,
		SessionID:     req.SessionID,
		Message:       req.Message,
		Debug:         debug,
		ForceFallback: req.ForceFallback,
	})
	if replyErr != nil {
		WriteErrorFrom(w, r, replyErr, h.logger)
		return
	}

	h.logger.Info("chat reply",
		zap.String("assistant_id", assistantID),
		zap.String("session_id", out.SessionID),
		zap.Bool("debug", debug),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, r, api.NewChatResponse(out))
}

// HandleRetrieve POST /api/v1/assistants/{id}/retrieve，不调用模型
func (h *ChatHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.RetrieveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TopN < 0 {
		WriteError(w, r, types.NewInvalidRequestError("top_n must be non-negative"), h.logger)
		return
	}

	result, err := h.retriever.GetRelevantChunks(r.Context(), rag.RetrievalRequest{
		AssistantID:   r.PathValue("id"),
		Query:         req.Query,
		ForceFallback: req.ForceFallback,
		TopN:          req.TopN,
	})
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, result)
}

func boolQuery(r *http.Request, key string) (bool, *types.Error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, types.Errorf(types.ErrInvalidRequest, "invalid %s value %q", key, raw).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return v, nil
}
