package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/api"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

// =============================================================================
// ⚓ 术语锚点 Handler
// =============================================================================

// AnchorHandler 锚点注册表读写
type AnchorHandler struct {
	store  rag.AnchorStore
	logger *zap.Logger
}

// NewAnchorHandler 创建处理器
func NewAnchorHandler(store rag.AnchorStore, logger *zap.Logger) *AnchorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnchorHandler{store: store, logger: logger}
}

// HandleList GET /api/v1/anchors
func (h *AnchorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	anchors, err := h.store.ListAnchors(r.Context())
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	if anchors == nil {
		anchors = []rag.Anchor{}
	}
	WriteSuccess(w, r, anchors)
}

// HandleGet GET /api/v1/anchors/{slug}
func (h *AnchorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	anchor, err := h.store.GetAnchor(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.writeAnchorError(w, r, err)
		return
	}
	WriteSuccess(w, r, anchor)
}

// HandleUpsert PUT /api/v1/anchors/{slug}；已有阶段不会被降低
func (h *AnchorHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.UpsertAnchorRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	slug := r.PathValue("slug")
	if strings.TrimSpace(req.Label) == "" {
		WriteError(w, r, types.NewInvalidRequestError("label is required"), h.logger)
		return
	}
	if req.FallbackScore < 0 || req.FallbackScore > 1 {
		WriteError(w, r, types.NewInvalidRequestError("fallback_score must be within [0, 1]"), h.logger)
		return
	}

	anchor := rag.Anchor{
		Slug:           slug,
		Label:          req.Label,
		Aliases:        req.Aliases,
		FallbackScore:  req.FallbackScore,
		MutationStatus: req.MutationStatus,
	}
	if err := h.store.UpsertAnchor(r.Context(), anchor); err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}
	saved, err := h.store.GetAnchor(r.Context(), slug)
	if err != nil {
		h.writeAnchorError(w, r, err)
		return
	}
	h.logger.Info("anchor upserted", zap.String("slug", slug))
	WriteSuccess(w, r, saved)
}

// HandleAdvanceStage POST /api/v1/anchors/{slug}/stage；后退返回 409
func (h *AnchorHandler) HandleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.AdvanceStageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	stage, err := rag.ParseStage(req.Stage)
	if err != nil {
		WriteError(w, r, types.NewInvalidRequestError(err.Error()), h.logger)
		return
	}

	slug := r.PathValue("slug")
	anchor, err := h.store.AdvanceAnchorStage(r.Context(), slug, stage)
	if err != nil {
		h.writeAnchorError(w, r, err)
		return
	}
	h.logger.Info("anchor stage advanced",
		zap.String("slug", slug),
		zap.String("stage", string(anchor.Stage)),
	)
	WriteSuccess(w, r, anchor)
}

func (h *AnchorHandler) writeAnchorError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Code == types.ErrNotFound {
		apiErr = types.NewNotFoundError(types.ErrAnchorNotFound, err.Error()).WithCause(err)
	}
	WriteError(w, r, apiErr, h.logger)
}
