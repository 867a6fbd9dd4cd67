package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/response"
)

type draftService interface {
	Open(ctx context.Context, req service.OpenDraftRequest) (*service.Draft, error)
	Get(ctx context.Context, id string) (*service.Draft, error)
	Patch(ctx context.Context, id string, changes map[string]interface{}) (*service.Draft, error)
	BeginEdit(ctx context.Context, id string) (*service.Draft, error)
	CancelEdit(ctx context.Context, id string) (*service.Draft, error)
	Discard(ctx context.Context, id string) error
	RequestPrefill(ctx context.Context, id, sourceID string) (*service.PrefillResult, error)
}

type draftPrompter interface {
	PrepareDraft(ctx context.Context, draftID string) (*service.Prompt, error)
}

type patchDraftRequest struct {
	Fields map[string]interface{} `json:"fields" binding:"required"`
}

type prefillDraftRequest struct {
	SourceSubmissionID string `json:"source_submission_id" binding:"required"`
}

// DraftHandler exposes server-held form sessions.
type DraftHandler struct {
	drafts  draftService
	prompts draftPrompter
}

// NewDraftHandler constructs the handler.
func NewDraftHandler(drafts draftService, prompts draftPrompter) *DraftHandler {
	return &DraftHandler{drafts: drafts, prompts: prompts}
}

// Open godoc
// @Summary Open a form in create, view or edit mode
// @Tags Drafts
// @Accept json
// @Produce json
// @Param payload body service.OpenDraftRequest true "Draft payload"
// @Success 201 {object} response.Envelope
// @Router /drafts [post]
func (h *DraftHandler) Open(c *gin.Context) {
	var req service.OpenDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid draft payload"))
		return
	}
	code, ok := models.ParseFormCode(string(req.Form))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown form"))
		return
	}
	req.Form = code
	draft, err := h.drafts.Open(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, draft)
}

// Get godoc
// @Summary Get a draft
// @Tags Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id} [get]
func (h *DraftHandler) Get(c *gin.Context) {
	draft, err := h.drafts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, draft)
}

// Patch godoc
// @Summary Edit draft fields
// @Tags Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body patchDraftRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id} [patch]
func (h *DraftHandler) Patch(c *gin.Context) {
	var req patchDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fields are required"))
		return
	}
	draft, err := h.drafts.Patch(c.Request.Context(), c.Param("id"), req.Fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, draft)
}

// BeginEdit godoc
// @Summary Switch a view draft to edit mode
// @Tags Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id}/edit [post]
func (h *DraftHandler) BeginEdit(c *gin.Context) {
	draft, err := h.drafts.BeginEdit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, draft)
}

// CancelEdit godoc
// @Summary Discard edits and restore the original values
// @Tags Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id}/cancel-edit [post]
func (h *DraftHandler) CancelEdit(c *gin.Context) {
	draft, err := h.drafts.CancelEdit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, draft)
}

// Prefill godoc
// @Summary Prefill a new draft from an approved movement
// @Tags Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body prefillDraftRequest true "Prefill source"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id}/prefill [post]
func (h *DraftHandler) Prefill(c *gin.Context) {
	var req prefillDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "source_submission_id is required"))
		return
	}
	result, err := h.drafts.RequestPrefill(c.Request.Context(), c.Param("id"), req.SourceSubmissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Submit godoc
// @Summary Validate a draft and issue its confirmation prompt
// @Description The draft is sent upstream once the prompt token is confirmed.
// @Tags Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /drafts/{id}/submit [post]
func (h *DraftHandler) Submit(c *gin.Context) {
	prompt, err := h.prompts.PrepareDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prompt, nil)
}

// Discard godoc
// @Summary Delete a draft
// @Tags Drafts
// @Param id path string true "Draft ID"
// @Success 204
// @Router /drafts/{id} [delete]
func (h *DraftHandler) Discard(c *gin.Context) {
	if err := h.drafts.Discard(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
