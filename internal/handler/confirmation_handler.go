package handler

import (
	"context"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/response"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type confirmationService interface {
	Prepare(ctx context.Context, scope service.Scope, form models.FormCode, id string, action service.Action) (*service.Prompt, error)
	Confirm(ctx context.Context, token string, req service.ConfirmRequest) (*service.ConfirmResult, error)
}

type confirmRequest struct {
	Token  string `json:"token" form:"token" binding:"required"`
	Reason string `json:"reason" form:"reason"`
}

// reviewerActions are taken from the monitoring table unless a scope is given.
var reviewerActions = map[service.Action]bool{
	service.ActionApprove:  true,
	service.ActionReject:   true,
	service.ActionStart:    true,
	service.ActionComplete: true,
}

// ConfirmationHandler runs the two-step confirm flow for mutating actions.
type ConfirmationHandler struct {
	confirmations  confirmationService
	maxUploadBytes int64
}

// NewConfirmationHandler constructs the handler.
func NewConfirmationHandler(confirmations confirmationService, maxUploadBytes int64) *ConfirmationHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &ConfirmationHandler{confirmations: confirmations, maxUploadBytes: maxUploadBytes}
}

// Prepare godoc
// @Summary Issue a confirmation prompt for a submission action
// @Tags Confirmations
// @Produce json
// @Param form path string true "Form code"
// @Param id path string true "Submission ID"
// @Param action path string true "cancel, approve, reject, start or complete"
// @Param scope query string false "me or monitoring"
// @Success 200 {object} response.Envelope
// @Router /forms/{form}/submissions/{id}/actions/{action}/prepare [post]
func (h *ConfirmationHandler) Prepare(c *gin.Context) {
	form, err := formFromPath(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	action, ok := service.ParseAction(c.Param("action"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown action"))
		return
	}
	fallback := service.ScopeMine
	if reviewerActions[action] {
		fallback = service.ScopeMonitoring
	}
	scope, err := scopeFrom(c, fallback)
	if err != nil {
		response.Error(c, err)
		return
	}
	prompt, err := h.confirmations.Prepare(c.Request.Context(), scope, form, c.Param("id"), action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prompt, nil)
}

// Confirm godoc
// @Summary Execute a confirmed action
// @Description Accepts JSON, or multipart/form-data when attachments are sent along.
// @Tags Confirmations
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param token formData string true "Confirmation token"
// @Param reason formData string false "Reason (required to cancel)"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /confirmations/confirm [post]
func (h *ConfirmationHandler) Confirm(c *gin.Context) {
	var (
		req   confirmRequest
		files []upstream.File
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
			return
		}
		parts, closeAll, err := uploadedFiles(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		defer closeAll()
		files = parts
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	result, err := h.confirmations.Confirm(c.Request.Context(), req.Token, service.ConfirmRequest{
		Reason: strings.TrimSpace(req.Reason),
		Files:  files,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// uploadedFiles opens every file part, keeping its field name for the
// upstream request.
func uploadedFiles(c *gin.Context) ([]upstream.File, func(), error) {
	mf, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, appErrors.Clone(appErrors.ErrValidation, "invalid multipart payload")
	}
	fields := make([]string, 0, len(mf.File))
	for field := range mf.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var (
		files  []upstream.File
		opened []multipart.File
	)
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, field := range fields {
		for _, fh := range mf.File[field] {
			src, err := fh.Open()
			if err != nil {
				closeAll()
				return nil, func() {}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
			}
			opened = append(opened, src)
			files = append(files, upstream.File{
				Field:       field,
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     src,
			})
		}
	}
	return files, closeAll, nil
}
