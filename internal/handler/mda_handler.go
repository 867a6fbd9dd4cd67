package handler

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/printing"
	"github.com/noah-isme/movement-gateway/internal/service"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/response"
)

type mdaSource interface {
	Get(ctx context.Context, scope service.Scope, form models.FormCode, id string) (*models.FormSubmission, error)
	Prefill(ctx context.Context, submissionID string) (map[string]interface{}, error)
}

// MDAHandler serves Master Data Authority specific endpoints.
type MDAHandler struct {
	tables      tableLoader
	submissions mdaSource
	now         func() time.Time
}

// NewMDAHandler constructs the handler.
func NewMDAHandler(tables tableLoader, submissions mdaSource) *MDAHandler {
	return &MDAHandler{tables: tables, submissions: submissions, now: time.Now}
}

// Pending godoc
// @Summary Movements awaiting MDA creation
// @Tags MDA
// @Produce json
// @Param page query int false "Page"
// @Param per_page query int false "Page size"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /mda/pending [get]
func (h *MDAHandler) Pending(c *gin.Context) {
	q, err := listQueryFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.tables.Load(c.Request.Context(), service.ScopePendingMDA, models.FormMDA, q)
	if err != nil {
		response.ErrorWithData(c, err, view)
		return
	}
	response.JSON(c, http.StatusOK, view, models.NewPagination(view.Query, view.Total))
}

// Prefill godoc
// @Summary MDA prefill values derived from an approved movement
// @Tags MDA
// @Produce json
// @Param id path string true "Source submission ID"
// @Success 200 {object} response.Envelope
// @Router /mda/prefill/{id} [get]
func (h *MDAHandler) Prefill(c *gin.Context) {
	values, err := h.submissions.Prefill(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, values, nil)
}

// Print godoc
// @Summary Printable MDA page
// @Tags MDA
// @Produce html
// @Param id path string true "MDA submission ID"
// @Param scope query string false "me or monitoring"
// @Success 200 {string} string "HTML page"
// @Router /mda/{id}/print [get]
func (h *MDAHandler) Print(c *gin.Context) {
	scope, err := scopeFrom(c, service.ScopeMine)
	if err != nil {
		response.Error(c, err)
		return
	}
	sub, err := h.submissions.Get(c.Request.Context(), scope, models.FormMDA, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	rec, err := printing.DecodeRecord(*sub)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "MDA record could not be read"))
		return
	}

	var buf bytes.Buffer
	if err := printing.Render(&buf, printing.BuildLayout(*sub, rec, h.now())); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render print layout"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
