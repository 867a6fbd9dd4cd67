package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/internal/service"
	"github.com/noah-isme/movement-gateway/pkg/response"
)

type tableLoader interface {
	Load(ctx context.Context, scope service.Scope, form models.FormCode, q models.ListQuery) (service.TableView, error)
}

type submissionReader interface {
	Get(ctx context.Context, scope service.Scope, form models.FormCode, id string) (*models.FormSubmission, error)
	History(ctx context.Context, scope service.Scope, form models.FormCode, id string) ([]service.TimelineItem, error)
}

// SubmissionDetail is one submission plus its rendered table row, which
// carries the status chip, permissions and action menu.
type SubmissionDetail struct {
	Submission *models.FormSubmission `json:"submission"`
	Row        service.Row            `json:"row"`
}

// SubmissionHandler serves the my-submissions and monitoring tables.
type SubmissionHandler struct {
	tables      tableLoader
	submissions submissionReader
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(tables tableLoader, submissions submissionReader) *SubmissionHandler {
	return &SubmissionHandler{tables: tables, submissions: submissions}
}

// ListMine godoc
// @Summary List the caller's submissions
// @Tags Submissions
// @Produce json
// @Param form path string true "Form code (mrf, data-change, mda)"
// @Param page query int false "Page"
// @Param per_page query int false "Page size"
// @Param search query string false "Search term"
// @Param tab query string false "Status tab"
// @Param approval_status query []string false "Approval status filter"
// @Success 200 {object} response.Envelope
// @Router /forms/{form}/submissions [get]
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	h.list(c, service.ScopeMine)
}

// ListMonitoring godoc
// @Summary List submissions awaiting the caller's review
// @Tags Monitoring
// @Produce json
// @Param form path string true "Form code (mrf, data-change, mda)"
// @Param page query int false "Page"
// @Param per_page query int false "Page size"
// @Param search query string false "Search term"
// @Param tab query string false "Status tab"
// @Success 200 {object} response.Envelope
// @Router /monitoring/{form}/submissions [get]
func (h *SubmissionHandler) ListMonitoring(c *gin.Context) {
	h.list(c, service.ScopeMonitoring)
}

func (h *SubmissionHandler) list(c *gin.Context, scope service.Scope) {
	form, err := formFromPath(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	q, err := listQueryFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	view, err := h.tables.Load(c.Request.Context(), scope, form, q)
	if err != nil {
		response.ErrorWithData(c, err, view)
		return
	}
	pagination := models.NewPagination(view.Query, view.Total)
	response.JSON(c, http.StatusOK, view, pagination)
}

// GetMine godoc
// @Summary Get one of the caller's submissions
// @Tags Submissions
// @Produce json
// @Param form path string true "Form code"
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /forms/{form}/submissions/{id} [get]
func (h *SubmissionHandler) GetMine(c *gin.Context) {
	h.get(c, service.ScopeMine)
}

// GetMonitoring godoc
// @Summary Get a submission under review
// @Tags Monitoring
// @Produce json
// @Param form path string true "Form code"
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Router /monitoring/{form}/submissions/{id} [get]
func (h *SubmissionHandler) GetMonitoring(c *gin.Context) {
	h.get(c, service.ScopeMonitoring)
}

func (h *SubmissionHandler) get(c *gin.Context, scope service.Scope) {
	form, err := formFromPath(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sub, err := h.submissions.Get(c.Request.Context(), scope, form, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, SubmissionDetail{
		Submission: sub,
		Row:        service.SubmissionRow(scope, form, *sub),
	}, nil)
}

// History godoc
// @Summary Activity timeline of a submission
// @Tags Submissions
// @Produce json
// @Param form path string true "Form code"
// @Param id path string true "Submission ID"
// @Param scope query string false "me or monitoring"
// @Success 200 {object} response.Envelope
// @Router /forms/{form}/submissions/{id}/history [get]
func (h *SubmissionHandler) History(c *gin.Context) {
	form, err := formFromPath(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	scope, err := scopeFrom(c, service.ScopeMine)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.submissions.History(c.Request.Context(), scope, form, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
