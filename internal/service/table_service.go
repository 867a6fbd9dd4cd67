package service

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

// Table messages.
const (
	EmptyMessage    = "No records found"
	FallbackMessage = "Something went wrong. Please try again."
)

// MenuItem is one entry of a row's action menu. Confirm items go through a
// confirmation prompt for the submission; Draft items open a form draft whose
// submit is confirmed instead.
type MenuItem struct {
	Action  Action `json:"action"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
	Confirm bool   `json:"confirm"`
	Draft   bool   `json:"draft,omitempty"`
}

// Row is one rendered table row.
type Row struct {
	ID               string        `json:"id"`
	ReferenceNumber  string        `json:"reference_number"`
	FormName         string        `json:"form_name,omitempty"`
	EmployeeName     string        `json:"employee_name"`
	EmployeeCode     string        `json:"employee_code"`
	MovementType     string        `json:"movement_type,omitempty"`
	Status           StatusChip    `json:"status"`
	RecordStatus     string        `json:"record_status,omitempty"`
	CreatedAt        *time.Time    `json:"created_at,omitempty"`
	UpdatedAt        *time.Time    `json:"updated_at,omitempty"`
	HistoryAvailable bool          `json:"history_available"`
	Permissions      PermissionSet `json:"permissions"`
	Menu             []MenuItem    `json:"menu"`
}

// MessageRow replaces data rows for empty and error states.
type MessageRow struct {
	Message string `json:"message"`
	Colspan int    `json:"colspan"`
}

// TableView is the full state of one table render.
type TableView struct {
	Scope          Scope            `json:"scope"`
	Form           models.FormCode  `json:"form,omitempty"`
	Rows           []Row            `json:"rows"`
	Total          int              `json:"total"`
	Page           int              `json:"page"`
	PerPage        int              `json:"per_page"`
	TotalPages     int              `json:"total_pages"`
	PerPageOptions []int            `json:"per_page_options"`
	Query          models.ListQuery `json:"query"`
	EmptyRow       *MessageRow      `json:"empty_row,omitempty"`
	ErrorRow       *MessageRow      `json:"error_row,omitempty"`
	Seq            uint64           `json:"seq,omitempty"`
}

// tableColumns is the colspan of message rows.
const tableColumns = 7

// tabStatuses maps table tabs onto approval status filters.
var tabStatuses = map[string][]string{
	"pending":  {string(models.StatusPending)},
	"returned": {string(models.StatusReturned), string(models.StatusAwaitingResubmission)},
	"approved": {string(models.StatusApproved)},
	"rejected": {string(models.StatusRejected)},
	"closed":   {string(models.StatusCancelled), string(models.StatusCompleted)},
}

// ApplyTab expands a tab selection into its approval status filter. An
// explicit approval status filter wins over the tab.
func ApplyTab(q models.ListQuery) models.ListQuery {
	q = q.Normalize()
	if len(q.ApprovalStatus) > 0 {
		return q
	}
	if statuses, ok := tabStatuses[strings.ToLower(q.Tab)]; ok {
		q.ApprovalStatus = append([]string(nil), statuses...)
	}
	return q
}

// TableService builds table view models.
type TableService struct {
	submissions *SubmissionService
	logger      *zap.Logger
}

// NewTableService constructs the service.
func NewTableService(submissions *SubmissionService, logger *zap.Logger) *TableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableService{submissions: submissions, logger: logger}
}

// Load fetches and renders one table page. The view is always usable: on
// failure it carries an error row and err reports the cause.
func (s *TableService) Load(ctx context.Context, scope Scope, form models.FormCode, q models.ListQuery) (TableView, error) {
	q = ApplyTab(q)
	if scope == ScopePendingMDA {
		page, err := s.submissions.PendingMDA(ctx, q)
		if err != nil {
			return ErrorView(scope, form, q, err), err
		}
		return PendingMDAView(page, q), nil
	}
	page, err := s.submissions.List(ctx, scope, form, q)
	if err != nil {
		return ErrorView(scope, form, q, err), err
	}
	return SubmissionView(scope, form, page, q), nil
}

func baseView(scope Scope, form models.FormCode, q models.ListQuery, total int) TableView {
	p := models.NewPagination(q, total)
	return TableView{
		Scope:          scope,
		Form:           form,
		Rows:           []Row{},
		Total:          total,
		Page:           p.Page,
		PerPage:        p.PageSize,
		TotalPages:     p.TotalPages,
		PerPageOptions: models.PerPageOptions,
		Query:          q,
	}
}

// ErrorView renders the error state: a single row with the message.
func ErrorView(scope Scope, form models.FormCode, q models.ListQuery, err error) TableView {
	view := baseView(scope, form, q, 0)
	view.ErrorRow = &MessageRow{Message: appErrors.MessageOf(err, FallbackMessage), Colspan: tableColumns}
	return view
}

// SubmissionView renders a page of submissions.
func SubmissionView(scope Scope, form models.FormCode, page *models.Page[models.FormSubmission], q models.ListQuery) TableView {
	view := baseView(scope, form, q, page.Total)
	for _, sub := range page.Data {
		view.Rows = append(view.Rows, SubmissionRow(scope, form, sub))
	}
	if len(view.Rows) == 0 {
		view.EmptyRow = &MessageRow{Message: EmptyMessage, Colspan: tableColumns}
	}
	return view
}

// PendingMDAView renders a page of the pending MDA list.
func PendingMDAView(page *models.Page[models.PendingMDA], q models.ListQuery) TableView {
	view := baseView(ScopePendingMDA, models.FormMDA, q, page.Total)
	for _, item := range page.Data {
		view.Rows = append(view.Rows, PendingMDARow(item))
	}
	if len(view.Rows) == 0 {
		view.EmptyRow = &MessageRow{Message: EmptyMessage, Colspan: tableColumns}
	}
	return view
}

// SubmissionRow renders one submission. Menu items are enabled strictly from
// the permission set.
func SubmissionRow(scope Scope, form models.FormCode, sub models.FormSubmission) Row {
	name, code := sub.Employee()
	perms := Permissions(sub)
	row := Row{
		ID:               sub.ID.String(),
		ReferenceNumber:  sub.Reference(),
		EmployeeName:     name,
		EmployeeCode:     code,
		Status:           ChipFor(string(sub.EffectiveStatus())),
		RecordStatus:     sub.Status,
		CreatedAt:        sub.CreatedAt,
		UpdatedAt:        sub.UpdatedAt,
		HistoryAvailable: sub.ID != "",
		Permissions:      perms,
	}
	if sub.Form != nil {
		row.FormName = sub.Form.Name
	}
	row.Menu = menuFor(scope, form, perms)
	return row
}

func menuFor(scope Scope, form models.FormCode, perms PermissionSet) []MenuItem {
	item := func(a Action, label string, confirm bool) MenuItem {
		return MenuItem{Action: a, Label: label, Enabled: perms.Allows(a), Confirm: confirm}
	}
	menu := []MenuItem{item(ActionView, "View", false)}
	switch scope {
	case ScopeMonitoring:
		menu = append(menu,
			item(ActionApprove, "Approve", true),
			item(ActionReject, "Reject", true),
			item(ActionStart, "Start", true),
			item(ActionComplete, "Complete", true),
		)
	default:
		edit, resubmit := item(ActionEdit, "Edit", false), item(ActionResubmit, "Resubmit", false)
		edit.Draft, resubmit.Draft = true, true
		menu = append(menu, edit, resubmit, item(ActionCancel, "Cancel", true))
	}
	if form == models.FormMDA {
		menu = append(menu, item(ActionPrint, "Print", false))
	}
	return menu
}

// PendingMDARow renders a movement awaiting MDA creation.
func PendingMDARow(item models.PendingMDA) Row {
	row := Row{
		ID:              item.SubmissionID.String(),
		ReferenceNumber: item.ReferenceNumber,
		MovementType:    item.MovementType,
		Status:          ChipFor(orDefault(item.ApprovalStatus, string(models.StatusPendingMDACreation))),
	}
	if item.EmployeeName != nil {
		row.EmployeeName = *item.EmployeeName
	}
	if item.EmployeeCode != nil {
		row.EmployeeCode = *item.EmployeeCode
	}
	row.Menu = []MenuItem{
		{Action: ActionView, Label: "View", Enabled: true},
		{Action: ActionCreateMDA, Label: "Create MDA", Enabled: true},
	}
	return row
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// FilterBySearch keeps items where any field fuzzily contains term. Missing
// fields are skipped rather than assumed present.
func FilterBySearch[T any](items []T, term string, fields func(T) []*string) []T {
	term = strings.TrimSpace(term)
	if term == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		for _, f := range fields(item) {
			if f != nil && fuzzy.MatchNormalizedFold(term, *f) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// FilterPendingMDA searches reference number, employee and movement type.
func FilterPendingMDA(items []models.PendingMDA, term string) []models.PendingMDA {
	return FilterBySearch(items, term, func(p models.PendingMDA) []*string {
		ref, movement := p.ReferenceNumber, p.MovementType
		return []*string{&ref, p.EmployeeName, p.EmployeeCode, &movement}
	})
}
