package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

// Scope selects whose submissions are listed.
type Scope string

const (
	ScopeMine       Scope = upstream.ScopeMe
	ScopeMonitoring Scope = upstream.ScopeMonitoring
	ScopePendingMDA Scope = "pending-mda"
)

// ParseScope validates a scope route segment.
func ParseScope(raw string) (Scope, bool) {
	switch s := Scope(raw); s {
	case ScopeMine, ScopeMonitoring, ScopePendingMDA:
		return s, true
	case "mine", "forms":
		return ScopeMine, true
	default:
		return "", false
	}
}

func (s Scope) tagType(form models.FormCode) string {
	if s == ScopeMonitoring {
		return MonitoringTagType(form)
	}
	return SubmissionTagType(form)
}

type submissionReader interface {
	ListMySubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error)
	GetMySubmission(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error)
	ListMonitoring(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error)
	GetMonitoring(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error)
	ListPendingMDA(ctx context.Context, q models.ListQuery) (*models.Page[models.PendingMDA], error)
	GetMDAPrefill(ctx context.Context, submissionID string) (map[string]interface{}, error)
}

type submissionWriter interface {
	CreateSubmission(ctx context.Context, form models.FormCode, payload upstream.Payload) (*models.FormSubmission, error)
	UpdateSubmission(ctx context.Context, id string, payload upstream.Payload) (*models.FormSubmission, error)
	ResubmitSubmission(ctx context.Context, id string, payload upstream.Payload) (*models.FormSubmission, error)
	CancelSubmission(ctx context.Context, id, reason string) (*models.FormSubmission, error)
	ApproveSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error)
	RejectSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error)
	StartSubmission(ctx context.Context, id string) (*models.FormSubmission, error)
	CompleteSubmission(ctx context.Context, id string) (*models.FormSubmission, error)
}

// SubmissionBackend is the part of the upstream client the submission
// service needs.
type SubmissionBackend interface {
	submissionReader
	submissionWriter
}

// SubmissionService fronts upstream submission reads with the tag cache and
// routes mutations so the right tags are evicted afterwards.
type SubmissionService struct {
	backend SubmissionBackend
	cache   *CacheService
	logger  *zap.Logger
}

// NewSubmissionService constructs the service.
func NewSubmissionService(backend SubmissionBackend, cache *CacheService, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{backend: backend, cache: cache, logger: logger}
}

func subjectOf(ctx context.Context) string {
	return SessionFromContext(ctx).Subject()
}

// List returns one page of submissions for a scope.
func (s *SubmissionService) List(ctx context.Context, scope Scope, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	q = q.Normalize()
	tagType := scope.tagType(form)
	key := Key(subjectOf(ctx), string(scope), string(form), queryKey(q))

	var load func(context.Context) (*models.Page[models.FormSubmission], error)
	switch scope {
	case ScopeMine:
		load = func(ctx context.Context) (*models.Page[models.FormSubmission], error) {
			return s.backend.ListMySubmissions(ctx, form, q)
		}
	case ScopeMonitoring:
		load = func(ctx context.Context) (*models.Page[models.FormSubmission], error) {
			return s.backend.ListMonitoring(ctx, form, q)
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("scope %q does not list submissions", scope))
	}

	// Rows carry their own item tags, so this cannot go through cached().
	var page *models.Page[models.FormSubmission]
	if hit, _ := s.cache.Get(ctx, key, &page); hit && page != nil {
		return page, nil
	}
	page, err := load(ctx)
	if err != nil {
		return nil, err
	}
	tags := []Tag{ListTag(tagType)}
	for _, row := range page.Data {
		tags = append(tags, ItemTag(tagType, row.ID.String()))
	}
	_ = s.cache.Set(ctx, key, page, tags...)
	return page, nil
}

// Get returns one submission.
func (s *SubmissionService) Get(ctx context.Context, scope Scope, form models.FormCode, id string) (*models.FormSubmission, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "submission id is required")
	}
	key := Key(subjectOf(ctx), string(scope), string(form), "id="+id)
	tags := []Tag{ItemTag(scope.tagType(form), id)}
	return cached(ctx, s.cache, key, tags, func(ctx context.Context) (*models.FormSubmission, error) {
		if scope == ScopeMonitoring {
			return s.backend.GetMonitoring(ctx, form, id)
		}
		return s.backend.GetMySubmission(ctx, form, id)
	})
}

// PendingMDA lists approved movements that still need an MDA.
func (s *SubmissionService) PendingMDA(ctx context.Context, q models.ListQuery) (*models.Page[models.PendingMDA], error) {
	q = q.Normalize()
	key := Key(subjectOf(ctx), string(ScopePendingMDA), queryKey(q))
	return cached(ctx, s.cache, key, []Tag{ListTag(TagTypePendingMDA)}, func(ctx context.Context) (*models.Page[models.PendingMDA], error) {
		if q.Search == "" {
			return s.backend.ListPendingMDA(ctx, q)
		}
		return s.searchPendingMDA(ctx, q)
	})
}

// pendingSearchPages caps how many upstream pages one pending MDA search
// scans.
const pendingSearchPages = 10

// searchPendingMDA filters the pending list locally because the backend does
// not search it. Matches are paginated here so Total counts every match.
func (s *SubmissionService) searchPendingMDA(ctx context.Context, q models.ListQuery) (*models.Page[models.PendingMDA], error) {
	scan := q
	scan.Search = ""
	scan.Page = 1
	scan.PerPage = models.PerPageOptions[len(models.PerPageOptions)-1]

	var matches []models.PendingMDA
	seen := 0
	for i := 0; i < pendingSearchPages; i++ {
		page, err := s.backend.ListPendingMDA(ctx, scan)
		if err != nil {
			return nil, err
		}
		matches = append(matches, FilterPendingMDA(page.Data, q.Search)...)
		seen += len(page.Data)
		if len(page.Data) == 0 || seen >= page.Total {
			break
		}
		scan.Page++
	}

	out := &models.Page[models.PendingMDA]{Data: []models.PendingMDA{}, Total: len(matches)}
	if start := (q.Page - 1) * q.PerPage; start < len(matches) {
		out.Data = matches[start:min(start+q.PerPage, len(matches))]
	}
	return out, nil
}

// Prefill returns the partial MDA derived from a source submission. Prefill
// data is never cached; it reflects the source at request time.
func (s *SubmissionService) Prefill(ctx context.Context, submissionID string) (map[string]interface{}, error) {
	if submissionID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "source submission id is required")
	}
	return s.backend.GetMDAPrefill(ctx, submissionID)
}

// History returns the activity timeline of a submission.
func (s *SubmissionService) History(ctx context.Context, scope Scope, form models.FormCode, id string) ([]TimelineItem, error) {
	sub, err := s.Get(ctx, scope, form, id)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(sub.ActivityLog), nil
}

// MutationInput carries everything a mutation may need.
type MutationInput struct {
	Form    models.FormCode
	ID      string
	Payload upstream.Payload
	Reason  string
}

// Mutate performs kind upstream and evicts the affected cache tags on success.
func (s *SubmissionService) Mutate(ctx context.Context, kind Mutation, in MutationInput) (*models.FormSubmission, error) {
	if kind != MutationCreate && in.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "submission id is required")
	}
	var (
		result *models.FormSubmission
		err    error
	)
	switch kind {
	case MutationCreate:
		result, err = s.backend.CreateSubmission(ctx, in.Form, in.Payload)
	case MutationUpdate:
		result, err = s.backend.UpdateSubmission(ctx, in.ID, in.Payload)
	case MutationResubmit:
		result, err = s.backend.ResubmitSubmission(ctx, in.ID, in.Payload)
	case MutationCancel:
		result, err = s.backend.CancelSubmission(ctx, in.ID, in.Reason)
	case MutationApprove:
		result, err = s.backend.ApproveSubmission(ctx, in.ID, in.Reason)
	case MutationReject:
		result, err = s.backend.RejectSubmission(ctx, in.ID, in.Reason)
	case MutationStart:
		result, err = s.backend.StartSubmission(ctx, in.ID)
	case MutationComplete:
		result, err = s.backend.CompleteSubmission(ctx, in.ID)
	default:
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("unsupported mutation %q", kind))
	}
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" && result != nil {
		id = result.ID.String()
	}
	_ = s.cache.Invalidate(detach(ctx), kind, in.Form, id)
	s.logger.Info("submission mutated",
		zap.String("mutation", string(kind)),
		zap.String("form", string(in.Form)),
		zap.String("id", id),
		zap.String("subject", subjectOf(ctx)),
	)
	return result, nil
}

func queryKey(q models.ListQuery) string {
	return fmt.Sprintf("p=%d|n=%d|s=%s|as=%v|q=%s|df=%s|dt=%s|tab=%s",
		q.Page, q.PerPage, q.Status, q.ApprovalStatus, q.Search, q.DateFrom, q.DateTo, q.Tab)
}

// TimelineItem is one rendered activity log entry.
type TimelineItem struct {
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	Chip        StatusChip `json:"chip"`
	Action      string     `json:"action,omitempty"`
	Description string     `json:"description,omitempty"`
	Actor       string     `json:"actor,omitempty"`
	ActorTitle  string     `json:"actor_title,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	When        string     `json:"when,omitempty"`
}

const timelineLayout = "Jan 2, 2006 3:04 PM"

// BuildTimeline maps activity log entries in their recorded order.
func BuildTimeline(entries []models.ActivityLogEntry) []TimelineItem {
	items := make([]TimelineItem, 0, len(entries))
	for _, e := range entries {
		item := TimelineItem{
			EventType:   e.EventType,
			Status:      e.Status,
			Chip:        ChipFor(e.Status),
			Action:      e.Action,
			Description: e.Description,
			Timestamp:   e.Timestamp,
		}
		if item.Description == "" {
			item.Description = e.Details
		}
		if e.Actor != nil {
			item.Actor = e.Actor.FullName
			item.ActorTitle = e.Actor.Title
		}
		if e.Timestamp != nil {
			item.When = e.Timestamp.Format(timelineLayout)
		}
		items = append(items, item)
	}
	return items
}
