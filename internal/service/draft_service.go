package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/movement-gateway/internal/form"
	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

// DraftStore persists drafts as JSON with a TTL.
type DraftStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, key string) error
}

type prefillSource interface {
	Prefill(ctx context.Context, submissionID string) (map[string]interface{}, error)
}

// Draft is a server-held form session.
type Draft struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	Scope              Scope           `json:"scope"`
	Resubmit           bool            `json:"resubmit"`
	Reference          string          `json:"reference,omitempty"`
	Session            *form.Session   `json:"session"`
	SourceSubmissionID string          `json:"source_submission_id,omitempty"`
	PrefillToken       uint64          `json:"prefill_token"`
	PrefillPending     bool            `json:"prefill_pending"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Form               models.FormCode `json:"form"`
	Mode               form.Mode       `json:"mode"`
	Disabled           bool            `json:"disabled"`
	// Permissions is captured when an existing submission is opened.
	Permissions        *PermissionSet  `json:"permissions,omitempty"`
}

// Mutation is the upstream call submitting the draft performs.
func (d *Draft) Mutation() Mutation {
	switch {
	case d.Session.OriginalMode == form.ModeCreate:
		return MutationCreate
	case d.Resubmit:
		return MutationResubmit
	default:
		return MutationUpdate
	}
}

// editable reports whether the submission behind the draft may be edited.
func (d *Draft) editable() bool {
	if d.Permissions == nil {
		return d.Session.OriginalMode == form.ModeCreate
	}
	return d.Permissions.CanEdit || (d.Resubmit && d.Permissions.CanResubmit)
}

func (d *Draft) refresh() {
	d.Form = d.Session.Form
	d.Mode = d.Session.Mode
	d.Disabled = d.Session.Disabled()
}

// OpenDraftRequest describes how to open a form.
type OpenDraftRequest struct {
	Form               models.FormCode `json:"form" binding:"required"`
	Mode               form.Mode       `json:"mode" binding:"required"`
	EntryID            string          `json:"entry_id"`
	Scope              Scope           `json:"scope"`
	Resubmit           bool            `json:"resubmit"`
	SourceSubmissionID string          `json:"source_submission_id"`
}

// PrefillResult reports what a prefill did.
type PrefillResult struct {
	Draft   *Draft   `json:"draft"`
	Applied []string `json:"applied"`
	Stale   bool     `json:"stale"`
}

const draftLockStripes = 64

// DraftService manages drafts. Read-modify-write cycles on one draft are
// serialised within this process by a fixed set of striped locks.
type DraftService struct {
	store       DraftStore
	submissions *SubmissionService
	prefill     prefillSource
	validator   *form.Validator
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
	locks       [draftLockStripes]sync.Mutex
}

// DraftServiceOption configures the service.
type DraftServiceOption func(*DraftService)

// WithDraftPrefillSource overrides where prefill values come from.
func WithDraftPrefillSource(src prefillSource) DraftServiceOption {
	return func(s *DraftService) {
		if src != nil {
			s.prefill = src
		}
	}
}

// WithDraftClock overrides the clock.
func WithDraftClock(now func() time.Time) DraftServiceOption {
	return func(s *DraftService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDraftService constructs the service.
func NewDraftService(store DraftStore, submissions *SubmissionService, validator *form.Validator, ttl time.Duration, logger *zap.Logger, opts ...DraftServiceOption) *DraftService {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = form.NewValidator()
	}
	svc := &DraftService{
		store:       store,
		submissions: submissions,
		prefill:     submissions,
		validator:   validator,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

var errNotEditable = appErrors.Clone(appErrors.ErrForbidden, "this submission can no longer be edited")

func draftKey(id string) string { return "draft:" + id }

func (s *DraftService) mutex(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%draftLockStripes]
}

func (s *DraftService) lock(id string) func() {
	mu := s.mutex(id)
	mu.Lock()
	return mu.Unlock
}

func (s *DraftService) load(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	if err := s.store.Get(ctx, draftKey(id), &d); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "draft not found or expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
	}
	if d.Session == nil || d.Owner != subjectOf(ctx) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "draft not found or expired")
	}
	d.refresh()
	return &d, nil
}

func (s *DraftService) save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = s.now().UTC()
	d.refresh()
	if err := s.store.Set(ctx, draftKey(d.ID), d, s.ttl); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save draft")
	}
	return nil
}

// update runs fn on the current draft under the draft lock and saves it.
func (s *DraftService) update(ctx context.Context, id string, fn func(*Draft) error) (*Draft, error) {
	unlock := s.lock(id)
	defer unlock()
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Open creates a draft. View and edit drafts are loaded from the existing
// submission; create drafts start blank and prefill when a source is given.
func (s *DraftService) Open(ctx context.Context, req OpenDraftRequest) (*Draft, error) {
	var (
		values    map[string]interface{}
		reference string
		perms     *PermissionSet
	)
	scope := req.Scope
	if scope == "" {
		scope = ScopeMine
	}
	if req.Mode != form.ModeCreate {
		if req.EntryID == "" {
			return nil, appErrors.Clone(appErrors.ErrBadRequest, "entry_id is required for view and edit")
		}
		sub, err := s.submissions.Get(ctx, scope, req.Form, req.EntryID)
		if err != nil {
			return nil, err
		}
		if values, err = sub.SubmittableValues(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
		}
		reference = sub.Reference()
		set := Permissions(*sub)
		perms = &set
		if req.Mode == form.ModeEdit && !set.CanEdit && !(req.Resubmit && set.CanResubmit) {
			return nil, errNotEditable
		}
	}

	session, err := form.Open(req.Form, req.Mode, req.EntryID, values)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d := &Draft{
		ID:          uuid.NewString(),
		Owner:       subjectOf(ctx),
		Scope:       scope,
		Resubmit:    req.Resubmit,
		Reference:   reference,
		Session:     session,
		CreatedAt:   now,
		Permissions: perms,
	}
	if err := s.save(ctx, d); err != nil {
		return nil, err
	}

	if req.SourceSubmissionID != "" && req.Mode == form.ModeCreate {
		res, err := s.RequestPrefill(ctx, d.ID, req.SourceSubmissionID)
		if err != nil {
			s.logger.Warn("draft prefill failed", zap.String("draft_id", d.ID), zap.Error(err))
			return s.Get(ctx, d.ID)
		}
		return res.Draft, nil
	}
	return d, nil
}

// Get returns a draft owned by the caller.
func (s *DraftService) Get(ctx context.Context, id string) (*Draft, error) {
	return s.load(ctx, id)
}

// Patch edits fields. View drafts reject edits.
func (s *DraftService) Patch(ctx context.Context, id string, changes map[string]interface{}) (*Draft, error) {
	return s.update(ctx, id, func(d *Draft) error {
		return d.Session.Patch(changes)
	})
}

// BeginEdit switches a view draft to edit when the submission permits it.
func (s *DraftService) BeginEdit(ctx context.Context, id string) (*Draft, error) {
	return s.update(ctx, id, func(d *Draft) error {
		if !d.editable() {
			return errNotEditable
		}
		return d.Session.BeginEdit()
	})
}

// CancelEdit discards edits, returning view drafts to view mode.
func (s *DraftService) CancelEdit(ctx context.Context, id string) (*Draft, error) {
	return s.update(ctx, id, func(d *Draft) error {
		d.Session.CancelEdit()
		return nil
	})
}

// Discard deletes a draft.
func (s *DraftService) Discard(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, draftKey(id)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete draft")
	}
	return nil
}

// RequestPrefill fetches prefill values for a create draft. Each request
// takes a new generation token; a response is applied only while its token
// is still the latest, and never over fields the user edited.
func (s *DraftService) RequestPrefill(ctx context.Context, id, sourceID string) (*PrefillResult, error) {
	if sourceID == "" {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "source_submission_id is required")
	}
	var token uint64
	if _, err := s.update(ctx, id, func(d *Draft) error {
		if d.Session.OriginalMode != form.ModeCreate {
			return appErrors.Clone(appErrors.ErrConflict, "prefill only applies to new forms")
		}
		d.PrefillToken++
		d.PrefillPending = true
		d.SourceSubmissionID = sourceID
		token = d.PrefillToken
		return nil
	}); err != nil {
		return nil, err
	}

	values, fetchErr := s.prefill.Prefill(ctx, sourceID)
	return s.ApplyPrefill(detach(ctx), id, token, values, fetchErr)
}

// ApplyPrefill settles the prefill issued with token.
func (s *DraftService) ApplyPrefill(ctx context.Context, id string, token uint64, values map[string]interface{}, fetchErr error) (*PrefillResult, error) {
	result := &PrefillResult{Applied: []string{}}
	d, err := s.update(ctx, id, func(d *Draft) error {
		if d.PrefillToken != token {
			result.Stale = true
			return nil
		}
		d.PrefillPending = false
		if fetchErr != nil {
			return nil
		}
		if _, ok := values["source_submission_id"]; !ok {
			values = withValue(values, "source_submission_id", d.SourceSubmissionID)
		}
		result.Applied = d.Session.ApplyPrefill(values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Draft = d
	if fetchErr != nil && !result.Stale {
		return result, fetchErr
	}
	if result.Stale {
		s.logger.Debug("stale prefill ignored", zap.String("draft_id", id), zap.Uint64("token", token), zap.Uint64("current", d.PrefillToken))
	}
	return result, nil
}

// Validate checks a draft without submitting it.
func (s *DraftService) Validate(ctx context.Context, id string) (*Draft, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Session.Disabled() {
		return nil, appErrors.ErrReadOnly
	}
	if err := d.Session.Validate(s.validator); err != nil {
		return d, err
	}
	return d, nil
}

// Submit validates the draft and sends it upstream. The draft is removed on
// success and kept for retry on failure.
func (s *DraftService) Submit(ctx context.Context, id string, files []upstream.File) (*models.FormSubmission, *Draft, error) {
	unlock := s.lock(id)
	defer unlock()
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d.Session.Disabled() {
		return nil, d, appErrors.ErrReadOnly
	}
	if err := d.Session.Validate(s.validator); err != nil {
		return nil, d, err
	}
	if d.Session.Form == models.FormDataChange {
		if err := checkUploads(d.Session.Values, files); err != nil {
			return nil, d, err
		}
	}

	result, err := s.submissions.Mutate(ctx, d.Mutation(), MutationInput{
		Form:    d.Session.Form,
		ID:      d.Session.EntryID,
		Payload: upstream.Payload{Fields: d.Session.Submittable(), Files: files},
	})
	if err != nil {
		return nil, d, err
	}
	if err := s.store.Delete(detach(ctx), draftKey(id)); err != nil {
		s.logger.Warn("submitted draft not removed", zap.String("draft_id", id), zap.Error(err))
	}
	return result, d, nil
}

// checkUploads requires an uploaded part named after every new data change
// attachment.
func checkUploads(values map[string]interface{}, files []upstream.File) error {
	change, err := models.DecodeDataChange(values)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid data change payload")
	}
	names := make(map[string]bool, len(files))
	for _, f := range files {
		names[f.Name] = true
	}
	problems := map[string][]string{}
	for i, a := range change.Attachments {
		if a.IsNewFile && !names[a.DisplayName()] {
			problems[form.ItemKey("attachments", i, "file_name")] = []string{form.MsgUpload}
		}
	}
	if len(problems) > 0 {
		return appErrors.Validation(problems)
	}
	return nil
}

func withValue(values map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out[key] = value
	return out
}
