package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/storage"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

// ActionKind says what a confirmation token executes.
type ActionKind string

const (
	ActionKindSubmission ActionKind = "submission"
	ActionKindDraft      ActionKind = "draft"
)

// Prompt is everything the UI needs to render the confirm dialog.
type Prompt struct {
	Kind         ActionKind      `json:"kind"`
	Action       Mutation        `json:"action"`
	Form         models.FormCode `json:"form"`
	Reference    string          `json:"reference"`
	Icon         string          `json:"icon"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	ConfirmLabel string          `json:"confirm_label"`
	Token        string          `json:"token"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

type promptCopy struct {
	icon         string
	title        string
	message      string
	confirmLabel string
	success      string
}

var promptCopies = map[Mutation]promptCopy{
	MutationCreate:   {"send", "Submit Form", "Submit %s?", "Submit", "Form submitted successfully"},
	MutationUpdate:   {"save", "Save Changes", "Save your changes to %s?", "Save", "Changes saved successfully"},
	MutationResubmit: {"replay", "Resubmit Form", "Resubmit %s for approval?", "Resubmit", "Form resubmitted successfully"},
	MutationCancel:   {"cancel", "Cancel Submission", "Cancel %s? This cannot be undone.", "Yes, Cancel", "Submission cancelled"},
	MutationApprove:  {"check_circle", "Approve Submission", "Approve %s?", "Approve", "Submission approved"},
	MutationReject:   {"block", "Reject Submission", "Reject %s?", "Reject", "Submission rejected"},
	MutationStart:    {"play_arrow", "Start Processing", "Start processing %s?", "Start", "Processing started"},
	MutationComplete: {"task_alt", "Mark as Completed", "Mark %s as completed?", "Complete", "Submission completed"},
}

// actionMutations maps menu actions that go through a confirm dialog.
var actionMutations = map[Action]Mutation{
	ActionCancel:   MutationCancel,
	ActionApprove:  MutationApprove,
	ActionReject:   MutationReject,
	ActionStart:    MutationStart,
	ActionComplete: MutationComplete,
}

// confirmClaims is the signed payload of a confirmation token.
type confirmClaims struct {
	Kind    ActionKind      `json:"kind"`
	Action  Mutation        `json:"action"`
	Form    models.FormCode `json:"form"`
	ID      string          `json:"id"`
	Ref     string          `json:"ref"`
	Subject string          `json:"sub"`
}

func (c confirmClaims) inflightKey() string {
	return string(c.Kind) + ":" + string(c.Form) + ":" + c.ID
}

// ConfirmRequest carries user input collected by the dialog.
type ConfirmRequest struct {
	Reason string
	Files  []upstream.File
}

// ConfirmResult reports an executed action.
type ConfirmResult struct {
	Action     Mutation               `json:"action"`
	Form       models.FormCode        `json:"form"`
	Reference  string                 `json:"reference"`
	Message    string                 `json:"message"`
	Submission *models.FormSubmission `json:"submission,omitempty"`
}

type actionAuditStore interface {
	Create(ctx context.Context, entry *models.ActionAudit) error
}

type tokenLedger interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
}

// ConfirmationService gates mutating actions behind a signed, single-use
// confirmation token.
type ConfirmationService struct {
	signer      *storage.Signer
	submissions *SubmissionService
	drafts      *DraftService
	ledger      tokenLedger
	audit       actionAuditStore
	metrics     *MetricsService
	logger      *zap.Logger
	loads       singleflight.Group
	inflight    sync.Map
}

// NewConfirmationService constructs the service. audit may be nil when the
// database is disabled.
func NewConfirmationService(signer *storage.Signer, submissions *SubmissionService, drafts *DraftService, ledger tokenLedger, audit actionAuditStore, metrics *MetricsService, logger *zap.Logger) *ConfirmationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationService{
		signer:      signer,
		submissions: submissions,
		drafts:      drafts,
		ledger:      ledger,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// Prepare checks that action is allowed on the submission and returns the
// prompt to show.
func (s *ConfirmationService) Prepare(ctx context.Context, scope Scope, form models.FormCode, id string, action Action) (*Prompt, error) {
	kind, ok := actionMutations[action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("action %q does not need confirmation", action))
	}
	key := Key(subjectOf(ctx), string(scope), string(form), id)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		return s.submissions.Get(ctx, scope, form, id)
	})
	if err != nil {
		return nil, err
	}
	sub := v.(*models.FormSubmission)
	if !Permissions(*sub).Allows(action) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is not allowed for %s", action, sub.Reference()))
	}
	return s.prompt(ctx, confirmClaims{
		Kind:   ActionKindSubmission,
		Action: kind,
		Form:   form,
		ID:     id,
		Ref:    sub.Reference(),
	})
}

// PrepareDraft validates a draft and returns the prompt for submitting it.
// Invalid drafts never get a token.
func (s *ConfirmationService) PrepareDraft(ctx context.Context, draftID string) (*Prompt, error) {
	d, err := s.drafts.Validate(ctx, draftID)
	if err != nil {
		return nil, err
	}
	ref := d.Reference
	if ref == "" {
		ref = "this " + d.Form.Label()
	}
	return s.prompt(ctx, confirmClaims{
		Kind:   ActionKindDraft,
		Action: d.Mutation(),
		Form:   d.Form,
		ID:     d.ID,
		Ref:    ref,
	})
}

func (s *ConfirmationService) prompt(ctx context.Context, claims confirmClaims) (*Prompt, error) {
	claims.Subject = subjectOf(ctx)
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode confirmation")
	}
	token, expiresAt, err := s.signer.Generate(tokenSubject(claims.Subject), string(payload))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign confirmation")
	}
	c := promptCopies[claims.Action]
	return &Prompt{
		Kind:         claims.Kind,
		Action:       claims.Action,
		Form:         claims.Form,
		Reference:    claims.Ref,
		Icon:         c.icon,
		Title:        c.title,
		Message:      fmt.Sprintf(c.message, claims.Ref),
		ConfirmLabel: c.confirmLabel,
		Token:        token,
		ExpiresAt:    expiresAt,
	}, nil
}

// tokenSubject keeps the signer's subject free of dots.
func tokenSubject(subject string) string {
	if subject == "" {
		subject = "anonymous"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(subject))
}

func (s *ConfirmationService) parse(ctx context.Context, token string) (confirmClaims, time.Time, error) {
	var claims confirmClaims
	_, payload, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return claims, time.Time{}, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
	}
	if err := json.Unmarshal([]byte(payload), &claims); err != nil {
		return claims, time.Time{}, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
	}
	if claims.Subject != subjectOf(ctx) {
		return claims, time.Time{}, appErrors.Clone(appErrors.ErrTokenInvalid, "confirmation belongs to another session")
	}
	return claims, expiresAt, nil
}

func ledgerKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "confirm:used:" + hex.EncodeToString(sum[:])
}

// Confirm executes the action bound to token. A second confirm for the same
// item while one is running gets ErrInFlight; a token that already succeeded
// is rejected. Failed attempts leave the token usable until it expires.
func (s *ConfirmationService) Confirm(ctx context.Context, token string, req ConfirmRequest) (*ConfirmResult, error) {
	claims, expiresAt, err := s.parse(ctx, token)
	if err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if claims.Action == MutationCancel && req.Reason == "" {
		return nil, appErrors.Validation(map[string][]string{"reason": {"Please provide a reason for cancelling"}})
	}

	// The ledger is read under the in-flight guard; the winner records the
	// token before releasing it.
	key := claims.inflightKey()
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, appErrors.ErrInFlight
	}
	defer s.inflight.Delete(key)

	if s.ledger != nil {
		var used bool
		if err := s.ledger.Get(ctx, ledgerKey(token), &used); err == nil && used {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "this action was already confirmed")
		}
	}

	sub, err := s.execute(ctx, claims, req)
	outcome := models.AuditOutcomeSucceeded
	if err != nil {
		outcome = models.AuditOutcomeFailed
	}
	s.metrics.RecordAction(string(claims.Action), strings.ToLower(outcome))
	s.record(ctx, claims, sub, outcome, err)
	if err != nil {
		s.logger.Warn("confirmed action failed",
			zap.String("action", string(claims.Action)),
			zap.String("form", string(claims.Form)),
			zap.String("ref", claims.Ref),
			zap.Error(err),
		)
		return nil, err
	}

	if s.ledger != nil {
		ttl := time.Until(expiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
		if err := s.ledger.Set(detach(ctx), ledgerKey(token), true, ttl); err != nil {
			s.logger.Warn("confirmation token not recorded", zap.Error(err))
		}
	}
	ref := claims.Ref
	if sub != nil && sub.ReferenceNumber != "" {
		ref = sub.ReferenceNumber
	}
	return &ConfirmResult{
		Action:     claims.Action,
		Form:       claims.Form,
		Reference:  ref,
		Message:    promptCopies[claims.Action].success,
		Submission: sub,
	}, nil
}

func (s *ConfirmationService) execute(ctx context.Context, claims confirmClaims, req ConfirmRequest) (*models.FormSubmission, error) {
	switch claims.Kind {
	case ActionKindDraft:
		sub, _, err := s.drafts.Submit(ctx, claims.ID, req.Files)
		return sub, err
	case ActionKindSubmission:
		return s.submissions.Mutate(ctx, claims.Action, MutationInput{Form: claims.Form, ID: claims.ID, Reason: req.Reason})
	default:
		return nil, appErrors.ErrTokenInvalid
	}
}

func (s *ConfirmationService) record(ctx context.Context, claims confirmClaims, sub *models.FormSubmission, outcome string, actionErr error) {
	if s.audit == nil {
		return
	}
	entry := &models.ActionAudit{
		SubmissionID:    claims.ID,
		ReferenceNumber: claims.Ref,
		FormCode:        claims.Form,
		Action:          string(claims.Action),
		Actor:           claims.Subject,
		Outcome:         outcome,
	}
	if claims.Kind == ActionKindDraft {
		entry.SubmissionID = ""
		if sub != nil {
			entry.SubmissionID = sub.ID.String()
		}
	}
	if sub != nil && sub.ReferenceNumber != "" {
		entry.ReferenceNumber = sub.ReferenceNumber
	}
	if actionErr != nil {
		msg := appErrors.MessageOf(actionErr, appErrors.ErrUpstream.Message)
		entry.Message = &msg
	}
	if err := s.audit.Create(detach(ctx), entry); err != nil {
		s.logger.Warn("action audit not written", zap.String("action", entry.Action), zap.Error(err))
	}
}
