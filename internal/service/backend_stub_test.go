package service

import (
	"context"
	"sync"

	"github.com/noah-isme/movement-gateway/internal/models"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type backendCall struct {
	Op      string
	Form    models.FormCode
	ID      string
	Query   models.ListQuery
	Payload upstream.Payload
	Text    string
}

// backendStub is an in-memory stand-in for the upstream client.
type backendStub struct {
	mu          sync.Mutex
	calls       []backendCall
	submissions map[string]*models.FormSubmission
	pending     []models.PendingMDA
	prefill     map[string]map[string]interface{}
	failWith    error
	block       chan struct{}
}

func newBackendStub() *backendStub {
	return &backendStub{
		submissions: map[string]*models.FormSubmission{},
		prefill:     map[string]map[string]interface{}{},
	}
}

func (b *backendStub) record(c backendCall) error {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	err := b.failWith
	block := b.block
	b.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (b *backendStub) callCount(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (b *backendStub) lastCall(op string) backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].Op == op {
			return b.calls[i]
		}
	}
	return backendCall{}
}

func (b *backendStub) page() *models.Page[models.FormSubmission] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := &models.Page[models.FormSubmission]{}
	for _, s := range b.submissions {
		out.Data = append(out.Data, *s)
	}
	out.Total = len(out.Data)
	return out
}

func (b *backendStub) get(id string) (*models.FormSubmission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.submissions[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Submission not found")
	}
	copy := *sub
	return &copy, nil
}

func (b *backendStub) ListMySubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	if err := b.record(backendCall{Op: "list-me", Form: form, Query: q}); err != nil {
		return nil, err
	}
	return b.page(), nil
}

func (b *backendStub) GetMySubmission(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error) {
	if err := b.record(backendCall{Op: "get-me", Form: form, ID: id}); err != nil {
		return nil, err
	}
	return b.get(id)
}

func (b *backendStub) ListMonitoring(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	if err := b.record(backendCall{Op: "list-monitoring", Form: form, Query: q}); err != nil {
		return nil, err
	}
	return b.page(), nil
}

func (b *backendStub) GetMonitoring(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error) {
	if err := b.record(backendCall{Op: "get-monitoring", Form: form, ID: id}); err != nil {
		return nil, err
	}
	return b.get(id)
}

func (b *backendStub) ListPendingMDA(ctx context.Context, q models.ListQuery) (*models.Page[models.PendingMDA], error) {
	if err := b.record(backendCall{Op: "list-pending", Query: q}); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q = q.Normalize()
	out := &models.Page[models.PendingMDA]{Data: []models.PendingMDA{}, Total: len(b.pending)}
	if start := (q.Page - 1) * q.PerPage; start < len(b.pending) {
		out.Data = b.pending[start:min(start+q.PerPage, len(b.pending))]
	}
	return out, nil
}

func (b *backendStub) GetMDAPrefill(ctx context.Context, submissionID string) (map[string]interface{}, error) {
	if err := b.record(backendCall{Op: "prefill", ID: submissionID}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.prefill[submissionID], nil
}

func (b *backendStub) mutate(op, id string, c backendCall) (*models.FormSubmission, error) {
	c.Op = op
	c.ID = id
	if err := b.record(c); err != nil {
		return nil, err
	}
	return &models.FormSubmission{ID: models.ID(orDefault(id, "new-1")), ApprovalStatus: "PENDING"}, nil
}

func (b *backendStub) CreateSubmission(ctx context.Context, form models.FormCode, payload upstream.Payload) (*models.FormSubmission, error) {
	return b.mutate("create", "", backendCall{Form: form, Payload: payload})
}

func (b *backendStub) UpdateSubmission(ctx context.Context, id string, payload upstream.Payload) (*models.FormSubmission, error) {
	return b.mutate("update", id, backendCall{Payload: payload})
}

func (b *backendStub) ResubmitSubmission(ctx context.Context, id string, payload upstream.Payload) (*models.FormSubmission, error) {
	return b.mutate("resubmit", id, backendCall{Payload: payload})
}

func (b *backendStub) CancelSubmission(ctx context.Context, id, reason string) (*models.FormSubmission, error) {
	return b.mutate("cancel", id, backendCall{Text: reason})
}

func (b *backendStub) ApproveSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error) {
	return b.mutate("approve", id, backendCall{Text: remarks})
}

func (b *backendStub) RejectSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error) {
	return b.mutate("reject", id, backendCall{Text: remarks})
}

func (b *backendStub) StartSubmission(ctx context.Context, id string) (*models.FormSubmission, error) {
	return b.mutate("start", id, backendCall{})
}

func (b *backendStub) CompleteSubmission(ctx context.Context, id string) (*models.FormSubmission, error) {
	return b.mutate("complete", id, backendCall{})
}

func strPtr(s string) *string { return &s }
