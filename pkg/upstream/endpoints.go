package upstream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// Scopes of the submission listings.
const (
	ScopeMe         = "me"
	ScopeMonitoring = "monitoring"
)

func submissionsPath(scope string, form models.FormCode) string {
	return scope + "/" + string(form) + "-submissions"
}

// itemPath joins an escaped id onto a path, so an id always stays a single
// path segment.
func itemPath(base string, id string) string {
	return base + "/" + url.PathEscape(id)
}

// EncodeQuery renders a ListQuery into the backend's query string. Multiple
// approval statuses are sent comma-joined in a single parameter.
func (c *Client) EncodeQuery(q models.ListQuery) (url.Values, error) {
	q = q.Normalize()
	values, err := c.encoder.Encode(q)
	if err != nil {
		return nil, fmt.Errorf("encode list query: %w", err)
	}
	if len(q.ApprovalStatus) > 0 {
		values.Set("approval_status", strings.Join(q.ApprovalStatus, ","))
	}
	return values, nil
}

func (c *Client) listSubmissions(ctx context.Context, scope string, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	query, err := c.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	var env Envelope[models.Page[models.FormSubmission]]
	if err := c.getJSON(ctx, scope+"/{form}-submissions", submissionsPath(scope, form), query, &env); err != nil {
		return nil, err
	}
	return &env.Result, nil
}

func (c *Client) getSubmission(ctx context.Context, scope string, form models.FormCode, id string) (*models.FormSubmission, error) {
	var env Envelope[models.FormSubmission]
	if err := c.getJSON(ctx, scope+"/{form}-submissions/{id}", itemPath(submissionsPath(scope, form), id), nil, &env); err != nil {
		return nil, err
	}
	return &env.Result, nil
}

// ListMySubmissions lists the caller's own submissions of a form type.
func (c *Client) ListMySubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	return c.listSubmissions(ctx, ScopeMe, form, q)
}

// GetMySubmission fetches one of the caller's submissions.
func (c *Client) GetMySubmission(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error) {
	return c.getSubmission(ctx, ScopeMe, form, id)
}

// ListMonitoring lists submissions visible to reviewers.
func (c *Client) ListMonitoring(ctx context.Context, form models.FormCode, q models.ListQuery) (*models.Page[models.FormSubmission], error) {
	return c.listSubmissions(ctx, ScopeMonitoring, form, q)
}

// GetMonitoring fetches a submission from the monitoring scope.
func (c *Client) GetMonitoring(ctx context.Context, form models.FormCode, id string) (*models.FormSubmission, error) {
	return c.getSubmission(ctx, ScopeMonitoring, form, id)
}

// ListPendingMDA lists approved movements still waiting for an MDA.
func (c *Client) ListPendingMDA(ctx context.Context, q models.ListQuery) (*models.Page[models.PendingMDA], error) {
	query, err := c.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	var env Envelope[models.Page[models.PendingMDA]]
	if err := c.getJSON(ctx, "movements/pending-mda", "movements/pending-mda", query, &env); err != nil {
		return nil, err
	}
	return &env.Result, nil
}

// GetMDAPrefill returns the partial MDA record derived from a source
// submission. Only the keys the backend sends are present.
func (c *Client) GetMDAPrefill(ctx context.Context, submissionID string) (map[string]interface{}, error) {
	var env Envelope[map[string]interface{}]
	if err := c.getJSON(ctx, "mda/prefill/{id}", itemPath("mda/prefill", submissionID), nil, &env); err != nil {
		return nil, err
	}
	if env.Result == nil {
		env.Result = map[string]interface{}{}
	}
	return env.Result, nil
}

func (c *Client) sendMultipart(ctx context.Context, endpoint, path, override string, payload Payload) (*models.FormSubmission, error) {
	body, contentType, err := EncodeMultipart(payload, override)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{method: http.MethodPost, endpoint: endpoint, path: path, body: body, contentType: contentType})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var env Envelope[models.FormSubmission]
	if err := decodeBody(resp, &env); err != nil {
		return nil, err
	}
	return &env.Result, nil
}

// CreateSubmission creates a new submission of the given form type.
func (c *Client) CreateSubmission(ctx context.Context, form models.FormCode, payload Payload) (*models.FormSubmission, error) {
	fields := make(map[string]interface{}, len(payload.Fields)+1)
	for k, v := range payload.Fields {
		fields[k] = v
	}
	fields["form_code"] = string(form)
	payload.Fields = fields
	return c.sendMultipart(ctx, "form-submissions", "form-submissions", "", payload)
}

// UpdateSubmission patches a submission through a POST with _method=PATCH.
func (c *Client) UpdateSubmission(ctx context.Context, id string, payload Payload) (*models.FormSubmission, error) {
	return c.sendMultipart(ctx, "form-submissions/{id}", itemPath("form-submissions", id), http.MethodPatch, payload)
}

// ResubmitSubmission sends a returned submission back into review.
func (c *Client) ResubmitSubmission(ctx context.Context, id string, payload Payload) (*models.FormSubmission, error) {
	return c.sendMultipart(ctx, "form-submissions/{id}/resubmit", itemPath("form-submissions", id)+"/resubmit", "", payload)
}

func (c *Client) action(ctx context.Context, endpoint, path string, body interface{}) (*models.FormSubmission, error) {
	var env Envelope[models.FormSubmission]
	if err := c.sendJSON(ctx, http.MethodPost, endpoint, path, body, &env); err != nil {
		return nil, err
	}
	return &env.Result, nil
}

type reasonBody struct {
	Reason string `json:"reason,omitempty"`
}

type remarksBody struct {
	Remarks string `json:"remarks,omitempty"`
}

// CancelSubmission cancels a pending submission.
func (c *Client) CancelSubmission(ctx context.Context, id, reason string) (*models.FormSubmission, error) {
	return c.action(ctx, "form-submissions/{id}/cancel", itemPath("form-submissions", id)+"/cancel", reasonBody{Reason: reason})
}

// ApproveSubmission records an approval.
func (c *Client) ApproveSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error) {
	return c.action(ctx, "approvals/{id}/approve", itemPath("approvals", id)+"/approve", remarksBody{Remarks: remarks})
}

// RejectSubmission records a rejection.
func (c *Client) RejectSubmission(ctx context.Context, id, remarks string) (*models.FormSubmission, error) {
	return c.action(ctx, "approvals/{id}/reject", itemPath("approvals", id)+"/reject", remarksBody{Remarks: remarks})
}

// StartSubmission marks an approved submission as in progress.
func (c *Client) StartSubmission(ctx context.Context, id string) (*models.FormSubmission, error) {
	return c.action(ctx, "form-submissions/{id}/start", itemPath("form-submissions", id)+"/start", nil)
}

// CompleteSubmission marks a submission as completed.
func (c *Client) CompleteSubmission(ctx context.Context, id string) (*models.FormSubmission, error) {
	return c.action(ctx, "form-submissions/{id}/complete", itemPath("form-submissions", id)+"/complete", nil)
}

// Blob is a streamed file from the backend. Callers must close Body.
type Blob struct {
	Body        io.ReadCloser
	ContentType string
	FileName    string
	Size        int64
}

// ExportSubmissions downloads the backend's own report for a form type.
func (c *Client) ExportSubmissions(ctx context.Context, form models.FormCode, q models.ListQuery) (*Blob, error) {
	query, err := c.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	query.Del("pagination")
	query.Del("page")
	query.Del("per_page")
	query.Set("form_code", string(form))

	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: "reports/submissions/export",
		path:     "reports/submissions/export",
		query:    query,
		accept:   "*/*",
	})
	if err != nil {
		return nil, err
	}
	blob := &Blob{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		blob.FileName = params["filename"]
	}
	if blob.FileName == "" {
		blob.FileName = string(form) + "-submissions"
	}
	return blob, nil
}
