// Package upstream is the REST client for the HR backend. It owns URL
// templates, query and multipart encoding, envelope decoding and the mapping
// of backend failures onto typed errors.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/form"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/movement-gateway/pkg/config"
	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
	"github.com/noah-isme/movement-gateway/pkg/middleware/requestid"
)

const (
	maxErrorBody       = 1 << 20
	defaultTimeout     = 15 * time.Second
	defaultFallbackMsg = "Something went wrong. Please try again."
)

// Observer receives one callback per upstream round trip. Status is zero
// when no response was received.
type Observer interface {
	ObserveUpstream(method, endpoint string, status int, duration time.Duration)
}

// Client talks to the HR backend on behalf of the session carried in ctx.
type Client struct {
	base             *url.URL
	http             *http.Client
	limiter          *rate.Limiter
	encoder          *form.Encoder
	observer         Observer
	logger           *zap.Logger
	fallback         string
	forwardRequestID bool
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a client from configuration.
func New(cfg config.UpstreamConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("upstream base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	fallback := cfg.FallbackMessage
	if fallback == "" {
		fallback = defaultFallbackMsg
	}

	encoder := form.NewEncoder()
	encoder.SetTagName("form")

	c := &Client{
		base:             base,
		http:             &http.Client{Timeout: timeout},
		limiter:          rate.NewLimiter(limit, burst),
		encoder:          encoder,
		logger:           zap.NewNop(),
		fallback:         fallback,
		forwardRequestID: cfg.ForwardRequestID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type tokenKey struct{}

// WithToken attaches the caller's bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token attached with WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// request describes one round trip. endpoint is the low-cardinality template
// used for metrics and logs; path is the concrete relative path.
type request struct {
	method      string
	endpoint    string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	accept      string
}

func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.transportError(ctx, r, err)
	}

	ref, err := url.Parse(r.path)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	target := c.base.ResolveReference(ref)
	if len(r.query) > 0 {
		target.RawQuery = r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target.String(), r.body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if token := TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.forwardRequestID {
		if id := requestid.FromContext(ctx); id != "" {
			req.Header.Set(requestid.HeaderKey, id)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.observe(r, 0, duration)
		return nil, c.transportError(ctx, r, err)
	}
	c.observe(r, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.decodeError(resp)
	}
	return resp, nil
}

func (c *Client) observe(r request, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer.ObserveUpstream(r.method, r.endpoint, status, duration)
	}
}

// transportError keeps context cancellation visible to callers that need
// to tell a superseded request apart from an unreachable backend.
func (c *Client) transportError(ctx context.Context, r request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Warn("upstream unreachable",
		zap.String("method", r.method),
		zap.String("endpoint", r.endpoint),
		zap.Error(err),
	)
	return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, c.fallback)
}

// ErrorBody is the backend's error payload.
type ErrorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body ErrorBody
	_ = json.Unmarshal(raw, &body)

	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = c.fallback
	}
	cause := fmt.Errorf("upstream %s %s: status %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	var base *appErrors.Error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		base = appErrors.ErrBadRequest
	case http.StatusUnauthorized:
		base = appErrors.ErrUnauthorized
	case http.StatusForbidden:
		base = appErrors.ErrForbidden
	case http.StatusNotFound:
		base = appErrors.ErrNotFound
	case http.StatusConflict:
		base = appErrors.ErrConflict
	case http.StatusUnprocessableEntity:
		appErr := appErrors.Validation(body.Errors)
		appErr.Message = message
		appErr.Err = cause
		return appErr
	default:
		base = appErrors.ErrUpstream
	}
	appErr := appErrors.Clone(base, message)
	appErr.Err = cause
	return appErr
}

// Envelope is the backend's `{ "result": ... }` wrapper.
type Envelope[T any] struct {
	Result T `json:"result"`
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, dest interface{}) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, endpoint: endpoint, path: path, query: query})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, dest)
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint, path string, payload, dest interface{}) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode upstream payload: %w", err)
		}
		body = strings.NewReader(string(raw))
		contentType = "application/json"
	}
	resp, err := c.do(ctx, request{method: method, endpoint: endpoint, path: path, body: body, contentType: contentType})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, dest)
}

func decodeBody(resp *http.Response, dest interface{}) error {
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return appErrors.Wrap(fmt.Errorf("decode upstream response: %w", err), appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, appErrors.ErrUpstream.Message)
	}
	return nil
}
