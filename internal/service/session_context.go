package service

import (
	"context"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type sessionKey struct{}

// ContextWithSession attaches the caller's session to ctx and arms the
// upstream client with its bearer token.
func ContextWithSession(ctx context.Context, sess *models.Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, sess)
	if sess != nil && sess.Token != "" {
		ctx = upstream.WithToken(ctx, sess.Token)
	}
	return ctx
}

// SessionFromContext returns the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey{}).(*models.Session)
	return sess
}

// detach keeps the session and token of ctx but drops its deadline and
// cancellation, for work that must outlive the request.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
