package models

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the subset of the backend-issued session token the
// gateway reads. Authorization decisions stay with the backend.
type SessionClaims struct {
	UserID   string   `json:"sub_id,omitempty"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Subject returns a stable identity for cache partitioning and audit rows.
func (c *SessionClaims) Subject() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Session is the authenticated caller: its claims plus the raw bearer token
// that is forwarded upstream untouched.
type Session struct {
	Claims *SessionClaims
	Token  string
}

// Subject is a nil-safe shortcut to the claims subject.
func (s *Session) Subject() string {
	if s == nil {
		return ""
	}
	return s.Claims.Subject()
}
