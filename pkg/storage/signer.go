package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Signing purposes. Each purpose gets its own key so a token minted for one
// use can never verify for another.
const (
	PurposeExportDownload = "export-download"
	PurposeConfirmAction  = "confirm-action"
)

// DeriveKey expands the master secret into a 32 byte key bound to purpose.
func DeriveKey(master, purpose string) ([]byte, error) {
	if master == "" {
		return nil, fmt.Errorf("signing secret missing")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(master), nil, []byte("movement-gateway/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

// Signer creates and validates tokens of the form
// subject.expiry.base64(payload).hmac.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner builds a signer for purpose from the master secret.
func NewSigner(master, purpose string, ttl time.Duration) (*Signer, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Generate returns a signed token binding subject and payload.
func (s *Signer) Generate(subject, payload string) (string, time.Time, error) {
	if subject == "" || payload == "" {
		return "", time.Time{}, fmt.Errorf("subject and payload required")
	}
	if strings.Contains(subject, ".") {
		return "", time.Time{}, fmt.Errorf("subject must not contain '.'")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	token := strings.Join([]string{subject, ts, encoded, s.sign(subject, ts, encoded)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded subject and payload.
// When allowExpired is true the expiry check is skipped (cleanup routines).
func (s *Signer) Parse(token string, allowExpired bool) (subject, payload string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	subject, ts, encoded, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(subject, ts, encoded)), []byte(signature)) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt = time.Unix(expUnix, 0)
	if !allowExpired && s.now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode payload: %w", err)
	}
	return subject, string(raw), expiresAt, nil
}

func (s *Signer) sign(subject, ts, encoded string) string {
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write([]byte(subject + "|" + ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
