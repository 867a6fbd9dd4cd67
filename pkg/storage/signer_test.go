package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerGenerateAndParse(t *testing.T) {
	signer, err := NewSigner("secret", PurposeExportDownload, time.Hour)
	require.NoError(t, err)
	token, expiresAt, err := signer.Generate("job-1", "exports/mda.xlsx")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	subject, payload, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", subject)
	require.Equal(t, "exports/mda.xlsx", payload)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignerExpired(t *testing.T) {
	signer, err := NewSigner("secret", PurposeExportDownload, time.Minute)
	require.NoError(t, err)
	token, _, err := signer.Generate("job-1", "exports/mda.csv")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	subject, payload, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "job-1", subject)
	require.Equal(t, "exports/mda.csv", payload)
}

func TestSignerPurposesDoNotCrossVerify(t *testing.T) {
	exports, err := NewSigner("secret", PurposeExportDownload, time.Hour)
	require.NoError(t, err)
	confirms, err := NewSigner("secret", PurposeConfirmAction, time.Hour)
	require.NoError(t, err)

	token, _, err := exports.Generate("job-1", "exports/mda.csv")
	require.NoError(t, err)
	_, _, _, err = confirms.Parse(token, false)
	require.Error(t, err)
}

func TestSignerRejectsTamperedPayload(t *testing.T) {
	signer, err := NewSigner("secret", PurposeConfirmAction, time.Hour)
	require.NoError(t, err)
	token, _, err := signer.Generate("sub-1", `{"action":"cancel"}`)
	require.NoError(t, err)

	other, _, err := signer.Generate("sub-1", `{"action":"approve"}`)
	require.NoError(t, err)
	tokenParts := strings.Split(token, ".")
	otherParts := strings.Split(other, ".")
	forged := tokenParts[0] + "." + tokenParts[1] + "." + otherParts[2] + "." + tokenParts[3]

	_, _, _, err = signer.Parse(forged, false)
	require.Error(t, err)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", PurposeConfirmAction, time.Minute)
	require.Error(t, err)
}
