package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/movement-gateway/internal/models"
)

func TestActionAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewActionAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_audit")).
		WithArgs(sqlmock.AnyArg(), "42", "MDA-0042", models.FormMDA, "cancel", "user-1", models.AuditOutcomeSucceeded, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.ActionAudit{
		SubmissionID:    "42",
		ReferenceNumber: "MDA-0042",
		FormCode:        models.FormMDA,
		Action:          "cancel",
		Actor:           "user-1",
		Outcome:         models.AuditOutcomeSucceeded,
	}
	require.NoError(t, repo.Create(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionAuditRepositoryListBySubmission(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewActionAuditRepository(db)

	rows := sqlmock.NewRows([]string{"id", "submission_id", "reference_number", "form_code", "action", "actor", "outcome", "message", "created_at"}).
		AddRow("a-2", "42", "MDA-0042", "mda", "cancel", "user-1", "FAILED", "Already approved", time.Now()).
		AddRow("a-1", "42", "MDA-0042", "mda", "update", "user-1", "SUCCEEDED", nil, time.Now().Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("FROM action_audit WHERE form_code = $1 AND submission_id = $2")).
		WithArgs(models.FormMDA, "42", 50).
		WillReturnRows(rows)

	entries, err := repo.ListBySubmission(context.Background(), models.FormMDA, "42", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Already approved", *entries[0].Message)
	require.Nil(t, entries[1].Message)
	require.NoError(t, mock.ExpectationsWereMet())
}
