package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/movement-gateway/internal/models"
)

// ActionAuditRepository stores the trail of confirmed submission actions.
type ActionAuditRepository struct {
	db *sqlx.DB
}

// NewActionAuditRepository constructs the repository.
func NewActionAuditRepository(db *sqlx.DB) *ActionAuditRepository {
	return &ActionAuditRepository{db: db}
}

// Create inserts an audit row.
func (r *ActionAuditRepository) Create(ctx context.Context, entry *models.ActionAudit) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO action_audit (id, submission_id, reference_number, form_code, action, actor, outcome, message, created_at)
VALUES (:id, :submission_id, :reference_number, :form_code, :action, :actor, :outcome, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create action audit: %w", err)
	}
	return nil
}

// ListBySubmission returns the newest entries for a submission first.
func (r *ActionAuditRepository) ListBySubmission(ctx context.Context, form models.FormCode, submissionID string, limit int) ([]models.ActionAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, submission_id, reference_number, form_code, action, actor, outcome, message, created_at
FROM action_audit WHERE form_code = $1 AND submission_id = $2 ORDER BY created_at DESC LIMIT $3`
	var entries []models.ActionAudit
	if err := r.db.SelectContext(ctx, &entries, query, form, submissionID, limit); err != nil {
		return nil, fmt.Errorf("list action audit: %w", err)
	}
	return entries, nil
}
