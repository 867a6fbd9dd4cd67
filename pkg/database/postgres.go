package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/movement-gateway/pkg/config"
)

// Schema holds the only tables the gateway owns: export jobs and the audit
// trail of confirmed actions. Submissions themselves live upstream.
const Schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id            UUID PRIMARY KEY,
	form_code     TEXT NOT NULL,
	format        TEXT NOT NULL,
	params        JSONB NOT NULL DEFAULT '{}'::jsonb,
	status        TEXT NOT NULL,
	progress      INT NOT NULL DEFAULT 0,
	result_url    TEXT,
	error_message TEXT,
	created_by    TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS action_audit (
	id               UUID PRIMARY KEY,
	submission_id    TEXT NOT NULL,
	reference_number TEXT NOT NULL,
	form_code        TEXT NOT NULL,
	action           TEXT NOT NULL,
	actor            TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	message          TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_action_audit_submission ON action_audit (submission_id, created_at);
`

// NewPostgres returns a configured PostgreSQL client, or nil when the
// database is disabled.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies Schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
