package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS experts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	seniority TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	skills JSONB NOT NULL DEFAULT '[]'::jsonb,
	technologies JSONB NOT NULL DEFAULT '[]'::jsonb,
	technologies_lc JSONB NOT NULL DEFAULT '[]'::jsonb,
	domains JSONB NOT NULL DEFAULT '[]'::jsonb,
	projects JSONB NOT NULL DEFAULT '[]'::jsonb,
	bio TEXT NOT NULL DEFAULT '',
	cv_path TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	search_text TEXT NOT NULL DEFAULT '',
	search_document TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', search_text)) STORED,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_experts_email ON experts(lower(email));
CREATE INDEX IF NOT EXISTS idx_experts_status ON experts(status);
CREATE INDEX IF NOT EXISTS idx_experts_search ON experts USING GIN(search_document);
CREATE INDEX IF NOT EXISTS idx_experts_technologies ON experts USING GIN(technologies_lc);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	message_type TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	sequence_number INTEGER NOT NULL,
	tokens_used INTEGER,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (chat_id, sequence_number)
);
`

// EnsureSchema creates the experts and chat_messages tables. DDL is serialized across
// api/worker startups with an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// jsonArg encodes slices and maps for JSONB columns and jsonb_array_elements_text parameters.
func jsonArg(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
