package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the journal tables.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id             BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL,
	text           TEXT NOT NULL,
	at             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS conversation_turns_correlation_idx
	ON conversation_turns (correlation_id);

CREATE TABLE IF NOT EXISTS recaps (
	recap_key  TEXT PRIMARY KEY,
	index_name TEXT NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	lots       INTEGER NOT NULL,
	cash_ref   DOUBLE PRECISION,
	recap_text TEXT NOT NULL,
	created_at TIMESTAMPTZ,
	seen_at    TIMESTAMPTZ NOT NULL
);
`

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the journal tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}
