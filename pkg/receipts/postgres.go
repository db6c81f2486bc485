package receipts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS paystream_decisions (
		seq BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		from_addr TEXT,
		to_addr TEXT,
		amount DOUBLE PRECISION,
		final_action TEXT NOT NULL,
		consensus_score DOUBLE PRECISION,
		summary TEXT,
		decision JSONB,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
		`CREATE INDEX IF NOT EXISTS idx_paystream_decisions_request ON paystream_decisions(request_id)`,
		`CREATE TABLE IF NOT EXISTS paystream_payments (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		agent_id TEXT,
		url TEXT,
		recipient TEXT,
		mode TEXT NOT NULL,
		stream_id BIGINT NOT NULL DEFAULT 0,
		tx_ref TEXT NOT NULL DEFAULT '',
		amount_paid TEXT,
		amount_micro BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	},
	bind:       func(n int) string { return fmt.Sprintf("$%d", n) },
	timeValue:  func(t time.Time) any { return t.UTC() },
	decisionTb: "paystream_decisions",
	paymentTb:  "paystream_payments",
}

// NewPostgres wraps an open PostgreSQL database and creates the journal
// tables.
func NewPostgres(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, postgresDialect)
}

// OpenPostgres connects with a postgres:// URL.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("receipts: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("receipts: ping postgres: %w", err)
	}
	s, err := NewPostgres(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
