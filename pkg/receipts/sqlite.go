package receipts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS decisions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		from_addr TEXT,
		to_addr TEXT,
		amount REAL,
		final_action TEXT NOT NULL,
		consensus_score REAL,
		summary TEXT,
		decision JSON,
		recorded_at DATETIME
	);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_request ON decisions(request_id);`,
		`CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		agent_id TEXT,
		url TEXT,
		recipient TEXT,
		mode TEXT NOT NULL,
		stream_id INTEGER NOT NULL DEFAULT 0,
		tx_ref TEXT NOT NULL DEFAULT '',
		amount_paid TEXT,
		amount_micro INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	);`,
	},
	bind:       func(int) string { return "?" },
	timeValue:  func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
	decisionTb: "decisions",
	paymentTb:  "payments",
}

// NewSQLite wraps an open SQLite database and creates the journal tables.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqliteDialect)
}

// OpenSQLite opens the journal at path. ":memory:" gives a journal that
// lives as long as the process.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("receipts: open sqlite: %w", err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	s, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
