package receipts

import (
	"context"
	"strings"
)

// Open selects a journal from a database URL: empty is an in-memory SQLite
// journal, postgres:// or postgresql:// is PostgreSQL, and sqlite:<path> is
// a SQLite file.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case databaseURL == "":
		return OpenSQLite(ctx, ":memory:")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite:"), "//"))
	case databaseURL == "memory":
		return NewMemory(), nil
	}
	return OpenSQLite(ctx, databaseURL)
}
