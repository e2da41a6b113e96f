package sink

import (
	"strings"
)

// FromDSN builds a sink from a DSN string.
// Supported forms:
//   - ""                        -> Nop (errors are not persisted)
//   - "sqlite:///path/to/db"    -> SQLite
//   - "postgres://..."          -> PostgreSQL
//   - "clickhouse://host:9000"  -> ClickHouse (default table)
//   - bare filesystem path      -> SQLite
func FromDSN(dsn string) (Sink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return Nop{}, nil
	}
	ld := strings.ToLower(d)
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return NewPostgres(d)
	case strings.HasPrefix(ld, "clickhouse://"):
		return NewClickHouse(strings.TrimPrefix(d, "clickhouse://"), "")
	case strings.HasPrefix(ld, "sqlite://"):
		return NewSQLite(strings.TrimPrefix(d, "sqlite://"))
	default:
		return NewSQLite(d)
	}
}
