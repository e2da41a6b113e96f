package sink

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists error records into a local SQLite database.
// It is the default backend: embedded, no server to run.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the
// schema. An empty path yields an in-memory database.
func NewSQLite(path string) (*SQLiteSink, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = ":memory:"
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	s := &SQLiteSink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_errors(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TIMESTAMP NOT NULL,
			instance_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			level INTEGER NOT NULL,
			message TEXT NOT NULL,
			raw TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_errors_instance ON process_errors(instance_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteSink) StoreError(ctx context.Context, instanceID string, pid int, rec ErrorRecord) error {
	if instanceID == "" {
		return errors.New("empty instance id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_errors(occurred_at, instance_id, pid, level, message, raw)
		VALUES(?, ?, ?, ?, ?, ?);`,
		rec.At.UTC(), instanceID, pid, rec.Level, rec.Message, rec.Raw)
	return err
}

// CountByInstance reports stored records for one instance. Used by
// tests and the drain tooling.
func (s *SQLiteSink) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM process_errors WHERE instance_id = ?;`, instanceID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
