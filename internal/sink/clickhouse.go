package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink sends error records to ClickHouse for analytics-style
// retention. The table must exist; columns mirror ErrorRecord plus the
// instance identity.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

func NewClickHouse(addr, table string) (*ClickHouseSink, error) {
	if table == "" {
		table = "process_errors"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) StoreError(ctx context.Context, instanceID string, pid int, rec ErrorRecord) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (occurred_at, instance_id, pid, level, message, raw) VALUES (?, ?, ?, ?, ?, ?)`,
		s.table)
	if err := s.conn.Exec(ctx, query, rec.At, instanceID, pid, rec.Level, rec.Message, rec.Raw); err != nil {
		return fmt.Errorf("failed to insert error record into ClickHouse: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
