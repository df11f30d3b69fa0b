package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/radiusdt/vector-split/internal/models"
)

// ClickHouseEventLog appends raw tracking events to a ClickHouse
// table for offline analysis. The aggregate counters are the source
// of truth for reporting; this log exists so analysts can replay or
// re-segment raw traffic later.
type ClickHouseEventLog struct {
	conn driver.Conn
}

// NewClickHouseEventLog creates a ClickHouse-backed event log.
func NewClickHouseEventLog(conn driver.Conn) *ClickHouseEventLog {
	return &ClickHouseEventLog{conn: conn}
}

func (l *ClickHouseEventLog) Append(ctx context.Context, ev *models.TrackEvent) error {
	// Async insert: ClickHouse buffers and flushes server-side, which
	// keeps the hot tracking path off the batching problem.
	err := l.conn.AsyncInsert(ctx, `
		INSERT INTO split_events
			(event_type, experiment_id, variant_id, user_id, order_value,
			 user_agent, device_type, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, false,
		ev.EventType, ev.ExperimentID, ev.VariantID, ev.UserID,
		ev.OrderValue.InexactFloat64(), ev.UserAgent, ev.DeviceType,
		ev.Country, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// NopEventLog discards events. Used when ClickHouse is not configured.
type NopEventLog struct{}

func (NopEventLog) Append(ctx context.Context, ev *models.TrackEvent) error { return nil }
