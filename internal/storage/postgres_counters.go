package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/radiusdt/vector-split/internal/models"
)

// PostgresCounterStore implements CounterStore on the experiment_stats
// table. Every increment is one upsert whose delta is evaluated
// server-side (`SET x = experiment_stats.x + EXCLUDED.x`), so
// concurrent writers on the same key serialize inside PostgreSQL and
// no update is ever lost.
type PostgresCounterStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCounterStore creates a PostgreSQL-backed counter store.
func NewPostgresCounterStore(pool *pgxpool.Pool) *PostgresCounterStore {
	return &PostgresCounterStore{pool: pool}
}

const counterUpsert = `
	INSERT INTO experiment_stats
		(experiment_id, variant_id, date, segment, impressions, unique_users, clicks, conversions, revenue, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (experiment_id, variant_id, date, segment) DO UPDATE SET
		impressions  = experiment_stats.impressions  + EXCLUDED.impressions,
		unique_users = experiment_stats.unique_users + EXCLUDED.unique_users,
		clicks       = experiment_stats.clicks       + EXCLUDED.clicks,
		conversions  = experiment_stats.conversions  + EXCLUDED.conversions,
		revenue      = experiment_stats.revenue      + EXCLUDED.revenue,
		updated_at   = now()
`

func (s *PostgresCounterStore) apply(ctx context.Context, key models.CounterKey, impressions, uniqueUsers, clicks, conversions int64, revenue decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, counterUpsert,
		key.ExperimentID, key.VariantID, key.Date, key.Segment,
		impressions, uniqueUsers, clicks, conversions, revenue,
	)
	if err != nil {
		return fmt.Errorf("failed to apply counter delta: %w", err)
	}
	return nil
}

func (s *PostgresCounterStore) IncrementImpression(ctx context.Context, key models.CounterKey, uniqueUser bool) error {
	var unique int64
	if uniqueUser {
		unique = 1
	}
	return s.apply(ctx, key, 1, unique, 0, 0, decimal.Zero)
}

func (s *PostgresCounterStore) IncrementClick(ctx context.Context, key models.CounterKey) error {
	return s.apply(ctx, key, 0, 0, 1, 0, decimal.Zero)
}

func (s *PostgresCounterStore) IncrementConversion(ctx context.Context, key models.CounterKey, orderValue decimal.Decimal) error {
	return s.apply(ctx, key, 0, 0, 0, 1, orderValue)
}

func (s *PostgresCounterStore) TotalsByVariant(ctx context.Context, experimentID string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	return s.totals(ctx, experimentID, "", dr)
}

func (s *PostgresCounterStore) TotalsBySegment(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	if segment == "" {
		return map[string]models.AggregatedTotals{}, nil
	}
	return s.totals(ctx, experimentID, segment, dr)
}

func (s *PostgresCounterStore) totals(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT variant_id,
			   COALESCE(SUM(unique_users), 0),
			   COALESCE(SUM(impressions), 0),
			   COALESCE(SUM(clicks), 0),
			   COALESCE(SUM(conversions), 0),
			   COALESCE(SUM(revenue), 0)
		FROM experiment_stats
		WHERE experiment_id = $1
		  AND segment = $2
		  AND ($3 = '' OR date >= $3::date)
		  AND ($4 = '' OR date <= $4::date)
		GROUP BY variant_id
	`, experimentID, segment, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}
	defer rows.Close()

	result := make(map[string]models.AggregatedTotals)
	for rows.Next() {
		var variantID string
		var t models.AggregatedTotals
		if err := rows.Scan(&variantID, &t.Visitors, &t.Impressions, &t.Clicks, &t.Orders, &t.Revenue); err != nil {
			return nil, err
		}
		result[variantID] = t
	}
	return result, rows.Err()
}

func (s *PostgresCounterStore) DailyRows(ctx context.Context, experimentID string, dr models.DateRange) ([]models.CounterRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT experiment_id, variant_id, to_char(date, 'YYYY-MM-DD'),
			   impressions, unique_users, clicks, conversions, revenue
		FROM experiment_stats
		WHERE experiment_id = $1
		  AND segment = ''
		  AND ($2 = '' OR date >= $2::date)
		  AND ($3 = '' OR date <= $3::date)
		ORDER BY date, variant_id
	`, experimentID, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily rows: %w", err)
	}
	defer rows.Close()

	var result []models.CounterRow
	for rows.Next() {
		var r models.CounterRow
		if err := rows.Scan(&r.ExperimentID, &r.VariantID, &r.Date,
			&r.Impressions, &r.UniqueUsers, &r.Clicks, &r.Conversions, &r.Revenue); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
