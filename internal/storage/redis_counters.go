package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/radiusdt/vector-split/internal/models"
)

// RedisCounterStore implements CounterStore on Redis hashes. Each
// counter row is one hash keyed by (experiment, variant, date,
// segment); HIncrBy/HIncrByFloat apply the delta server-side, so
// concurrent writers on the same key cannot lose updates. A per-
// experiment set of (variant, date, segment) members indexes the rows
// for range scans.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func rowKey(key models.CounterKey) string {
	return fmt.Sprintf("split:stats:%s:%s:%s:%s", key.ExperimentID, key.VariantID, key.Date, key.Segment)
}

func indexKey(experimentID string) string {
	return fmt.Sprintf("split:stats-index:%s", experimentID)
}

func indexMember(key models.CounterKey) string {
	return fmt.Sprintf("%s|%s|%s", key.VariantID, key.Date, key.Segment)
}

func (s *RedisCounterStore) IncrementImpression(ctx context.Context, key models.CounterKey, uniqueUser bool) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, indexKey(key.ExperimentID), indexMember(key))
	pipe.HIncrBy(ctx, rowKey(key), "impressions", 1)
	if uniqueUser {
		pipe.HIncrBy(ctx, rowKey(key), "unique_users", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment impression: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) IncrementClick(ctx context.Context, key models.CounterKey) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, indexKey(key.ExperimentID), indexMember(key))
	pipe.HIncrBy(ctx, rowKey(key), "clicks", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment click: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) IncrementConversion(ctx context.Context, key models.CounterKey, orderValue decimal.Decimal) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, indexKey(key.ExperimentID), indexMember(key))
	pipe.HIncrBy(ctx, rowKey(key), "conversions", 1)
	pipe.HIncrByFloat(ctx, rowKey(key), "revenue", orderValue.InexactFloat64())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment conversion: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) TotalsByVariant(ctx context.Context, experimentID string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	return s.totals(ctx, experimentID, "", dr)
}

func (s *RedisCounterStore) TotalsBySegment(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	if segment == "" {
		return map[string]models.AggregatedTotals{}, nil
	}
	return s.totals(ctx, experimentID, segment, dr)
}

func (s *RedisCounterStore) totals(ctx context.Context, experimentID, segment string, dr models.DateRange) (map[string]models.AggregatedTotals, error) {
	rows, err := s.scan(ctx, experimentID, segment, dr)
	if err != nil {
		return nil, err
	}

	result := make(map[string]models.AggregatedTotals)
	for _, r := range rows {
		t := result[r.VariantID]
		t.Visitors += r.UniqueUsers
		t.Impressions += r.Impressions
		t.Clicks += r.Clicks
		t.Orders += r.Conversions
		t.Revenue = t.Revenue.Add(r.Revenue)
		result[r.VariantID] = t
	}
	return result, nil
}

func (s *RedisCounterStore) DailyRows(ctx context.Context, experimentID string, dr models.DateRange) ([]models.CounterRow, error) {
	rows, err := s.scan(ctx, experimentID, "", dr)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].VariantID < rows[j].VariantID
	})

	return rows, nil
}

func (s *RedisCounterStore) scan(ctx context.Context, experimentID, segment string, dr models.DateRange) ([]models.CounterRow, error) {
	members, err := s.client.SMembers(ctx, indexKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats index: %w", err)
	}

	var rows []models.CounterRow
	for _, m := range members {
		key, ok := parseIndexMember(experimentID, m)
		if !ok || key.Segment != segment || !dr.Contains(key.Date) {
			continue
		}

		fields, err := s.client.HGetAll(ctx, rowKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read counter row: %w", err)
		}
		if len(fields) == 0 {
			continue
		}

		row := models.CounterRow{
			ExperimentID: key.ExperimentID,
			VariantID:    key.VariantID,
			Date:         key.Date,
			Segment:      key.Segment,
			Impressions:  parseInt(fields["impressions"]),
			UniqueUsers:  parseInt(fields["unique_users"]),
			Clicks:       parseInt(fields["clicks"]),
			Conversions:  parseInt(fields["conversions"]),
			Revenue:      parseDecimal(fields["revenue"]),
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseIndexMember(experimentID, member string) (models.CounterKey, bool) {
	var variantID, date, segment string
	parts := 0
	start := 0
	for i := 0; i <= len(member); i++ {
		if i == len(member) || member[i] == '|' {
			switch parts {
			case 0:
				variantID = member[start:i]
			case 1:
				date = member[start:i]
			case 2:
				segment = member[start:i]
			}
			parts++
			start = i + 1
		}
	}
	if parts != 3 {
		return models.CounterKey{}, false
	}
	return models.CounterKey{
		ExperimentID: experimentID,
		VariantID:    variantID,
		Date:         date,
		Segment:      segment,
	}, true
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
