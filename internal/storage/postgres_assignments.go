package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/vector-split/internal/models"
)

// PostgresAssignmentRegistry implements AssignmentRegistry on the
// user_assignments table. The (user_id, experiment_id) primary key is
// the compare-and-swap: `ON CONFLICT DO NOTHING` discards the losing
// write and the winner is re-read. The new-visitor decision runs in a
// transaction holding a per-user advisory lock, which imposes a total
// order across experiments on each user's first assignments.
type PostgresAssignmentRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresAssignmentRegistry creates a PostgreSQL-backed registry.
func NewPostgresAssignmentRegistry(pool *pgxpool.Pool) *PostgresAssignmentRegistry {
	return &PostgresAssignmentRegistry{pool: pool}
}

func (r *PostgresAssignmentRegistry) AssignIfAbsent(ctx context.Context, userID, experimentID, variantID string, actx models.AssignmentContext) (*models.Assignment, bool, error) {
	method := actx.Method
	if method == "" {
		method = "hash"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize first-assignment decisions per user so the
	// is_new_visitor snapshot cannot race with a concurrent
	// assignment in another experiment.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, false, fmt.Errorf("failed to take user lock: %w", err)
	}

	var seen bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_assignments WHERE user_id = $1)`, userID,
	).Scan(&seen)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check prior assignments: %w", err)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		INSERT INTO user_assignments
			(user_id, experiment_id, variant_id, assigned_at, assignment_method,
			 user_agent, device_type, country, is_new_visitor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, experiment_id) DO NOTHING
	`, userID, experimentID, variantID, now, method,
		nullString(actx.UserAgent), nullString(actx.DeviceType), nullString(actx.Country), !seen)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert assignment: %w", err)
	}

	created := tag.RowsAffected() > 0

	a, err := r.getTx(ctx, tx, userID, experimentID)
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		return nil, false, fmt.Errorf("assignment vanished for user %s experiment %s", userID, experimentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit assignment: %w", err)
	}

	return a, created, nil
}

func (r *PostgresAssignmentRegistry) Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error) {
	return r.get(ctx, r.pool, userID, experimentID)
}

func (r *PostgresAssignmentRegistry) getTx(ctx context.Context, tx pgx.Tx, userID, experimentID string) (*models.Assignment, error) {
	return r.get(ctx, tx, userID, experimentID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresAssignmentRegistry) get(ctx context.Context, q queryRower, userID, experimentID string) (*models.Assignment, error) {
	var a models.Assignment
	var userAgent, deviceType, country *string

	err := q.QueryRow(ctx, `
		SELECT user_id, experiment_id, variant_id, assigned_at, assignment_method,
			   user_agent, device_type, country, is_new_visitor
		FROM user_assignments
		WHERE user_id = $1 AND experiment_id = $2
	`, userID, experimentID).Scan(
		&a.UserID, &a.ExperimentID, &a.VariantID, &a.AssignedAt, &a.AssignmentMethod,
		&userAgent, &deviceType, &country, &a.IsNewVisitor,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	if userAgent != nil {
		a.UserAgent = *userAgent
	}
	if deviceType != nil {
		a.DeviceType = *deviceType
	}
	if country != nil {
		a.Country = *country
	}

	return &a, nil
}

func (r *PostgresAssignmentRegistry) HasAnyAssignment(ctx context.Context, userID string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_assignments WHERE user_id = $1)`, userID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check assignments: %w", err)
	}
	return seen, nil
}

func (r *PostgresAssignmentRegistry) CountByExperiment(ctx context.Context, experimentID string) (*models.AssignmentBreakdown, error) {
	b := &models.AssignmentBreakdown{
		ByVariant: make(map[string]int64),
		ByDevice:  make(map[string]int64),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
			   count(*) FILTER (WHERE is_new_visitor),
			   count(*) FILTER (WHERE NOT is_new_visitor)
		FROM user_assignments
		WHERE experiment_id = $1
	`, experimentID).Scan(&b.Total, &b.NewVisitors, &b.ReturningVisitors)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT variant_id, count(*)
		FROM user_assignments
		WHERE experiment_id = $1
		GROUP BY variant_id
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments by variant: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var variantID string
		var n int64
		if err := rows.Scan(&variantID, &n); err != nil {
			return nil, err
		}
		b.ByVariant[variantID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deviceRows, err := r.pool.Query(ctx, `
		SELECT COALESCE(device_type, 'unknown'), count(*)
		FROM user_assignments
		WHERE experiment_id = $1
		GROUP BY 1
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments by device: %w", err)
	}
	defer deviceRows.Close()
	for deviceRows.Next() {
		var device string
		var n int64
		if err := deviceRows.Scan(&device, &n); err != nil {
			return nil, err
		}
		b.ByDevice[device] = n
	}

	return b, deviceRows.Err()
}

func (r *PostgresAssignmentRegistry) PurgeUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to purge assignments: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
