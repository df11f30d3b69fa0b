package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/vector-split/internal/models"
)

// PostgresExperimentRepo implements ExperimentRepo using PostgreSQL.
type PostgresExperimentRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresExperimentRepo creates a PostgreSQL-backed experiment repo.
func NewPostgresExperimentRepo(pool *pgxpool.Pool) *PostgresExperimentRepo {
	return &PostgresExperimentRepo{pool: pool}
}

func (r *PostgresExperimentRepo) ListAll(ctx context.Context) ([]*models.Experiment, error) {
	return r.list(ctx, `
		SELECT id, name, description, hypothesis, status, targeting_rules,
			   created_at, updated_at, started_at, ended_at
		FROM experiments ORDER BY created_at DESC
	`)
}

func (r *PostgresExperimentRepo) GetByStatus(ctx context.Context, status models.ExperimentStatus) ([]*models.Experiment, error) {
	return r.list(ctx, `
		SELECT id, name, description, hypothesis, status, targeting_rules,
			   created_at, updated_at, started_at, ended_at
		FROM experiments WHERE status = $1 ORDER BY created_at DESC
	`, string(status))
}

func (r *PostgresExperimentRepo) list(ctx context.Context, query string, args ...any) ([]*models.Experiment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range experiments {
		variants, err := r.getVariants(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Variants = variants
	}

	return experiments, nil
}

func (r *PostgresExperimentRepo) GetByID(ctx context.Context, id string) (*models.Experiment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, hypothesis, status, targeting_rules,
			   created_at, updated_at, started_at, ended_at
		FROM experiments WHERE id = $1
	`, id)

	e, err := scanExperiment(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	variants, err := r.getVariants(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Variants = variants

	return e, nil
}

func (r *PostgresExperimentRepo) Create(ctx context.Context, e *models.Experiment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	targeting, err := json.Marshal(e.Targeting)
	if err != nil {
		return fmt.Errorf("failed to encode targeting rules: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO experiments
			(id, name, description, hypothesis, status, targeting_rules,
			 created_at, updated_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Name, e.Description, e.Hypothesis, string(e.Status), targeting,
		e.CreatedAt, e.UpdatedAt, e.StartedAt, e.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	for i := range e.Variants {
		if err := insertVariant(ctx, tx, &e.Variants[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresExperimentRepo) Update(ctx context.Context, e *models.Experiment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	targeting, err := json.Marshal(e.Targeting)
	if err != nil {
		return fmt.Errorf("failed to encode targeting rules: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE experiments SET
			name = $2, description = $3, hypothesis = $4, status = $5,
			targeting_rules = $6, updated_at = $7, started_at = $8, ended_at = $9
		WHERE id = $1
	`, e.ID, e.Name, e.Description, e.Hypothesis, string(e.Status), targeting,
		e.UpdatedAt, e.StartedAt, e.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM variants WHERE experiment_id = $1`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to delete variants: %w", err)
	}

	for i := range e.Variants {
		if err := insertVariant(ctx, tx, &e.Variants[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresExperimentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return nil
}

func (r *PostgresExperimentRepo) getVariants(ctx context.Context, experimentID string) ([]models.Variant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, name, display_name, is_control, weight, config,
			   created_at, updated_at
		FROM variants WHERE experiment_id = $1 ORDER BY is_control DESC, name
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variants: %w", err)
	}
	defer rows.Close()

	var variants []models.Variant
	for rows.Next() {
		var v models.Variant
		var configJSON []byte

		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.DisplayName,
			&v.IsControl, &v.Weight, &configJSON, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}

		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &v.Config); err != nil {
				return nil, fmt.Errorf("failed to parse variant config: %w", err)
			}
		}

		variants = append(variants, v)
	}

	return variants, rows.Err()
}

func insertVariant(ctx context.Context, tx pgx.Tx, v *models.Variant) error {
	config, err := json.Marshal(v.Config)
	if err != nil {
		return fmt.Errorf("failed to encode variant config: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO variants
			(id, experiment_id, name, display_name, is_control, weight, config,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.ID, v.ExperimentID, v.Name, v.DisplayName, v.IsControl, v.Weight, config,
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var e models.Experiment
	var description, hypothesis *string
	var status string
	var targetingJSON []byte

	err := row.Scan(&e.ID, &e.Name, &description, &hypothesis, &status,
		&targetingJSON, &e.CreatedAt, &e.UpdatedAt, &e.StartedAt, &e.EndedAt)
	if err != nil {
		return nil, err
	}

	if description != nil {
		e.Description = *description
	}
	if hypothesis != nil {
		e.Hypothesis = *hypothesis
	}
	e.Status = models.ExperimentStatus(status)

	if len(targetingJSON) > 0 {
		if err := json.Unmarshal(targetingJSON, &e.Targeting); err != nil {
			return nil, fmt.Errorf("failed to parse targeting rules: %w", err)
		}
	}

	return &e, nil
}
