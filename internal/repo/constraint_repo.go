package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Keystone/internal/constraint"
	"github.com/shaiso/Keystone/internal/domain"
)

// ConstraintRepo — репозиторий выявленных ограничений. Реализует constraint.Store.
type ConstraintRepo struct {
	pool *pgxpool.Pool
}

var _ constraint.Store = (*ConstraintRepo)(nil)

// NewConstraintRepo создаёт новый ConstraintRepo.
func NewConstraintRepo(pool *pgxpool.Pool) *ConstraintRepo {
	return &ConstraintRepo{pool: pool}
}

// SaveConstraints сохраняет результаты одного анализа в одной транзакции.
func (r *ConstraintRepo) SaveConstraints(ctx context.Context, constraints []domain.Constraint) error {
	if len(constraints) == 0 {
		return nil
	}

	query := `
		INSERT INTO constraints (id, tenant_id, constraint_type, severity, title, description,
		                         impact_score, identified_data, root_causes, affected_modules,
		                         status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	batch := &pgx.Batch{}
	for _, c := range constraints {
		dataJSON, err := marshalJSON(c.IdentifiedData)
		if err != nil {
			return fmt.Errorf("marshal identified data: %w", err)
		}
		batch.Queue(query,
			c.ID,
			c.TenantID,
			c.Type,
			c.Severity,
			c.Title,
			c.Description,
			c.ImpactScore,
			dataJSON,
			c.RootCauses,
			c.AffectedModules,
			c.Status,
			c.CreatedAt,
		)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert constraints: %w", err)
		}
		return nil
	})
}

// ListRecent возвращает ограничения тенанта, выявленные не раньше since.
func (r *ConstraintRepo) ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.Constraint, error) {
	query := `
		SELECT id, tenant_id, constraint_type, severity, title, description,
		       impact_score, identified_data, root_causes, affected_modules,
		       status, created_at
		FROM constraints
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, impact_score DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, tenantID, since, nullLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list constraints: %w", err)
	}
	defer rows.Close()

	var out []domain.Constraint
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CountSince возвращает число ограничений тенанта, выявленных не раньше since.
func (r *ConstraintRepo) CountSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM constraints WHERE tenant_id = $1 AND created_at >= $2`
	if err := r.pool.QueryRow(ctx, query, tenantID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count constraints: %w", err)
	}
	return n, nil
}

// scanConstraint сканирует одну строку в Constraint.
func scanConstraint(row pgx.Row) (*domain.Constraint, error) {
	var (
		c           domain.Constraint
		description *string
		dataJSON    []byte
	)

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Type,
		&c.Severity,
		&c.Title,
		&description,
		&c.ImpactScore,
		&dataJSON,
		&c.RootCauses,
		&c.AffectedModules,
		&c.Status,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan constraint: %w", notFound(err))
	}

	if description != nil {
		c.Description = *description
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &c.IdentifiedData); err != nil {
			return nil, fmt.Errorf("unmarshal identified data: %w", err)
		}
	}
	return &c, nil
}
