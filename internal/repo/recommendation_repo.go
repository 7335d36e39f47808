package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/recommendation"
)

// RecommendationRepo — репозиторий стратегических рекомендаций.
// Реализует recommendation.Store.
type RecommendationRepo struct {
	pool *pgxpool.Pool
}

var _ recommendation.Store = (*RecommendationRepo)(nil)

// NewRecommendationRepo создаёт новый RecommendationRepo.
func NewRecommendationRepo(pool *pgxpool.Pool) *RecommendationRepo {
	return &RecommendationRepo{pool: pool}
}

// SaveRecommendations сохраняет рекомендации одной генерации в одной транзакции.
func (r *RecommendationRepo) SaveRecommendations(ctx context.Context, recs []domain.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	query := `
		INSERT INTO recommendations (id, tenant_id, constraint_id, constraint_type, recommendation_type,
		                             title, description, expected_impact, action_items, priority,
		                             estimated_roi_percentage, implementation_timeline_days,
		                             risk_score, complexity_score, risk_factors, success_metrics,
		                             is_primary_focus, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	batch := &pgx.Batch{}
	for _, rec := range recs {
		itemsJSON, err := json.Marshal(rec.ActionItems)
		if err != nil {
			return fmt.Errorf("marshal action items: %w", err)
		}
		batch.Queue(query,
			rec.ID,
			rec.TenantID,
			nullUUID(rec.ConstraintID),
			rec.ConstraintType,
			rec.Type,
			rec.Title,
			rec.Description,
			rec.ExpectedImpact,
			itemsJSON,
			rec.Priority,
			rec.EstimatedROIPercentage,
			rec.ImplementationTimelineDays,
			rec.RiskScore,
			rec.ComplexityScore,
			rec.RiskFactors,
			rec.SuccessMetrics,
			rec.IsPrimaryFocus,
			rec.Status,
			rec.CreatedAt,
		)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert recommendations: %w", err)
		}
		return nil
	})
}

// CountSince возвращает число рекомендаций тенанта, созданных не раньше since.
func (r *RecommendationRepo) CountSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM recommendations WHERE tenant_id = $1 AND created_at >= $2`
	if err := r.pool.QueryRow(ctx, query, tenantID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recommendations: %w", err)
	}
	return n, nil
}
