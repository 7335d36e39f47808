package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Keystone/internal/constraint"
)

// overdueInvoicesLimit — сколько крупнейших просроченных счетов читать для cash_flow.
const overdueInvoicesLimit = 5

// concentrationLimit — сколько крупнейших клиентов читать для customer_segment.
const concentrationLimit = 10

// MetricsRepo читает агрегированные метрики из таблиц модулей платформы
// (invoices, payments, credit_profiles). Реализует constraint.MetricsSource.
//
// Все методы только читают. Если по тенанту нет строк, возвращается nil без ошибки.
type MetricsRepo struct {
	pool *pgxpool.Pool
}

var _ constraint.MetricsSource = (*MetricsRepo)(nil)

// NewMetricsRepo создаёт новый MetricsRepo.
func NewMetricsRepo(pool *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{pool: pool}
}

// CashFlow возвращает метрики дебиторской задолженности.
func (r *MetricsRepo) CashFlow(ctx context.Context, tenantID string) (*constraint.CashFlowMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('sent', 'overdue', 'partially_paid') THEN amount_due ELSE 0 END), 0),
			COUNT(CASE WHEN status = 'overdue' THEN 1 END),
			COALESCE(AVG(CASE WHEN status = 'overdue'
			                  THEN EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - due_date)) / 86400 END), 0),
			COALESCE(SUM(CASE WHEN status = 'overdue' THEN amount_due ELSE 0 END), 0),
			COUNT(DISTINCT customer_id),
			COALESCE(MAX(amount_due), 0),
			COALESCE(PERCENTILE_CONT(0.90) WITHIN GROUP (ORDER BY amount_due), 0),
			COALESCE(SUM(CASE WHEN status IN ('sent', 'overdue', 'partially_paid')
			                   AND created_at < CURRENT_TIMESTAMP - INTERVAL '30 days'
			                  THEN amount_due ELSE 0 END), 0)
		FROM invoices
		WHERE tenant_id = $1
	`
	var (
		total int
		m     constraint.CashFlowMetrics
	)
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&total,
		&m.TotalOutstanding,
		&m.OverdueCount,
		&m.AvgOverdueDays,
		&m.TotalOverdueAmount,
		&m.AffectedCustomers,
		&m.LargestOutstanding,
		&m.P90Outstanding,
		&m.Outstanding30dAgo,
	)
	if err != nil {
		return nil, fmt.Errorf("query cash flow metrics: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	if m.OverdueCount > 0 {
		invoices, err := r.overdueInvoices(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		m.OverdueInvoices = invoices
	}
	return &m, nil
}

// overdueInvoices возвращает крупнейшие просроченные счета.
func (r *MetricsRepo) overdueInvoices(ctx context.Context, tenantID string) ([]constraint.OverdueInvoice, error) {
	query := `
		SELECT id::text, customer_id::text, amount_due,
		       GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - due_date)) / 86400))::int
		FROM invoices
		WHERE tenant_id = $1 AND status = 'overdue'
		ORDER BY amount_due DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, tenantID, overdueInvoicesLimit)
	if err != nil {
		return nil, fmt.Errorf("query overdue invoices: %w", err)
	}
	defer rows.Close()

	var out []constraint.OverdueInvoice
	for rows.Next() {
		var inv constraint.OverdueInvoice
		if err := rows.Scan(&inv.InvoiceID, &inv.CustomerID, &inv.AmountDue, &inv.DaysOverdue); err != nil {
			return nil, fmt.Errorf("scan overdue invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Collection возвращает метрики сбора платежей за 90 дней.
func (r *MetricsRepo) Collection(ctx context.Context, tenantID string) (*constraint.CollectionMetrics, error) {
	query := `
		WITH p AS (
			SELECT status, EXTRACT(EPOCH FROM (completed_at - created_at)) / 86400 AS days
			FROM payments
			WHERE tenant_id = $1 AND created_at > CURRENT_TIMESTAMP - INTERVAL '90 days'
		)
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'completed' THEN 1 END),
			COALESCE(AVG(days), 0),
			COALESCE(PERCENTILE_CONT(0.50) WITHIN GROUP (ORDER BY days), 0),
			COALESCE(PERCENTILE_CONT(0.90) WITHIN GROUP (ORDER BY days), 0),
			COALESCE(STDDEV(days), 0),
			COALESCE(COUNT(CASE WHEN status = 'failed' THEN 1 END)::float * 100.0 / NULLIF(COUNT(*), 0), 0)
		FROM p
	`
	var m constraint.CollectionMetrics
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&m.TotalPayments,
		&m.SuccessfulPayments,
		&m.AvgCollectionDays,
		&m.MedianCollectionDays,
		&m.P90CollectionDays,
		&m.CollectionDaysStdDev,
		&m.FailureRate,
	)
	if err != nil {
		return nil, fmt.Errorf("query collection metrics: %w", err)
	}
	if m.TotalPayments == 0 {
		return nil, nil
	}
	return &m, nil
}

// CreditRisk возвращает распределение кредитного риска клиентов.
func (r *MetricsRepo) CreditRisk(ctx context.Context, tenantID string) (*constraint.CreditMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN risk_level IN ('high', 'critical') THEN 1 END),
			COALESCE(AVG(current_score), 700),
			COALESCE(MIN(current_score), 0),
			COALESCE(PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY current_score), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'critical' THEN credit_limit ELSE 0 END), 0),
			COALESCE(SUM(credit_limit), 0)
		FROM credit_profiles
		WHERE tenant_id = $1
	`
	var m constraint.CreditMetrics
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&m.TotalCustomers,
		&m.HighRiskCount,
		&m.AvgScore,
		&m.MinScore,
		&m.P25Score,
		&m.CriticalExposure,
		&m.TotalCreditLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query credit metrics: %w", err)
	}
	if m.TotalCustomers == 0 {
		return nil, nil
	}
	return &m, nil
}

// Operational возвращает метрики выставления счетов за 30 дней.
func (r *MetricsRepo) Operational(ctx context.Context, tenantID string) (*constraint.OperationalMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'draft' THEN 1 END),
			COALESCE(AVG(CASE WHEN sent_at IS NOT NULL
			                  THEN EXTRACT(EPOCH FROM (sent_at - created_at)) / 86400 END), 0),
			COALESCE(MAX(EXTRACT(EPOCH FROM (sent_at - created_at)) / 86400), 0)
		FROM invoices
		WHERE tenant_id = $1 AND created_at > CURRENT_TIMESTAMP - INTERVAL '30 days'
	`
	var m constraint.OperationalMetrics
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&m.TotalInvoices30d,
		&m.DraftInvoices,
		&m.AvgSendDelayDays,
		&m.MaxSendDelayDays,
	)
	if err != nil {
		return nil, fmt.Errorf("query operational metrics: %w", err)
	}
	if m.TotalInvoices30d == 0 {
		return nil, nil
	}
	return &m, nil
}

// CustomerConcentration возвращает задолженность крупнейших клиентов.
func (r *MetricsRepo) CustomerConcentration(ctx context.Context, tenantID string) (*constraint.ConcentrationMetrics, error) {
	query := `
		SELECT customer_id::text, SUM(amount_due) AS outstanding, COUNT(*)
		FROM invoices
		WHERE tenant_id = $1 AND status IN ('sent', 'overdue', 'partially_paid')
		GROUP BY customer_id
		ORDER BY outstanding DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, tenantID, concentrationLimit)
	if err != nil {
		return nil, fmt.Errorf("query concentration metrics: %w", err)
	}
	defer rows.Close()

	var m constraint.ConcentrationMetrics
	for rows.Next() {
		var c constraint.CustomerOutstanding
		if err := rows.Scan(&c.CustomerID, &c.Outstanding, &c.InvoiceCount); err != nil {
			return nil, fmt.Errorf("scan customer outstanding: %w", err)
		}
		m.TopCustomers = append(m.TopCustomers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer outstanding: %w", err)
	}
	if len(m.TopCustomers) == 0 {
		return nil, nil
	}

	totalQuery := `
		SELECT COALESCE(SUM(amount_due), 0)
		FROM invoices
		WHERE tenant_id = $1 AND status IN ('sent', 'overdue', 'partially_paid')
	`
	if err := r.pool.QueryRow(ctx, totalQuery, tenantID).Scan(&m.TotalOutstanding); err != nil {
		return nil, fmt.Errorf("query total outstanding: %w", err)
	}
	return &m, nil
}

// ProcessCycle возвращает метрики цикла «счёт → оплата» за 90 дней.
func (r *MetricsRepo) ProcessCycle(ctx context.Context, tenantID string) (*constraint.ProcessMetrics, error) {
	query := `
		SELECT
			COALESCE(AVG(EXTRACT(EPOCH FROM (p.completed_at - i.sent_at)) / 86400), 0),
			COUNT(DISTINCT CASE WHEN p.id IS NOT NULL THEN i.id END),
			COUNT(DISTINCT CASE WHEN p.id IS NULL THEN i.id END)
		FROM invoices i
		LEFT JOIN payments p ON p.invoice_id = i.id
		WHERE i.tenant_id = $1
		  AND i.sent_at IS NOT NULL
		  AND i.created_at > CURRENT_TIMESTAMP - INTERVAL '90 days'
	`
	var m constraint.ProcessMetrics
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&m.AvgInvoiceToPaymentDays,
		&m.InvoicesWithPayments,
		&m.InvoicesWithoutPayments,
	)
	if err != nil {
		return nil, fmt.Errorf("query process metrics: %w", err)
	}
	if m.InvoicesWithPayments+m.InvoicesWithoutPayments == 0 {
		return nil, nil
	}
	return &m, nil
}
