package constraint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Keystone/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAnalyzer(src MetricsSource, store Store) *Analyzer {
	return New(Config{
		Source: src,
		Store:  store,
		Now:    func() time.Time { return testNow },
	})
}

// failingSource возвращает ошибку только для кредитных метрик.
type failingSource struct {
	StaticSource
	err error
}

func (s *failingSource) CreditRisk(context.Context, string) (*CreditMetrics, error) {
	return nil, s.err
}

// recordingStore запоминает сохранённые ограничения.
type recordingStore struct {
	mu    sync.Mutex
	saved []domain.Constraint
	err   error
}

func (s *recordingStore) SaveConstraints(_ context.Context, cs []domain.Constraint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, cs...)
	return s.err
}

func findType(cs []domain.Constraint, typ domain.ConstraintType) *domain.Constraint {
	for i := range cs {
		if cs[i].Type == typ {
			return &cs[i]
		}
	}
	return nil
}

// --- Score Tests ---

func TestScore_Weights(t *testing.T) {
	s := Score(ImpactInputs{
		BaseAmount:        500000, // 100
		AffectedCount:     25,     // 50
		AvgDelay:          45,     // 90
		TrendPercentage:   -10,    // 10
		ConcentrationRisk: 0.5,    // 50
	})

	assert.InDelta(t, 100, s.Amount, 1e-9)
	assert.InDelta(t, 50, s.Volume, 1e-9)
	assert.InDelta(t, 90, s.Urgency, 1e-9)
	assert.InDelta(t, 10, s.Trend, 1e-9)
	assert.InDelta(t, 50, s.Breadth, 1e-9)
	assert.InDelta(t, 30+10+22.5+1.5+5, s.Total, 1e-9)
}

func TestScore_ClampsToRange(t *testing.T) {
	s := Score(ImpactInputs{
		BaseAmount:        1e12,
		AffectedCount:     1e6,
		AvgDelay:          -50,
		TrendPercentage:   1e6,
		ConcentrationRisk: 10,
	})

	assert.Equal(t, 100.0, s.Amount)
	assert.Equal(t, 100.0, s.Volume)
	assert.Equal(t, 0.0, s.Urgency)
	assert.Equal(t, 100.0, s.Trend)
	assert.Equal(t, 100.0, s.Breadth)
	assert.LessOrEqual(t, s.Total, 100.0)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		elapsed time.Duration
		want    float64
	}{
		{"slow with constraints", 3, 2 * time.Second, 100},
		{"fast with constraints", 3, 100 * time.Millisecond, 80},
		{"fast and empty", 0, 100 * time.Millisecond, 50},
		{"slow and empty", 0, 2 * time.Second, 70},
		{"noisy", 11, 2 * time.Second, 85},
		{"fast and noisy", 12, time.Millisecond, 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confidence(tt.count, tt.elapsed))
		})
	}
}

func TestAmplify(t *testing.T) {
	cs := []domain.Constraint{
		{Type: domain.ConstraintCashFlow, ImpactScore: 50},
		{Type: domain.ConstraintCreditRisk, ImpactScore: 40},
		{Type: domain.ConstraintCollectionEfficiency, ImpactScore: 30},
		{Type: domain.ConstraintOperational, ImpactScore: 20},
	}

	Amplify(cs)

	assert.InDelta(t, 50*1.3*1.2, cs[0].ImpactScore, 1e-9)
	assert.InDelta(t, 40*1.25, cs[1].ImpactScore, 1e-9)
	assert.InDelta(t, 30, cs[2].ImpactScore, 1e-9)
	assert.InDelta(t, 20, cs[3].ImpactScore, 1e-9)
}

// --- Analyzer Tests ---

func TestAnalyze_CriticalCashFlow(t *testing.T) {
	src := &StaticSource{
		CashFlowData: &CashFlowMetrics{
			TotalOutstanding: 500000,
			OverdueCount:     25,
			AvgOverdueDays:   45,
		},
	}

	result, err := newTestAnalyzer(src, nil).Analyze(context.Background(), "t1")
	require.NoError(t, err)

	require.Len(t, result.Constraints, 1)
	c := result.Constraints[0]
	assert.Equal(t, domain.ConstraintCashFlow, c.Type)
	assert.Equal(t, domain.SeverityCritical, c.Severity)
	assert.Greater(t, c.ImpactScore, 0.0)
	assert.Equal(t, "t1", c.TenantID)
	assert.Equal(t, domain.ConstraintStatusActive, c.Status)
	assert.NotEmpty(t, c.RootCauses)
	assert.Contains(t, c.AffectedModules, domain.ModuleInvoiceManagement)

	require.NotNil(t, result.PrimaryConstraint)
	assert.Equal(t, c.ID, result.PrimaryConstraint.ID)
	assert.InDelta(t, c.ImpactScore, result.TotalImpactScore, 1e-9)
	assert.Equal(t, DataSources, result.DataSources)
}

func TestAnalyze_BelowThresholds(t *testing.T) {
	src := &StaticSource{
		CashFlowData:      &CashFlowMetrics{TotalOutstanding: 50000, OverdueCount: 3},
		CollectionData:    &CollectionMetrics{AvgCollectionDays: 30, FailureRate: 2, CollectionDaysStdDev: 5},
		CreditData:        &CreditMetrics{HighRiskCount: 1, AvgScore: 720, TotalCreditLimit: 100, CriticalExposure: 5},
		OperationalData:   &OperationalMetrics{DraftInvoices: 2, AvgSendDelayDays: 1, TotalInvoices30d: 100},
		ConcentrationData: &ConcentrationMetrics{TopCustomers: []CustomerOutstanding{{CustomerID: "c1", Outstanding: 10}}, TotalOutstanding: 100},
		ProcessData:       &ProcessMetrics{AvgInvoiceToPaymentDays: 30, InvoicesWithPayments: 90, InvoicesWithoutPayments: 10},
	}

	result, err := newTestAnalyzer(src, nil).Analyze(context.Background(), "t1")
	require.NoError(t, err)

	assert.Empty(t, result.Constraints)
	assert.Nil(t, result.PrimaryConstraint)
	assert.Zero(t, result.TotalImpactScore)
	// быстрый анализ без ограничений
	assert.Equal(t, 50.0, result.ConfidenceScore)
}

func TestAnalyze_NoData(t *testing.T) {
	result, err := newTestAnalyzer(&StaticSource{}, nil).Analyze(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, result.Constraints)
	assert.Nil(t, result.PrimaryConstraint)
}

func TestAnalyze_CashFlowAmplifiedByCreditRisk(t *testing.T) {
	cash := &CashFlowMetrics{
		TotalOutstanding:   300000,
		OverdueCount:       12,
		AvgOverdueDays:     20,
		LargestOutstanding: 30000,
	}
	src := &StaticSource{
		CashFlowData: cash,
		CreditData:   &CreditMetrics{HighRiskCount: 8, AvgScore: 640, TotalCustomers: 40},
	}

	baseline := analyzeCashFlow("t1", cash, testNow).ImpactScore

	result, err := newTestAnalyzer(src, nil).Analyze(context.Background(), "t1")
	require.NoError(t, err)

	cf := findType(result.Constraints, domain.ConstraintCashFlow)
	require.NotNil(t, cf)
	require.NotNil(t, findType(result.Constraints, domain.ConstraintCreditRisk))
	assert.GreaterOrEqual(t, cf.ImpactScore, baseline*1.3-1e-9)
}

func TestAnalyze_SortedByImpact(t *testing.T) {
	src := &StaticSource{
		CashFlowData:    &CashFlowMetrics{TotalOutstanding: 600000, OverdueCount: 40, AvgOverdueDays: 70, LargestOutstanding: 200000},
		OperationalData: &OperationalMetrics{DraftInvoices: 25, AvgSendDelayDays: 2, TotalInvoices30d: 200},
		CollectionData:  &CollectionMetrics{AvgCollectionDays: 55, FailureRate: 8, TotalPayments: 100},
	}

	result, err := newTestAnalyzer(src, nil).Analyze(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, result.Constraints, 3)

	for i := 1; i < len(result.Constraints); i++ {
		assert.GreaterOrEqual(t, result.Constraints[i-1].ImpactScore, result.Constraints[i].ImpactScore)
	}
	assert.Equal(t, result.Constraints[0].ID, result.PrimaryConstraint.ID)
}

func TestAnalyze_DataErrorPropagates(t *testing.T) {
	dbErr := errors.New("connection refused")
	src := &failingSource{
		StaticSource: StaticSource{
			CashFlowData: &CashFlowMetrics{TotalOutstanding: 500000, OverdueCount: 25},
		},
		err: dbErr,
	}
	store := &recordingStore{}

	result, err := newTestAnalyzer(src, store).Analyze(context.Background(), "t1")

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrConstraintData)
	assert.ErrorIs(t, err, dbErr)

	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, string(domain.ConstraintCreditRisk), dataErr.Analyzer)
	assert.Empty(t, store.saved, "partial results must not be persisted")
}

func TestAnalyze_NoSource(t *testing.T) {
	_, err := New(Config{}).Analyze(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNoMetricsSource)
}

func TestAnalyze_StoreFailureIgnored(t *testing.T) {
	src := &StaticSource{
		CashFlowData: &CashFlowMetrics{TotalOutstanding: 250000, OverdueCount: 15},
	}
	store := &recordingStore{err: errors.New("disk full")}

	result, err := newTestAnalyzer(src, store).Analyze(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, result.Constraints, 1)
	assert.Len(t, store.saved, 1)
}

// --- Severity Tests ---

func TestCashFlowSeverity(t *testing.T) {
	tests := []struct {
		outstanding float64
		overdue     int
		want        domain.Severity
	}{
		{500000, 0, domain.SeverityCritical},
		{200000, 0, domain.SeverityHigh},
		{150000, 0, domain.SeverityMedium},
		{50000, 11, domain.SeverityLow},
	}

	for _, tt := range tests {
		c := analyzeCashFlow("t1", &CashFlowMetrics{TotalOutstanding: tt.outstanding, OverdueCount: tt.overdue}, testNow)
		require.NotNil(t, c)
		assert.Equal(t, tt.want, c.Severity, "outstanding=%v", tt.outstanding)
	}
}

func TestCreditRiskSeverity(t *testing.T) {
	tests := []struct {
		name string
		m    CreditMetrics
		want domain.Severity
	}{
		{"many high risk", CreditMetrics{HighRiskCount: 11, AvgScore: 700}, domain.SeverityCritical},
		{"low average", CreditMetrics{HighRiskCount: 0, AvgScore: 590}, domain.SeverityCritical},
		{"exposure", CreditMetrics{AvgScore: 700, CriticalExposure: 35, TotalCreditLimit: 100}, domain.SeverityHigh},
		{"moderate", CreditMetrics{HighRiskCount: 6, AvgScore: 700}, domain.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := analyzeCreditRisk("t1", &tt.m, testNow)
			require.NotNil(t, c)
			assert.Equal(t, tt.want, c.Severity)
		})
	}

	// нет данных о скоринге — средний балл 700, ограничения нет
	assert.Nil(t, analyzeCreditRisk("t1", &CreditMetrics{}, testNow))
}

func TestCollectionSeverity(t *testing.T) {
	tests := []struct {
		m    CollectionMetrics
		want domain.Severity
	}{
		{CollectionMetrics{AvgCollectionDays: 65}, domain.SeverityHigh},
		{CollectionMetrics{AvgCollectionDays: 40, FailureRate: 11}, domain.SeverityHigh},
		{CollectionMetrics{AvgCollectionDays: 52}, domain.SeverityMedium},
		{CollectionMetrics{AvgCollectionDays: 46}, domain.SeverityLow},
		{CollectionMetrics{AvgCollectionDays: 30, CollectionDaysStdDev: 25}, domain.SeverityLow},
	}

	for _, tt := range tests {
		c := analyzeCollection("t1", &tt.m, testNow)
		require.NotNil(t, c)
		assert.Equal(t, tt.want, c.Severity)
	}
}

func TestOperationalAndSegmentSeverity(t *testing.T) {
	op := analyzeOperational("t1", &OperationalMetrics{DraftInvoices: 55, TotalInvoices30d: 300}, testNow)
	require.NotNil(t, op)
	assert.Equal(t, domain.SeverityHigh, op.Severity)

	op = analyzeOperational("t1", &OperationalMetrics{DraftInvoices: 21, TotalInvoices30d: 300}, testNow)
	require.NotNil(t, op)
	assert.Equal(t, domain.SeverityLow, op.Severity)

	seg := analyzeCustomerSegment("t1", &ConcentrationMetrics{
		TopCustomers: []CustomerOutstanding{
			{CustomerID: "a", Outstanding: 50},
			{CustomerID: "b", Outstanding: 25},
		},
		TotalOutstanding: 100,
	}, testNow)
	require.NotNil(t, seg)
	assert.Equal(t, domain.SeverityCritical, seg.Severity)
	assert.Equal(t, "a", seg.IdentifiedData["top_customer_id"])
}

func TestProcessRequiresInvoices(t *testing.T) {
	assert.Nil(t, analyzeProcess("t1", &ProcessMetrics{AvgInvoiceToPaymentDays: 100}, testNow))

	c := analyzeProcess("t1", &ProcessMetrics{
		AvgInvoiceToPaymentDays: 40,
		InvoicesWithPayments:    45,
		InvoicesWithoutPayments: 55,
	}, testNow)
	require.NotNil(t, c)
	assert.Equal(t, domain.SeverityHigh, c.Severity)
}

func TestCashFlowOverdueInvoices(t *testing.T) {
	var invoices []OverdueInvoice
	for i := range 8 {
		invoices = append(invoices, OverdueInvoice{InvoiceID: string(rune('a' + i)), AmountDue: float64(1000 - i)})
	}

	c := analyzeCashFlow("t1", &CashFlowMetrics{TotalOutstanding: 200000, OverdueInvoices: invoices}, testNow)
	require.NotNil(t, c)

	overdue, ok := c.IdentifiedData["overdue_invoices"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, overdue, maxOverdueInvoices)
	assert.Equal(t, "a", overdue[0]["invoice_id"])
}
