package constraint

import (
	"context"

	"github.com/shaiso/Keystone/internal/domain"
)

// MetricsSource — источник агрегированных операционных метрик тенанта.
//
// Каждый метод обслуживает один анализатор и вызывается из отдельной
// горутины. Nil-результат без ошибки означает «данных нет».
// Реализации: repo.MetricsRepo (Postgres), StaticSource (тесты, CLI).
type MetricsSource interface {
	CashFlow(ctx context.Context, tenantID string) (*CashFlowMetrics, error)
	Collection(ctx context.Context, tenantID string) (*CollectionMetrics, error)
	CreditRisk(ctx context.Context, tenantID string) (*CreditMetrics, error)
	Operational(ctx context.Context, tenantID string) (*OperationalMetrics, error)
	CustomerConcentration(ctx context.Context, tenantID string) (*ConcentrationMetrics, error)
	ProcessCycle(ctx context.Context, tenantID string) (*ProcessMetrics, error)
}

// Store сохраняет выявленные ограничения.
type Store interface {
	SaveConstraints(ctx context.Context, constraints []domain.Constraint) error
}

// CashFlowMetrics — дебиторская задолженность и просрочка.
type CashFlowMetrics struct {
	TotalOutstanding   float64 // sent + overdue + partially_paid
	Outstanding30dAgo  float64 // задолженность по счетам старше 30 дней
	OverdueCount       int
	AvgOverdueDays     float64
	TotalOverdueAmount float64
	AffectedCustomers  int
	LargestOutstanding float64
	P90Outstanding     float64

	// OverdueInvoices — самые крупные просроченные счета (для auto-orchestration).
	OverdueInvoices []OverdueInvoice
}

// OverdueInvoice — просроченный счёт.
type OverdueInvoice struct {
	InvoiceID   string  `json:"invoice_id"`
	CustomerID  string  `json:"customer_id"`
	AmountDue   float64 `json:"amount_due"`
	DaysOverdue int     `json:"days_overdue"`
}

// TrendPercentage — изменение задолженности за 30 дней, %.
func (m *CashFlowMetrics) TrendPercentage() float64 {
	if m.Outstanding30dAgo <= 0 {
		return 0
	}
	return (m.TotalOutstanding - m.Outstanding30dAgo) / m.Outstanding30dAgo * 100
}

// CollectionMetrics — скорость и надёжность сбора платежей за 90 дней.
type CollectionMetrics struct {
	AvgCollectionDays    float64
	MedianCollectionDays float64
	P90CollectionDays    float64
	CollectionDaysStdDev float64
	FailureRate          float64 // % неуспешных платежей
	TotalPayments        int
	SuccessfulPayments   int
}

// CreditMetrics — распределение кредитного риска клиентов.
type CreditMetrics struct {
	HighRiskCount    int
	AvgScore         float64
	MinScore         float64
	P25Score         float64
	TotalCustomers   int
	CriticalExposure float64 // кредитный лимит клиентов с риском critical
	TotalCreditLimit float64
}

// ConcentrationRisk — доля лимита, приходящаяся на критичных клиентов.
func (m *CreditMetrics) ConcentrationRisk() float64 {
	if m.TotalCreditLimit <= 0 {
		return 0
	}
	return m.CriticalExposure / m.TotalCreditLimit
}

// OperationalMetrics — черновики и задержки отправки за 30 дней.
type OperationalMetrics struct {
	DraftInvoices    int
	AvgSendDelayDays float64
	MaxSendDelayDays float64
	TotalInvoices30d int
}

// DraftPercentage — доля черновиков среди счетов за 30 дней, %.
func (m *OperationalMetrics) DraftPercentage() float64 {
	total := m.TotalInvoices30d
	if total <= 0 {
		total = 1
	}
	return float64(m.DraftInvoices) / float64(total) * 100
}

// ConcentrationMetrics — задолженность крупнейших клиентов.
type ConcentrationMetrics struct {
	// TopCustomers — до 10 клиентов по убыванию задолженности.
	TopCustomers     []CustomerOutstanding
	TotalOutstanding float64
}

// CustomerOutstanding — задолженность одного клиента.
type CustomerOutstanding struct {
	CustomerID   string
	Outstanding  float64
	InvoiceCount int
}

// Top5Concentration — доля пяти крупнейших клиентов в общей задолженности.
func (m *ConcentrationMetrics) Top5Concentration() float64 {
	total := m.TotalOutstanding
	if total <= 0 {
		total = 1
	}
	var sum float64
	for i, c := range m.TopCustomers {
		if i == 5 {
			break
		}
		sum += c.Outstanding
	}
	return sum / total
}

// ProcessMetrics — эффективность цикла «счёт → оплата» за 90 дней.
type ProcessMetrics struct {
	AvgInvoiceToPaymentDays float64
	InvoicesWithPayments    int
	InvoicesWithoutPayments int
}

// PaymentRate — доля отправленных счетов, по которым был платёж.
func (m *ProcessMetrics) PaymentRate() float64 {
	total := m.InvoicesWithPayments + m.InvoicesWithoutPayments
	if total == 0 {
		return 0
	}
	return float64(m.InvoicesWithPayments) / float64(total)
}

// StaticSource — MetricsSource с фиксированными значениями.
//
// Nil-поле означает отсутствие данных для соответствующего анализатора.
// Err, если задан, возвращается всеми методами.
type StaticSource struct {
	CashFlowData      *CashFlowMetrics
	CollectionData    *CollectionMetrics
	CreditData        *CreditMetrics
	OperationalData   *OperationalMetrics
	ConcentrationData *ConcentrationMetrics
	ProcessData       *ProcessMetrics

	Err error
}

func (s *StaticSource) CashFlow(context.Context, string) (*CashFlowMetrics, error) {
	return s.CashFlowData, s.Err
}

func (s *StaticSource) Collection(context.Context, string) (*CollectionMetrics, error) {
	return s.CollectionData, s.Err
}

func (s *StaticSource) CreditRisk(context.Context, string) (*CreditMetrics, error) {
	return s.CreditData, s.Err
}

func (s *StaticSource) Operational(context.Context, string) (*OperationalMetrics, error) {
	return s.OperationalData, s.Err
}

func (s *StaticSource) CustomerConcentration(context.Context, string) (*ConcentrationMetrics, error) {
	return s.ConcentrationData, s.Err
}

func (s *StaticSource) ProcessCycle(context.Context, string) (*ProcessMetrics, error) {
	return s.ProcessData, s.Err
}
