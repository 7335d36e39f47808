package constraint

import (
	"math"
	"time"

	"github.com/shaiso/Keystone/internal/domain"
)

// Веса компонентов impact score.
const (
	weightAmount  = 0.30
	weightVolume  = 0.20
	weightUrgency = 0.25
	weightTrend   = 0.15
	weightBreadth = 0.10
)

// Множители взаимного усиления ограничений.
const (
	ampCashFlowWithCredit     = 1.3
	ampCashFlowWithCollection = 1.2
	ampCreditWithCollection   = 1.25
)

// ImpactInputs — сырые показатели, из которых считается impact score.
type ImpactInputs struct {
	BaseAmount        float64 // денежный объём или его прокси
	AffectedCount     float64 // число затронутых объектов
	AvgDelay          float64 // задержка в днях или её прокси
	TrendPercentage   float64 // изменение, %
	ConcentrationRisk float64 // доля [0,1]
}

// ImpactScores — нормализованные (0–100) компоненты и итоговая оценка.
type ImpactScores struct {
	Amount  float64
	Volume  float64
	Urgency float64
	Trend   float64
	Breadth float64
	Total   float64
}

// Score вычисляет взвешенный impact score.
//
//	amount  = min(100, base/100000*20)
//	volume  = min(100, count*2)
//	urgency = min(100, delay*2)
//	trend   = min(100, |trend|)
//	breadth = min(100, concentration*100)
//	total   = .30*amount + .20*volume + .25*urgency + .15*trend + .10*breadth
//
// Отрицательные значения обрезаются до 0, NaN считается нулём.
func Score(in ImpactInputs) ImpactScores {
	s := ImpactScores{
		Amount:  normalize(in.BaseAmount / 100000 * 20),
		Volume:  normalize(in.AffectedCount * 2),
		Urgency: normalize(in.AvgDelay * 2),
		Trend:   normalize(math.Abs(in.TrendPercentage)),
		Breadth: normalize(in.ConcentrationRisk * 100),
	}
	s.Total = s.Amount*weightAmount +
		s.Volume*weightVolume +
		s.Urgency*weightUrgency +
		s.Trend*weightTrend +
		s.Breadth*weightBreadth
	return s
}

func normalize(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(100, v)
}

// Amplify применяет перекрёстные множители к оценкам.
//
//	cash_flow   ×1.3  при наличии credit_risk
//	cash_flow   ×1.2  при наличии collection_efficiency
//	credit_risk ×1.25 при наличии collection_efficiency
//
// Срез изменяется на месте.
func Amplify(constraints []domain.Constraint) {
	var hasCredit, hasCollection bool
	for _, c := range constraints {
		switch c.Type {
		case domain.ConstraintCreditRisk:
			hasCredit = true
		case domain.ConstraintCollectionEfficiency:
			hasCollection = true
		}
	}

	for i := range constraints {
		multiplier := 1.0
		switch constraints[i].Type {
		case domain.ConstraintCashFlow:
			if hasCredit {
				multiplier *= ampCashFlowWithCredit
			}
			if hasCollection {
				multiplier *= ampCashFlowWithCollection
			}
		case domain.ConstraintCreditRisk:
			if hasCollection {
				multiplier *= ampCreditWithCollection
			}
		}
		constraints[i].ImpactScore *= multiplier
	}
}

// Confidence оценивает достоверность анализа (0–100).
//
// Слишком быстрый анализ обычно означает неполные данные,
// отсутствие ограничений или их избыток указывает на проблемы с данными или порогами.
func Confidence(count int, elapsed time.Duration) float64 {
	confidence := 100.0
	if elapsed < time.Second {
		confidence -= 20
	}
	if count == 0 {
		confidence -= 30
	}
	if count > 10 {
		confidence -= 15
	}
	return math.Max(0, math.Min(100, confidence))
}

// severityByAmount — тяжесть по порогам «не меньше».
func severityByAmount(value, critical, high, medium float64) domain.Severity {
	switch {
	case value >= critical:
		return domain.SeverityCritical
	case value >= high:
		return domain.SeverityHigh
	case value >= medium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// round1 округляет до одного знака после запятой.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
