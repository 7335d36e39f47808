package workflow

import "time"

// Значения по умолчанию для ActivityOptions.
const (
	defaultActivityTimeout    = 5 * time.Minute
	defaultMaxAttempts        = 3
	defaultInitialInterval    = time.Second
	defaultBackoffCoefficient = 2.0
	defaultMaxInterval        = 30 * time.Second
)

// ActivityOptions — политика выполнения activity.
type ActivityOptions struct {
	// StartToCloseTimeout — таймаут одной попытки (default: 5m).
	StartToCloseTimeout time.Duration

	// MaxAttempts — максимальное число попыток, включая первую (default: 3).
	MaxAttempts int

	// InitialInterval — задержка перед второй попыткой (default: 1s).
	InitialInterval time.Duration

	// BackoffCoefficient — множитель задержки (default: 2.0).
	BackoffCoefficient float64

	// MaxInterval — потолок задержки (default: 30s).
	MaxInterval time.Duration
}

// withDefaults заполняет нулевые поля значениями по умолчанию.
func (o ActivityOptions) withDefaults() ActivityOptions {
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = defaultActivityTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = defaultInitialInterval
	}
	if o.BackoffCoefficient < 1 {
		o.BackoffCoefficient = defaultBackoffCoefficient
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = defaultMaxInterval
	}
	return o
}

// Backoff вычисляет задержку перед следующей попыткой.
//
// attempt — номер только что упавшей попытки (начиная с 1):
// delay = InitialInterval * BackoffCoefficient^(attempt-1), но не больше MaxInterval.
func (o ActivityOptions) Backoff(attempt int) time.Duration {
	o = o.withDefaults()

	delay := o.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * o.BackoffCoefficient)
		if delay > o.MaxInterval {
			delay = o.MaxInterval
			break
		}
	}

	if delay > o.MaxInterval {
		delay = o.MaxInterval
	}

	return delay
}
