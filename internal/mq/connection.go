package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Keystone/internal/domain"
	"github.com/shaiso/Keystone/internal/telemetry"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Connection — AMQP соединение хаба с автоматическим reconnect.
//
// Publisher и consumers разделяют один канал. После разрыва supervise
// переподключается с экспоненциальной задержкой и будит всех, кто
// ждёт на ReconnectNotify: канал уведомления закрывается и заменяется
// новым на каждое переподключение.
type Connection struct {
	url    string
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	reconnected chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection подключается к брокеру.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:         url,
		logger:      logger.With("component", "amqp"),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	conn, ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.install(conn, ch)
	c.logger.Info("connected to RabbitMQ")

	go c.supervise(conn)

	return c, nil
}

// dial открывает соединение и канал.
func (c *Connection) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func (c *Connection) install(conn *amqp.Connection, ch *amqp.Channel) {
	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()
	telemetry.BrokerConnected.Set(1)
}

// supervise ждёт разрыва текущего соединения и восстанавливает его.
func (c *Connection) supervise(conn *amqp.Connection) {
	for {
		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-lost:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()
		telemetry.BrokerConnected.Set(0)

		next, ok := c.redial()
		if !ok {
			return
		}
		conn = next
	}
}

// redial переподключается с задержкой 1s → 30s. false — соединение закрыто.
func (c *Connection) redial() (*amqp.Connection, bool) {
	delay := initialReconnectDelay

	for {
		c.logger.Info("attempting to reconnect", "delay", delay)

		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, ch, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.channel = ch
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()

		telemetry.BrokerConnected.Set(1)
		telemetry.BrokerReconnects.Inc()
		c.logger.Info("reconnected to RabbitMQ")
		return conn, true
	}
}

// Channel возвращает текущий канал или nil во время переподключения.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify возвращает канал, который закроется при следующем
// успешном переподключении. Брать его нужно до попытки использовать канал.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Done закрывается после Close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// IsConnected проверяет, установлено ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil
}

// Status — состояние брокера для health check.
// Nil-соединение (хаб запущен без брокера) даёт degraded.
func (c *Connection) Status() domain.HealthStatus {
	if c == nil {
		return domain.HealthStatusDegraded
	}
	if c.IsConnected() {
		return domain.HealthStatusHealthy
	}
	return domain.HealthStatusUnhealthy
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	var errs []error

	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.channel != nil && !c.channel.IsClosed() {
			if err := c.channel.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel: %w", err))
			}
		}
		if c.conn != nil && !c.conn.IsClosed() {
			if err := c.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close connection: %w", err))
			}
		}
		c.channel = nil
		telemetry.BrokerConnected.Set(0)

		c.logger.Info("connection closed")
	})

	return errors.Join(errs...)
}
