package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"renderpipe/internal/config"
	"renderpipe/internal/logging"
	"renderpipe/internal/services"
)

// Broker is the queue transport a Worker runs on.
type Broker interface {
	// Consume starts delivering job messages. The channel closes when the
	// connection drops or ctx ends.
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	PublishStatus(ctx context.Context, status Status) error
	Close() error
}

// RabbitMQ is a Broker backed by one AMQP connection with durable listen and
// status queues.
type RabbitMQ struct {
	cfg    config.Worker
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// DialRabbitMQ connects and declares both queues.
func DialRabbitMQ(cfg config.Worker, logger *slog.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{cfg: cfg, logger: logging.NewComponentLogger(logger, "amqp")}
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.cfg.AMQPURL)
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", "dial amqp", "", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return services.Wrap(services.ErrTransient, "worker", "open channel", "", err)
	}
	for _, name := range []string{r.cfg.ListenQueue, r.cfg.StatusQueue} {
		if _, err := channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return services.Wrap(services.ErrConfiguration, "worker", "declare queue", name, err)
		}
	}
	prefetch := r.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return services.Wrap(services.ErrConfiguration, "worker", "set qos", "", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()
	r.logger.Info("amqp connected",
		logging.String(logging.FieldEventType, "amqp_connected"),
		logging.String("listen_queue", r.cfg.ListenQueue),
		logging.String("status_queue", r.cfg.StatusQueue),
		logging.Int("prefetch", prefetch),
	)
	return nil
}

// Reconnect drops the current connection and dials again.
func (r *RabbitMQ) Reconnect() error {
	_ = r.Close()
	return r.connect()
}

// Consume implements Broker.
func (r *RabbitMQ) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return nil, errors.New("amqp channel not open")
	}
	tag := "renderpipe-" + uuid.NewString()
	deliveries, err := channel.Consume(r.cfg.ListenQueue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "worker", "consume", r.cfg.ListenQueue, err)
	}
	go func() {
		<-ctx.Done()
		_ = channel.Cancel(tag, false)
	}()
	return deliveries, nil
}

// PublishStatus implements Broker.
func (r *RabbitMQ) PublishStatus(_ context.Context, status Status) error {
	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return errors.New("amqp channel not open")
	}
	err = channel.Publish("", r.cfg.StatusQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    status.Timestamp,
		Body:         body,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", "publish status", status.JobID, err)
	}
	return nil
}

// Close implements Broker.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.channel = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
