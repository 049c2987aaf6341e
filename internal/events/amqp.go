package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/comigor/chatvault/internal/logger"
)

const publishTimeout = 5 * time.Second

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes every event as a persistent JSON message to a durable
// queue on the default exchange. Publish failures are logged and dropped.
type AMQPSink struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// NewAMQPSink dials url and declares queue.
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &AMQPSink{conn: conn, ch: ch, queue: queue}, nil
}

func (s *AMQPSink) Emit(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.L.Warn("marshal event", "kind", e.Kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         string(e.Kind),
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		logger.L.Warn("publish event", "kind", e.Kind, "queue", s.queue, "error", err)
	}
}

func (s *AMQPSink) Close() error {
	if c, ok := s.ch.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
