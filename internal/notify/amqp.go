package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPTransport publishes every message to a topic exchange, routed as
// notification.<type>. A push worker behind the broker looks up the devices
// and fans it out. The channel runs in confirm mode; a broker ack counts as
// delivery to every known token and a nack as failure.
type AMQPTransport struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *slog.Logger
}

type envelope struct {
	NotificationID string    `json:"notificationId"`
	Message        Message   `json:"message"`
	SentAt         time.Time `json:"sentAt"`
}

func DialAMQP(url, exchange string, log *slog.Logger) (*AMQPTransport, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Dial: amqp091.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp091.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	log.Info("notification broker connected", "exchange", exchange)
	return &AMQPTransport{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

func routingKey(m Message) string { return "notification." + string(m.Type) }

func (t *AMQPTransport) Deliver(ctx context.Context, id string, m Message) (int, int, error) {
	body, err := json.Marshal(envelope{NotificationID: id, Message: m, SentAt: time.Now().UTC()})
	if err != nil {
		return 0, len(m.DeviceTokens), err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	conf, err := t.channel.PublishWithDeferredConfirmWithContext(ctx, t.exchange, routingKey(m), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return 0, len(m.DeviceTokens), fmt.Errorf("publish notification: %w", err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return 0, len(m.DeviceTokens), fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		return 0, len(m.DeviceTokens), fmt.Errorf("broker nacked notification %s", id)
	}
	return len(m.DeviceTokens), 0, nil
}

// ResolvesDevices: the push worker behind the exchange owns the token table.
func (t *AMQPTransport) ResolvesDevices() bool { return true }

func (t *AMQPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.channel.Close(); err != nil {
		t.log.Warn("close broker channel", "err", err)
	}
	if err := t.conn.Close(); err != nil {
		t.log.Warn("close broker connection", "err", err)
	}
}
