package processors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// Notifier publishes notification events to an AMQP exchange for
// downstream consumers (chat bridges, email senders).
//
// Parameters: message (required JSON object), routing_key (optional,
// defaults to "notifications"). Publish failures are transient; the broker
// coming back is exactly what the retry cycle is for.
type Notifier struct {
	uri      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewNotifier creates a notification processor publishing to exchange.
// Connections are established lazily on first publish.
func NewNotifier(uri, exchange string) *Notifier {
	return &Notifier{uri: uri, exchange: exchange}
}

func (n *Notifier) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	message := mapParam(j, "message")
	if message == nil {
		return nil, qerrors.NonRetryablef("missing required parameter %q", "message")
	}

	routingKey := stringParam(j, "routing_key")
	if routingKey == "" {
		routingKey = "notifications"
	}

	body, err := json.Marshal(message)
	if err != nil {
		return nil, qerrors.NonRetryablef("encode notification: %v", err)
	}

	channel, err := n.getChannel()
	if err != nil {
		return nil, qerrors.Retryablef("notification broker: %v", err)
	}

	err = channel.PublishWithContext(
		ctx,
		n.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    j.ID,
		})
	if err != nil {
		n.reset()
		return nil, qerrors.Retryablef("publish notification: %v", err)
	}

	return job.Result{
		"exchange":     n.exchange,
		"routing_key":  routingKey,
		"published_at": job.FormatTime(time.Now()),
	}, nil
}

// getChannel returns the shared channel, connecting and declaring the
// exchange on first use.
func (n *Notifier) getChannel() (*amqp.Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel != nil && !n.conn.IsClosed() {
		return n.channel, nil
	}

	conn, err := amqp.Dial(n.uri)
	if err != nil {
		return nil, qerrors.NewConnectionError(n.uri, err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, qerrors.NewConnectionError(n.uri, err)
	}

	err = channel.ExchangeDeclare(
		n.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	n.conn = conn
	n.channel = channel
	return channel, nil
}

// reset drops the connection so the next publish redials.
func (n *Notifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
		n.channel = nil
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// Close releases the broker connection.
func (n *Notifier) Close() error {
	n.reset()
	return nil
}
