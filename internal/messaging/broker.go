// internal/messaging/broker.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// Message is one delivery to one queue.
type Message struct {
	ID         string
	Exchange   string
	RoutingKey string
	Queue      string
	Body       []byte
}

// Decode unmarshals the body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s message %s: %w", m.RoutingKey, m.ID, err)
	}
	return nil
}

// Handler processes a delivery. A returned error is logged and the message is
// acknowledged anyway: redelivering a message that failed once would only fail
// again and block the queue.
type Handler func(ctx context.Context, msg Message) error

// Broker is an at-least-once, unordered publish/subscribe channel.
type Broker interface {
	// Publish JSON-encodes payload and routes it to every queue bound to
	// routingKey on exchange.
	Publish(ctx context.Context, exchange, routingKey string, payload any) error
	// Subscribe declares the binding and starts consuming it in the
	// background until ctx is cancelled or the broker is closed. Multiple
	// subscriptions to the same queue compete for its messages.
	Subscribe(ctx context.Context, b Binding, h Handler) error
	Close() error
}

func encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}
	return data, nil
}

// dispatch runs h for one message, converting panics into errors and logging
// failures. It never propagates.
func dispatch(ctx context.Context, logger logrus.FieldLogger, h Handler, msg Message) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = h(ctx, msg) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"queue":       msg.Queue,
			"routing_key": msg.RoutingKey,
			"message_id":  msg.ID,
			"error":       err,
		}).Error("message handler failed, dropping message")
	}
}
