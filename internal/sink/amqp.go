package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/thisdougb/runlog/internal/config"
	"go.uber.org/zap"
)

// MessageType tells consumers how to read a message payload.
type MessageType string

const (
	MessageTypeMetrics   MessageType = "metrics.logged"
	MessageTypeAttribute MessageType = "run.attribute"
)

// Message is the envelope published for every batch and attribute.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	RunID     string      `json:"run_id"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes batches to a topic exchange with routing keys of the form
// "<type>.<run id>".
type AMQP struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
}

// DialAMQP connects to url and declares exchange as a durable topic
// exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQP{conn: conn, ch: ch, exchange: exchange}, nil
}

func newAMQP(ch publisher, exchange string) *AMQP {
	return &AMQP{ch: ch, exchange: exchange}
}

type metricsPayload struct {
	Step   int64 `json:"step"`
	Values any   `json:"values"`
}

type attributePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (a *AMQP) Write(ctx context.Context, b Batch) error {
	payload := metricsPayload{Step: b.Step, Values: b.Values}
	return a.publish(ctx, MessageTypeMetrics, b.RunID, payload, b.Time)
}

func (a *AMQP) SetAttribute(ctx context.Context, runID, key, value string) error {
	return a.publish(ctx, MessageTypeAttribute, runID, attributePayload{Key: key, Value: value}, time.Now())
}

func (a *AMQP) publish(ctx context.Context, msgType MessageType, runID string, payload any, ts time.Time) error {
	msg := Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		RunID:     runID,
		Payload:   payload,
		Timestamp: ts,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	routingKey := string(msgType) + "." + runID
	err = a.ch.PublishWithContext(ctx,
		a.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    ts,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", a.exchange, routingKey, err)
	}

	config.LogDebug(ctx, "published message",
		zap.String("exchange", a.exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.ID))
	return nil
}

func (a *AMQP) Close() error {
	var errs []error
	if err := a.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
