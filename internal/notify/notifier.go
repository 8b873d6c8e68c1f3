// Package notify pushes operational alerts to the operator team over
// RabbitMQ. The sync engine only publishes; consumption happens in the
// back-office tooling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "operator-events"
	topUpKey     = "liquidity.topup"
)

// TopUpRequest asks the operator to refill a settlement rail so a
// rejected exchange can be retried.
type TopUpRequest struct {
	PartyId     string    `json:"party_id"`
	ApplicantId string    `json:"applicant_id"`
	Rail        string    `json:"rail"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	RequestedAt time.Time `json:"requested_at"`
}

type OperatorNotifier interface {
	NotifyTopUp(ctx context.Context, req TopUpRequest) error
	Close() error
}

// AMQPNotifier publishes top-up requests to a durable topic exchange.
type AMQPNotifier struct {
	log  *log.Logger
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPNotifier(logger *log.Logger, url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPNotifier{log: logger, conn: conn, ch: ch}, nil
}

func (n *AMQPNotifier) NotifyTopUp(ctx context.Context, req TopUpRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal top-up request: %w", err)
	}

	if err := n.ch.PublishWithContext(ctx,
		exchangeName,
		topUpKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish top-up request: %w", err)
	}

	n.log.Printf("published top-up request for party %s (%s %.2f %s)",
		req.PartyId, req.Rail, req.Amount, req.Currency)
	return nil
}

func (n *AMQPNotifier) Close() error {
	if err := n.ch.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := n.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
