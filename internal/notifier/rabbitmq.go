// Package notifier publishes sync outcome events (run summaries, per-record
// failures) to a RabbitMQ topic exchange so downstream consumers can audit
// and alert without polling the database.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/boardsync/internal/models"
)

const exchangeName = "boardsync.events"

// Notifier handles the low-level communication with the message broker.
type Notifier struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewNotifier initializes a connection and a channel with Publisher Confirms
// enabled, and monitors both for closure.
func NewNotifier(url string, l *slog.Logger) (*Notifier, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("activate publisher confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	n.healthy.Store(true)
	n.conn.NotifyClose(n.connClosed)
	n.channel.NotifyClose(n.chanClosed)

	go func() {
		select {
		case err := <-n.connClosed:
			n.healthy.Store(false)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-n.chanClosed:
			n.healthy.Store(false)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-n.ctx.Done():
			return
		}
	}()

	l.Info("Connected to RabbitMQ, event publishing enabled", "exchange", exchangeName)
	return n, nil
}

// RunSummaryEvent is the JSON payload published after each sync run.
type RunSummaryEvent struct {
	Batches        int            `json:"batches"`
	HeadersPushed  int            `json:"headers_pushed"`
	HeadersFailed  int            `json:"headers_failed"`
	LinesPushed    int            `json:"lines_pushed"`
	LinesFailed    int            `json:"lines_failed"`
	Promoted       int            `json:"promoted"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// RecordFailureEvent is published for each record that ends a run FAILED.
type RecordFailureEvent struct {
	Kind       string    `json:"kind"` // header or line
	RecordUUID string    `json:"record_uuid"`
	Customer   string    `json:"customer,omitempty"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PublishRunSummary emits the aggregate report for one completed run.
func (n *Notifier) PublishRunSummary(ctx context.Context, report models.RunReport) error {
	event := RunSummaryEvent{
		Batches:        report.Batches,
		HeadersPushed:  report.HeadersPushed,
		HeadersFailed:  report.HeadersFailed,
		LinesPushed:    report.LinesPushed,
		LinesFailed:    report.LinesFailed,
		Promoted:       report.Promoted,
		FailureReasons: report.FailureReasons,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
	}
	return n.publish(ctx, "sync.run.summary", event)
}

// PublishRecordFailure emits one per-record failure event.
func (n *Notifier) PublishRecordFailure(ctx context.Context, kind, recordUUID, customer, reason string) error {
	event := RecordFailureEvent{
		Kind:       kind,
		RecordUUID: recordUUID,
		Customer:   customer,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	return n.publish(ctx, "sync.record.failed", event)
}

// publish sends an event and blocks until a confirmation is received.
func (n *Notifier) publish(ctx context.Context, routingKey string, payload any) error {
	if !n.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	deferred, err := n.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: event not persisted")
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// IsHealthy returns true if the connection and channel are active.
func (n *Notifier) IsHealthy() bool {
	return n.healthy.Load()
}

// Close gracefully shuts down the RabbitMQ resources.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		n.logger.Info("Terminating RabbitMQ notifier")
		n.cancel()
		if n.channel != nil {
			n.channel.Close()
		}
		if n.conn != nil {
			n.conn.Close()
		}
	})
	return nil
}
