// Package notify consumes the durable notification queue and delivers
// entries to end users with at-least-once semantics and an audit trail.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jasguerrero/wa-bot/internal/audit"
	"github.com/Jasguerrero/wa-bot/internal/domain"
	"github.com/Jasguerrero/wa-bot/internal/session"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deliveryTimeout = 30 * time.Second

// Sender is the slice of the session socket the consumer needs.
type Sender interface {
	Send(ctx context.Context, to string, msg session.OutgoingMessage) (*session.SendReceipt, error)
	ProbeReachable(ctx context.Context, phone string) (*session.ProbeResult, error)
}

// Config holds consumer settings.
type Config struct {
	URL       string // AMQP connection URL
	QueueName string

	// MaxRedeliveries bounds broker redelivery of transiently failing
	// entries. 0 keeps the broker's redelivery unbounded; any positive value
	// drops an already-redelivered entry on its next transient failure and
	// records it as a processing error.
	MaxRedeliveries int
}

// Consumer is one live subscription to the notification queue. Prefetch is
// 1: the next entry is not fetched until the current one is acked or
// rejected. The consumer does not self-heal; on connection loss the task
// supervisor recreates it.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	sock    Sender
	store   audit.Store
	cfg     Config

	cancel context.CancelFunc
	done   chan struct{}
}

// Start connects to the broker, declares the durable queue, and begins
// consuming in a background goroutine.
func Start(cfg Config, sock Sender, store audit.Store) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}

	// One unacked delivery in flight at a time.
	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := channel.Consume(cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		conn:    conn,
		channel: channel,
		sock:    sock,
		store:   store,
		cfg:     cfg,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	slog.Info("Notification consumer started", "queue", cfg.QueueName)
	go c.loop(ctx, deliveries)
	return c, nil
}

// Close releases the subscription and blocks until in-flight processing has
// stopped. Unacked deliveries return to the queue. Safe to call more than
// once.
func (c *Consumer) Close() error {
	c.cancel()
	if err := c.channel.Close(); err != nil {
		slog.Debug("Failed to close AMQP channel", "error", err)
	}
	if err := c.conn.Close(); err != nil && err != amqp.ErrClosed {
		slog.Debug("Failed to close AMQP connection", "error", err)
	}
	<-c.done
	return nil
}

func (c *Consumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for d := range deliveries {
		c.process(ctx, d)
	}
	slog.Info("Notification consumer stopped", "queue", c.cfg.QueueName)
}

// process handles exactly one queue entry: parse, validate, probe, send,
// then ack or reject. Only acknowledged (terminal) outcomes are audited.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	rec := &domain.AuditRecord{
		RawMessage: string(d.Body),
		Timestamp:  time.Now(),
	}
	defer func() {
		if !rec.Acknowledged {
			return
		}
		// Separate context: the audit write must survive consumer shutdown.
		insertCtx, insertCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer insertCancel()
		if err := c.store.Insert(insertCtx, rec); err != nil {
			slog.Error("Failed to write audit record", "status", rec.Status, "error", err)
		}
	}()

	n, err := domain.ParseNotification(d.Body)
	if err != nil {
		// Unparseable entries are poison; requeueing would loop forever.
		slog.Error("Unparseable notification, dropping", "error", err)
		c.ack(d, rec, domain.StatusProcessingError, err)
		return
	}
	rec.ParsedMessage = n

	if n.ExtraInfo.Phone == "" {
		slog.Warn("Notification missing phone, dropping", "id", n.ID)
		c.ack(d, rec, domain.StatusMissingPhone, nil)
		return
	}
	rec.Recipient = n.ExtraInfo.Phone

	if n.Message == "" {
		slog.Warn("Notification missing message, dropping", "id", n.ID)
		c.ack(d, rec, domain.StatusMissingMessage, nil)
		return
	}

	probe, err := c.sock.ProbeReachable(ctx, n.ExtraInfo.Phone)
	if err != nil {
		c.requeueOrDrop(d, rec, fmt.Errorf("probe recipient: %w", err))
		return
	}
	if !probe.Exists {
		slog.Info("Recipient not on WhatsApp, dropping",
			"id", n.ID, "phone", n.ExtraInfo.Phone)
		c.ack(d, rec, domain.StatusNotOnWhatsApp, nil)
		return
	}

	receipt, err := c.sock.Send(ctx, probe.JID, session.OutgoingMessage{Text: n.Message})
	if err != nil {
		c.requeueOrDrop(d, rec, fmt.Errorf("send notification: %w", err))
		return
	}

	rec.MessageID = receipt.MessageID
	rec.RemoteJID = receipt.RemoteJID
	slog.Info("Notification delivered",
		"id", n.ID, "phone", n.ExtraInfo.Phone,
		"message_id", receipt.MessageID, "remote_jid", receipt.RemoteJID)
	c.ack(d, rec, domain.StatusDelivered, nil)
}

// ack marks the entry terminal: acknowledge to the broker and flag the
// record for persistence.
func (c *Consumer) ack(d amqp.Delivery, rec *domain.AuditRecord, status string, cause error) {
	rec.Status = status
	if cause != nil {
		rec.Error = cause.Error()
	}
	rec.Acknowledged = true
	if err := d.Ack(false); err != nil {
		slog.Error("Failed to ack delivery", "error", err)
	}
}

// requeueOrDrop handles a transient failure: reject-with-requeue so the
// broker redelivers, unless the redelivery bound says this entry has had its
// chance.
func (c *Consumer) requeueOrDrop(d amqp.Delivery, rec *domain.AuditRecord, cause error) {
	if c.cfg.MaxRedeliveries > 0 && d.Redelivered {
		slog.Error("Redelivered notification failed again, dropping", "error", cause)
		c.ack(d, rec, domain.StatusProcessingError, cause)
		return
	}

	slog.Warn("Transient delivery failure, requeueing", "error", cause)
	if err := d.Reject(true); err != nil {
		slog.Error("Failed to reject delivery", "error", err)
	}
	// Not terminal: no audit record for this attempt.
}
