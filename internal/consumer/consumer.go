// Package consumer carries purchase commands over Kafka: the Publisher emits
// them and the Consumer applies them under the session lock.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/idempotency"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// CommandExpireSession asks for a stale session to be force-finished.
const CommandExpireSession = "expire_session"

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 200 * time.Millisecond
)

// Command is the payload of a purchase command message.
type Command struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// MessageReader is the subset of *kafka.Reader the Consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Expirer applies expire_session. orchestrator.Orchestrator implements it.
type Expirer interface {
	ExpireSession(ctx context.Context, sessionID string) (orchestrator.Result, error)
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// Consumer reads purchase commands and applies them. Transient failures are
// retried with backoff; permanent and unknown failures are logged and the
// message is committed. Messages that exhaust their retries go to the dead
// letter writer when one is configured.
type Consumer struct {
	reader      MessageReader
	expirer     Expirer
	deadLetter  MessageWriter
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Consumer)

func WithDeadLetter(w MessageWriter) Option { return func(c *Consumer) { c.deadLetter = w } }
func WithLogger(l *zap.Logger) Option       { return func(c *Consumer) { c.logger = l } }
func WithMaxAttempts(n int) Option          { return func(c *Consumer) { c.maxAttempts = n } }
func WithBackoff(d time.Duration) Option    { return func(c *Consumer) { c.backoff = d } }

func NewConsumer(reader MessageReader, expirer Expirer, opts ...Option) *Consumer {
	if reader == nil {
		panic("MessageReader cannot be nil")
	}
	if expirer == nil {
		panic("Expirer cannot be nil")
	}
	c := &Consumer{
		reader:      reader,
		expirer:     expirer,
		logger:      zap.NewNop(),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	return c
}

// Run consumes until ctx is done or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("error reading message", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}
		if !c.handleUntilCommitted(ctx, m) {
			return nil
		}
	}
}

// handleUntilCommitted retries m until it is committed. Committing a later
// offset would implicitly commit m, so the loop never moves past it. It
// returns false once ctx is done.
func (c *Consumer) handleUntilCommitted(ctx context.Context, m kafka.Message) bool {
	for {
		err := c.HandleMessage(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Error("message not committed, retrying", zap.Int64("offset", m.Offset), zap.Error(err))
		if !sleep(ctx, c.backoff) {
			return false
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// HandleMessage applies one message and commits it unless ctx ended first.
func (c *Consumer) HandleMessage(ctx context.Context, m kafka.Message) error {
	if err := c.apply(ctx, m); err != nil {
		return err
	}
	return c.reader.CommitMessages(ctx, m)
}

func (c *Consumer) apply(ctx context.Context, m kafka.Message) error {
	var cmd Command
	if err := json.Unmarshal(m.Value, &cmd); err != nil {
		c.logger.Error("error parsing command", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	log := c.logger.With(zap.String("command", cmd.Type), zap.String("session_id", cmd.SessionID))
	if cmd.Type != CommandExpireSession {
		log.Warn("unknown command, skipping")
		return nil
	}

	for attempt := 1; ; attempt++ {
		res, err := c.expirer.ExpireSession(ctx, cmd.SessionID)
		if err == nil {
			commandsTotal.WithLabelValues(cmd.Type, "applied").Inc()
			log.Info("command applied", zap.String("state", string(res.State)))
			return nil
		}
		class := classify(err)
		switch {
		case class == purchase.ClassPermanent:
			commandsTotal.WithLabelValues(cmd.Type, "dropped").Inc()
			log.Info("command dropped", zap.String("class", class.String()), zap.Error(err))
			return nil
		case class == purchase.ClassUnknown:
			commandsTotal.WithLabelValues(cmd.Type, "failed").Inc()
			log.Error("command failed", zap.String("class", class.String()), zap.Error(err))
			return nil
		case attempt >= c.maxAttempts:
			commandsTotal.WithLabelValues(cmd.Type, "dead_lettered").Inc()
			log.Error("command retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return c.toDeadLetter(ctx, m)
		}
		log.Warn("transient command failure, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !sleep(ctx, c.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
	}
}

// classify treats a held or lost session lock as transient: the session is busy, not broken.
func classify(err error) purchase.ErrorClass {
	if errors.Is(err, idempotency.ErrLockHeld) || errors.Is(err, idempotency.ErrLockLost) {
		return purchase.ClassTransient
	}
	return purchase.Classify(err)
}

func (c *Consumer) toDeadLetter(ctx context.Context, m kafka.Message) error {
	if c.deadLetter == nil {
		return nil
	}
	if err := c.deadLetter.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value, Headers: m.Headers}); err != nil {
		return fmt.Errorf("consumer: write dead letter: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
