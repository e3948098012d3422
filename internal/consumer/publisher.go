package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yourorg/purchase-gateway/internal/purchase"
)

// Publisher emits purchase commands keyed by session id so every command of a
// session lands on the same partition.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

func NewPublisher(writer MessageWriter) *Publisher {
	if writer == nil {
		panic("MessageWriter cannot be nil")
	}
	return &Publisher{writer: writer, now: time.Now}
}

// Dispatch publishes one expire_session command per id.
func (p *Publisher) Dispatch(ctx context.Context, ids []purchase.SessionID) error {
	if len(ids) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(ids))
	for _, id := range ids {
		payload, err := json.Marshal(Command{Type: CommandExpireSession, SessionID: id.String(), IssuedAt: p.now().UTC()})
		if err != nil {
			return fmt.Errorf("consumer: encode command: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(id.String()), Value: payload})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("consumer: publish %d commands: %w", len(msgs), err)
	}
	commandsTotal.WithLabelValues(CommandExpireSession, "published").Add(float64(len(msgs)))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
