package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/consumer"
	"github.com/yourorg/purchase-gateway/internal/idempotency"
	"github.com/yourorg/purchase-gateway/internal/orchestrator"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	failures int // writes that fail before err is consulted
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("dead letter topic unavailable")
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// scriptedExpirer returns errs in order, then succeeds.
type scriptedExpirer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (e *scriptedExpirer) ExpireSession(_ context.Context, id string) (orchestrator.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return orchestrator.Result{}, err
	}
	return orchestrator.Result{SessionID: id, State: purchase.StateAborted}, nil
}

func commandMessage(t *testing.T, cmdType string, id purchase.SessionID) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(consumer.Command{Type: cmdType, SessionID: id.String(), IssuedAt: time.Now().UTC()})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(id.String()), Value: payload}
}

func TestConsumer_HandleMessage(t *testing.T) {
	ctx := context.Background()
	id := purchase.NewSessionID()

	tests := []struct {
		name       string
		value      []byte
		errs       []error
		wantCalls  int
		wantDLQ    int
		maxAttempt int
	}{
		{name: "applied", wantCalls: 1},
		{name: "transient retried then applied", errs: []error{purchase.NewError(purchase.KindTransient, "test", "redis timeout")}, wantCalls: 2},
		{name: "lock held retried", errs: []error{idempotency.ErrLockHeld, context.DeadlineExceeded}, wantCalls: 3},
		{name: "permanent dropped", errs: []error{purchase.ErrSessionNotFound(id)}, wantCalls: 1},
		{name: "unknown dropped", errs: []error{errors.New("boom")}, wantCalls: 1},
		{
			name:       "retries exhausted go to dead letter",
			errs:       []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded},
			wantCalls:  2,
			wantDLQ:    1,
			maxAttempt: 2,
		},
		{name: "malformed payload skipped", value: []byte("{not json"), wantCalls: 0},
		{name: "unknown command skipped", value: []byte(`{"type":"refund","session_id":"x"}`), wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{}
			dlq := &fakeWriter{}
			expirer := &scriptedExpirer{errs: tt.errs}
			opts := []consumer.Option{consumer.WithBackoff(time.Millisecond), consumer.WithDeadLetter(dlq)}
			if tt.maxAttempt > 0 {
				opts = append(opts, consumer.WithMaxAttempts(tt.maxAttempt))
			}
			c := consumer.NewConsumer(reader, expirer, opts...)

			m := commandMessage(t, consumer.CommandExpireSession, id)
			if tt.value != nil {
				m.Value = tt.value
			}
			require.NoError(t, c.HandleMessage(ctx, m))
			assert.Equal(t, tt.wantCalls, expirer.calls)
			assert.Len(t, reader.committed, 1, "message committed once handled")
			assert.Len(t, dlq.msgs, tt.wantDLQ)
		})
	}
}

func TestConsumer_HandleMessageCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{}
	expirer := &scriptedExpirer{errs: []error{idempotency.ErrLockHeld}}
	c := consumer.NewConsumer(reader, expirer, consumer.WithBackoff(time.Hour))

	cancel()
	err := c.HandleMessage(ctx, commandMessage(t, consumer.CommandExpireSession, purchase.NewSessionID()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed, "uncommitted for redelivery")
}

func TestConsumer_Run(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		commandMessage(t, consumer.CommandExpireSession, purchase.NewSessionID()),
		commandMessage(t, consumer.CommandExpireSession, purchase.NewSessionID()),
	}}
	expirer := &scriptedExpirer{}
	c := consumer.NewConsumer(reader, expirer)

	require.NoError(t, c.Run(context.Background()), "reader EOF ends the loop")
	assert.Equal(t, 2, expirer.calls)
	assert.Len(t, reader.committed, 2)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_RunHoldsOffsetUntilDeadLettered(t *testing.T) {
	first := commandMessage(t, consumer.CommandExpireSession, purchase.NewSessionID())
	first.Offset = 10
	second := commandMessage(t, consumer.CommandExpireSession, purchase.NewSessionID())
	second.Offset = 11
	reader := &fakeReader{msgs: []kafka.Message{first, second}}
	dlq := &fakeWriter{failures: 2}
	expirer := &scriptedExpirer{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded, context.DeadlineExceeded}}
	c := consumer.NewConsumer(reader, expirer,
		consumer.WithBackoff(time.Millisecond),
		consumer.WithMaxAttempts(1),
		consumer.WithDeadLetter(dlq))

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, reader.committed, 2)
	assert.Equal(t, int64(10), reader.committed[0].Offset, "the failed message is committed before any later offset")
	assert.Equal(t, int64(11), reader.committed[1].Offset)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, first.Value, dlq.msgs[0].Value)
	assert.Equal(t, 4, expirer.calls, "three dead-letter attempts for the first message, one for the second")
}

func TestPublisher_Dispatch(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	p := consumer.NewPublisher(w)
	ids := []purchase.SessionID{purchase.NewSessionID(), purchase.NewSessionID()}

	require.NoError(t, p.Dispatch(ctx, ids))
	require.Len(t, w.msgs, 2)
	for i, m := range w.msgs {
		assert.Equal(t, ids[i].String(), string(m.Key))
		var cmd consumer.Command
		require.NoError(t, json.Unmarshal(m.Value, &cmd))
		assert.Equal(t, consumer.CommandExpireSession, cmd.Type)
		assert.Equal(t, ids[i].String(), cmd.SessionID)
		assert.False(t, cmd.IssuedAt.IsZero())
	}

	require.NoError(t, p.Dispatch(ctx, nil))
	assert.Len(t, w.msgs, 2, "empty batch writes nothing")

	w.err = errors.New("broker down")
	assert.ErrorIs(t, p.Dispatch(ctx, ids), w.err)
}

func TestPublisherConsumerRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	id := purchase.NewSessionID()
	require.NoError(t, consumer.NewPublisher(w).Dispatch(ctx, []purchase.SessionID{id}))

	reader := &fakeReader{msgs: w.msgs}
	expirer := &scriptedExpirer{}
	require.NoError(t, consumer.NewConsumer(reader, expirer).Run(ctx))
	assert.Equal(t, 1, expirer.calls)
}
