package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-rental/internal/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   chan kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.pending:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w}

	require.NoError(t, p.Publish(context.Background(), "rental.reservation.held", "res-1", []byte(`{"id":"res-1"}`)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "rental.reservation.held", w.msgs[0].Topic)
	assert.Equal(t, []byte("res-1"), w.msgs[0].Key)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), "t", "k", nil))
}

func TestConsumer_RetriesBeforeCommit(t *testing.T) {
	r := &fakeReader{pending: make(chan kafka.Message, 3)}
	r.pending <- kafka.Message{Offset: 1, Value: []byte("a")}
	r.pending <- kafka.Message{Offset: 2, Value: []byte("b")}
	r.pending <- kafka.Message{Offset: 3, Value: []byte("c")}

	c := NewConsumerWithReader(r, logger.NewDiscard()).WithRetryBackoff(time.Millisecond, 4*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var seen []string
	failures := 2
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(msg.Value))
			if msg.Offset == 2 && failures > 0 {
				failures--
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.committed) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "b", "b", "c"}, seen)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestConsumer_StopsRetryingOnCancel(t *testing.T) {
	r := &fakeReader{pending: make(chan kafka.Message, 1)}
	r.pending <- kafka.Message{Offset: 1}

	c := NewConsumerWithReader(r, logger.NewDiscard()).WithRetryBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	called := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(context.Context, kafka.Message) error {
			select {
			case called <- struct{}{}:
			default:
			}
			return errors.New("still down")
		})
	}()

	<-called
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop while backing off")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.committed)
}
