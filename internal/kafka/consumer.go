package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-rental/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

type Consumer struct {
	reader MessageReader
	logger *logger.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, logger: log, retryInitial: defaultRetryInitial, retryMax: defaultRetryMax}
}

// WithRetryBackoff sets the delay before the first retry of a failed message
// and the cap the doubling delay stops at.
func (c *Consumer) WithRetryBackoff(initial, ceiling time.Duration) *Consumer {
	c.retryInitial, c.retryMax = initial, ceiling
	return c
}

// Run hands each message to handle until ctx is done. A message is committed
// only after handle returns nil; on error the same message is retried with
// backoff, so handle must return nil for payloads that can never succeed.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg kafka.Message) error) error {
	c.logger.Info("KAFKA", "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("error reading message: %v", err))
			continue
		}

		if !c.handleWithRetry(ctx, msg, handle) {
			// Shutting down; the uncommitted message is redelivered.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("KAFKA", fmt.Sprintf("commit failed for %s@%d: %v", msg.Topic, msg.Offset, err))
		}
	}
}

// handleWithRetry reports false when ctx ended before handle succeeded.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, handle func(ctx context.Context, msg kafka.Message) error) bool {
	delay := c.retryInitial
	for attempt := 1; ; attempt++ {
		err := handle(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Warn("KAFKA", fmt.Sprintf("handler failed for %s/%d@%d (attempt %d), retrying in %s: %v",
			msg.Topic, msg.Partition, msg.Offset, attempt, delay, err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if delay *= 2; delay > c.retryMax {
			delay = c.retryMax
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
