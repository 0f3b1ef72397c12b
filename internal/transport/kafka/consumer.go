package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
)

// EventSink receives decoded inbound event envelopes
type EventSink interface {
	Deliver(ctx context.Context, env *event.Envelope) error
}

// ReaderConfig holds the results consumer configuration
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// ResultConsumer reads stage results and validation decisions from the
// results topic and hands them to the correlator. Delivery is at-least-once;
// idempotent handling downstream makes duplicates safe.
type ResultConsumer struct {
	reader  *kafka.Reader
	sink    EventSink
	logger  *zap.Logger
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewResultConsumer creates a consumer for the results topic
func NewResultConsumer(cfg ReaderConfig, sink EventSink, logger *zap.Logger) *ResultConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &ResultConsumer{
		reader: reader,
		sink:   sink,
		logger: logger,
	}
}

// Name identifies the worker
func (c *ResultConsumer) Name() string {
	return "kafka-result-consumer"
}

// Start begins the fetch loop. It returns immediately; the loop runs until
// Stop is called or the context is cancelled.
func (c *ResultConsumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("Result consumer started", zap.String("topic", c.reader.Config().Topic))

		for {
			if c.stopped.Load() {
				return
			}

			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || c.stopped.Load() {
					return
				}
				c.logger.Error("Failed to fetch message, retrying", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				// The event was not durably applied. Leave the offset
				// uncommitted so the broker redelivers it.
				c.logger.Error("Failed to handle event, leaving message uncommitted",
					zap.String("key", string(msg.Key)),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.Error("Failed to commit message", zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop shuts the consumer down and waits for the fetch loop to exit
func (c *ResultConsumer) Stop() {
	c.stopped.Store(true)
	c.reader.Close()
	c.wg.Wait()
	c.logger.Info("Result consumer stopped")
}

// processMessage decodes one envelope and delivers it. Undecodable messages
// are skipped; a delivery error means the event was not applied, so the
// caller must not commit the message.
func (c *ResultConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var env event.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.logger.Error("Failed to unmarshal event, skipping message",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return nil
	}

	// Tolerate producers that omit the type discriminator
	if env.Type == "" {
		switch {
		case env.StageResult != nil:
			env.Type = event.TypeStageResult
		case env.ValidationDecision != nil:
			env.Type = event.TypeValidationDecision
		}
	}

	return c.sink.Deliver(ctx, &env)
}
