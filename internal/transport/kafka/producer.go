// Package kafka adapts the orchestrator's outbound dispatches and inbound
// events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// stageTopics maps each dispatchable stage to its worker topic
var stageTopics = map[order.Stage]string{
	order.StageOrdering:           "pizza.ordering",
	order.StageCooking:            "pizza.cooking",
	order.StageDelivering:         "pizza.delivery",
	order.StageAwaitingValidation: "pizza.validation",
}

// StageDispatcher publishes stage requests to per-stage topics. Dispatch
// returns once the broker acknowledges the message, not once the stage
// worker finishes its work.
type StageDispatcher struct {
	writers map[order.Stage]*kafka.Writer
	logger  *zap.Logger
}

// NewStageDispatcher creates writers for every dispatchable stage
func NewStageDispatcher(brokers []string, logger *zap.Logger) *StageDispatcher {
	writers := make(map[order.Stage]*kafka.Writer, len(stageTopics))
	for stage, topic := range stageTopics {
		writers[stage] = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		}
	}
	return &StageDispatcher{
		writers: writers,
		logger:  logger,
	}
}

// Dispatch enqueues one stage request, keyed by order ID so results for the
// same order stay ordered within a partition.
func (d *StageDispatcher) Dispatch(ctx context.Context, stage order.Stage, req *event.StageRequest) error {
	writer, ok := d.writers[stage]
	if !ok {
		return fmt.Errorf("no topic configured for stage %s", stage)
	}

	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal stage request: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(req.OrderID),
		Value: value,
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		d.logger.Error("Failed to dispatch stage request",
			zap.String("order_id", req.OrderID),
			zap.String("stage", stage.String()),
			zap.Error(err))
		return fmt.Errorf("dispatch to %s: %w", writer.Topic, err)
	}

	d.logger.Debug("Stage request dispatched",
		zap.String("order_id", req.OrderID),
		zap.String("topic", writer.Topic))
	return nil
}

// Close shuts down all writers
func (d *StageDispatcher) Close() error {
	var firstErr error
	for _, writer := range d.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
