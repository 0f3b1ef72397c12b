package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
	"github.com/garyjia/pizza-workflow/internal/metrics"
)

// Correlator routes inbound events to the engine by their correlation key
// and absorbs everything the engine rejects: unknown instances, terminal
// instances, duplicate or out-of-sequence deliveries. A bad event is dropped
// with a warning; it never crashes the orchestrator process.
type Correlator struct {
	engine  *Engine
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewCorrelator creates an event correlator for the engine
func NewCorrelator(engine *Engine, logger *zap.Logger, collector *metrics.Collector) *Correlator {
	return &Correlator{
		engine:  engine,
		logger:  logger,
		metrics: collector,
	}
}

// Deliver routes one inbound event envelope to the engine. The returned
// error reports only infrastructure faults; droppable events return nil.
func (c *Correlator) Deliver(ctx context.Context, env *event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
			c.logger.Error("Recovered panic while handling event",
				zap.String("event_id", env.ID),
				zap.Any("panic", r))
		}
	}()

	switch {
	case env.Type == event.TypeStageResult && env.StageResult != nil:
		return c.deliverResult(ctx, env.StageResult)
	case env.Type == event.TypeValidationDecision && env.ValidationDecision != nil:
		return c.deliverDecision(ctx, env.ValidationDecision)
	default:
		c.drop("malformed", zap.String("event_id", env.ID), zap.String("type", env.Type.String()))
		return nil
	}
}

func (c *Correlator) deliverResult(ctx context.Context, res *event.StageResult) error {
	err := c.engine.HandleStageResult(ctx, res)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, order.ErrNotFound):
		c.drop("unknown_instance",
			zap.String("instance_id", res.InstanceID),
			zap.String("stage", res.Stage.String()))
		return nil
	case errors.Is(err, order.ErrTerminal), errors.Is(err, order.ErrUnexpectedEvent), errors.Is(err, order.ErrInvalidTransition):
		c.drop("out_of_sequence",
			zap.String("instance_id", res.InstanceID),
			zap.String("stage", res.Stage.String()),
			zap.Error(err))
		return nil
	default:
		return err
	}
}

func (c *Correlator) deliverDecision(ctx context.Context, dec *event.ValidationDecision) error {
	err := c.engine.HandleValidationDecision(ctx, dec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, order.ErrNotFound):
		c.drop("unknown_instance", zap.String("order_id", dec.OrderID))
		return nil
	case errors.Is(err, order.ErrTerminal), errors.Is(err, order.ErrUnexpectedEvent), errors.Is(err, order.ErrInvalidTransition):
		c.drop("out_of_sequence", zap.String("order_id", dec.OrderID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func (c *Correlator) drop(reason string, fields ...zap.Field) {
	c.metrics.EventDropped(reason)
	c.logger.Warn("Dropped inbound event", append(fields, zap.String("reason", reason))...)
}
