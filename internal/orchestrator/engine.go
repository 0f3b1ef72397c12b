// Package orchestrator drives order instances through the fixed stage
// sequence, correlating asynchronous stage results and validation decisions
// back to the waiting instance.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
	"github.com/garyjia/pizza-workflow/internal/metrics"
)

// ErrPersistence reports that an event could not be durably applied: neither
// the transition nor a terminal failure reached the store. Callers must not
// treat the event as consumed; redelivery is safe and required.
var ErrPersistence = errors.New("orchestration state not persisted")

// Config holds the engine's transition policy knobs
type Config struct {
	// WaitTimeout bounds how long an instance may stay parked at one wait
	// point before it is failed with a timeout cause. Zero disables timers;
	// the reaper still covers stuck instances.
	WaitTimeout time.Duration

	// MaxAttempts bounds retries of store reads and writes and stage dispatches
	MaxAttempts int

	// RetryBackoff is the initial backoff between retry attempts
	RetryBackoff time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		WaitTimeout:  30 * time.Minute,
		MaxAttempts:  3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// waitPoint parks one instance until a matching event arrives
type waitPoint struct {
	awaited order.Stage
	timer   *time.Timer
}

// instanceLock serializes operations on one instance. Entries are reference
// counted so the lock table only holds instances with an operation in flight.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// Engine is the orchestration state machine host. All transition application
// for a given instance is serialized behind a per-instance lock; instances
// progress independently of each other.
type Engine struct {
	store   InstanceStore
	stages  StageDispatcher
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	locks map[string]*instanceLock
	waits map[string]*waitPoint
}

// Option configures the engine
type Option func(*Engine)

// WithMetrics attaches a metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// NewEngine creates an orchestration engine
func NewEngine(store InstanceStore, stages StageDispatcher, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		stages: stages,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*instanceLock),
		waits:  make(map[string]*waitPoint),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start creates a new order instance and dispatches the first stage. It
// fails with order.ErrDuplicateInstance when a non-terminal instance already
// exists for the order ID; a terminal instance is overwritten by a fresh run.
// A first dispatch that exhausts its retries leaves the instance failed and
// returns order.ErrDispatchFailed so the caller sees the dead order.
func (e *Engine) Start(ctx context.Context, orderID, pizzaType, size string, customer order.Customer) (*order.Order, error) {
	o, err := order.New(orderID, pizzaType, size, customer)
	if err != nil {
		return nil, err
	}

	l := e.acquire(o.OrderID)
	defer e.release(o.OrderID, l)

	existing, err := e.loadWithRetry(ctx, o.OrderID)
	if err != nil && !errors.Is(err, order.ErrNotFound) {
		return nil, fmt.Errorf("load existing instance: %w", err)
	}
	if existing != nil && !existing.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", order.ErrDuplicateInstance, o.InstanceID)
	}

	if err := e.saveWithRetry(ctx, o); err != nil {
		return nil, fmt.Errorf("persist new instance: %w", err)
	}

	e.metrics.OrderStarted()
	e.logger.Info("Order instance created",
		zap.String("order_id", o.OrderID),
		zap.String("instance_id", o.InstanceID))

	if err := e.advanceLocked(ctx, o, order.TriggerDispatch); err != nil {
		return nil, err
	}
	if o.Stage == order.StageFailed {
		return nil, fmt.Errorf("%w: %s", order.ErrDispatchFailed, o.LastError)
	}
	return o, nil
}

// HandleStageResult applies a stage worker's completion signal to the
// instance awaiting it. Unknown instances, terminal instances, and results
// that do not match the awaited stage yield typed errors for the caller to
// drop; they never mutate the instance. An ErrPersistence return means the
// event had no durable effect and must be redelivered.
func (e *Engine) HandleStageResult(ctx context.Context, res *event.StageResult) error {
	if res == nil || res.InstanceID == "" {
		return fmt.Errorf("stage result missing instance id")
	}

	orderID, err := order.OrderIDFromInstance(res.InstanceID)
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrNotFound, err)
	}

	l := e.acquire(orderID)
	defer e.release(orderID, l)

	o, err := e.loadWithRetry(ctx, orderID)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s", order.ErrTerminal, o.InstanceID)
	}
	if o.Paused {
		return e.bufferPending(ctx, orderID, event.NewStageResultEnvelope(res))
	}

	return e.applyResultLocked(ctx, o, res)
}

// HandleValidationDecision applies the manager's approve/reject decision to
// an instance parked at the validation gate.
func (e *Engine) HandleValidationDecision(ctx context.Context, dec *event.ValidationDecision) error {
	if dec == nil || dec.OrderID == "" {
		return fmt.Errorf("validation decision missing order id")
	}

	l := e.acquire(dec.OrderID)
	defer e.release(dec.OrderID, l)

	o, err := e.loadWithRetry(ctx, dec.OrderID)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s", order.ErrTerminal, o.InstanceID)
	}
	if o.Paused {
		return e.bufferPending(ctx, dec.OrderID, event.NewValidationEnvelope(dec))
	}

	return e.applyDecisionLocked(ctx, o, dec)
}

// GetStatus returns the current instance snapshot for an order ID
func (e *Engine) GetStatus(ctx context.Context, orderID string) (*order.Order, error) {
	return e.loadWithRetry(ctx, orderID)
}

// Pause suspends event delivery for an instance. Inbound results and
// decisions are buffered durably in arrival order and the wait-timeout clock
// stops.
func (e *Engine) Pause(ctx context.Context, orderID string) error {
	l := e.acquire(orderID)
	defer e.release(orderID, l)

	o, err := e.loadWithRetry(ctx, orderID)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s", order.ErrTerminal, o.InstanceID)
	}
	if o.Paused {
		return nil
	}

	o.Paused = true
	o.UpdatedAt = time.Now()
	if err := e.saveWithRetry(ctx, o); err != nil {
		return fmt.Errorf("persist paused instance: %w", err)
	}

	if wp := e.waitFor(orderID); wp != nil && wp.timer != nil {
		wp.timer.Stop()
		wp.timer = nil
	}

	e.logger.Info("Order instance paused", zap.String("order_id", orderID))
	return nil
}

// Resume reactivates a paused instance, re-arms its wait timeout, and
// replays the events buffered while it was paused.
func (e *Engine) Resume(ctx context.Context, orderID string) error {
	l := e.acquire(orderID)
	defer e.release(orderID, l)

	o, err := e.loadWithRetry(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.Paused {
		return nil
	}

	o.Paused = false
	o.UpdatedAt = time.Now()
	if err := e.saveWithRetry(ctx, o); err != nil {
		return fmt.Errorf("persist resumed instance: %w", err)
	}
	e.armWaitLocked(o)

	buffered, err := e.store.TakePending(ctx, orderID)
	if err != nil {
		return fmt.Errorf("take buffered events: %w", err)
	}
	e.logger.Info("Order instance resumed",
		zap.String("order_id", orderID),
		zap.Int("buffered_events", len(buffered)))

	for _, env := range buffered {
		if o.IsTerminal() {
			break
		}
		var applyErr error
		switch {
		case env.StageResult != nil:
			applyErr = e.applyResultLocked(ctx, o, env.StageResult)
		case env.ValidationDecision != nil:
			applyErr = e.applyDecisionLocked(ctx, o, env.ValidationDecision)
		}
		if applyErr != nil {
			e.logger.Warn("Dropped buffered event during resume",
				zap.String("order_id", orderID),
				zap.Error(applyErr))
		}
	}
	return nil
}

// Cancel terminates a non-terminal instance to the failed stage
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	l := e.acquire(orderID)
	defer e.release(orderID, l)

	o, err := e.loadWithRetry(ctx, orderID)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("%w: %s", order.ErrTerminal, o.InstanceID)
	}

	e.clearWaitLocked(orderID)
	o.ApplyStage(order.StageFailed)
	o.LastError = "cancelled by operator"
	if err := e.saveWithRetry(ctx, o); err != nil {
		return fmt.Errorf("persist cancelled instance: %w", err)
	}

	e.metrics.OrderFailed()
	e.logger.Info("Order instance cancelled", zap.String("order_id", orderID))
	return nil
}

// Delete removes an instance record and any parked state for it
func (e *Engine) Delete(ctx context.Context, orderID string) error {
	l := e.acquire(orderID)
	defer e.release(orderID, l)

	e.clearWaitLocked(orderID)
	return e.store.Delete(ctx, orderID)
}

// Recover re-arms wait points for all non-terminal instances after a process
// restart. Instances still at the created stage are re-dispatched; paused
// instances stay parked with their buffered events until an operator resumes
// them.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}

	recovered := 0
	for _, o := range active {
		l := e.acquire(o.OrderID)
		switch {
		case o.Paused:
			// Parked until resumed; Resume re-arms the timeout.
		case o.Stage == order.StageCreated:
			if err := e.advanceLocked(ctx, o, order.TriggerDispatch); err != nil {
				e.logger.Error("Failed to re-dispatch recovered instance",
					zap.String("order_id", o.OrderID), zap.Error(err))
			}
		default:
			e.armWaitLocked(o)
		}
		e.release(o.OrderID, l)
		recovered++
	}

	if recovered > 0 {
		e.logger.Info("Recovered in-flight instances", zap.Int("count", recovered))
	}
	return recovered, nil
}

// ReapStale fails non-terminal, non-paused instances whose last transition
// is older than the horizon. It covers wait timers lost across restarts.
func (e *Engine) ReapStale(ctx context.Context, horizon time.Duration) (int, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}

	reaped := 0
	for _, stale := range active {
		if stale.Paused || time.Since(stale.UpdatedAt) <= horizon {
			continue
		}

		l := e.acquire(stale.OrderID)
		o, err := e.loadWithRetry(ctx, stale.OrderID)
		if err == nil && !o.IsTerminal() && !o.Paused && time.Since(o.UpdatedAt) > horizon {
			cause := fmt.Sprintf("timeout: no signal for %s while at stage %s", horizon, o.Stage)
			if failErr := e.failLocked(ctx, o, cause); failErr == nil {
				reaped++
			}
		}
		e.release(stale.OrderID, l)
	}
	return reaped, nil
}

// applyResultLocked validates a stage result against the awaited stage and
// advances or fails the instance. Caller holds the instance lock.
func (e *Engine) applyResultLocked(ctx context.Context, o *order.Order, res *event.StageResult) error {
	if res.Error != "" {
		e.clearWaitLocked(o.OrderID)
		return e.failLocked(ctx, o, res.Error)
	}

	if o.Stage == order.StageAwaitingValidation {
		return fmt.Errorf("%w: validation gate accepts decisions only, got result for %s", order.ErrUnexpectedEvent, res.Stage)
	}

	awaited := order.Next(o.Stage)
	if awaited == "" || res.Stage != awaited {
		return fmt.Errorf("%w: got %s while awaiting %s", order.ErrUnexpectedEvent, res.Stage, awaited)
	}

	e.clearWaitLocked(o.OrderID)
	return e.advanceLocked(ctx, o, order.AdvanceTrigger(o.Stage))
}

// applyDecisionLocked applies a validation decision. Caller holds the
// instance lock.
func (e *Engine) applyDecisionLocked(ctx context.Context, o *order.Order, dec *event.ValidationDecision) error {
	if o.Stage != order.StageAwaitingValidation {
		return fmt.Errorf("%w: validation decision while at stage %s", order.ErrUnexpectedEvent, o.Stage)
	}

	e.clearWaitLocked(o.OrderID)
	if !dec.Approved {
		return e.failLocked(ctx, o, "validation rejected by manager")
	}
	return e.advanceLocked(ctx, o, order.TriggerApprove)
}

// advanceLocked fires the trigger on the instance's state machine and enters
// the resulting stage. Caller holds the instance lock.
func (e *Engine) advanceLocked(ctx context.Context, o *order.Order, trigger order.Trigger) error {
	machine := order.BuildOrderStateMachine(o.Stage)
	if err := machine.Fire(trigger); err != nil {
		return err
	}
	return e.enterStageLocked(ctx, o, machine.Stage())
}

// enterStageLocked performs the dispatch-then-wait step for the next stage.
// Dispatch and persistence faults are retried with backoff; exhaustion moves
// the instance to failed rather than leaving it stuck. The returned error is
// non-nil only when that failure itself could not be persisted.
func (e *Engine) enterStageLocked(ctx context.Context, o *order.Order, next order.Stage) error {
	switch next {
	case order.StageOrdering, order.StageCooking, order.StageAwaitingValidation, order.StageDelivering:
		req := event.RequestForOrder(o)
		if err := e.dispatchWithRetry(ctx, next, req); err != nil {
			return e.failLocked(ctx, o, fmt.Sprintf("dispatch for stage %s failed: %v", next, err))
		}

		o.ApplyStage(next)
		if err := e.saveWithRetry(ctx, o); err != nil {
			return e.failLocked(ctx, o, fmt.Sprintf("orchestration_error: persist stage %s: %v", next, err))
		}
		e.armWaitLocked(o)

		e.logger.Info("Order instance advanced",
			zap.String("order_id", o.OrderID),
			zap.String("stage", next.String()))
		return nil

	case order.StageCompleted:
		o.ApplyStage(next)
		if err := e.saveWithRetry(ctx, o); err != nil {
			return e.failLocked(ctx, o, fmt.Sprintf("orchestration_error: persist completion: %v", err))
		}
		e.clearWaitLocked(o.OrderID)

		e.metrics.OrderCompleted()
		e.logger.Info("Order instance completed", zap.String("order_id", o.OrderID))
		return nil

	default:
		// The transition table never routes here; failing loudly beats a
		// silently stuck instance.
		return e.failLocked(ctx, o, fmt.Sprintf("orchestration_error: unexpected stage %s", next))
	}
}

// failLocked drives the instance to the terminal failed stage with the given
// cause. When even that write exhausts its retries the event had no durable
// effect, so the caller gets ErrPersistence and must leave the event for
// redelivery. Caller holds the instance lock.
func (e *Engine) failLocked(ctx context.Context, o *order.Order, cause string) error {
	e.clearWaitLocked(o.OrderID)
	o.Fail(cause)

	if err := e.saveWithRetry(ctx, o); err != nil {
		e.logger.Error("Failed to persist terminal failure",
			zap.String("order_id", o.OrderID),
			zap.String("cause", cause),
			zap.Error(err))
		return fmt.Errorf("%w: failing %s (cause %q): %v", ErrPersistence, o.OrderID, cause, err)
	}

	e.metrics.OrderFailed()
	e.logger.Warn("Order instance failed",
		zap.String("order_id", o.OrderID),
		zap.String("cause", cause))
	return nil
}

// bufferPending durably parks an inbound event for a paused instance so a
// restart does not lose it.
func (e *Engine) bufferPending(ctx context.Context, orderID string, env *event.Envelope) error {
	err := withBackoff(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func() error {
		return e.store.AppendPending(ctx, orderID, env)
	})
	if err != nil {
		return fmt.Errorf("%w: buffering event for paused %s: %v", ErrPersistence, orderID, err)
	}

	e.logger.Info("Buffered event for paused instance", zap.String("order_id", orderID))
	return nil
}

// armWaitLocked parks the instance at its current wait point, replacing any
// previous wait, and starts the timeout clock. Caller holds the instance lock.
func (e *Engine) armWaitLocked(o *order.Order) {
	awaited := order.Next(o.Stage)
	if awaited == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if wp, ok := e.waits[o.OrderID]; ok && wp.timer != nil {
		wp.timer.Stop()
	}

	wp := &waitPoint{awaited: awaited}
	if e.cfg.WaitTimeout > 0 {
		orderID := o.OrderID
		wp.timer = time.AfterFunc(e.cfg.WaitTimeout, func() {
			e.expireWait(orderID, awaited)
		})
	}
	e.waits[o.OrderID] = wp
}

// expireWait fires when a wait point's timeout elapses. The instance is
// re-read and re-checked under its lock; stale timers are ignored.
func (e *Engine) expireWait(orderID string, awaited order.Stage) {
	ctx := context.Background()

	l := e.acquire(orderID)
	defer e.release(orderID, l)

	wp := e.waitFor(orderID)
	if wp == nil || wp.awaited != awaited {
		return
	}

	o, err := e.loadWithRetry(ctx, orderID)
	if err != nil || o.IsTerminal() || o.Paused || order.Next(o.Stage) != awaited {
		return
	}

	// A persist fault here is logged inside failLocked; the reaper retries.
	_ = e.failLocked(ctx, o, fmt.Sprintf("timeout: no %s signal within %s", awaited, e.cfg.WaitTimeout))
}

func (e *Engine) dispatchWithRetry(ctx context.Context, stage order.Stage, req *event.StageRequest) error {
	err := withBackoff(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func() error {
		return e.stages.Dispatch(ctx, stage, req)
	})
	if err != nil {
		return err
	}
	e.metrics.StageDispatched(stage)
	return nil
}

func (e *Engine) saveWithRetry(ctx context.Context, o *order.Order) error {
	return withBackoff(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func() error {
		return e.store.Save(ctx, o)
	})
}

// loadWithRetry reads the instance under the store retry policy. ErrNotFound
// is definitive and returned immediately; only infrastructure faults retry.
func (e *Engine) loadWithRetry(ctx context.Context, orderID string) (*order.Order, error) {
	var loaded *order.Order
	var lastErr error
	retryErr := withBackoff(ctx, e.cfg.MaxAttempts, e.cfg.RetryBackoff, func() error {
		loaded, lastErr = e.store.Load(ctx, orderID)
		if errors.Is(lastErr, order.ErrNotFound) {
			return nil
		}
		return lastErr
	})
	if lastErr != nil {
		return nil, lastErr
	}
	return loaded, retryErr
}

// acquire locks the per-instance mutex, creating the table entry on demand
func (e *Engine) acquire(orderID string) *instanceLock {
	e.mu.Lock()
	l, ok := e.locks[orderID]
	if !ok {
		l = &instanceLock{}
		e.locks[orderID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return l
}

// release unlocks the per-instance mutex and drops the table entry once no
// other operation is waiting on it.
func (e *Engine) release(orderID string, l *instanceLock) {
	l.mu.Unlock()

	e.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(e.locks, orderID)
	}
	e.mu.Unlock()
}

func (e *Engine) waitFor(orderID string) *waitPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waits[orderID]
}

func (e *Engine) clearWaitLocked(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if wp, ok := e.waits[orderID]; ok {
		if wp.timer != nil {
			wp.timer.Stop()
		}
		delete(e.waits, orderID)
	}
}
