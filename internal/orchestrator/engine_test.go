package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// Mock implementations

type mockStore struct {
	mu      sync.Mutex
	orders  map[string]*order.Order
	pending map[string][]*event.Envelope
	saveErr error
	failOn  func(o *order.Order) error
}

func newMockStore() *mockStore {
	return &mockStore{
		orders:  make(map[string]*order.Order),
		pending: make(map[string][]*event.Envelope),
	}
}

func cloneOrder(o *order.Order) *order.Order {
	clone := *o
	clone.History = append([]order.HistoryEntry(nil), o.History...)
	return &clone
}

func (m *mockStore) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.failOn != nil {
		if err := m.failOn(o); err != nil {
			return err
		}
	}
	m.orders[o.OrderID] = cloneOrder(o)
	return nil
}

func (m *mockStore) Load(ctx context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
	}
	return cloneOrder(o), nil
}

func (m *mockStore) Delete(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
	}
	delete(m.orders, orderID)
	delete(m.pending, orderID)
	return nil
}

func (m *mockStore) AppendPending(ctx context.Context, orderID string, env *event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.pending[orderID] = append(m.pending[orderID], env)
	return nil
}

func (m *mockStore) TakePending(ctx context.Context, orderID string) ([]*event.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buffered := m.pending[orderID]
	delete(m.pending, orderID)
	return buffered, nil
}

func (m *mockStore) ListActive(ctx context.Context) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*order.Order
	for _, o := range m.orders {
		if !o.IsTerminal() {
			active = append(active, cloneOrder(o))
		}
	}
	return active, nil
}

type dispatchCall struct {
	stage order.Stage
	req   *event.StageRequest
}

type mockDispatcher struct {
	mu         sync.Mutex
	dispatched []dispatchCall
	failStages map[order.Stage]error
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{failStages: make(map[order.Stage]error)}
}

func (m *mockDispatcher) Dispatch(ctx context.Context, stage order.Stage, req *event.StageRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failStages[stage]; err != nil {
		return err
	}
	m.dispatched = append(m.dispatched, dispatchCall{stage: stage, req: req})
	return nil
}

func (m *mockDispatcher) calls() []dispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatchCall(nil), m.dispatched...)
}

// Test helpers

func testEngine(store *mockStore, dispatcher *mockDispatcher) *Engine {
	cfg := Config{
		WaitTimeout:  0, // no timers unless a test arms them
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
	}
	return NewEngine(store, dispatcher, cfg, zap.NewNop())
}

func testCustomer() order.Customer {
	return order.Customer{Name: "Alice", Address: "1 Main St", Phone: "555-0100"}
}

func startOrder(t *testing.T, e *Engine, orderID string) *order.Order {
	t.Helper()
	o, err := e.Start(context.Background(), orderID, "margherita", "large", testCustomer())
	require.NoError(t, err)
	return o
}

func sendResult(e *Engine, orderID string, stage order.Stage) error {
	return e.HandleStageResult(context.Background(), &event.StageResult{
		InstanceID: order.InstanceID(orderID),
		Stage:      stage,
	})
}

// Tests

func TestStartDispatchesOrdering(t *testing.T) {
	store := newMockStore()
	dispatcher := newMockDispatcher()
	e := testEngine(store, dispatcher)

	o := startOrder(t, e, "ord-1")

	assert.Equal(t, order.StageOrdering, o.Stage)
	assert.Equal(t, "pizza-order-ord-1", o.InstanceID)

	calls := dispatcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, order.StageOrdering, calls[0].stage)
	assert.Equal(t, "pizza-order-ord-1", calls[0].req.InstanceID)
	assert.Equal(t, "margherita", calls[0].req.PizzaType)

	saved, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, saved.Stage)
}

func TestHappyPathToCompleted(t *testing.T) {
	store := newMockStore()
	dispatcher := newMockDispatcher()
	e := testEngine(store, dispatcher)

	startOrder(t, e, "ord-1")

	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	require.NoError(t, sendResult(e, "ord-1", order.StageAwaitingValidation))
	require.NoError(t, e.HandleValidationDecision(context.Background(), &event.ValidationDecision{
		OrderID:  "ord-1",
		Approved: true,
	}))
	require.NoError(t, sendResult(e, "ord-1", order.StageCompleted))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageCompleted, o.Stage)
	assert.True(t, o.IsTerminal())
	assert.Empty(t, o.LastError)

	// One dispatch per remote stage, in order
	calls := dispatcher.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, order.StageOrdering, calls[0].stage)
	assert.Equal(t, order.StageCooking, calls[1].stage)
	assert.Equal(t, order.StageAwaitingValidation, calls[2].stage)
	assert.Equal(t, order.StageDelivering, calls[3].stage)

	// Full happy-path history
	stages := make([]order.Stage, 0, len(o.History))
	for _, h := range o.History {
		stages = append(stages, h.Stage)
	}
	assert.Equal(t, []order.Stage{
		order.StageCreated,
		order.StageOrdering,
		order.StageCooking,
		order.StageAwaitingValidation,
		order.StageDelivering,
		order.StageCompleted,
	}, stages)
}

func TestDuplicateStartRejected(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")

	_, err := e.Start(context.Background(), "ord-1", "pepperoni", "small", testCustomer())
	assert.ErrorIs(t, err, order.ErrDuplicateInstance)
}

func TestTerminalOrderIDStartsFreshRun(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Cancel(context.Background(), "ord-1"))

	o, err := e.Start(context.Background(), "ord-1", "pepperoni", "small", testCustomer())
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)
	assert.Equal(t, "pepperoni", o.PizzaType)
	assert.Empty(t, o.LastError)
	assert.Len(t, o.History, 2)
}

func TestOutOfSequenceResultDropped(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")

	// Awaiting cooking; a delivering result must not advance anything
	err := sendResult(e, "ord-1", order.StageDelivering)
	assert.ErrorIs(t, err, order.ErrUnexpectedEvent)

	o, loadErr := store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageOrdering, o.Stage)
}

func TestDuplicateResultDropped(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	err := sendResult(e, "ord-1", order.StageCooking)
	assert.ErrorIs(t, err, order.ErrUnexpectedEvent)

	o, loadErr := store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageCooking, o.Stage)
}

func TestResultForUnknownInstance(t *testing.T) {
	e := testEngine(newMockStore(), newMockDispatcher())

	err := sendResult(e, "ghost", order.StageCooking)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestMalformedInstanceID(t *testing.T) {
	e := testEngine(newMockStore(), newMockDispatcher())

	err := e.HandleStageResult(context.Background(), &event.StageResult{
		InstanceID: "not-a-pizza-instance",
		Stage:      order.StageCooking,
	})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestErrorResultFailsInstance(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	require.NoError(t, e.HandleStageResult(context.Background(), &event.StageResult{
		InstanceID: order.InstanceID("ord-1"),
		Stage:      order.StageCooking,
		Error:      "oven is on fire",
	}))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Equal(t, "oven is on fire", o.LastError)

	// Failure routed through the cooking failure stage
	stages := make([]order.Stage, 0, len(o.History))
	for _, h := range o.History {
		stages = append(stages, h.Stage)
	}
	assert.Contains(t, stages, order.StageCookingFailed)
}

func TestValidationRejection(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	require.NoError(t, sendResult(e, "ord-1", order.StageAwaitingValidation))

	require.NoError(t, e.HandleValidationDecision(context.Background(), &event.ValidationDecision{
		OrderID:  "ord-1",
		Approved: false,
	}))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Equal(t, "validation rejected by manager", o.LastError)

	stages := make([]order.Stage, 0, len(o.History))
	for _, h := range o.History {
		stages = append(stages, h.Stage)
	}
	assert.Contains(t, stages, order.StageValidationRejected)
}

func TestStageResultRejectedAtValidationGate(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	require.NoError(t, sendResult(e, "ord-1", order.StageAwaitingValidation))

	// Only a decision may pass the gate
	err := sendResult(e, "ord-1", order.StageDelivering)
	assert.ErrorIs(t, err, order.ErrUnexpectedEvent)

	o, loadErr := store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageAwaitingValidation, o.Stage)
}

func TestDecisionOutsideValidationGate(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")

	err := e.HandleValidationDecision(context.Background(), &event.ValidationDecision{
		OrderID:  "ord-1",
		Approved: true,
	})
	assert.ErrorIs(t, err, order.ErrUnexpectedEvent)
}

func TestEventAfterTerminal(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Cancel(context.Background(), "ord-1"))

	err := sendResult(e, "ord-1", order.StageCooking)
	assert.ErrorIs(t, err, order.ErrTerminal)

	err = e.HandleValidationDecision(context.Background(), &event.ValidationDecision{OrderID: "ord-1", Approved: true})
	assert.ErrorIs(t, err, order.ErrTerminal)
}

func TestDispatchFailureFailsInstance(t *testing.T) {
	store := newMockStore()
	dispatcher := newMockDispatcher()
	dispatcher.failStages[order.StageCooking] = fmt.Errorf("broker unreachable")
	e := testEngine(store, dispatcher)

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Contains(t, o.LastError, "dispatch")
}

func TestWaitTimeoutFailsInstance(t *testing.T) {
	store := newMockStore()
	e := NewEngine(store, newMockDispatcher(), Config{
		WaitTimeout:  20 * time.Millisecond,
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
	}, zap.NewNop())

	startOrder(t, e, "ord-1")

	require.Eventually(t, func() bool {
		o, err := store.Load(context.Background(), "ord-1")
		return err == nil && o.Stage == order.StageFailed
	}, time.Second, 5*time.Millisecond)

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Contains(t, o.LastError, "timeout")
}

func TestResultBeatsTimeout(t *testing.T) {
	store := newMockStore()
	e := NewEngine(store, newMockDispatcher(), Config{
		WaitTimeout:  50 * time.Millisecond,
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
	}, zap.NewNop())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	// The ordering timer was cleared; give it time to have fired anyway
	time.Sleep(80 * time.Millisecond)

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.NotEqual(t, order.StageFailed, o.Stage)
}

func TestPauseBuffersAndResumeReplays(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Pause(context.Background(), "ord-1"))

	// Buffered, not applied
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)
	assert.True(t, o.Paused)

	require.NoError(t, e.Resume(context.Background(), "ord-1"))

	o, err = store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageCooking, o.Stage)
	assert.False(t, o.Paused)
}

func TestResumeDropsStaleBufferedEvents(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Pause(context.Background(), "ord-1"))

	// Duplicate buffered events; only the first can apply
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	require.NoError(t, e.Resume(context.Background(), "ord-1"))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageCooking, o.Stage)
}

func TestPauseIsIdempotent(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Pause(context.Background(), "ord-1"))
	require.NoError(t, e.Pause(context.Background(), "ord-1"))
	require.NoError(t, e.Resume(context.Background(), "ord-1"))
	require.NoError(t, e.Resume(context.Background(), "ord-1"))
}

func TestCancel(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Cancel(context.Background(), "ord-1"))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Equal(t, "cancelled by operator", o.LastError)

	err = e.Cancel(context.Background(), "ord-1")
	assert.ErrorIs(t, err, order.ErrTerminal)
}

func TestDelete(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, e.Delete(context.Background(), "ord-1"))

	_, err := store.Load(context.Background(), "ord-1")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestRecover(t *testing.T) {
	store := newMockStore()
	dispatcher := newMockDispatcher()
	ctx := context.Background()

	created, err := order.New("ord-created", "margherita", "large", testCustomer())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, created))

	cooking, err := order.New("ord-cooking", "hawaiian", "small", testCustomer())
	require.NoError(t, err)
	cooking.ApplyStage(order.StageOrdering)
	cooking.ApplyStage(order.StageCooking)
	require.NoError(t, store.Save(ctx, cooking))

	paused, err := order.New("ord-paused", "veggie", "medium", testCustomer())
	require.NoError(t, err)
	paused.ApplyStage(order.StageOrdering)
	paused.Paused = true
	require.NoError(t, store.Save(ctx, paused))

	done, err := order.New("ord-done", "quattro", "large", testCustomer())
	require.NoError(t, err)
	done.ApplyStage(order.StageCompleted)
	require.NoError(t, store.Save(ctx, done))

	e := testEngine(store, dispatcher)
	recovered, err := e.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, recovered)

	// The created instance was re-dispatched
	calls := dispatcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, order.StageOrdering, calls[0].stage)
	assert.Equal(t, "ord-created", calls[0].req.OrderID)

	o, err := store.Load(ctx, "ord-created")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)

	// Paused and parked instances were left in place
	o, err = store.Load(ctx, "ord-paused")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)

	o, err = store.Load(ctx, "ord-cooking")
	require.NoError(t, err)
	assert.Equal(t, order.StageCooking, o.Stage)
}

func TestReapStale(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	stale, err := order.New("ord-stale", "margherita", "large", testCustomer())
	require.NoError(t, err)
	stale.ApplyStage(order.StageOrdering)
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	fresh, err := order.New("ord-fresh", "hawaiian", "small", testCustomer())
	require.NoError(t, err)
	fresh.ApplyStage(order.StageOrdering)
	require.NoError(t, store.Save(ctx, fresh))

	pausedStale, err := order.New("ord-paused", "veggie", "medium", testCustomer())
	require.NoError(t, err)
	pausedStale.ApplyStage(order.StageOrdering)
	pausedStale.Paused = true
	pausedStale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, pausedStale))

	e := testEngine(store, newMockDispatcher())
	reaped, err := e.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	o, err := store.Load(ctx, "ord-stale")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Contains(t, o.LastError, "timeout")

	o, err = store.Load(ctx, "ord-fresh")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)

	o, err = store.Load(ctx, "ord-paused")
	require.NoError(t, err)
	assert.Equal(t, order.StageOrdering, o.Stage)
}

func TestStoreOutageLeavesResultUnapplied(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")

	// With the store down, the result must surface a persistence error and
	// leave no partial state behind
	store.saveErr = fmt.Errorf("disk full")
	err := sendResult(e, "ord-1", order.StageCooking)
	require.ErrorIs(t, err, ErrPersistence)

	store.saveErr = nil
	o, loadErr := store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageOrdering, o.Stage)
	assert.Empty(t, o.LastError)

	// Redelivery after the outage clears applies cleanly
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	o, loadErr = store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageCooking, o.Stage)
}

func TestStoreWriteExhaustionFailsInstance(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")

	// The advance write fails but the terminal failure write succeeds
	store.failOn = func(o *order.Order) error {
		if o.Stage == order.StageCooking {
			return fmt.Errorf("disk full")
		}
		return nil
	}

	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))

	o, err := store.Load(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Contains(t, o.LastError, "orchestration_error")
}

func TestStartSurfacesDispatchFailure(t *testing.T) {
	store := newMockStore()
	dispatcher := newMockDispatcher()
	dispatcher.failStages[order.StageOrdering] = fmt.Errorf("broker unreachable")
	e := testEngine(store, dispatcher)

	_, err := e.Start(context.Background(), "ord-1", "margherita", "large", testCustomer())
	require.ErrorIs(t, err, order.ErrDispatchFailed)

	o, loadErr := store.Load(context.Background(), "ord-1")
	require.NoError(t, loadErr)
	assert.Equal(t, order.StageFailed, o.Stage)
	assert.Contains(t, o.LastError, "dispatch")
}

func TestBufferedEventsSurviveRestart(t *testing.T) {
	store := newMockStore()
	e1 := testEngine(store, newMockDispatcher())
	ctx := context.Background()

	startOrder(t, e1, "ord-1")
	require.NoError(t, e1.Pause(ctx, "ord-1"))
	require.NoError(t, sendResult(e1, "ord-1", order.StageCooking))

	// A new engine over the same store stands in for a restarted process
	e2 := testEngine(store, newMockDispatcher())
	require.NoError(t, e2.Resume(ctx, "ord-1"))

	o, err := store.Load(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StageCooking, o.Stage)
	assert.False(t, o.Paused)
}

func TestLockTableEvictedAfterUse(t *testing.T) {
	store := newMockStore()
	e := testEngine(store, newMockDispatcher())

	startOrder(t, e, "ord-1")
	require.NoError(t, sendResult(e, "ord-1", order.StageCooking))
	require.NoError(t, sendResult(e, "ord-1", order.StageAwaitingValidation))
	require.NoError(t, e.HandleValidationDecision(context.Background(), &event.ValidationDecision{
		OrderID:  "ord-1",
		Approved: true,
	}))
	require.NoError(t, sendResult(e, "ord-1", order.StageCompleted))

	e.mu.Lock()
	held := len(e.locks)
	e.mu.Unlock()
	assert.Zero(t, held)
}
