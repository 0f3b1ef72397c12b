package orchestrator

import (
	"context"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// InstanceStore is the durable record of order instances, keyed by order ID.
// Save must apply the merge rule: missing optional business fields inherit
// from the existing record. Load returns order.ErrNotFound for unknown IDs.
// AppendPending/TakePending hold the events that arrive while an instance is
// paused; Delete removes them along with the instance.
type InstanceStore interface {
	Save(ctx context.Context, o *order.Order) error
	Load(ctx context.Context, orderID string) (*order.Order, error)
	Delete(ctx context.Context, orderID string) error
	ListActive(ctx context.Context) ([]*order.Order, error)
	AppendPending(ctx context.Context, orderID string, env *event.Envelope) error
	TakePending(ctx context.Context, orderID string) ([]*event.Envelope, error)
}

// StageDispatcher delivers a stage request to the named remote stage. It
// returns once the request is accepted by the transport, not once the
// stage's work is complete.
type StageDispatcher interface {
	Dispatch(ctx context.Context, stage order.Stage, req *event.StageRequest) error
}
