// Package event defines the message shapes exchanged with stage workers and
// the manager validation surface, plus the inbound event envelope.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/pizza-workflow/internal/domain/order"
)

// Type identifies the type of inbound event
type Type string

const (
	TypeStageResult        Type = "stage.result"
	TypeValidationDecision Type = "validation.decision"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// StageRequest is the outbound message dispatched to a stage worker
type StageRequest struct {
	InstanceID string         `json:"instance_id"`
	OrderID    string         `json:"order_id"`
	PizzaType  string         `json:"pizza_type"`
	Size       string         `json:"size"`
	Customer   order.Customer `json:"customer"`
}

// StageResult is the asynchronous completion signal emitted by a stage
// worker. Stage names the stage the instance should advance to; a non-empty
// Error reports that the in-flight stage's work failed.
type StageResult struct {
	InstanceID string      `json:"instance_id"`
	Stage      order.Stage `json:"stage"`
	Error      string      `json:"error,omitempty"`
}

// ValidationDecision is the manager's approve/reject signal for an instance
// parked at the validation gate.
type ValidationDecision struct {
	OrderID  string `json:"order_id"`
	Approved bool   `json:"approved"`
}

// Envelope wraps one inbound event on the results topic
type Envelope struct {
	ID                 string              `json:"id"`
	Type               Type                `json:"type"`
	StageResult        *StageResult        `json:"stage_result,omitempty"`
	ValidationDecision *ValidationDecision `json:"validation_decision,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// NewStageResultEnvelope wraps a stage result for transport
func NewStageResultEnvelope(result *StageResult) *Envelope {
	return &Envelope{
		ID:          uuid.NewString(),
		Type:        TypeStageResult,
		StageResult: result,
		Timestamp:   time.Now(),
	}
}

// NewValidationEnvelope wraps a validation decision for transport
func NewValidationEnvelope(decision *ValidationDecision) *Envelope {
	return &Envelope{
		ID:                 uuid.NewString(),
		Type:               TypeValidationDecision,
		ValidationDecision: decision,
		Timestamp:          time.Now(),
	}
}

// RequestForOrder maps an order instance to the stage request shape
func RequestForOrder(o *order.Order) *StageRequest {
	return &StageRequest{
		InstanceID: o.InstanceID,
		OrderID:    o.OrderID,
		PizzaType:  o.PizzaType,
		Size:       o.Size,
		Customer:   o.Customer,
	}
}
