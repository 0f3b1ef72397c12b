package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// instanceIDPrefix distinguishes orchestration instances from raw order IDs
const instanceIDPrefix = "pizza-order-"

// Customer holds the delivery contact captured at order creation
type Customer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// HistoryEntry records one applied stage transition
type HistoryEntry struct {
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// Order is the orchestration instance for a single pizza order
type Order struct {
	InstanceID string         `json:"instance_id"`
	OrderID    string         `json:"order_id"`
	PizzaType  string         `json:"pizza_type"`
	Size       string         `json:"size"`
	Customer   Customer       `json:"customer"`
	Stage      Stage          `json:"stage"`
	LastError  string         `json:"last_error,omitempty"`
	Paused     bool           `json:"paused"`
	History    []HistoryEntry `json:"history"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// New creates an order instance at the created stage
func New(orderID, pizzaType, size string, customer Customer) (*Order, error) {
	if orderID == "" || pizzaType == "" || size == "" || customer.Name == "" {
		return nil, errors.New("cannot create order with empty required fields")
	}

	now := time.Now()
	return &Order{
		InstanceID: InstanceID(orderID),
		OrderID:    orderID,
		PizzaType:  pizzaType,
		Size:       size,
		Customer:   customer,
		Stage:      StageCreated,
		History:    []HistoryEntry{{Stage: StageCreated, Timestamp: now}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// InstanceID derives the orchestration instance identifier for an order
func InstanceID(orderID string) string {
	return instanceIDPrefix + orderID
}

// OrderIDFromInstance recovers the business order identifier from an
// instance identifier.
func OrderIDFromInstance(instanceID string) (string, error) {
	orderID := strings.TrimPrefix(instanceID, instanceIDPrefix)
	if orderID == "" || orderID == instanceID {
		return "", fmt.Errorf("malformed instance id %q", instanceID)
	}
	return orderID, nil
}

// ApplyStage records a transition to the given stage. The stage history is
// append-only; callers must have validated the transition first.
func (o *Order) ApplyStage(stage Stage) {
	now := time.Now()
	o.Stage = stage
	o.History = append(o.History, HistoryEntry{Stage: stage, Timestamp: now})
	o.UpdatedAt = now
}

// Fail moves the instance to the terminal failed stage, optionally passing
// through the failure stage of the stage it was in, and records the cause.
func (o *Order) Fail(cause string) {
	if failure := FailureOf(o.Stage); failure != "" {
		o.ApplyStage(failure)
	}
	o.ApplyStage(StageFailed)
	o.LastError = cause
}

// IsTerminal reports whether the instance has reached its final stage
func (o *Order) IsTerminal() bool {
	return o.Stage.IsTerminal()
}
