// Package repository implements the durable instance store over SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/pizza-workflow/internal/domain/event"
	"github.com/garyjia/pizza-workflow/internal/domain/order"
	"github.com/garyjia/pizza-workflow/pkg/database"
)

// InstanceRepository persists order instances and their stage history.
// Writes for the same order are serialized by the engine's instance lock;
// writes for different orders proceed independently.
type InstanceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *database.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the instance record. Missing optional business fields inherit
// from the existing record; everything else is overwritten. New history
// entries are appended; existing entries are never rewritten unless the
// instance starts a fresh run with a shorter history.
func (r *InstanceRepository) Save(ctx context.Context, o *order.Order) error {
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		existing, err := r.loadTx(ctx, tx, o.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			mergeBusinessFields(o, existing)
		}

		upsert := `
			INSERT INTO orders (
				order_id, instance_id, pizza_type, size,
				customer_name, customer_address, customer_phone,
				stage, last_error, paused, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(order_id) DO UPDATE SET
				instance_id = excluded.instance_id,
				pizza_type = excluded.pizza_type,
				size = excluded.size,
				customer_name = excluded.customer_name,
				customer_address = excluded.customer_address,
				customer_phone = excluded.customer_phone,
				stage = excluded.stage,
				last_error = excluded.last_error,
				paused = excluded.paused,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, upsert,
			o.OrderID, o.InstanceID, o.PizzaType, o.Size,
			o.Customer.Name, o.Customer.Address, o.Customer.Phone,
			o.Stage.String(), o.LastError, o.Paused, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert order: %w", err)
		}

		return r.syncHistoryTx(ctx, tx, o)
	})
	if err != nil {
		r.logger.Error("Failed to save instance", zap.String("order_id", o.OrderID), zap.Error(err))
		return err
	}
	return nil
}

// Load retrieves an instance and its history by order ID
func (r *InstanceRepository) Load(ctx context.Context, orderID string) (*order.Order, error) {
	var o *order.Order
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		loaded, err := r.loadTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		o = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
	}
	return o, nil
}

// Delete removes an instance record, its history, and its pending events
func (r *InstanceRepository) Delete(ctx context.Context, orderID string) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_pending_events WHERE order_id = ?", orderID); err != nil {
			return fmt.Errorf("failed to delete pending events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_history WHERE order_id = ?", orderID); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE order_id = ?", orderID)
		if err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", order.ErrNotFound, orderID)
		}
		return nil
	})
}

// ListActive returns all instances that have not reached a terminal stage
func (r *InstanceRepository) ListActive(ctx context.Context) ([]*order.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+" FROM orders WHERE stage NOT IN (?, ?) ORDER BY created_at",
		order.StageCompleted.String(), order.StageFailed.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	defer rows.Close()

	var active []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range active {
		history, err := r.loadHistory(ctx, r.db.DB, o.OrderID)
		if err != nil {
			return nil, err
		}
		o.History = history
	}
	return active, nil
}

// AppendPending durably buffers one inbound event for a paused instance
func (r *InstanceRepository) AppendPending(ctx context.Context, orderID string, env *event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal pending event: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO order_pending_events (order_id, payload, created_at) VALUES (?, ?, ?)",
		orderID, string(payload), time.Now(),
	); err != nil {
		return fmt.Errorf("failed to append pending event: %w", err)
	}
	return nil
}

// TakePending removes and returns the buffered events in arrival order
func (r *InstanceRepository) TakePending(ctx context.Context, orderID string) ([]*event.Envelope, error) {
	var envelopes []*event.Envelope
	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT payload FROM order_pending_events WHERE order_id = ? ORDER BY id", orderID)
		if err != nil {
			return fmt.Errorf("failed to load pending events: %w", err)
		}

		var payloads []string
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return err
			}
			payloads = append(payloads, payload)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, payload := range payloads {
			var env event.Envelope
			if err := json.Unmarshal([]byte(payload), &env); err != nil {
				return fmt.Errorf("failed to decode pending event: %w", err)
			}
			envelopes = append(envelopes, &env)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM order_pending_events WHERE order_id = ?", orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

const selectColumns = `SELECT order_id, instance_id, pizza_type, size,
	customer_name, customer_address, customer_phone,
	stage, last_error, paused, created_at, updated_at`

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	var stage string
	if err := row.Scan(
		&o.OrderID, &o.InstanceID, &o.PizzaType, &o.Size,
		&o.Customer.Name, &o.Customer.Address, &o.Customer.Phone,
		&stage, &o.LastError, &o.Paused, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Stage = order.Stage(stage)
	return &o, nil
}

// loadTx loads an order within a transaction, returning nil when absent
func (r *InstanceRepository) loadTx(ctx context.Context, tx *sql.Tx, orderID string) (*order.Order, error) {
	row := tx.QueryRowContext(ctx, selectColumns+" FROM orders WHERE order_id = ?", orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	history, err := r.loadHistory(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	o.History = history
	return o, nil
}

// queryer covers *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *InstanceRepository) loadHistory(ctx context.Context, q queryer, orderID string) ([]order.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT stage, timestamp FROM order_history WHERE order_id = ? ORDER BY id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var history []order.HistoryEntry
	for rows.Next() {
		var entry order.HistoryEntry
		var stage string
		if err := rows.Scan(&stage, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Stage = order.Stage(stage)
		history = append(history, entry)
	}
	return history, rows.Err()
}

// syncHistoryTx appends the history entries not yet persisted. A shorter
// incoming history means the instance started a fresh run, so the old trail
// is replaced wholesale.
func (r *InstanceRepository) syncHistoryTx(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM order_history WHERE order_id = ?", o.OrderID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}

	start := count
	if count > len(o.History) {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM order_history WHERE order_id = ?", o.OrderID); err != nil {
			return fmt.Errorf("failed to reset history: %w", err)
		}
		start = 0
	}

	for _, entry := range o.History[start:] {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_history (order_id, stage, timestamp) VALUES (?, ?, ?)",
			o.OrderID, entry.Stage.String(), entry.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
	}
	return nil
}

// mergeBusinessFields fills business fields the incoming record omits from
// the existing one. Later updates may carry only the fields their stage is
// authoritative for.
func mergeBusinessFields(dst, existing *order.Order) {
	if dst.PizzaType == "" {
		dst.PizzaType = existing.PizzaType
	}
	if dst.Size == "" {
		dst.Size = existing.Size
	}
	if dst.Customer.Name == "" {
		dst.Customer.Name = existing.Customer.Name
	}
	if dst.Customer.Address == "" {
		dst.Customer.Address = existing.Customer.Address
	}
	if dst.Customer.Phone == "" {
		dst.Customer.Phone = existing.Customer.Phone
	}
	if dst.CreatedAt.IsZero() {
		dst.CreatedAt = existing.CreatedAt
	}
}
