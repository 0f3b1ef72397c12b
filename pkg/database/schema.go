package database

import (
	"fmt"

	"go.uber.org/zap"
)

// schema holds the DDL applied at startup. Statements are idempotent so the
// schema can be re-applied on every boot.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		pizza_type TEXT NOT NULL,
		size TEXT NOT NULL,
		customer_name TEXT NOT NULL,
		customer_address TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		paused INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_stage ON orders(stage);`,
	`CREATE TABLE IF NOT EXISTS order_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(order_id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_order_history_order_id ON order_history(order_id);`,
	`CREATE TABLE IF NOT EXISTS order_pending_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_order_pending_events_order_id ON order_pending_events(order_id);`,
}

// ApplySchema creates the orchestrator tables if they do not exist
func (db *DB) ApplySchema() error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	db.logger.Info("Database schema applied", zap.Int("statements", len(schema)))
	return nil
}
