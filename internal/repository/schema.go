package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - таблицы архива; создаются при старте, если их нет
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pool_snapshots (
		pool_address VARCHAR(42) PRIMARY KEY,
		block_number BIGINT NOT NULL,
		transaction_index INT NOT NULL DEFAULT 0,
		log_index INT NOT NULL DEFAULT 0,
		data JSONB NOT NULL,
		updated_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS position_snapshots (
		position_id VARCHAR(128) PRIMARY KEY,
		instrument_id VARCHAR(128) NOT NULL,
		snapshot_count INT NOT NULL DEFAULT 0,
		data BYTEA NOT NULL,
		updated_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_position_snapshots_instrument ON position_snapshots (instrument_id)`,
	`CREATE TABLE IF NOT EXISTS account_states (
		id BIGSERIAL PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) UNIQUE NOT NULL,
		ts_event BIGINT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_account_states_account ON account_states (account_id, ts_event DESC)`,
}

// Migrate создает таблицы архива в одной транзакции
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
