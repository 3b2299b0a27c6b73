// Package migrations applies the relational schema for the ledger service.
// Statements are idempotent and executed in order on startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		privileged BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_name_lower_idx ON accounts (lower(name))`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		account_name TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL,
		balance_before BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		concept TEXT NOT NULL,
		type TEXT NOT NULL,
		privileged BOOLEAN NOT NULL DEFAULT FALSE,
		peer_account_id TEXT NOT NULL DEFAULT '',
		peer_account_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost BIGINT NOT NULL CHECK (cost > 0),
		category TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS redemptions (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		voucher_id TEXT NOT NULL,
		voucher_name TEXT NOT NULL,
		cost BIGINT NOT NULL,
		redeemed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (account_id, voucher_id)
	)`,
	`CREATE TABLE IF NOT EXISTS store_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost BIGINT NOT NULL CHECK (cost > 0),
		description TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= -1),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		account_name TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		cost BIGINT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS store_settings (
		id INTEGER PRIMARY KEY,
		self_service BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// Apply runs all schema statements against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Count returns the number of schema statements; exposed for tests.
func Count() int {
	return len(statements)
}
