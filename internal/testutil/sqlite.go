// Package testutil opens throwaway sqlite databases shaped like the Postgres
// schema so repositories can be exercised without a server.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/fanvault-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE creator_profiles (
		user_id TEXT PRIMARY KEY,
		kyc_status TEXT NOT NULL DEFAULT 'pending',
		updated_at DATETIME
	)`,
	`CREATE TABLE content_items (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		visibility TEXT NOT NULL,
		price_cents INTEGER NOT NULL DEFAULT 0,
		is_disabled BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE transactions (
		id TEXT PRIMARY KEY,
		payer_id TEXT NOT NULL,
		creator_id TEXT,
		subscription_id TEXT,
		content_id TEXT,
		gross_cents INTEGER NOT NULL CHECK (gross_cents >= 0),
		currency TEXT NOT NULL DEFAULT 'usd',
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		provider TEXT NOT NULL,
		provider_transaction_id TEXT NOT NULL,
		failure_reason TEXT,
		refunded_at DATETIME,
		refund_metadata TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_transactions_provider_txn ON transactions (provider_transaction_id)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		fan_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		tier_name TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		status TEXT NOT NULL DEFAULT 'pending',
		started_at DATETIME,
		expires_at DATETIME,
		canceled_at DATETIME,
		cancel_reason TEXT,
		auto_renew BOOLEAN NOT NULL DEFAULT 1,
		last_transaction_id TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		CHECK (fan_id <> creator_id)
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_active_pair ON subscriptions (fan_id, creator_id) WHERE status = 'active'`,
	`CREATE TABLE entitlements (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content_id TEXT,
		creator_id TEXT NOT NULL,
		type TEXT NOT NULL,
		subscription_id TEXT,
		transaction_id TEXT,
		granted_at DATETIME NOT NULL,
		expires_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_entitlements_user_content_type ON entitlements (user_id, COALESCE(content_id, '00000000-0000-0000-0000-000000000000'), type)`,
	`CREATE TABLE ledger_entries (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		transaction_id TEXT,
		payout_id TEXT,
		entry_type TEXT NOT NULL,
		gross_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		net_cents INTEGER NOT NULL,
		description TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_ledger_entries_txn_type ON ledger_entries (transaction_id, entry_type) WHERE transaction_id IS NOT NULL`,
	`CREATE UNIQUE INDEX ux_ledger_entries_payout ON ledger_entries (payout_id) WHERE payout_id IS NOT NULL`,
	`CREATE TRIGGER trg_ledger_entries_no_update BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END`,
	`CREATE TRIGGER trg_ledger_entries_no_delete BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END`,
	`CREATE TABLE payouts (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		status TEXT NOT NULL DEFAULT 'pending',
		method TEXT NOT NULL,
		method_details TEXT,
		admin_notes TEXT,
		processed_by TEXT,
		processed_at DATETIME,
		failure_reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE webhook_failures (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		provider_transaction_id TEXT,
		payload TEXT,
		raw_payload TEXT NOT NULL,
		error_message TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 1,
		resolved_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_webhook_failures_event ON webhook_failures (provider, event_id)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at DATETIME,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// OpenSQLite returns a private in-memory database with the full schema. The
// pool is pinned to one connection, so code under test must route every
// query inside a transaction through the tx handle.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

// OpenClient wraps OpenSQLite in a db.Client for services that own transactions.
func OpenClient(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := OpenSQLite(t)
	return db.NewFromConn(conn), conn
}
