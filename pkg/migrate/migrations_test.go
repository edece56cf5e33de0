package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/fanvault-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.Validate(migrate.Embedded()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(onDisk) != len(embedded) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestTransactionsMigrationHasIdempotencyIndex(t *testing.T) {
	assertContains(t, readMigration(t, "create_transactions_table"), []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"provider_transaction_id text NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_provider_txn ON transactions (provider_transaction_id)",
		"refund_metadata jsonb",
	})
}

func TestSubscriptionsMigrationHasActivePairIndex(t *testing.T) {
	assertContains(t, readMigration(t, "create_subscriptions_table"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_active_pair",
		"WHERE status = 'active'",
		"CHECK (fan_id <> creator_id)",
		"last_transaction_id uuid NULL",
	})
}

func TestEntitlementsMigrationIsUniquePerUserContentType(t *testing.T) {
	assertContains(t, readMigration(t, "create_entitlements_table"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_entitlements_user_content_type",
		"COALESCE(content_id, '00000000-0000-0000-0000-000000000000'::uuid), type",
	})
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_ledger_entries_table"), []string{
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"BEFORE UPDATE OR DELETE ON ledger_entries",
		"RAISE EXCEPTION 'ledger_entries is append-only'",
		"ux_ledger_entries_txn_type",
	})
}

func TestPayoutsAndFailuresMigrations(t *testing.T) {
	assertContains(t, readMigration(t, "create_payouts_table"), []string{
		"amount_cents bigint NOT NULL CHECK (amount_cents > 0)",
		"status payout_status NOT NULL DEFAULT 'pending'",
	})
	assertContains(t, readMigration(t, "create_webhook_failures_table"), []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_failures_event ON webhook_failures (provider, event_id)",
		"WHERE resolved_at IS NULL",
	})
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
