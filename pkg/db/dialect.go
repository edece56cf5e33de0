package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IsPostgres reports whether the handle talks to Postgres. Row locks and
// advisory locks are only issued there; sqlite serializes writers itself.
func IsPostgres(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && tx.Dialector.Name() == "postgres"
}

// ForUpdate adds SELECT ... FOR UPDATE when the dialect supports it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// AdvisoryXactLock takes a transaction-scoped advisory lock keyed by name.
func AdvisoryXactLock(tx *gorm.DB, name string) error {
	if !IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", name).Error
}
