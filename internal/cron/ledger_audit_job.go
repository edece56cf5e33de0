package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

const (
	defaultAuditBatch = 200
	// Transactions younger than this may still be inside a reconciliation.
	auditGracePeriod = 10 * time.Minute
)

type unledgeredLister interface {
	ListUnledgeredTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type LedgerAuditJobParams struct {
	Logger    *logger.Logger
	Ledger    unledgeredLister
	BatchSize int
}

func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultAuditBatch
	}
	return &ledgerAuditJob{
		logg:   params.Logger,
		ledger: params.Ledger,
		batch:  batch,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type ledgerAuditJob struct {
	logg   *logger.Logger
	ledger unledgeredLister
	batch  int
	now    func() time.Time
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

// Run reports settled creator transactions that have no earnings entry. It
// never writes: a gap means a bug or a manual edit and needs a human.
func (j *ledgerAuditJob) Run(ctx context.Context) error {
	txns, err := j.ledger.ListUnledgeredTransactions(ctx, j.now().Add(-auditGracePeriod), j.batch)
	if err != nil {
		return fmt.Errorf("ledger audit: %w", err)
	}
	for _, txn := range txns {
		fields := map[string]any{
			"transaction_id":          txn.ID.String(),
			"provider_transaction_id": txn.ProviderTransactionID,
			"status":                  string(txn.Status),
			"gross_cents":             txn.GrossCents,
		}
		if txn.CreatorID != nil {
			fields["creator_id"] = txn.CreatorID.String()
		}
		j.logg.Warn(j.logg.WithFields(ctx, fields), "settled transaction has no earnings entry")
	}
	j.logg.Info(j.logg.WithField(ctx, "gaps", len(txns)), "ledger audit complete")
	return nil
}
