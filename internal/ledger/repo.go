package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Repository manages persistence for ledger entries. It exposes no update or
// delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	Summarize(ctx context.Context, creatorID uuid.UUID) (SummaryRow, error)
	List(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error)
	FindByTransaction(ctx context.Context, transactionID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error)
	ListUnledgeredTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

// SummaryRow is the raw aggregate over one creator's entries.
type SummaryRow struct {
	EarningsNet   int64
	RefundNet     int64
	PayoutNet     int64
	AdjustmentNet int64
	GrossVolume   int64
	PlatformFees  int64
	EntryCount    int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

const summarizeSQL = `
SELECT
  COALESCE(SUM(CASE WHEN entry_type = 'earnings' THEN net_cents ELSE 0 END), 0) AS earnings_net,
  COALESCE(SUM(CASE WHEN entry_type = 'refund' THEN net_cents ELSE 0 END), 0) AS refund_net,
  COALESCE(SUM(CASE WHEN entry_type = 'payout' THEN net_cents ELSE 0 END), 0) AS payout_net,
  COALESCE(SUM(CASE WHEN entry_type = 'adjustment' THEN net_cents ELSE 0 END), 0) AS adjustment_net,
  COALESCE(SUM(CASE WHEN entry_type = 'earnings' THEN gross_cents ELSE 0 END), 0) AS gross_volume,
  COALESCE(SUM(CASE WHEN entry_type IN ('earnings', 'refund') THEN platform_fee_cents ELSE 0 END), 0) AS platform_fees,
  COUNT(*) AS entry_count
FROM ledger_entries
WHERE creator_id = ?`

func (r *repository) Summarize(ctx context.Context, creatorID uuid.UUID) (SummaryRow, error) {
	var row SummaryRow
	err := r.db.WithContext(ctx).Raw(summarizeSQL, creatorID).Scan(&row).Error
	return row, err
}

func (r *repository) List(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) FindByTransaction(ctx context.Context, transactionID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND entry_type = ?", transactionID, entryType).
		Take(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListUnledgeredTransactions returns completed creator transactions that have
// no earnings entry. Refunded rows are included since they were completed first.
func (r *repository) ListUnledgeredTransactions(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("transactions.status IN ?", []enums.TransactionStatus{enums.TransactionStatusCompleted, enums.TransactionStatusRefunded}).
		Where("transactions.creator_id IS NOT NULL").
		Where("transactions.updated_at < ?", olderThan).
		Where("NOT EXISTS (SELECT 1 FROM ledger_entries le WHERE le.transaction_id = transactions.id AND le.entry_type = ?)", enums.LedgerEntryTypeEarnings).
		Order("transactions.created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}
