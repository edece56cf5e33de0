package ledger

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/money"
	"github.com/angelmondragon/fanvault-backend/pkg/pagination"
)

// Service records money movement and derives creator balances from it.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Append(ctx context.Context, input AppendInput) (*models.LedgerEntry, error)
	AppendReversal(ctx context.Context, input ReversalInput) (*models.LedgerEntry, error)
	Summarize(ctx context.Context, creatorID uuid.UUID) (*Summary, error)
	List(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error)
	EarningsFor(ctx context.Context, transactionID uuid.UUID) (*models.LedgerEntry, error)
}

// AppendInput describes a new entry. GrossCents is signed for payouts and
// adjustments; earnings must be non-negative.
type AppendInput struct {
	CreatorID     uuid.UUID
	GrossCents    int64
	Type          enums.LedgerEntryType
	TransactionID *uuid.UUID
	PayoutID      *uuid.UUID
	Description   string
}

// ReversalInput identifies the earnings being reversed by a chargeback.
type ReversalInput struct {
	CreatorID     uuid.UUID
	TransactionID uuid.UUID
	GrossCents    int64
	Description   string
}

// Summary is a creator's balance derived from the full entry set.
type Summary struct {
	CreatorID uuid.UUID `json:"creator_id"`
	// TotalEarnings is net earnings after chargeback reversals.
	TotalEarnings    int64 `json:"total_earnings_cents"`
	TotalRefunds     int64 `json:"total_refunds_cents"`
	TotalPayouts     int64 `json:"total_payouts_cents"`
	TotalAdjustments int64 `json:"total_adjustments_cents"`
	PendingBalance   int64 `json:"pending_balance_cents"`
	GrossVolume      int64 `json:"gross_volume_cents"`
	PlatformFees     int64 `json:"platform_fees_cents"`
	EntryCount       int64 `json:"entry_count"`
}

type ServiceParams struct {
	Repo Repository
	Now  func() time.Time
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: params.Repo, now: now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), now: s.now}
}

func (s *service) Append(ctx context.Context, input AppendInput) (*models.LedgerEntry, error) {
	if input.CreatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}

	entry := &models.LedgerEntry{
		CreatorID:     input.CreatorID,
		TransactionID: input.TransactionID,
		PayoutID:      input.PayoutID,
		Type:          input.Type,
		Description:   optionalString(input.Description),
		CreatedAt:     s.now(),
	}

	switch input.Type {
	case enums.LedgerEntryTypeEarnings:
		fee, net, err := money.Split(input.GrossCents)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "earnings gross must not be negative")
		}
		entry.GrossCents, entry.PlatformFeeCents, entry.NetCents = input.GrossCents, fee, net
	case enums.LedgerEntryTypePayout:
		if input.GrossCents >= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout entries debit the balance and must be negative")
		}
		entry.GrossCents, entry.NetCents = input.GrossCents, input.GrossCents
	case enums.LedgerEntryTypeAdjustment:
		if input.GrossCents == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
		}
		entry.GrossCents, entry.NetCents = input.GrossCents, input.GrossCents
	case enums.LedgerEntryTypeRefund:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund entries are written by AppendReversal")
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid ledger entry type %q", input.Type)
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, mapCreateError(err)
	}
	return entry, nil
}

// AppendReversal writes a refund entry that negates every amount of the
// earnings entry the same gross produced, so the creator loses exactly the net
// they were credited and the platform returns its fee.
func (s *service) AppendReversal(ctx context.Context, input ReversalInput) (*models.LedgerEntry, error) {
	if input.CreatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	if input.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required for a reversal")
	}
	fee, net, err := money.Split(input.GrossCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "reversal gross must not be negative")
	}

	txID := input.TransactionID
	entry := &models.LedgerEntry{
		CreatorID:        input.CreatorID,
		TransactionID:    &txID,
		Type:             enums.LedgerEntryTypeRefund,
		GrossCents:       -input.GrossCents,
		PlatformFeeCents: -fee,
		NetCents:         -net,
		Description:      optionalString(input.Description),
		CreatedAt:        s.now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, mapCreateError(err)
	}
	return entry, nil
}

func (s *service) Summarize(ctx context.Context, creatorID uuid.UUID) (*Summary, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	row, err := s.repo.Summarize(ctx, creatorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summarize ledger")
	}
	return buildSummary(creatorID, row), nil
}

func buildSummary(creatorID uuid.UUID, row SummaryRow) *Summary {
	totalEarnings := row.EarningsNet + row.RefundNet
	totalPayouts := -row.PayoutNet
	return &Summary{
		CreatorID:        creatorID,
		TotalEarnings:    totalEarnings,
		TotalRefunds:     -row.RefundNet,
		TotalPayouts:     totalPayouts,
		TotalAdjustments: row.AdjustmentNet,
		PendingBalance:   totalEarnings - totalPayouts + row.AdjustmentNet,
		GrossVolume:      row.GrossVolume,
		PlatformFees:     row.PlatformFees,
		EntryCount:       row.EntryCount,
	}
}

func (s *service) List(ctx context.Context, creatorID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error) {
	if creatorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "creator id is required")
	}
	params = params.Normalize()
	entries, err := s.repo.List(ctx, creatorID, params.Limit, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

// EarningsFor returns the earnings entry recorded for a transaction, or nil.
func (s *service) EarningsFor(ctx context.Context, transactionID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindByTransaction(ctx, transactionID, enums.LedgerEntryTypeEarnings)
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earnings entry")
	}
	return entry, nil
}

func mapCreateError(err error) error {
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger entry already recorded")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
