// Package payouts implements creator withdrawal requests and the admin
// decisions that settle them against the ledger.
package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	Save(ctx context.Context, payout *models.Payout) error
	SumOpen(ctx context.Context, creatorID uuid.UUID) (int64, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.Payout, error)
	ListByStatus(ctx context.Context, status *enums.PayoutStatus, limit, offset int) ([]models.Payout, error)
	// LockCreator serializes payout requests for one creator until the
	// surrounding transaction ends.
	LockCreator(ctx context.Context, creatorID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) Save(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Save(payout).Error
}

// SumOpen totals the amounts still reserved by pending or processing payouts.
func (r *repository) SumOpen(ctx context.Context, creatorID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("creator_id = ? AND status IN ?", creatorID, []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// ListByStatus returns the admin queue oldest first so requests are handled in order.
func (r *repository) ListByStatus(ctx context.Context, status *enums.PayoutStatus, limit, offset int) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.Payout
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, err
}

func (r *repository) LockCreator(ctx context.Context, creatorID uuid.UUID) error {
	return db.AdvisoryXactLock(r.db.WithContext(ctx), "payouts:"+creatorID.String())
}
