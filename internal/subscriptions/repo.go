package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Repository persists subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindActiveForPair(ctx context.Context, fanID, creatorID uuid.UUID) (*models.Subscription, error)
	FindActiveForPairForUpdate(ctx context.Context, fanID, creatorID uuid.UUID) (*models.Subscription, error)
	ListByFan(ctx context.Context, fanID uuid.UUID, limit, offset int) ([]models.Subscription, error)
	ListLapsedActive(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	MarkExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
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

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActiveForPair returns the row holding the active slot for the pair,
// whether or not its period has lapsed.
func (r *repository) FindActiveForPair(ctx context.Context, fanID, creatorID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("fan_id = ? AND creator_id = ? AND status = ?", fanID, creatorID, enums.SubscriptionStatusActive).
		Take(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindActiveForPairForUpdate(ctx context.Context, fanID, creatorID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("fan_id = ? AND creator_id = ? AND status = ?", fanID, creatorID, enums.SubscriptionStatusActive).
		Take(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByFan(ctx context.Context, fanID uuid.UUID, limit, offset int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("fan_id = ?", fanID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&subs).Error
	return subs, err
}

func (r *repository) ListLapsedActive(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.SubscriptionStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// MarkExpired flips still-active rows to expired; rows renewed in the
// meantime are skipped by the expires_at guard.
func (r *repository) MarkExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id IN ? AND status = ? AND expires_at <= ?", ids, enums.SubscriptionStatusActive, now).
		Updates(map[string]any{"status": enums.SubscriptionStatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}
