package entitlements

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

// Repository persists entitlement grants. Rows are inserted once and never
// mutated.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, grant *models.Entitlement) (bool, error)
	FindExisting(ctx context.Context, userID uuid.UUID, contentID *uuid.UUID, entType enums.EntitlementType) (*models.Entitlement, error)
	HasActive(ctx context.Context, userID, contentID, creatorID uuid.UUID, now time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Entitlement, error)
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

// InsertIfAbsent relies on the (user, content, type) unique index; a false
// result means another grant already holds the slot.
func (r *repository) InsertIfAbsent(ctx context.Context, grant *models.Entitlement) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindExisting(ctx context.Context, userID uuid.UUID, contentID *uuid.UUID, entType enums.EntitlementType) (*models.Entitlement, error) {
	query := r.db.WithContext(ctx).Where("user_id = ? AND type = ?", userID, entType)
	if contentID == nil {
		query = query.Where("content_id IS NULL")
	} else {
		query = query.Where("content_id = ?", *contentID)
	}
	var grant models.Entitlement
	if err := query.Take(&grant).Error; err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repository) HasActive(ctx context.Context, userID, contentID, creatorID uuid.UUID, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Entitlement{}).
		Where("user_id = ?", userID).
		Where("(content_id = ? OR (content_id IS NULL AND creator_id = ?))", contentID, creatorID).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Entitlement, error) {
	var grants []models.Entitlement
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&grants).Error
	return grants, err
}
