// Package transactions stores payment attempts keyed by provider transaction id.
package transactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, txn *models.Transaction) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProviderID(ctx context.Context, providerTransactionID string) (*models.Transaction, error)
	FindByProviderIDForUpdate(ctx context.Context, providerTransactionID string) (*models.Transaction, error)
	Save(ctx context.Context, txn *models.Transaction) error
	ListByCreator(ctx context.Context, creatorID uuid.UUID, since time.Time, limit int) ([]models.Transaction, error)
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

// InsertIfAbsent reports false when provider_transaction_id is already taken.
func (r *repository) InsertIfAbsent(ctx context.Context, txn *models.Transaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_transaction_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByProviderID(ctx context.Context, providerTransactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider_transaction_id = ?", providerTransactionID).
		Take(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByProviderIDForUpdate(ctx context.Context, providerTransactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("provider_transaction_id = ?", providerTransactionID).
		Take(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) Save(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) ListByCreator(ctx context.Context, creatorID uuid.UUID, since time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("creator_id = ? AND created_at >= ?", creatorID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
