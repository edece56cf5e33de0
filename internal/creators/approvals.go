// Package creators exposes the KYC gate maintained by the verification workflow.
package creators

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

// Approvals answers whether a creator may take on paying subscribers.
type Approvals interface {
	IsCreatorApproved(ctx context.Context, creatorID uuid.UUID) (bool, error)
}

type profileApprovals struct {
	db *gorm.DB
}

// NewApprovals reads creator_profiles.kyc_status.
func NewApprovals(db *gorm.DB) Approvals {
	return &profileApprovals{db: db}
}

func (a *profileApprovals) IsCreatorApproved(ctx context.Context, creatorID uuid.UUID) (bool, error) {
	var profile models.CreatorProfile
	err := a.db.WithContext(ctx).Where("user_id = ?", creatorID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load creator profile")
	}
	return profile.KYCStatus == enums.KYCStatusApproved, nil
}

// AllowAll skips the gate; used when FANVAULT_REQUIRE_CREATOR_KYC is off.
type AllowAll struct{}

func (AllowAll) IsCreatorApproved(context.Context, uuid.UUID) (bool, error) {
	return true, nil
}
