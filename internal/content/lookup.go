package content

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

// Visibility is what access decisions need to know about a content item.
type Visibility struct {
	ContentID  uuid.UUID
	CreatorID  uuid.UUID
	Kind       enums.ContentVisibility
	PriceCents int64
	IsDisabled bool
}

// Lookup resolves content visibility.
type Lookup interface {
	WithTx(tx *gorm.DB) Lookup
	GetContentVisibility(ctx context.Context, contentID uuid.UUID) (*Visibility, error)
}

type lookup struct {
	repo Repository
}

func NewLookup(repo Repository) (Lookup, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "content repository required")
	}
	return &lookup{repo: repo}, nil
}

func (l *lookup) WithTx(tx *gorm.DB) Lookup {
	if tx == nil {
		return l
	}
	return &lookup{repo: l.repo.WithTx(tx)}
}

func (l *lookup) GetContentVisibility(ctx context.Context, contentID uuid.UUID) (*Visibility, error) {
	if contentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "content id is required")
	}
	item, err := l.repo.FindByID(ctx, contentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "content not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load content")
	}
	return &Visibility{
		ContentID:  item.ID,
		CreatorID:  item.CreatorID,
		Kind:       item.Visibility,
		PriceCents: item.PriceCents,
		IsDisabled: item.IsDisabled,
	}, nil
}
