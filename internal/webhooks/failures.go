package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

// malformedPrefix keys failures for bodies that never became an event. The
// body hash keeps distinct deliveries apart while a provider retry of the same
// body bumps the existing row.
const malformedPrefix = "malformed:"

func malformedEventID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return malformedPrefix + hex.EncodeToString(sum[:16])
}

// FailureRepository stores verified deliveries whose processing failed.
type FailureRepository interface {
	Record(ctx context.Context, event reconciler.PaymentEvent, raw []byte, cause error) (*models.WebhookFailure, error)
	ListUnresolved(ctx context.Context, maxAttempts, limit, offset int) ([]models.WebhookFailure, error)
	MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAttempted(ctx context.Context, id uuid.UUID, cause error) error
}

type failureRepository struct {
	db *gorm.DB
}

func NewFailureRepository(db *gorm.DB) FailureRepository {
	return &failureRepository{db: db}
}

// Record upserts on (provider, event_id): a repeated failure bumps
// attempt_count and reopens the row.
func (r *failureRepository) Record(ctx context.Context, event reconciler.PaymentEvent, raw []byte, cause error) (*models.WebhookFailure, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	row := &models.WebhookFailure{
		Provider:     event.Provider,
		EventID:      event.EventID,
		EventType:    string(event.Type),
		Payload:      datatypes.JSON(payload),
		RawPayload:   string(raw),
		ErrorMessage: errorMessage(cause),
		AttemptCount: 1,
	}
	if event.ProviderTransactionID != "" {
		ptid := event.ProviderTransactionID
		row.ProviderTransactionID = &ptid
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempt_count": gorm.Expr("webhook_failures.attempt_count + 1"),
				"error_message": row.ErrorMessage,
				"payload":       row.Payload,
				"resolved_at":   nil,
				"updated_at":    time.Now().UTC(),
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *failureRepository) ListUnresolved(ctx context.Context, maxAttempts, limit, offset int) ([]models.WebhookFailure, error) {
	query := r.db.WithContext(ctx).Where("resolved_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.WebhookFailure
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, err
}

func (r *failureRepository) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookFailure{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved_at": at, "updated_at": at}).Error
}

func (r *failureRepository) MarkAttempted(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookFailure{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"error_message": errorMessage(cause),
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DecodeEvent restores the normalized event stored with a failure. Malformed
// deliveries have nothing to restore.
func DecodeEvent(row models.WebhookFailure) (reconciler.PaymentEvent, error) {
	if strings.HasPrefix(row.EventID, malformedPrefix) {
		return reconciler.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "delivery could not be normalized")
	}
	var event reconciler.PaymentEvent
	err := json.Unmarshal(row.Payload, &event)
	return event, err
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	return msg
}
