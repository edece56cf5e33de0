// Package notifications hands user-facing notices to the delivery service
// through the outbox. Templating and delivery live elsewhere.
package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/payloads"
)

// Notification is a single notice for one user.
type Notification struct {
	UserID  uuid.UUID
	Type    enums.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Notifier is fire-and-forget from the caller's point of view: callers log
// the error and move on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type outboxNotifier struct {
	tx     txRunner
	outbox emitter
}

// NewOutboxNotifier queues notification_requested events.
func NewOutboxNotifier(tx txRunner, out emitter) (Notifier, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if out == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	return &outboxNotifier{tx: tx, outbox: out}, nil
}

func (n *outboxNotifier) Notify(ctx context.Context, note Notification) error {
	if note.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification user id required")
	}
	if !note.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid notification type %q", note.Type)
	}
	return n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   uuid.New(),
			Data: payloads.NotificationRequestedEvent{
				UserID:  note.UserID,
				Type:    note.Type,
				Title:   note.Title,
				Message: note.Message,
				Data:    note.Data,
			},
		})
	})
}

// Send delivers through notifier and logs failures instead of returning them.
func Send(ctx context.Context, notifier Notifier, logg *logger.Logger, note Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, note); err != nil && logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"notification_type": note.Type,
			"user_id":           note.UserID.String(),
			"error":             err.Error(),
		})
		logg.Warn(logCtx, "notification dropped")
	}
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }
