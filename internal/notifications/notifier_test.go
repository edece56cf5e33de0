package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fanvault-backend/internal/testutil"
	"github.com/angelmondragon/fanvault-backend/pkg/db/models"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
)

func TestNotifyQueuesOutboxEvent(t *testing.T) {
	client, conn := testutil.OpenClient(t)
	notifier, err := NewOutboxNotifier(client, outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)
	userID := uuid.New()

	err = notifier.Notify(context.Background(), Notification{
		UserID:  userID,
		Type:    enums.NotificationTypeTipReceived,
		Title:   "New tip",
		Message: "You received $5.00",
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.Take(&row).Error)
	assert.Equal(t, enums.EventNotificationRequested, row.EventType)
	assert.Equal(t, enums.AggregateNotification, row.AggregateType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Contains(t, string(envelope.Data), userID.String())
	assert.Contains(t, string(envelope.Data), "tip_received")
}

func TestNotifyValidates(t *testing.T) {
	client, conn := testutil.OpenClient(t)
	notifier, err := NewOutboxNotifier(client, outbox.NewService(outbox.NewRepository(conn), nil))
	require.NoError(t, err)

	require.Error(t, notifier.Notify(context.Background(), Notification{Type: enums.NotificationTypeTipReceived}))
	require.Error(t, notifier.Notify(context.Background(), Notification{UserID: uuid.New(), Type: "unknown"}))
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("queue down")
}

func TestSendSwallowsErrors(t *testing.T) {
	f := &failingNotifier{}
	Send(context.Background(), f, nil, Notification{UserID: uuid.New(), Type: enums.NotificationTypePayoutCompleted})
	assert.Equal(t, 1, f.calls)

	Send(context.Background(), nil, nil, Notification{})
}
