package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fanvault-backend/pkg/enums"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	fan := uuid.New()

	envelope, err := NewEnvelope(DomainEvent{
		EventType: enums.EventPaymentCompleted,
		Actor:     &ActorRef{UserID: fan, Role: string(enums.UserRoleFan)},
		Data:      map[string]int{"gross_cents": 999},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, CurrentEnvelopeVersion, envelope.Version)
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())
	assert.True(t, envelope.OccurredAt.Equal(now))
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, fan, envelope.Actor.UserID)
	assert.JSONEq(t, `{"gross_cents":999}`, string(envelope.Data))
}

func TestNewEnvelopeRejectsNilData(t *testing.T) {
	_, err := NewEnvelope(DomainEvent{EventType: enums.EventPayoutRequested}, time.Now())
	assert.True(t, errors.Is(err, ErrEnvelopeMissingData))
}

func TestDecodeEnvelope(t *testing.T) {
	envelope, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"e1","occurredAt":"2026-05-01T12:00:00Z","data":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", envelope.EventID)

	_, err = DecodeEnvelope([]byte(`{"version":2,"data":{"a":1}}`))
	assert.True(t, errors.Is(err, ErrEnvelopeVersionAhead))

	_, err = DecodeEnvelope([]byte(`{"version":1,"data":null}`))
	assert.True(t, errors.Is(err, ErrEnvelopeMissingData))

	_, err = DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
