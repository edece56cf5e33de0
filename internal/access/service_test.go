package access

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/content"
	"github.com/angelmondragon/fanvault-backend/internal/creators"
	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/internal/testutil"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	access Service
	ents   entitlements.Service
	subs   subscriptions.Service
	conn   *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := testutil.OpenClient(t)
	clock := func() time.Time { return now }

	lookup, err := content.NewLookup(content.NewRepository(conn))
	require.NoError(t, err)
	ents, err := entitlements.NewService(entitlements.ServiceParams{Repo: entitlements.NewRepository(conn), Now: clock})
	require.NoError(t, err)
	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		Approvals:         creators.AllowAll{},
		TransactionRunner: client,
		Now:               clock,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Content: lookup, Entitlements: ents, Subscriptions: subs, Now: clock})
	require.NoError(t, err)
	return &harness{access: svc, ents: ents, subs: subs, conn: conn}
}

func (h *harness) addContent(t *testing.T, creatorID uuid.UUID, kind enums.ContentVisibility, disabled bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, h.conn.Exec(
		"INSERT INTO content_items (id, creator_id, visibility, price_cents, is_disabled, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, creatorID, kind, 500, disabled, now,
	).Error)
	return id
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestDecideRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()

	free := h.addContent(t, creator, enums.ContentVisibilityFree, false)
	disabled := h.addContent(t, creator, enums.ContentVisibilityFree, true)
	ppv := h.addContent(t, creator, enums.ContentVisibilityPPV, false)

	tests := []struct {
		name    string
		user    *uuid.UUID
		content uuid.UUID
		allowed bool
		reason  Reason
	}{
		{"free for anonymous", nil, free, true, ReasonFree},
		{"disabled beats free", &fan, disabled, false, ReasonContentDisabled},
		{"disabled for owner", &creator, disabled, false, ReasonContentDisabled},
		{"owner sees ppv", &creator, ppv, true, ReasonOwner},
		{"fan without purchase", &fan, ppv, false, ReasonNoEntitlement},
		{"anonymous on ppv", nil, ppv, false, ReasonNoEntitlement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := h.access.Decide(ctx, tt.user, tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestPPVEntitlementGrantsAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	ppv := h.addContent(t, creator, enums.ContentVisibilityPPV, false)

	_, _, err := h.ents.Grant(ctx, entitlements.GrantInput{UserID: fan, ContentID: &ppv, CreatorID: creator, Type: enums.EntitlementTypePPVPurchase})
	require.NoError(t, err)

	d, err := h.access.Decide(ctx, &fan, ppv)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonEntitlement, d.Reason)
}

func TestExpiredEntitlementDenies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	ppv := h.addContent(t, creator, enums.ContentVisibilityPPV, false)
	past := now.Add(-time.Hour)

	_, _, err := h.ents.Grant(ctx, entitlements.GrantInput{UserID: fan, ContentID: &ppv, CreatorID: creator, Type: enums.EntitlementTypePPVPurchase, ExpiresAt: &past})
	require.NoError(t, err)

	ok, err := h.access.HasAccess(ctx, &fan, ppv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriptionDoesNotUnlockPPV(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	ppv := h.addContent(t, creator, enums.ContentVisibilityPPV, false)

	_, err := h.subs.CreateActive(ctx, subscriptions.CreateInput{FanID: fan, CreatorID: creator, TierName: "gold", PriceCents: 999}, subscriptions.ActivateInput{Now: now})
	require.NoError(t, err)

	ok, err := h.access.HasAccess(ctx, &fan, ppv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriberContentFollowsSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	post := h.addContent(t, creator, enums.ContentVisibilitySubscriber, false)

	ok, err := h.access.HasAccess(ctx, &fan, post)
	require.NoError(t, err)
	require.False(t, ok)

	sub, err := h.subs.Create(ctx, subscriptions.CreateInput{FanID: fan, CreatorID: creator, TierName: "gold", PriceCents: 999})
	require.NoError(t, err)
	ok, err = h.access.HasAccess(ctx, &fan, post)
	require.NoError(t, err)
	require.False(t, ok, "pending subscription must not unlock content")

	_, err = h.subs.Activate(ctx, subscriptions.ActivateInput{SubscriptionID: sub.ID, Now: now})
	require.NoError(t, err)

	d, err := h.access.Decide(ctx, &fan, post)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonSubscription, d.Reason)

	_, err = h.subs.Cancel(ctx, subscriptions.CancelInput{SubscriptionID: sub.ID, Now: now})
	require.NoError(t, err)
	ok, err = h.access.HasAccess(ctx, &fan, post)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatorWideEntitlementUnlocksSubscriberContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	post := h.addContent(t, creator, enums.ContentVisibilitySubscriber, false)

	_, _, err := h.ents.Grant(ctx, entitlements.GrantInput{UserID: fan, CreatorID: creator, Type: enums.EntitlementTypeFree})
	require.NoError(t, err)

	d, err := h.access.Decide(ctx, &fan, post)
	require.NoError(t, err)
	assert.Equal(t, ReasonEntitlement, d.Reason)
}

func TestDecideMissingContent(t *testing.T) {
	h := newHarness(t)
	fan := uuid.New()

	_, err := h.access.Decide(context.Background(), &fan, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestWithTxSeesUncommittedGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator, fan := uuid.New(), uuid.New()
	ppv := h.addContent(t, creator, enums.ContentVisibilityPPV, false)

	err := h.conn.Transaction(func(tx *gorm.DB) error {
		_, _, err := h.ents.WithTx(tx).Grant(ctx, entitlements.GrantInput{UserID: fan, ContentID: &ppv, CreatorID: creator, Type: enums.EntitlementTypePPVPurchase})
		require.NoError(t, err)
		ok, err := h.access.WithTx(tx).HasAccess(ctx, &fan, ppv)
		require.NoError(t, err)
		assert.True(t, ok)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	ok, err := h.access.HasAccess(ctx, &fan, ppv)
	require.NoError(t, err)
	assert.False(t, ok)
}
