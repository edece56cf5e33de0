package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/payloads"
)

const defaultExpiryBatch = 500

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Subscriptions subscriptions.Service
	Outbox        outboxEmitter
	BatchSize     int
}

func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &subscriptionExpiryJob{
		logg:   params.Logger,
		db:     params.DB,
		subs:   params.Subscriptions,
		outbox: params.Outbox,
		batch:  batch,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type subscriptionExpiryJob struct {
	logg   *logger.Logger
	db     txRunner
	subs   subscriptions.Service
	outbox outboxEmitter
	batch  int
	now    func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

// Run marks lapsed active subscriptions expired and queues one expiry event
// per row in the same transaction.
func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	now := j.now()
	var expired int
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.subs.WithTx(tx).ExpireStale(ctx, now, j.batch)
		if err != nil {
			return err
		}
		for _, sub := range rows {
			err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSubscriptionExpired,
				AggregateType: enums.AggregateSubscription,
				AggregateID:   sub.ID,
				OccurredAt:    now,
				Data: payloads.SubscriptionEvent{
					SubscriptionID: sub.ID,
					FanID:          sub.FanID,
					CreatorID:      sub.CreatorID,
					Status:         sub.Status,
					ExpiresAt:      sub.ExpiresAt,
				},
			})
			if err != nil {
				return fmt.Errorf("queue expiry for %s: %w", sub.ID, err)
			}
		}
		expired = len(rows)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscription expiry: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "expired", expired), "subscription expiry sweep complete")
	return nil
}
