package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

const (
	defaultRetentionDays = 30
	// retentionBatch bounds each delete so the prune never holds long locks
	// on the table the publisher is claiming from.
	retentionBatch = 500
	// retentionMaxBatches caps one run; leftovers go to the next cycle.
	retentionMaxBatches = 200
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Retention  int
	BatchSize  int
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		pruner:    params.Repository,
		retention: time.Duration(defaultRetentionDays) * 24 * time.Hour,
		batch:     retentionBatch,
		now:       time.Now,
	}
	if params.Retention > 0 {
		job.retention = time.Duration(params.Retention) * 24 * time.Hour
	}
	if params.BatchSize > 0 {
		job.batch = params.BatchSize
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	pruner    outboxPruner
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run prunes published outbox rows older than the retention window in
// batches, one transaction per batch. Unpublished rows are never removed.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < retentionMaxBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.pruner.DeletePublishedBefore(tx, cutoff, j.batch)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		batches++
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"batches":      batches,
	}), "cron.outbox_retention_completed")
	return nil
}
