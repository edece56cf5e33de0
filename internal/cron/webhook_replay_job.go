package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fanvault-backend/internal/webhooks"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
)

const (
	defaultReplayBatch       = 50
	defaultReplayMaxAttempts = 5
)

type failureReplayer interface {
	ReplayFailures(ctx context.Context, maxAttempts, limit int) (webhooks.ReplayStats, error)
}

type WebhookReplayJobParams struct {
	Logger      *logger.Logger
	Replayer    failureReplayer
	BatchSize   int
	MaxAttempts int
}

func NewWebhookReplayJob(params WebhookReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Replayer == nil {
		return nil, fmt.Errorf("webhook replayer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReplayMaxAttempts
	}
	return &webhookReplayJob{logg: params.Logger, replayer: params.Replayer, batch: batch, maxAttempts: maxAttempts}, nil
}

type webhookReplayJob struct {
	logg        *logger.Logger
	replayer    failureReplayer
	batch       int
	maxAttempts int
}

func (j *webhookReplayJob) Name() string { return "webhook-failure-replay" }

func (j *webhookReplayJob) Run(ctx context.Context) error {
	stats, err := j.replayer.ReplayFailures(ctx, j.maxAttempts, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   stats.Scanned,
		"resolved":  stats.Resolved,
		"failed":    stats.Failed,
		"permanent": stats.Permanent,
	})
	if err != nil {
		return fmt.Errorf("webhook replay: %w", err)
	}
	j.logg.Info(logCtx, "webhook failure replay complete")
	return nil
}
