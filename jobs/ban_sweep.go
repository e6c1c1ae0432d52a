package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agora-forum/agora/internal/bans"
	jobmetrics "github.com/agora-forum/agora/internal/jobs"
)

// Sweeper runs one expiry sweep.
type Sweeper interface {
	SweepExpired(ctx context.Context) (bans.SweepResult, error)
}

// BanSweepJob lifts expired bans on a schedule.
type BanSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewBanSweepJob initialises the sweep handler.
func NewBanSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics, timeout time.Duration) *BanSweepJob {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &BanSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics, Timeout: timeout}
}

// Handle executes one sweep run.
func (j *BanSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("ban sweep: handler not configured")
	}
	var payload BanSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	timeout := j.Timeout
	if payload.TimeoutSeconds > 0 {
		timeout = time.Duration(payload.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracker := j.Metrics.Track(TaskBanSweep)
	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	logger.Info("starting ban sweep")
	start := time.Now()

	result, err := j.Sweeper.SweepExpired(ctx)
	j.Metrics.AddSweep(result.Lifted, result.Repaired, result.Failed)
	if err != nil {
		logger.Error("ban sweep aborted",
			slog.String("run_id", result.RunID),
			slog.Int("lifted", result.Lifted),
			slog.Any("error", err),
		)
		return tracker.End(err)
	}
	logger.Info("completed ban sweep",
		slog.String("run_id", result.RunID),
		slog.Int("accounts", result.Accounts),
		slog.Int("lifted", result.Lifted),
		slog.Int("repaired", result.Repaired),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *BanSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
