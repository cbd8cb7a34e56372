package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-dashboard/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// GrantPruner removes grants whose role, module or action no longer exists.
type GrantPruner interface {
	PruneOrphans(ctx context.Context) (int64, error)
}

// KeyJanitor drops processed idempotency keys.
type KeyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IntegrityJob keeps role_grants consistent with the catalog.
type IntegrityJob struct {
	Pruner  GrantPruner
	Keys    KeyJanitor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityJob initialises the integrity sweep handler.
func NewIntegrityJob(pruner GrantPruner, keys KeyJanitor, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Pruner: pruner, Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity sweep.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pruner == nil {
		return errors.New("permissions integrity: handler not configured")
	}
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskPermissionsIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	logger.Info("starting permissions integrity sweep")

	removed, err := j.Pruner.PruneOrphans(ctx)
	if err != nil {
		logger.Error("prune orphan grants", slog.Any("error", err))
		return err
	}
	j.metrics().AddPrunedGrants(removed)
	if removed > 0 {
		logger.Warn("pruned orphan grants", slog.Int64("removed", removed))
	}

	if j.Keys != nil && payload.IdempotencyRetention > 0 {
		expired, err := j.Keys.Cleanup(ctx, payload.IdempotencyRetention)
		if err != nil {
			logger.Error("cleanup idempotency keys", slog.Any("error", err))
			return err
		}
		logger = logger.With(slog.Int64("expired_keys", expired))
	}

	logger.Info("completed permissions integrity sweep",
		slog.Int64("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsIntegrity))
}

func (j *IntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
