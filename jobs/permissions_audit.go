package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-dashboard/internal/jobs"
	"github.com/odyssey-erp/odyssey-dashboard/internal/shared"
)

// AuditWriter persists audit rows.
type AuditWriter interface {
	RecordMany(ctx context.Context, logs []shared.AuditLog) error
}

// AuditDiffJob records one audit row per changed permission cell.
type AuditDiffJob struct {
	Audit   AuditWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditDiffJob initialises the audit diff handler.
func NewAuditDiffJob(audit AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditDiffJob {
	return &AuditDiffJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle executes the audit diff logic.
func (j *AuditDiffJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit diff: handler not configured")
	}
	var payload AuditDiffPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionsAuditDiff)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logs := make([]shared.AuditLog, 0, len(payload.Changes))
	for _, change := range payload.Changes {
		logs = append(logs, shared.AuditLog{
			ActorID:  payload.ActorID,
			Action:   "permissions.update",
			Entity:   "role_grant",
			EntityID: change.RoleID + ":" + change.ModuleID,
			Meta: map[string]any{
				"role_id":   change.RoleID,
				"module_id": change.ModuleID,
				"added":     actionNames(change.Added),
				"removed":   actionNames(change.Removed),
			},
			At: payload.ReplacedAt,
		})
	}
	logger := j.logger().With(slog.Int64("actor_id", payload.ActorID), slog.Int("changes", len(logs)))
	if err := j.Audit.RecordMany(ctx, logs); err != nil {
		logger.Error("write permission audit rows", slog.Any("error", err))
		return err
	}
	j.metrics().AddAuditRows(len(logs))
	logger.Info("recorded permission changes")
	return nil
}

func (j *AuditDiffJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsAuditDiff))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsAuditDiff))
}

func (j *AuditDiffJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func actionNames[T ~string](actions []T) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a))
	}
	return out
}
