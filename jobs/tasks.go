package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsAuditDiff writes audit rows for the cells changed by a save.
	TaskPermissionsAuditDiff = "permissions:audit_diff"
	// TaskPermissionsIntegrity prunes grants left behind by catalog changes.
	TaskPermissionsIntegrity = "permissions:integrity"
)

// AuditDiffPayload carries the cells changed by one whole-table save.
type AuditDiffPayload struct {
	ActorID    int64                    `json:"actor_id"`
	Changes    []permissions.CellChange `json:"changes"`
	RoleCount  int                      `json:"role_count"`
	ReplacedAt time.Time                `json:"replaced_at"`
}

// NewAuditDiffTask constructs an Asynq task from a save event.
func NewAuditDiffTask(event permissions.GrantsReplacedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(AuditDiffPayload{
		ActorID:    event.ActorID,
		Changes:    event.Changes,
		RoleCount:  event.RoleCount,
		ReplacedAt: event.ReplacedAt,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsAuditDiff, data, asynq.MaxRetry(5)), nil
}

// IntegrityPayload configures a pruning sweep.
type IntegrityPayload struct {
	Reason string `json:"reason"`
	// IdempotencyRetention drops processed save keys older than this; zero keeps them.
	IdempotencyRetention time.Duration `json:"idempotency_retention"`
}

// NewIntegrityTask constructs the integrity sweep task.
func NewIntegrityTask(reason string, retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{Reason: reason, IdempotencyRetention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsIntegrity, data), nil
}
