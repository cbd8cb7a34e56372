package permissions

import "time"

// GrantsReplacedEvent is published after a successful whole-table save.
type GrantsReplacedEvent struct {
	ActorID    int64        `json:"actor_id"`
	Changes    []CellChange `json:"changes"`
	RoleCount  int          `json:"role_count"`
	ReplacedAt time.Time    `json:"replaced_at"`
}
