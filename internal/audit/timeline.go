package audit

import (
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// TimelineFilters narrows the audit trail. Zero values match everything.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	shared.PageRequest
}

// TimelineRow is one committed mutation as recorded in audit_logs.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}
