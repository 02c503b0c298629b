package audit

import (
	"time"

	"github.com/google/uuid"
)

// Record is one append-only audit entry. Records are never mutated or
// deleted; the repository exposes no update or delete operation.
type Record struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	Actor          string         `db:"actor" json:"actor"`
	Action         string         `db:"action" json:"action"`
	Resource       string         `db:"resource" json:"resource"`
	Status         string         `db:"status" json:"status"`
	AttemptedWrite bool           `db:"attempted_write" json:"attempted_write"`
	Evidence       map[string]any `db:"evidence" json:"evidence,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Record statuses.
const (
	StatusSuccess  = "success"
	StatusBlocked  = "blocked"
	StatusDegraded = "degraded"
)

// Well-known actions.
const (
	ActionTermResolved    = "term_resolved"
	ActionWriteBlocked    = "mapping_write_blocked"
	ActionAutoPaused      = "auto_paused"
	ActionPipelinePaused  = "pipeline_paused"
	ActionPipelineResumed = "pipeline_resumed"
	ActionVersionApplied  = "mapping_version_applied"
	ActionVersionRollback = "mapping_version_rollback"
)

// Filter narrows a listing. Zero-value fields are ignored.
type Filter struct {
	Actor    string
	Action   string
	Status   string
	Resource string
	Limit    int
	Offset   int
}
