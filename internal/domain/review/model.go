package review

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caresync/caresync/internal/domain/mapping"
)

// Task statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// Task priorities, derived from how far the top confidence fell below the
// review threshold.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

var (
	// ErrNotFound is returned for an unknown task ID.
	ErrNotFound = errors.New("review task not found")
	// ErrConflict is returned when a task was already resolved by
	// another reviewer.
	ErrConflict = errors.New("review task already resolved")
	// ErrInvalidResolution is returned for a malformed resolution.
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Task is one pending human-review item for a low-confidence resolution.
type Task struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	QueryTerm     string              `db:"query_term" json:"query_term"`
	Candidates    []mapping.Candidate `db:"candidates" json:"candidates"`
	TopConfidence float64             `db:"top_confidence" json:"top_confidence"`
	Priority      string              `db:"priority" json:"priority"`
	Status        string              `db:"status" json:"status"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy    string              `db:"resolved_by" json:"resolved_by,omitempty"`
	ChosenCode    string              `db:"chosen_code" json:"chosen_code,omitempty"`
	Note          string              `db:"note" json:"note,omitempty"`
}

// Resolution is a reviewer's verdict on a task. Accepting requires the
// chosen code; rejecting means none of the candidates fit.
type Resolution struct {
	Accepted   bool   `json:"accepted"`
	ChosenCode string `json:"chosen_code"`
	Note       string `json:"note"`
}

// Filter narrows a task listing. Zero-value fields are ignored.
type Filter struct {
	Status   string
	Priority string
	Limit    int
	Offset   int
}
