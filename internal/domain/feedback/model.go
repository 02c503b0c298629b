package feedback

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown proposal ID.
	ErrNotFound = errors.New("proposal not found")
	// ErrConflict is returned when a proposal was already decided.
	ErrConflict = errors.New("proposal already decided")
	// ErrInvalidFeedback is returned for malformed feedback.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// Record is one clinician verdict on a term-to-code suggestion: the code
// the pipeline suggested and the code the clinician actually used. The two
// agreeing is an acceptance; this feeds the reranker's acceptance-rate
// feature.
type Record struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Term         string    `db:"term" json:"term"`
	SuggestedICD string    `db:"suggested_icd" json:"suggested_icd"`
	ClinicianICD string    `db:"clinician_icd" json:"clinician_icd"`
	EncounterRef string    `db:"encounter_ref" json:"encounter_ref,omitempty"`
	Confidence   float64   `db:"confidence" json:"confidence"`
	Accepted     bool      `db:"accepted" json:"accepted"`
	Source       string    `db:"source" json:"source"`
	SubmittedBy  string    `db:"submitted_by" json:"submitted_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Feedback sources.
const (
	SourceAPI    = "api"
	SourceReview = "review"
)

// CodeStats aggregates accept/reject history per suggested ICD code, the
// reranker's training signal.
type CodeStats struct {
	ICDCode        string  `db:"icd_code" json:"icd_code"`
	Accepted       int     `db:"accepted" json:"accepted"`
	Total          int     `db:"total" json:"total"`
	AcceptanceRate float64 `db:"acceptance_rate" json:"acceptance_rate"`
}

// Summary groups feedback by term and the code clinicians chose.
type Summary struct {
	Term          string  `db:"term" json:"term"`
	ClinicianICD  string  `db:"clinician_icd" json:"clinician_icd"`
	Count         int     `db:"count" json:"count"`
	AvgConfidence float64 `db:"avg_confidence" json:"avg_confidence"`
}

// Proposal statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Proposal is a suggested addition to the curated mapping table. Approval
// is a recorded human decision, nothing more: the table itself only
// changes when an operator applies a new version out-of-band.
type Proposal struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Term          string     `db:"term" json:"term"`
	ICDCode       string     `db:"icd_code" json:"icd_code"`
	ICDTitle      string     `db:"icd_title" json:"icd_title"`
	Justification string     `db:"justification" json:"justification"`
	Status        string     `db:"status" json:"status"`
	ProposedBy    string     `db:"proposed_by" json:"proposed_by"`
	DecidedBy     string     `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt     *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
