package mapping

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Resolution stages, in pipeline order.
const (
	StageExact    = "exact"
	StageRule     = "rule"
	StageSemantic = "semantic"
	StageRerank   = "rerank"
	StageNone     = "none"
)

var (
	// ErrInvalidTerm is returned for empty or unusable input terms.
	ErrInvalidTerm = errors.New("invalid term")
	// ErrPaused is returned while the pipeline is paused.
	ErrPaused = errors.New("resolution pipeline is paused")
	// ErrResourceUnavailable is returned when a backing store cannot serve.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrVersionNotFound is returned for an unknown mapping version.
	ErrVersionNotFound = errors.New("mapping version not found")
)

// Entry is one curated NAMASTE-term-to-ICD-11 row in a mapping version.
// Entries are immutable once the version is applied.
type Entry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	VersionID      uuid.UUID `db:"version_id" json:"version_id"`
	Term           string    `db:"term" json:"term"`
	NormalizedTerm string    `db:"normalized_term" json:"normalized_term"`
	ICDCode        string    `db:"icd_code" json:"icd_code"`
	ICDTitle       string    `db:"icd_title" json:"icd_title"`
	System         string    `db:"system" json:"system"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Version is one immutable revision of the curated mapping table.
type Version struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Number     int       `db:"number" json:"number"`
	AppliedBy  string    `db:"applied_by" json:"applied_by"`
	SourceNote string    `db:"source_note" json:"source_note"`
	EntryCount int       `db:"entry_count" json:"entry_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Candidate is one scored ICD-11 suggestion for a query term.
type Candidate struct {
	ICDCode          string  `json:"icd_code"`
	ICDTitle         string  `json:"icd_title"`
	LexicalScore     float64 `json:"lexical_score"`
	RuleMatch        bool    `json:"rule_match"`
	VectorSimilarity float64 `json:"vector_similarity"`
	Confidence       float64 `json:"confidence"`
	Stage            string  `json:"stage"`
}

// Result is the outcome of resolving one term. An empty Candidates slice
// is a valid result, not an error.
type Result struct {
	QueryTerm     string      `json:"query_term"`
	Candidates    []Candidate `json:"candidates"`
	SelectedStage string      `json:"selected_stage"`
	Degraded      bool        `json:"degraded"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Top returns the highest-confidence candidate, or false when empty.
func (r *Result) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}
