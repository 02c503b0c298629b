package review

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresync/caresync/internal/domain/mapping"
)

// FeedbackSink receives reviewer verdicts so the reranker's acceptance
// signal keeps learning.
type FeedbackSink interface {
	RecordResolution(ctx context.Context, term, icdCode string, accepted bool, reviewer string) error
}

type Service struct {
	repo      Repository
	feedback  FeedbackSink
	log       zerolog.Logger
	threshold float64
}

func NewService(repo Repository, feedback FeedbackSink, reviewThreshold float64, log zerolog.Logger) *Service {
	return &Service{repo: repo, feedback: feedback, threshold: reviewThreshold, log: log}
}

// EnqueueLowConfidence creates a review task for a resolution result.
// Called by the pipeline for results below the review threshold and for
// every result in manual mode.
func (s *Service) EnqueueLowConfidence(ctx context.Context, result *mapping.Result) error {
	top, ok := result.Top()
	if !ok {
		return nil
	}

	task := &Task{
		ID:            uuid.New(),
		QueryTerm:     result.QueryTerm,
		Candidates:    result.Candidates,
		TopConfidence: top.Confidence,
		Priority:      s.priorityFor(top.Confidence),
		Status:        StatusOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Insert(context.WithoutCancel(ctx), task); err != nil {
		return err
	}
	s.log.Info().
		Str("term", task.QueryTerm).
		Float64("top_confidence", task.TopConfidence).
		Str("priority", task.Priority).
		Msg("review task enqueued")
	return nil
}

// priorityFor grades urgency by how far confidence fell below the
// threshold.
func (s *Service) priorityFor(topConfidence float64) string {
	gap := s.threshold - topConfidence
	switch {
	case gap >= 0.4:
		return PriorityHigh
	case gap >= 0.2:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Task, int, error) {
	return s.repo.List(ctx, f)
}

// Resolve applies a reviewer's verdict to an open task and forwards it to
// the feedback store. Resolving a task never touches the mapping table:
// an accepted code becomes training signal and, at most, a proposal for
// the next curated version.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, reviewer string, res Resolution) (*Task, error) {
	res.ChosenCode = strings.TrimSpace(res.ChosenCode)
	if res.Accepted && res.ChosenCode == "" {
		return nil, ErrInvalidResolution
	}
	if !res.Accepted {
		res.ChosenCode = ""
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Accepted && !candidateExists(task.Candidates, res.ChosenCode) {
		return nil, ErrInvalidResolution
	}

	if err := s.repo.MarkResolved(ctx, id, reviewer, res.ChosenCode, res.Note); err != nil {
		return nil, err
	}

	if s.feedback != nil {
		code := res.ChosenCode
		if code == "" && len(task.Candidates) > 0 {
			code = task.Candidates[0].ICDCode
		}
		if code != "" {
			if err := s.feedback.RecordResolution(ctx, task.QueryTerm, code, res.Accepted, reviewer); err != nil {
				s.log.Error().Err(err).Str("term", task.QueryTerm).Msg("failed to record review feedback")
			}
		}
	}

	return s.repo.GetByID(ctx, id)
}

func candidateExists(candidates []mapping.Candidate, code string) bool {
	for _, c := range candidates {
		if c.ICDCode == code {
			return true
		}
	}
	return false
}
