package mapping

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/caresync/caresync/internal/domain/audit"
	"github.com/caresync/caresync/internal/domain/safeguard"
)

// AuditSink records pipeline outcomes. Implementations must not lose the
// record when the request context is cancelled.
type AuditSink interface {
	Record(ctx context.Context, actor, action, resource, status string, attemptedWrite bool, evidence map[string]any) error
}

// ReviewSink routes low-confidence results to human review.
type ReviewSink interface {
	EnqueueLowConfidence(ctx context.Context, result *Result) error
}

// Service runs the resolution pipeline: exact lookup, keyword rules,
// semantic search, learned reranking. Stages short-circuit in that order.
type Service struct {
	exact    Resolver
	rule     Resolver
	semantic Resolver
	reranker *Reranker

	state     *safeguard.State
	audit     AuditSink
	review    ReviewSink
	reader    Reader
	snapshots *SnapshotStore
	log       zerolog.Logger

	reviewThreshold  float64
	ruleShortCircuit float64
	semanticTimeout  time.Duration
}

type ServiceParams struct {
	Exact            Resolver
	Rule             Resolver
	Semantic         Resolver
	Reranker         *Reranker
	State            *safeguard.State
	Audit            AuditSink
	Review           ReviewSink
	Reader           Reader
	Snapshots        *SnapshotStore
	Log              zerolog.Logger
	ReviewThreshold  float64
	RuleShortCircuit float64
	SemanticTimeout  time.Duration
}

func NewService(p ServiceParams) *Service {
	if p.SemanticTimeout <= 0 {
		p.SemanticTimeout = 3 * time.Second
	}
	return &Service{
		exact:            p.Exact,
		rule:             p.Rule,
		semantic:         p.Semantic,
		reranker:         p.Reranker,
		state:            p.State,
		audit:            p.Audit,
		review:           p.Review,
		reader:           p.Reader,
		snapshots:        p.Snapshots,
		log:              p.Log,
		reviewThreshold:  p.ReviewThreshold,
		ruleShortCircuit: p.RuleShortCircuit,
		semanticTimeout:  p.SemanticTimeout,
	}
}

// Resolve maps one NAMASTE term to ranked ICD-11 candidates. An empty
// candidate list is a valid result. The pipeline never writes to the
// mapping table; its only side effects are audit records and review tasks.
func (s *Service) Resolve(ctx context.Context, actor, term string) (*Result, error) {
	normalized := Normalize(term)
	if normalized == "" {
		return nil, ErrInvalidTerm
	}

	mode := s.state.Mode()
	if mode == safeguard.ModePaused {
		s.log.Warn().Str("term", normalized).Msg("resolution rejected: pipeline paused")
		return nil, ErrPaused
	}

	result := &Result{
		QueryTerm: normalized,
		Timestamp: time.Now().UTC(),
	}

	// Exact hits are authoritative and skip every other stage.
	exactCands, err := s.exact.Resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(exactCands) > 0 {
		result.Candidates = exactCands
		result.SelectedStage = StageExact
		s.finish(ctx, actor, result, mode)
		return result, nil
	}

	ruleCands, err := s.rule.Resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if top := topConfidence(ruleCands); top >= s.ruleShortCircuit && s.ruleShortCircuit > 0 {
		result.Candidates = ruleCands
		result.SelectedStage = StageRule
		s.finish(ctx, actor, result, mode)
		return result, nil
	}

	semCands, semErr := s.runSemantic(ctx, normalized)
	if semErr != nil {
		// Semantic unavailability degrades the pipeline to its
		// rule-stage answer instead of failing the request.
		s.log.Warn().Err(semErr).Str("term", normalized).Msg("semantic stage unavailable, serving degraded result")
		result.Candidates = ruleCands
		result.Degraded = true
		result.SelectedStage = StageRule
		if len(ruleCands) == 0 {
			result.SelectedStage = StageNone
		}
		s.finish(ctx, actor, result, mode)
		return result, nil
	}

	merged := mergeCandidates(ruleCands, semCands)
	if s.reranker != nil && len(merged) > 0 {
		merged = s.reranker.Rerank(ctx, normalized, merged)
		result.SelectedStage = StageRerank
	} else {
		sortCandidates(merged)
		result.SelectedStage = StageSemantic
	}
	if len(merged) == 0 {
		result.SelectedStage = StageNone
	}
	result.Candidates = merged

	s.finish(ctx, actor, result, mode)
	return result, nil
}

func (s *Service) runSemantic(ctx context.Context, normalized string) ([]Candidate, error) {
	if s.semantic == nil {
		return nil, ErrResourceUnavailable
	}
	semCtx, cancel := context.WithTimeout(ctx, s.semanticTimeout)
	defer cancel()
	return s.semantic.Resolve(semCtx, normalized)
}

// finish records the audit trail and, when warranted, a review task.
// Audit failures are logged but never fail the resolution.
func (s *Service) finish(ctx context.Context, actor string, result *Result, mode safeguard.Mode) {
	if result.Candidates == nil {
		result.Candidates = []Candidate{}
	}

	status := audit.StatusSuccess
	if result.Degraded {
		status = audit.StatusDegraded
	}
	evidence := map[string]any{
		"term":       result.QueryTerm,
		"stage":      result.SelectedStage,
		"candidates": len(result.Candidates),
		"degraded":   result.Degraded,
	}
	if top, ok := result.Top(); ok {
		evidence["top_code"] = top.ICDCode
		evidence["top_confidence"] = top.Confidence
	}
	if err := s.audit.Record(ctx, actor, audit.ActionTermResolved, "term:"+result.QueryTerm, status, false, evidence); err != nil {
		s.log.Error().Err(err).Str("term", result.QueryTerm).Msg("failed to audit resolution")
	}

	if s.review == nil || len(result.Candidates) == 0 {
		return
	}
	top, _ := result.Top()
	if mode == safeguard.ModeManual || top.Confidence < s.reviewThreshold {
		if err := s.review.EnqueueLowConfidence(ctx, result); err != nil {
			s.log.Error().Err(err).Str("term", result.QueryTerm).Msg("failed to enqueue review task")
		}
	}
}

// mergeCandidates joins the rule and semantic stages, deduplicating by
// code. A code present in both keeps the semantic similarity and is marked
// as a rule match, so the reranker sees both signals.
func mergeCandidates(rule, semantic []Candidate) []Candidate {
	ruleByCode := make(map[string]Candidate, len(rule))
	for _, c := range rule {
		ruleByCode[c.ICDCode] = c
	}

	out := make([]Candidate, 0, len(rule)+len(semantic))
	seen := make(map[string]bool, len(semantic))
	for _, c := range semantic {
		if r, ok := ruleByCode[c.ICDCode]; ok {
			c.RuleMatch = true
			if r.ICDTitle != "" && c.ICDTitle == "" {
				c.ICDTitle = r.ICDTitle
			}
		}
		seen[c.ICDCode] = true
		out = append(out, c)
	}
	for _, c := range rule {
		if !seen[c.ICDCode] {
			out = append(out, c)
		}
	}
	return out
}

func topConfidence(cs []Candidate) float64 {
	if len(cs) == 0 {
		return 0
	}
	return cs[0].Confidence
}

// RefreshSnapshot loads the current mapping version from storage and
// publishes it as the active snapshot.
func (s *Service) RefreshSnapshot(ctx context.Context) (*Snapshot, error) {
	version, err := s.reader.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.reader.Entries(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(version, entries)
	s.snapshots.Publish(snap)
	s.log.Info().
		Int("version", version.Number).
		Int("terms", snap.Len()).
		Msg("mapping snapshot published")
	return snap, nil
}

// ListVersions returns all applied mapping versions, newest first.
func (s *Service) ListVersions(ctx context.Context) ([]Version, error) {
	return s.reader.ListVersions(ctx)
}
