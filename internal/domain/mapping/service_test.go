package mapping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/caresync/caresync/internal/domain/safeguard"
)

type stubResolver struct {
	name       string
	candidates []Candidate
	err        error
	calls      int
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(ctx context.Context, term string) ([]Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

type auditCall struct {
	action string
	status string
}

type stubAudit struct {
	calls []auditCall
}

func (s *stubAudit) Record(ctx context.Context, actor, action, resource, status string, attemptedWrite bool, evidence map[string]any) error {
	s.calls = append(s.calls, auditCall{action: action, status: status})
	return nil
}

type stubReview struct {
	enqueued []*Result
}

func (s *stubReview) EnqueueLowConfidence(ctx context.Context, result *Result) error {
	s.enqueued = append(s.enqueued, result)
	return nil
}

type pipelineFixture struct {
	exact    *stubResolver
	rule     *stubResolver
	semantic *stubResolver
	audit    *stubAudit
	review   *stubReview
	state    *safeguard.State
	service  *Service
}

func newFixture() *pipelineFixture {
	f := &pipelineFixture{
		exact:    &stubResolver{name: StageExact},
		rule:     &stubResolver{name: StageRule},
		semantic: &stubResolver{name: StageSemantic},
		audit:    &stubAudit{},
		review:   &stubReview{},
		state:    safeguard.NewState(),
	}
	f.service = NewService(ServiceParams{
		Exact:            f.exact,
		Rule:             f.rule,
		Semantic:         f.semantic,
		Reranker:         NewReranker(NewModelStore(nil), nil, 5),
		State:            f.state,
		Audit:            f.audit,
		Review:           f.review,
		Snapshots:        NewSnapshotStore(nil),
		Log:              zerolog.Nop(),
		ReviewThreshold:  0.7,
		RuleShortCircuit: 0.85,
		SemanticTimeout:  time.Second,
	})
	return f
}

func TestResolve_ExactSkipsLaterStages(t *testing.T) {
	f := newFixture()
	f.exact.candidates = []Candidate{{ICDCode: "R50.9", ICDTitle: "Fever, unspecified", LexicalScore: 1, Confidence: 1, Stage: StageExact}}

	result, err := f.service.Resolve(context.Background(), "dev-user", "  Jwara ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SelectedStage != StageExact {
		t.Errorf("expected exact stage, got %s", result.SelectedStage)
	}
	top, _ := result.Top()
	if top.Confidence != 1.0 {
		t.Errorf("exact match must carry confidence 1.0, got %v", top.Confidence)
	}
	if f.rule.calls != 0 || f.semantic.calls != 0 {
		t.Errorf("later stages must not run on exact hit: rule=%d semantic=%d", f.rule.calls, f.semantic.calls)
	}
	if len(f.review.enqueued) != 0 {
		t.Error("exact hit must not enqueue review")
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].status != "success" {
		t.Errorf("expected one success audit record, got %+v", f.audit.calls)
	}
}

func TestResolve_RuleShortCircuit(t *testing.T) {
	f := newFixture()
	f.rule.candidates = []Candidate{{ICDCode: "R50.9", RuleMatch: true, Confidence: 0.9, Stage: StageRule}}

	result, err := f.service.Resolve(context.Background(), "dev-user", "jwara")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SelectedStage != StageRule {
		t.Errorf("expected rule stage, got %s", result.SelectedStage)
	}
	if f.semantic.calls != 0 {
		t.Error("high-confidence rule hit must skip semantic stage")
	}
}

func TestResolve_LowConfidenceEnqueuesReview(t *testing.T) {
	f := newFixture()
	f.semantic.candidates = []Candidate{
		{ICDCode: "R05", ICDTitle: "Cough", VectorSimilarity: 0.3, Confidence: 0.3, Stage: StageSemantic},
	}

	result, err := f.service.Resolve(context.Background(), "dev-user", "kasa roga")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top, _ := result.Top()
	if top.Confidence >= 0.7 {
		t.Fatalf("fixture is supposed to produce a low-confidence result, got %v", top.Confidence)
	}
	if len(f.review.enqueued) != 1 {
		t.Fatalf("expected 1 review task, got %d", len(f.review.enqueued))
	}
	if f.review.enqueued[0].QueryTerm != "kasa roga" {
		t.Errorf("unexpected enqueued term: %s", f.review.enqueued[0].QueryTerm)
	}
}

func TestResolve_SemanticFailureDegrades(t *testing.T) {
	f := newFixture()
	f.rule.candidates = []Candidate{{ICDCode: "R50.9", RuleMatch: true, Confidence: 0.6, Stage: StageRule}}
	f.semantic.err = errors.New("weaviate unreachable")

	result, err := f.service.Resolve(context.Background(), "dev-user", "jwara roga")
	if err != nil {
		t.Fatalf("degraded result must not fail the request: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	if result.SelectedStage != StageRule {
		t.Errorf("expected rule stage fallback, got %s", result.SelectedStage)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].ICDCode != "R50.9" {
		t.Errorf("expected rule candidates, got %v", result.Candidates)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].status != "degraded" {
		t.Errorf("expected degraded audit record, got %+v", f.audit.calls)
	}
}

func TestResolve_SemanticFailureNoRules(t *testing.T) {
	f := newFixture()
	f.semantic.err = errors.New("sidecar down")

	result, err := f.service.Resolve(context.Background(), "dev-user", "unknown term")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Degraded || result.SelectedStage != StageNone {
		t.Errorf("expected degraded empty result, got %+v", result)
	}
	if result.Candidates == nil || len(result.Candidates) != 0 {
		t.Errorf("expected empty non-nil candidates, got %v", result.Candidates)
	}
	if len(f.review.enqueued) != 0 {
		t.Error("empty result must not enqueue review")
	}
}

func TestResolve_EmptyResultIsValid(t *testing.T) {
	f := newFixture()

	result, err := f.service.Resolve(context.Background(), "dev-user", "entirely unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SelectedStage != StageNone || len(result.Candidates) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.Degraded {
		t.Error("an empty result with healthy stages is not degraded")
	}
	if len(f.review.enqueued) != 0 {
		t.Error("no candidates means nothing to review")
	}
}

func TestResolve_MergesRuleAndSemantic(t *testing.T) {
	f := newFixture()
	f.rule.candidates = []Candidate{{ICDCode: "R50.9", ICDTitle: "Fever, unspecified", RuleMatch: true, Confidence: 0.6, Stage: StageRule}}
	f.semantic.candidates = []Candidate{
		{ICDCode: "R50.9", ICDTitle: "Fever, unspecified", VectorSimilarity: 0.8, Confidence: 0.8, Stage: StageSemantic},
		{ICDCode: "K21.0", ICDTitle: "GERD", VectorSimilarity: 0.4, Confidence: 0.4, Stage: StageSemantic},
	}

	result, err := f.service.Resolve(context.Background(), "dev-user", "jwara roga")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SelectedStage != StageRerank {
		t.Errorf("expected rerank stage, got %s", result.SelectedStage)
	}

	var fever *Candidate
	for i := range result.Candidates {
		if result.Candidates[i].ICDCode == "R50.9" {
			fever = &result.Candidates[i]
		}
	}
	if fever == nil {
		t.Fatal("merged result must contain R50.9 exactly once")
	}
	if !fever.RuleMatch || fever.VectorSimilarity != 0.8 {
		t.Errorf("merged candidate must carry both signals: %+v", fever)
	}
	count := 0
	for _, c := range result.Candidates {
		if c.ICDCode == "R50.9" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected R50.9 deduplicated, found %d", count)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	run := func() *Result {
		f := newFixture()
		f.semantic.candidates = []Candidate{
			{ICDCode: "B.2", VectorSimilarity: 0.5, Stage: StageSemantic},
			{ICDCode: "A.1", VectorSimilarity: 0.5, Stage: StageSemantic},
		}
		r, err := f.service.Resolve(context.Background(), "dev-user", "term")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return r
	}

	first, second := run(), run()
	if len(first.Candidates) != len(second.Candidates) {
		t.Fatal("candidate counts differ across identical runs")
	}
	for i := range first.Candidates {
		if first.Candidates[i].ICDCode != second.Candidates[i].ICDCode {
			t.Fatalf("ordering differs at %d: %s vs %s", i, first.Candidates[i].ICDCode, second.Candidates[i].ICDCode)
		}
	}
}

func TestResolve_PausedRejects(t *testing.T) {
	f := newFixture()
	f.state.SetMode(safeguard.ModePaused)

	if _, err := f.service.Resolve(context.Background(), "dev-user", "jwara"); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if f.exact.calls != 0 {
		t.Error("paused pipeline must not run any stage")
	}
}

func TestResolve_ManualModeAlwaysReviews(t *testing.T) {
	f := newFixture()
	f.state.SetMode(safeguard.ModeManual)
	f.exact.candidates = []Candidate{{ICDCode: "R50.9", Confidence: 1, Stage: StageExact}}

	result, err := f.service.Resolve(context.Background(), "dev-user", "jwara")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top, _ := result.Top()
	if top.Confidence != 1.0 {
		t.Fatal("fixture should produce a confident result")
	}
	if len(f.review.enqueued) != 1 {
		t.Error("manual mode must route every non-empty result to review")
	}
}

func TestResolve_InvalidTerm(t *testing.T) {
	f := newFixture()
	for _, term := range []string{"", "   ", "\t\n"} {
		if _, err := f.service.Resolve(context.Background(), "dev-user", term); !errors.Is(err, ErrInvalidTerm) {
			t.Errorf("Resolve(%q): expected ErrInvalidTerm, got %v", term, err)
		}
	}
}
