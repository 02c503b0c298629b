package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Features are the inputs to the learned reranker, one set per candidate.
type Features struct {
	LexicalOverlap   float64 `json:"lexical_overlap"`
	VectorSimilarity float64 `json:"vector_similarity"`
	RuleMatch        float64 `json:"rule_match"`
	AcceptanceRate   float64 `json:"acceptance_rate"`
}

// LogisticModel is a logistic-regression scorer trained offline on reviewer
// feedback. Weights are loaded from a JSON artifact and swapped atomically.
type LogisticModel struct {
	Version string  `json:"version"`
	Bias    float64 `json:"bias"`
	Weights struct {
		LexicalOverlap   float64 `json:"lexical_overlap"`
		VectorSimilarity float64 `json:"vector_similarity"`
		RuleMatch        float64 `json:"rule_match"`
		AcceptanceRate   float64 `json:"acceptance_rate"`
	} `json:"weights"`
}

// Score maps features to a confidence in (0,1).
func (m *LogisticModel) Score(f Features) float64 {
	z := m.Bias +
		m.Weights.LexicalOverlap*f.LexicalOverlap +
		m.Weights.VectorSimilarity*f.VectorSimilarity +
		m.Weights.RuleMatch*f.RuleMatch +
		m.Weights.AcceptanceRate*f.AcceptanceRate
	return 1.0 / (1.0 + math.Exp(-z))
}

// DefaultModel is the shipped fallback scorer, used when no trained
// artifact is configured. It leans on vector similarity and rule hits.
func DefaultModel() *LogisticModel {
	m := &LogisticModel{Version: "builtin-v1", Bias: -2.0}
	m.Weights.LexicalOverlap = 1.5
	m.Weights.VectorSimilarity = 2.5
	m.Weights.RuleMatch = 1.0
	m.Weights.AcceptanceRate = 1.0
	return m
}

// LoadModel reads a trained model artifact from a JSON file.
func LoadModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reranker model %s: %w", path, err)
	}
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse reranker model %s: %w", path, err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("reranker model %s: missing version", path)
	}
	return &m, nil
}

// ModelStore holds the active model behind an atomic pointer so a retrained
// model can be hot-swapped without pausing resolution.
type ModelStore struct {
	current atomic.Pointer[LogisticModel]
}

func NewModelStore(initial *LogisticModel) *ModelStore {
	s := &ModelStore{}
	if initial == nil {
		initial = DefaultModel()
	}
	s.current.Store(initial)
	return s
}

func (s *ModelStore) Current() *LogisticModel {
	return s.current.Load()
}

func (s *ModelStore) Publish(m *LogisticModel) {
	if m != nil {
		s.current.Store(m)
	}
}

// AcceptanceStats supplies the historical acceptance rate of an ICD code,
// derived from reviewer feedback. Implementations may cache; a missing
// history yields 0.
type AcceptanceStats interface {
	AcceptanceRate(ctx context.Context, icdCode string) float64
}

// Reranker rescores merged rule and semantic candidates with the learned
// model and keeps the top N.
type Reranker struct {
	models *ModelStore
	stats  AcceptanceStats
	topN   int
}

func NewReranker(models *ModelStore, stats AcceptanceStats, topN int) *Reranker {
	if topN <= 0 {
		topN = 5
	}
	return &Reranker{models: models, stats: stats, topN: topN}
}

// Rerank rescores candidates in place against the query term and returns
// them in deterministic order, truncated to the top N. Equal query inputs
// against equal state always produce the same ordering.
func (r *Reranker) Rerank(ctx context.Context, normalizedTerm string, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	model := r.models.Current()
	for i := range candidates {
		c := &candidates[i]
		c.LexicalScore = lexicalOverlap(normalizedTerm, Normalize(c.ICDTitle))

		f := Features{
			LexicalOverlap:   c.LexicalScore,
			VectorSimilarity: c.VectorSimilarity,
		}
		if c.RuleMatch {
			f.RuleMatch = 1.0
		}
		if r.stats != nil {
			f.AcceptanceRate = r.stats.AcceptanceRate(ctx, c.ICDCode)
		}

		c.Confidence = model.Score(f)
		c.Stage = StageRerank
	}

	sortCandidates(candidates)
	if len(candidates) > r.topN {
		candidates = candidates[:r.topN]
	}
	return candidates
}

// sortCandidates orders by confidence descending, then vector similarity
// descending, then code ascending. The final key makes ordering total, so
// resolution output is reproducible.
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].VectorSimilarity != cs[j].VectorSimilarity {
			return cs[i].VectorSimilarity > cs[j].VectorSimilarity
		}
		return cs[i].ICDCode < cs[j].ICDCode
	})
}

// lexicalOverlap is the fraction of the query's distinct tokens that appear
// in the candidate title. The denominator is the query side only, so a short
// query fully contained in a long title still scores 1.
func lexicalOverlap(query, title string) float64 {
	titleSet := make(map[string]bool)
	for _, t := range strings.Fields(title) {
		titleSet[t] = true
	}

	seen := make(map[string]bool)
	shared := 0
	for _, t := range strings.Fields(query) {
		if seen[t] {
			continue
		}
		seen[t] = true
		if titleSet[t] {
			shared++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(shared) / float64(len(seen))
}
