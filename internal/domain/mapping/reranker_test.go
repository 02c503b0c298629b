package mapping

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type fixedStats map[string]float64

func (f fixedStats) AcceptanceRate(ctx context.Context, code string) float64 {
	return f[code]
}

func TestLogisticModelScore(t *testing.T) {
	m := DefaultModel()

	low := m.Score(Features{})
	high := m.Score(Features{LexicalOverlap: 1, VectorSimilarity: 1, RuleMatch: 1, AcceptanceRate: 1})
	if low <= 0 || low >= 1 || high <= 0 || high >= 1 {
		t.Fatalf("scores must lie in (0,1): low=%v high=%v", low, high)
	}
	if high <= low {
		t.Errorf("stronger features must score higher: low=%v high=%v", low, high)
	}
}

func TestRerank_Ordering(t *testing.T) {
	r := NewReranker(NewModelStore(nil), fixedStats{"R50.9": 0.9}, 5)

	cands := []Candidate{
		{ICDCode: "K21.0", ICDTitle: "GERD", VectorSimilarity: 0.4},
		{ICDCode: "R50.9", ICDTitle: "Fever unspecified", VectorSimilarity: 0.7, RuleMatch: true},
		{ICDCode: "R05", ICDTitle: "Cough", VectorSimilarity: 0.3},
	}
	out := r.Rerank(context.Background(), "jwara", cands)

	if out[0].ICDCode != "R50.9" {
		t.Errorf("expected rule-matched high-similarity code first, got %s", out[0].ICDCode)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Confidence > out[i-1].Confidence {
			t.Errorf("candidates out of order at %d", i)
		}
	}
	for _, c := range out {
		if c.Stage != StageRerank {
			t.Errorf("expected rerank stage, got %s", c.Stage)
		}
	}
}

func TestRerank_Deterministic(t *testing.T) {
	r := NewReranker(NewModelStore(nil), nil, 5)
	build := func() []Candidate {
		return []Candidate{
			{ICDCode: "B.2", VectorSimilarity: 0.5},
			{ICDCode: "A.1", VectorSimilarity: 0.5},
			{ICDCode: "C.3", VectorSimilarity: 0.5},
		}
	}

	first := r.Rerank(context.Background(), "term", build())
	second := r.Rerank(context.Background(), "term", build())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rerank not deterministic:\n%v\n%v", first, second)
	}
	// Identical scores fall back to code order.
	if first[0].ICDCode != "A.1" || first[1].ICDCode != "B.2" || first[2].ICDCode != "C.3" {
		t.Errorf("expected code-ascending tiebreak, got %v", first)
	}
}

func TestRerank_TruncatesToTopN(t *testing.T) {
	r := NewReranker(NewModelStore(nil), nil, 2)
	cands := []Candidate{
		{ICDCode: "A", VectorSimilarity: 0.9},
		{ICDCode: "B", VectorSimilarity: 0.8},
		{ICDCode: "C", VectorSimilarity: 0.7},
	}
	out := r.Rerank(context.Background(), "term", cands)
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	content := `{
		"version": "2025-05-01",
		"bias": -1.2,
		"weights": {
			"lexical_overlap": 1.1,
			"vector_similarity": 2.2,
			"rule_match": 0.9,
			"acceptance_rate": 1.4
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Version != "2025-05-01" || m.Weights.VectorSimilarity != 2.2 {
		t.Errorf("unexpected model: %+v", m)
	}
}

func TestLoadModel_MissingVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, []byte(`{"bias": 0}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadModel(path); err == nil {
		t.Error("expected error for missing version")
	}
}

func TestModelStore_Swap(t *testing.T) {
	store := NewModelStore(nil)
	if store.Current().Version != "builtin-v1" {
		t.Fatalf("expected builtin default, got %s", store.Current().Version)
	}
	store.Publish(&LogisticModel{Version: "v2"})
	if store.Current().Version != "v2" {
		t.Error("expected published model")
	}
}

func TestLexicalOverlap(t *testing.T) {
	tests := []struct {
		query, title string
		want         float64
	}{
		{"fever unspecified", "fever unspecified", 1},
		{"fever", "cough", 0},
		{"fever unspecified", "fever", 0.5},
		// Query-side denominator: a query contained in a longer title
		// scores 1, not the Jaccard fraction.
		{"fever", "fever of unknown origin", 1},
		// Repeated query tokens count once.
		{"fever fever chronic", "fever", 0.5},
		{"", "fever", 0},
	}
	for _, tt := range tests {
		if got := lexicalOverlap(tt.query, tt.title); got != tt.want {
			t.Errorf("lexicalOverlap(%q, %q) = %v, want %v", tt.query, tt.title, got, tt.want)
		}
	}
}
