package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/caresync/caresync/internal/platform/vectorstore"
)

// Embedder turns a term into a query vector. The embedding sidecar must
// serve the same model version the index was built with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model(ctx context.Context) (string, error)
}

// Searcher is the nearest-neighbor index over ICD-11 code embeddings.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.Hit, error)
}

// SemanticResolver embeds the term and searches the vector index. L2
// distance maps to similarity as 1/(1+d), so similarity is in (0,1] and
// a perfect match scores 1.
type SemanticResolver struct {
	embedder Embedder
	searcher Searcher
	model    string
	topK     int

	mu       sync.Mutex
	verified bool
}

func NewSemanticResolver(embedder Embedder, searcher Searcher, modelVersion string, topK int) *SemanticResolver {
	if topK <= 0 {
		topK = 20
	}
	return &SemanticResolver{
		embedder: embedder,
		searcher: searcher,
		model:    modelVersion,
		topK:     topK,
	}
}

func (r *SemanticResolver) Name() string { return StageSemantic }

// verifyModel checks that the sidecar serves the pinned model version. A
// mismatch would make every distance meaningless, so the stage refuses to
// serve rather than return silently wrong neighbors. The check is cached
// on success; a transient sidecar outage is retried on the next request.
func (r *SemanticResolver) verifyModel(ctx context.Context) error {
	if r.model == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verified {
		return nil
	}

	served, err := r.embedder.Model(ctx)
	if err != nil {
		return fmt.Errorf("verify embedding model: %w", err)
	}
	if served != r.model {
		return fmt.Errorf("embedding model mismatch: index built with %q, sidecar serves %q", r.model, served)
	}
	r.verified = true
	return nil
}

func (r *SemanticResolver) Resolve(ctx context.Context, normalizedTerm string) ([]Candidate, error) {
	if err := r.verifyModel(ctx); err != nil {
		return nil, err
	}

	vector, err := r.embedder.Embed(ctx, normalizedTerm)
	if err != nil {
		return nil, fmt.Errorf("embed term: %w", err)
	}

	hits, err := r.searcher.Search(ctx, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		similarity := 1.0 / (1.0 + h.Distance)
		out = append(out, Candidate{
			ICDCode:          h.Code,
			ICDTitle:         h.Title,
			VectorSimilarity: similarity,
			Confidence:       similarity,
			Stage:            StageSemantic,
		})
	}
	return out, nil
}
