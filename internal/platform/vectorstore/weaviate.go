// Package vectorstore provides read-only nearest-neighbor search over the
// precomputed ICD-11 code embeddings. The index lives in a Weaviate class
// that is built and swapped by an out-of-band process; nothing in this
// service writes to it.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// Hit is a single nearest-neighbor result.
type Hit struct {
	Code     string
	Title    string
	Distance float64
}

// Store queries a Weaviate class of ICD-11 code objects.
type Store struct {
	client *weaviate.Client
	class  string
}

// New creates a Store for the given Weaviate URL and class name.
func New(rawURL, class string) (*Store, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Store{client: client, class: class}, nil
}

// Ready reports whether the index is reachable and serving.
func (s *Store) Ready(ctx context.Context) error {
	ok, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness: %w", err)
	}
	if !ok {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

// queryResponse mirrors the GraphQL Get payload. The class name is dynamic,
// so objects are keyed by class in a map.
type queryResponse struct {
	Get map[string][]struct {
		Code       string `json:"code"`
		Title      string `json:"title"`
		Additional struct {
			Distance float64 `json:"distance"`
		} `json:"_additional"`
	} `json:"Get"`
}

// Search returns the limit nearest codes to the given query vector, ordered
// by ascending distance.
func (s *Store) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("search: empty query vector")
	}
	if limit <= 0 {
		limit = 20
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "code"},
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}

	objects := parsed.Get[s.class]
	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		if obj.Code == "" {
			continue
		}
		hits = append(hits, Hit{
			Code:     obj.Code,
			Title:    obj.Title,
			Distance: obj.Additional.Distance,
		})
	}
	return hits, nil
}
