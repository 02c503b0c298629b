// Package embedding wraps the embedding sidecar that turns text into dense
// vectors. The sidecar runs the same transformer model that produced the
// semantic index; the client pins that model version and refuses responses
// from any other model, since vectors from mismatched models are not
// comparable.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is the default timeout for embedding requests.
const DefaultTimeout = 10 * time.Second

// ErrModelMismatch is returned when the sidecar serves a different model
// version than the one the active index snapshot was built with.
var ErrModelMismatch = errors.New("embedding model version mismatch")

// Client calls the embedding sidecar over HTTP. Safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client pinned to the given model version. An empty
// model version disables the pin (development only).
func NewClient(baseURL, modelVersion string) *Client {
	return &Client{
		baseURL:    baseURL,
		model:      modelVersion,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithTimeout sets a custom timeout for embedding requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Model   string      `json:"model"`
	Vectors [][]float32 `json:"vectors"`
	Dim     int         `json:"dim"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Embed computes a vector embedding for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: text is empty")
	}

	body, err := json.Marshal(embedRequest{Texts: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(payload))
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if c.model != "" && embResp.Model != c.model {
		return nil, fmt.Errorf("%w: index built with %q, sidecar serves %q",
			ErrModelMismatch, c.model, embResp.Model)
	}
	if len(embResp.Vectors) == 0 {
		return nil, fmt.Errorf("embedding service returned no vectors")
	}

	return embResp.Vectors[0], nil
}

// Model reports the model version the sidecar is currently serving.
func (c *Client) Model(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("embedding service health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("embedding service health returned status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("decode health response: %w", err)
	}

	return health.Model, nil
}
