// Package embedding provides the pluggable text-to-vector service used by
// internal/promptbuild's semantic retrieval, and the top-K selection logic
// over the four DataItem categories.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Embedder turns text into a unit-length vector. Implementations cache
// per-item vectors on the caller's side; the interface itself is stateless.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an Ollama-shaped /api/embeddings endpoint.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config configures an HTTPEmbedder.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New constructs an HTTPEmbedder, defaulting Model to "nomic-embed-text"
// and Timeout to 30s.
func New(cfg Config) *HTTPEmbedder {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests an embedding vector for text.
func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: endpoint returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return out.Embedding, nil
}

// DefaultMinSimilarity is the floor FindTopK applies unless the caller
// overrides it.
const DefaultMinSimilarity = 0.3

// Scored pairs an arbitrary payload with its similarity score against the
// query vector.
type Scored[T any] struct {
	Item  T
	Score float32
}

// identityEmbeddingFunc satisfies chromem.EmbeddingFunc for collections
// that only ever receive pre-computed vectors via AddDocuments; FindTopK
// never asks chromem to embed text itself, so this should never run.
func identityEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding: chromem embedding func invoked on a pre-computed-vector collection")
}

// FindTopK ranks items by cosine similarity of vectorOf(item) against
// query, keeping the top k whose score is at least minSimilarity. Ranking
// is done by an ephemeral in-memory chromem-go collection: each call
// builds a fresh collection, indexes items as pre-computed-vector
// documents, and queries it for the nearest k, mirroring the
// precomputed-embedding pattern chromem-go is built for (the embedding
// function itself is never invoked). If minSimilarity excludes everything
// but at least one item scored above zero, the single best item is kept
// anyway (spec's "at least one surviving item per type if any meet the
// threshold" is interpreted as: never return zero items when a
// non-trivial match exists).
func FindTopK[T any](ctx context.Context, query []float32, items []T, vectorOf func(T) []float32, k int, minSimilarity float32) ([]Scored[T], error) {
	if len(items) == 0 || k <= 0 {
		return nil, nil
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("selection", nil, identityEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("embedding: create scratch collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(items))
	for i, it := range items {
		v := vectorOf(it)
		if len(v) == 0 {
			continue
		}
		docs = append(docs, chromem.Document{ID: strconv.Itoa(i), Embedding: v})
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("embedding: index candidates: %w", err)
	}

	queryK := k
	if queryK > len(docs) {
		queryK = len(docs)
	}
	results, err := col.QueryEmbedding(ctx, query, queryK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: query candidates: %w", err)
	}

	kept := make([]Scored[T], 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		idx, convErr := strconv.Atoi(r.ID)
		if convErr != nil {
			continue
		}
		kept = append(kept, Scored[T]{Item: items[idx], Score: r.Similarity})
	}
	if len(kept) == 0 && len(results) > 0 && results[0].Similarity > 0 {
		if idx, convErr := strconv.Atoi(results[0].ID); convErr == nil {
			kept = append(kept, Scored[T]{Item: items[idx], Score: results[0].Similarity})
		}
	}
	return kept, nil
}
