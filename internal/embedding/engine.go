// Package embedding provides vector embedding generation for the retrieval
// index. Supports two backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"deepscout/internal/config"
	"deepscout/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// New creates an embedding engine from configuration.
func New(ctx context.Context, cfg config.EmbeddingConfig, log logging.Sink) (Engine, error) {
	var (
		engine Engine
		err    error
	)

	switch cfg.Provider {
	case "genai", "":
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Infow("embedding engine ready", "backend", engine.Name(), "dimensions", engine.Dimensions())
	return engine, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// SimilarityResult pairs a corpus index with its similarity to the query.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// TopK returns the indices of the K most similar corpus vectors to the query,
// sorted by descending cosine similarity. Vectors with mismatched dimensions
// are skipped.
func TopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
