// Package embedding generates vector embeddings for candidate text and
// feedback, used by the preference profile and novelty scoring.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"

	"google.golang.org/genai"

	"scout/internal/config"
	"scout/internal/core"
)

const (
	// DefaultModel is the default embedding model.
	DefaultModel = "gemini-embedding-001"
	// Dimensions is the output dimension (Matryoshka truncation).
	Dimensions = int32(768)
	// maxInputBytes is a conservative truncation limit below the model's
	// token ceiling.
	maxInputBytes = 8000
)

// Embedder produces a unit-comparable vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// GeminiEmbedder calls Gemini's embedding endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGemini builds an embedder from Gemini configuration, honoring
// subscription-based auth the same way the generation provider does.
func NewGemini(cfg config.GeminiConfig) (*GeminiEmbedder, error) {
	apiKey := cfg.APIKey
	if cfg.SubscriptionAuth {
		apiKey = os.Getenv("GEMINI_SUBSCRIPTION_TOKEN")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini embedding client: %w", err)
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultModel
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed generates a vector for the given text, truncating oversized input.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, core.NewError(core.ErrKindValidation, "cannot embed empty text", nil)
	}
	if len(text) > maxInputBytes {
		text = text[:maxInputBytes]
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	dims := Dimensions
	cfg := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewError(core.ErrKindProvider, "embedding call failed", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, core.NewError(core.ErrKindProvider, "no embedding values returned", nil)
	}

	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// CosineSimilarity computes the cosine similarity of two vectors, returning
// zero for mismatched or zero-magnitude input.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
