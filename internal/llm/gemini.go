package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"scout/internal/config"
)

// geminiProvider adapts the Gemini SDK to the Provider interface. Gemini
// nests assistant text inside candidate content parts; Text() flattens it.
type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(cfg config.GeminiConfig) (*geminiProvider, error) {
	apiKey := cfg.APIKey
	if cfg.SubscriptionAuth {
		// Subscription mode authenticates with a long-lived account
		// credential instead of a per-call API key.
		apiKey = os.Getenv("GEMINI_SUBSCRIPTION_TOKEN")
		if apiKey == "" {
			return nil, fmt.Errorf("gemini subscription auth enabled but GEMINI_SUBSCRIPTION_TOKEN is unset")
		}
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func (p *geminiProvider) Generate(ctx context.Context, req Request) (*RawResponse, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		cfg.Temperature = &temp
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifySDKError(ProviderGemini, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, classifySDKError(ProviderGemini, fmt.Errorf("empty response from model %s", req.Model))
	}

	out := &RawResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
