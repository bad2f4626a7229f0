package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"scout/internal/config"
)

// openaiProvider speaks the OpenAI-compatible chat completions wire format
// over plain HTTP. OpenAI-style envelopes carry assistant text in a flat
// choices array, unlike Gemini's nested candidate parts.
type openaiProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newOpenAIProvider(cfg config.OpenAIConfig) (*openaiProvider, error) {
	apiKey := cfg.APIKey
	if cfg.SubscriptionAuth {
		// Subscription mode authenticates with a long-lived account
		// credential instead of a per-call API key.
		apiKey = os.Getenv("OPENAI_SUBSCRIPTION_TOKEN")
		if apiKey == "" {
			return nil, fmt.Errorf("openai subscription auth enabled but OPENAI_SUBSCRIPTION_TOKEN is unset")
		}
	}
	return &openaiProvider{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  apiKey,
		// The router owns the per-call deadline; this is a hard backstop.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (p *openaiProvider) Name() string { return ProviderOpenAI }

type openaiRequest struct {
	Model          string           `json:"model"`
	Messages       []openaiMessage  `json:"messages"`
	MaxTokens      int              `json:"max_completion_tokens,omitempty"`
	Temperature    *float32         `json:"temperature,omitempty"`
	ResponseFormat *openaiRespFmt   `json:"response_format,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRespFmt struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *openaiProvider) Generate(ctx context.Context, req Request) (*RawResponse, error) {
	payload := openaiRequest{
		Model: req.Model,
		Messages: []openaiMessage{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:       req.MaxTokens,
		ResponseFormat:  &openaiRespFmt{Type: "json_object"},
		ReasoningEffort: req.ReasoningEffort,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		payload.Temperature = &temp
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifySDKError(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifySDKError(ProviderOpenAI, err)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, classifyHTTPError(ProviderOpenAI, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, classifySDKError(ProviderOpenAI, fmt.Errorf("unparseable response envelope: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest || parsed.Error != nil {
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			// Both the structured code and the message text feed auth
			// detection; providers are inconsistent about which they set.
			msg = parsed.Error.Code + " " + parsed.Error.Message
		}
		return nil, classifyHTTPError(ProviderOpenAI, resp.StatusCode, msg)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, classifySDKError(ProviderOpenAI, fmt.Errorf("empty response from model %s", req.Model))
	}

	return &RawResponse{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
