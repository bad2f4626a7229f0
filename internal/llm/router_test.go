package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scout/internal/config"
	"scout/internal/core"
)

type fakeProvider struct {
	name     string
	response *RawResponse
	err      error
	lastReq  Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (*RawResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestRouter(p *fakeProvider, callsPerHour int, timeout time.Duration) *Router {
	r := &Router{
		providers: map[string]Provider{p.name: p},
		limiters:  map[string]*hourlyLimiter{p.name: newHourlyLimiter(callsPerHour)},
		routes: map[routeKey]route{
			{PurposeTriage, TierFast}: {provider: p.name, model: "test-model"},
		},
		timeout: timeout,
	}
	return r
}

func TestCall_UnmarshalsJSONIntoOut(t *testing.T) {
	p := &fakeProvider{
		name:     "fake",
		response: &RawResponse{Text: `{"score": 0.8}`, InputTokens: 10, OutputTokens: 5},
	}
	r := newTestRouter(p, 0, time.Minute)

	b, err := r.Route(PurposeTriage, TierFast)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	var out struct {
		Score float64 `json:"score"`
	}
	meta, err := b.Call(context.Background(), "triage", Request{Prompt: "judge"}, &out)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out.Score != 0.8 {
		t.Errorf("expected score 0.8, got %v", out.Score)
	}
	if meta.InputTokens != 10 || meta.OutputTokens != 5 {
		t.Errorf("unexpected token accounting: %+v", meta)
	}
	if p.lastReq.Model != "test-model" {
		t.Errorf("expected routed model on request, got %q", p.lastReq.Model)
	}
}

func TestCall_ParseFailureIsTyped(t *testing.T) {
	p := &fakeProvider{
		name:     "fake",
		response: &RawResponse{Text: "not json at all"},
	}
	r := newTestRouter(p, 0, time.Minute)

	b, _ := r.Route(PurposeTriage, TierFast)
	var out struct{}
	_, err := b.Call(context.Background(), "triage", Request{}, &out)
	if core.KindOf(err) != core.ErrKindProviderParse {
		t.Errorf("expected parse error kind, got %v (err: %v)", core.KindOf(err), err)
	}
}

func TestCall_RateCeilingFailsFast(t *testing.T) {
	p := &fakeProvider{name: "fake", response: &RawResponse{Text: "{}"}}
	r := newTestRouter(p, 1, time.Minute)

	b, _ := r.Route(PurposeTriage, TierFast)
	if _, err := b.Call(context.Background(), "triage", Request{}, nil); err != nil {
		t.Fatalf("first call should pass the ceiling: %v", err)
	}
	_, err := b.Call(context.Background(), "triage", Request{}, nil)
	if core.KindOf(err) != core.ErrKindRateLimited {
		t.Errorf("expected rate-limited kind, got %v (err: %v)", core.KindOf(err), err)
	}
}

func TestCall_TimeoutBecomesTimeoutError(t *testing.T) {
	p := &fakeProvider{name: "fake", err: context.DeadlineExceeded}
	r := newTestRouter(p, 0, 30*time.Second)

	b, _ := r.Route(PurposeTriage, TierFast)
	_, err := b.Call(context.Background(), "triage item 42", Request{}, nil)

	var te *core.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Label != "triage item 42" {
		t.Errorf("expected call label on timeout, got %q", te.Label)
	}
	if core.KindOf(err) != core.ErrKindProviderTimeout {
		t.Errorf("expected timeout kind, got %v", core.KindOf(err))
	}
}

func TestCall_CallerCancellationIsNotATimeout(t *testing.T) {
	p := &fakeProvider{name: "fake", err: context.DeadlineExceeded}
	r := newTestRouter(p, 0, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, _ := r.Route(PurposeTriage, TierFast)
	_, err := b.Call(ctx, "triage", Request{}, nil)

	var te *core.TimeoutError
	if errors.As(err, &te) {
		t.Errorf("caller cancellation must not be reported as a provider timeout")
	}
}

func TestRouteVariant_RejectsUnknownProvider(t *testing.T) {
	p := &fakeProvider{name: ProviderGemini}
	r := newTestRouter(p, 0, time.Minute)

	_, err := r.RouteVariant(core.AbtestVariant{Name: "b", Provider: "anthropic", Model: "x"})
	if core.KindOf(err) != core.ErrKindValidation {
		t.Errorf("expected validation error for unconfigured provider, got %v", err)
	}

	b, err := r.RouteVariant(core.AbtestVariant{Name: "a", Provider: ProviderGemini, Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("expected configured provider to bind: %v", err)
	}
	if b.Model != "gemini-2.5-flash" {
		t.Errorf("variant model not carried onto binding: %q", b.Model)
	}
}

func TestNew_RequiresAtLeastOneProvider(t *testing.T) {
	_, err := New(config.AI{})
	if core.KindOf(err) != core.ErrKindValidation {
		t.Errorf("expected validation error with no providers, got %v", err)
	}
}

func TestNew_FillsAllRoutesFromOneProvider(t *testing.T) {
	r, err := New(config.AI{
		OpenAI: config.OpenAIConfig{
			APIKey:         "sk-test",
			BaseURL:        "https://api.openai.com/v1",
			TriageModel:    "gpt-5-mini",
			SummarizeModel: "gpt-5",
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, purpose := range []Purpose{PurposeTriage, PurposeSummarize} {
		for _, tier := range []Tier{TierFast, TierDeep} {
			b, err := r.Route(purpose, tier)
			if err != nil {
				t.Errorf("no route for %s/%s: %v", purpose, tier, err)
				continue
			}
			if b.Provider != ProviderOpenAI {
				t.Errorf("%s/%s routed to %q", purpose, tier, b.Provider)
			}
		}
	}
}

func TestNew_SubscriptionAuthRequiresToken(t *testing.T) {
	t.Setenv("OPENAI_SUBSCRIPTION_TOKEN", "")
	_, err := New(config.AI{OpenAI: config.OpenAIConfig{SubscriptionAuth: true}})
	if err == nil {
		t.Fatal("expected error when subscription auth is enabled without a token")
	}
	if !strings.Contains(err.Error(), "OPENAI_SUBSCRIPTION_TOKEN") {
		t.Errorf("error should name the missing token variable: %v", err)
	}
}

func TestNew_RoutesCarryReasoningEffort(t *testing.T) {
	r, err := New(config.AI{
		OpenAI: config.OpenAIConfig{
			APIKey:          "sk-test",
			BaseURL:         "https://api.openai.com/v1",
			TriageModel:     "gpt-5-mini",
			TriageEffort:    "low",
			SummarizeModel:  "gpt-5",
			SummarizeEffort: "high",
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	b, err := r.Route(PurposeTriage, TierFast)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if b.ReasoningEffort != "low" {
		t.Errorf("triage/fast effort = %q, want low", b.ReasoningEffort)
	}

	b, err = r.Route(PurposeSummarize, TierDeep)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if b.ReasoningEffort != "high" {
		t.Errorf("summarize/deep effort = %q, want high", b.ReasoningEffort)
	}
}

func TestCall_AppliesRouteReasoningEffort(t *testing.T) {
	p := &fakeProvider{name: "fake", response: &RawResponse{Text: "{}"}}
	r := newTestRouter(p, 0, time.Minute)
	r.routes[routeKey{PurposeTriage, TierFast}] = route{provider: p.name, model: "test-model", effort: "low"}

	b, _ := r.Route(PurposeTriage, TierFast)
	if _, err := b.Call(context.Background(), "triage", Request{}, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if p.lastReq.ReasoningEffort != "low" {
		t.Errorf("route effort not applied to request: %q", p.lastReq.ReasoningEffort)
	}

	// An effort set on the request, as A/B variants do, wins over the route.
	if _, err := b.Call(context.Background(), "triage", Request{ReasoningEffort: "high"}, nil); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if p.lastReq.ReasoningEffort != "high" {
		t.Errorf("explicit request effort overridden: %q", p.lastReq.ReasoningEffort)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", `Here is the result: {"a":1}`, `{"a":1}`},
		{"trailing prose", `{"a":1} hope that helps`, `{"a":1}`},
		{"no json", "nothing structured", "nothing structured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.input); got != tt.expected {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHourlyLimiter_SlidingWindow(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newHourlyLimiter(2)
	l.now = func() time.Time { return clock }

	if !l.Allow() || !l.Allow() {
		t.Fatal("first two calls should be within the ceiling")
	}
	if l.Allow() {
		t.Error("third call within the hour should be rejected")
	}

	clock = clock.Add(61 * time.Minute)
	if !l.Allow() {
		t.Error("calls older than an hour should have aged out")
	}
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected core.ErrorKind
	}{
		{"401", 401, "bad key", core.ErrKindProviderAuth},
		{"403", 403, "forbidden", core.ErrKindProviderAuth},
		{"429", 429, "slow down", core.ErrKindRateLimited},
		{"auth message", 400, "API key not valid", core.ErrKindProviderAuth},
		{"server error", 500, "internal", core.ErrKindProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTPError("test", tt.status, tt.body)
			if core.KindOf(err) != tt.expected {
				t.Errorf("status %d body %q classified as %v, want %v", tt.status, tt.body, core.KindOf(err), tt.expected)
			}
		})
	}
}
