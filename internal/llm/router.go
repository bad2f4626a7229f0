package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scout/internal/config"
	"scout/internal/core"
)

// ProviderGemini and ProviderOpenAI are the provider names used in routing
// configuration and A/B variant definitions.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type routeKey struct {
	purpose Purpose
	tier    Tier
}

type route struct {
	provider string
	model    string
	effort   string
}

// Router selects a provider/model per call purpose and tier, enforces
// per-provider call-rate ceilings in-process, and wraps every call with an
// explicit timeout. It is constructed once per job (or per process when
// credentials are static) and passed by reference; there is no package-level
// router state.
type Router struct {
	providers map[string]Provider
	limiters  map[string]*hourlyLimiter
	routes    map[routeKey]route
	timeout   time.Duration
}

// New builds a Router from provider configuration. At least one provider
// must be configured.
func New(cfg config.AI) (*Router, error) {
	r := &Router{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*hourlyLimiter),
		routes:    make(map[routeKey]route),
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if r.timeout <= 0 {
		r.timeout = 45 * time.Second
	}

	if cfg.Gemini.APIKey != "" || cfg.Gemini.SubscriptionAuth {
		p, err := newGeminiProvider(cfg.Gemini)
		if err != nil {
			return nil, fmt.Errorf("failed to configure gemini provider: %w", err)
		}
		r.register(p, cfg.Gemini.CallsPerHour)
		r.routes[routeKey{PurposeTriage, TierFast}] = route{provider: ProviderGemini, model: cfg.Gemini.TriageModel}
		r.routes[routeKey{PurposeSummarize, TierDeep}] = route{provider: ProviderGemini, model: cfg.Gemini.SummarizeModel}
	}
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.SubscriptionAuth {
		p, err := newOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to configure openai provider: %w", err)
		}
		r.register(p, cfg.OpenAI.CallsPerHour)
		// OpenAI covers whatever Gemini does not; with both configured it
		// serves the deep triage tier and fast summaries.
		r.setIfMissing(routeKey{PurposeTriage, TierFast},
			route{provider: ProviderOpenAI, model: cfg.OpenAI.TriageModel, effort: cfg.OpenAI.TriageEffort})
		r.setIfMissing(routeKey{PurposeSummarize, TierDeep},
			route{provider: ProviderOpenAI, model: cfg.OpenAI.SummarizeModel, effort: cfg.OpenAI.SummarizeEffort})
		r.routes[routeKey{PurposeTriage, TierDeep}] = route{provider: ProviderOpenAI, model: cfg.OpenAI.SummarizeModel, effort: cfg.OpenAI.SummarizeEffort}
		r.routes[routeKey{PurposeSummarize, TierFast}] = route{provider: ProviderOpenAI, model: cfg.OpenAI.TriageModel, effort: cfg.OpenAI.TriageEffort}
	}
	if len(r.providers) == 0 {
		return nil, core.NewError(core.ErrKindValidation, "no LLM provider configured", nil)
	}

	// Any unfilled route falls back to the triage/fast binding.
	base, ok := r.routes[routeKey{PurposeTriage, TierFast}]
	if !ok {
		for _, rt := range r.routes {
			base = rt
			break
		}
	}
	for _, purpose := range []Purpose{PurposeTriage, PurposeSummarize} {
		for _, tier := range []Tier{TierFast, TierDeep} {
			r.setIfMissing(routeKey{purpose, tier}, base)
		}
	}

	return r, nil
}

// NewWithProviders builds a router over pre-constructed providers, routing
// every purpose and tier to the first one with its zero-value model. Callers
// that bring their own Provider implementation (tests, embedded tools) use
// this instead of New.
func NewWithProviders(timeout time.Duration, providers ...Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, core.NewError(core.ErrKindValidation, "no LLM provider configured", nil)
	}
	r := &Router{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*hourlyLimiter),
		routes:    make(map[routeKey]route),
		timeout:   timeout,
	}
	for _, p := range providers {
		r.register(p, 0)
	}
	base := route{provider: providers[0].Name()}
	for _, purpose := range []Purpose{PurposeTriage, PurposeSummarize} {
		for _, tier := range []Tier{TierFast, TierDeep} {
			r.routes[routeKey{purpose, tier}] = base
		}
	}
	return r, nil
}

func (r *Router) register(p Provider, callsPerHour int) {
	r.providers[p.Name()] = p
	r.limiters[p.Name()] = newHourlyLimiter(callsPerHour)
}

func (r *Router) setIfMissing(k routeKey, rt route) {
	if _, ok := r.routes[k]; !ok {
		r.routes[k] = rt
	}
}

// Binding is one resolved (provider, model, reasoning effort) combination
// ready to call. ReasoningEffort is empty for providers without an effort
// knob.
type Binding struct {
	Provider        string
	Model           string
	ReasoningEffort string
	router          *Router
}

// Route resolves the provider/model/effort combination for a purpose and tier.
func (r *Router) Route(purpose Purpose, tier Tier) (*Binding, error) {
	rt, ok := r.routes[routeKey{purpose, tier}]
	if !ok {
		return nil, core.NewError(core.ErrKindValidation,
			fmt.Sprintf("no route for purpose %q tier %q", purpose, tier), nil)
	}
	return &Binding{Provider: rt.provider, Model: rt.model, ReasoningEffort: rt.effort, router: r}, nil
}

// RouteVariant binds an explicit A/B variant configuration, validating that
// its provider is available.
func (r *Router) RouteVariant(v core.AbtestVariant) (*Binding, error) {
	if _, ok := r.providers[v.Provider]; !ok {
		return nil, core.NewError(core.ErrKindValidation,
			fmt.Sprintf("variant %q names unconfigured provider %q", v.Name, v.Provider), nil)
	}
	return &Binding{Provider: v.Provider, Model: v.Model, ReasoningEffort: v.ReasoningEffort, router: r}, nil
}

// Call issues one structured call: the provider must answer with JSON that
// unmarshals into out. The call is bounded by the router timeout; exceeding
// it returns a core.TimeoutError labeled with the given label. Rate ceiling
// violations fail fast rather than queueing.
func (b *Binding) Call(ctx context.Context, label string, req Request, out interface{}) (*CallMeta, error) {
	provider, ok := b.router.providers[b.Provider]
	if !ok {
		return nil, core.NewError(core.ErrKindValidation, "unknown provider: "+b.Provider, nil)
	}
	if !b.router.limiters[b.Provider].Allow() {
		return nil, core.NewError(core.ErrKindRateLimited,
			fmt.Sprintf("%s hourly call ceiling reached", b.Provider), nil)
	}

	req.Model = b.Model
	if req.ReasoningEffort == "" {
		req.ReasoningEffort = b.ReasoningEffort
	}
	callCtx, cancel := context.WithTimeout(ctx, b.router.timeout)
	defer cancel()

	started := time.Now()
	resp, err := provider.Generate(callCtx, req)
	latency := time.Since(started)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &core.TimeoutError{Label: label, Bound: b.router.timeout}
		}
		return nil, err
	}

	meta := &CallMeta{
		Provider:     b.Provider,
		Model:        b.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMs:    latency.Milliseconds(),
	}

	if out != nil {
		payload := extractJSON(resp.Text)
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			return meta, core.NewError(core.ErrKindProviderParse,
				fmt.Sprintf("%s response did not match expected schema", b.Provider), err)
		}
	}
	return meta, nil
}

// extractJSON strips markdown code fences and leading prose that some models
// wrap around their JSON payloads.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		return strings.TrimSpace(text)
	}
	// Fall back to the outermost object when the model added prose around it.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
