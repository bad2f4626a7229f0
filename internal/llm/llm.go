// Package llm routes structured LLM calls across providers, normalizing their
// heterogeneous response envelopes and enforcing per-provider call ceilings.
package llm

import (
	"context"
)

// Purpose identifies what a call is for; routing picks models per purpose.
type Purpose string

const (
	// PurposeTriage is the relevance judgment call made per candidate.
	PurposeTriage Purpose = "triage"
	// PurposeSummarize is the deeper summarization call for selected items.
	PurposeSummarize Purpose = "summarize"
	// PurposeAbtest marks harness calls in the audit trail.
	PurposeAbtest Purpose = "abtest"
)

// Tier selects the capability/cost level within a purpose.
type Tier string

const (
	// TierFast prefers the cheapest capable model.
	TierFast Tier = "fast"
	// TierDeep prefers the strongest configured model.
	TierDeep Tier = "deep"
)

// Request is a provider-agnostic generation request. Providers translate it
// into their own wire format and must request JSON output.
type Request struct {
	Model           string
	Prompt          string
	MaxTokens       int
	Temperature     float32
	ReasoningEffort string // provider-specific effort hint, ignored where unsupported
}

// RawResponse is the normalized provider envelope: assistant text plus token
// accounting, regardless of how the provider nests its output.
type RawResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider generates text for a request. Implementations classify their own
// failures into the pipeline error taxonomy.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*RawResponse, error)
}

// CallMeta describes one completed routed call.
type CallMeta struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
}
