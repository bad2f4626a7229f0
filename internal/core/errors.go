package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies pipeline failures for propagation decisions.
type ErrorKind string

const (
	// ErrKindValidation marks malformed windows or configuration. Fatal to the
	// single operation, never retried automatically.
	ErrKindValidation ErrorKind = "VALIDATION"
	// ErrKindProviderAuth marks LLM credential or auth failures, surfaced
	// distinctly so operators can redirect to an alternate provider.
	ErrKindProviderAuth ErrorKind = "PROVIDER_AUTH"
	// ErrKindProviderTimeout marks a bounded wait that was exceeded. Retryable
	// by the caller, never auto-retried internally.
	ErrKindProviderTimeout ErrorKind = "PROVIDER_TIMEOUT"
	// ErrKindProviderParse marks a response that did not match the expected
	// structured schema. A triage miss for that candidate, not a job failure.
	ErrKindProviderParse ErrorKind = "PROVIDER_PARSE"
	// ErrKindProvider marks any other provider-side failure.
	ErrKindProvider ErrorKind = "PROVIDER_ERROR"
	// ErrKindRateLimited marks an in-process per-provider call ceiling hit.
	ErrKindRateLimited ErrorKind = "RATE_LIMITED"
	// ErrKindBudgetExceeded marks a paid call denied by the credit ledger.
	ErrKindBudgetExceeded ErrorKind = "BUDGET_EXCEEDED"
	// ErrKindStorage marks a repository failure; propagated, since no amount
	// of in-process recovery helps.
	ErrKindStorage ErrorKind = "STORAGE_FAILURE"
)

// PipelineError is a classified error carried across component boundaries.
type PipelineError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a classified pipeline error wrapping an underlying cause.
func NewError(kind ErrorKind, msg string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the error kind from err, or ErrKindProvider when the error
// carries no classification.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return ErrKindProviderTimeout
	}
	var be *BudgetError
	if errors.As(err, &be) {
		return ErrKindBudgetExceeded
	}
	return ErrKindProvider
}

// TimeoutError reports an external call that exceeded its explicit bound.
// Label identifies the call site for diagnostics. The condition is retryable
// by the caller; nothing in the pipeline auto-retries it.
type TimeoutError struct {
	Label string
	Bound time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Label, e.Bound)
}

// BudgetError carries the exact usage numbers alongside a denied paid call so
// callers can present actionable state without re-deriving it.
type BudgetError struct {
	Usage CreditUsage
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("credit budget exceeded: monthly %.2f/%.2f used",
		e.Usage.MonthlyUsed, e.Usage.MonthlyLimit)
}
