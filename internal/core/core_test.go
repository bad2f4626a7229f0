package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindOf_PipelineError(t *testing.T) {
	err := NewError(ErrKindProviderAuth, "invalid key", nil)
	wrapped := fmt.Errorf("triage call: %w", err)

	if got := KindOf(wrapped); got != ErrKindProviderAuth {
		t.Errorf("Expected kind %s, got %s", ErrKindProviderAuth, got)
	}
}

func TestKindOf_TimeoutError(t *testing.T) {
	err := fmt.Errorf("call failed: %w", &TimeoutError{Label: "triage", Bound: 30 * time.Second})

	if got := KindOf(err); got != ErrKindProviderTimeout {
		t.Errorf("Expected kind %s, got %s", ErrKindProviderTimeout, got)
	}
}

func TestKindOf_BudgetError(t *testing.T) {
	err := fmt.Errorf("triage denied: %w", &BudgetError{
		Usage: CreditUsage{MonthlyUsed: 5, MonthlyLimit: 1},
	})

	if got := KindOf(err); got != ErrKindBudgetExceeded {
		t.Errorf("Expected kind %s, got %s", ErrKindBudgetExceeded, got)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != ErrKindProvider {
		t.Errorf("Expected unclassified errors to map to %s, got %s", ErrKindProvider, got)
	}
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Label: "openai triage", Bound: 45 * time.Second}

	msg := err.Error()
	if !strings.Contains(msg, "openai triage") {
		t.Errorf("Timeout message should carry the caller label, got %q", msg)
	}
	if !strings.Contains(msg, "45s") {
		t.Errorf("Timeout message should carry the elapsed bound, got %q", msg)
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrKindStorage, "insert digest", cause)

	if !errors.Is(err, cause) {
		t.Error("PipelineError should unwrap to its cause")
	}
}

func TestBudgetError_CarriesUsage(t *testing.T) {
	err := &BudgetError{Usage: CreditUsage{MonthlyUsed: 100, MonthlyLimit: 100}}

	if !strings.Contains(err.Error(), "100.00/100.00") {
		t.Errorf("Budget error should report exact usage, got %q", err.Error())
	}
}
