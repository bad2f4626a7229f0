// Package credits derives spend state from the provider-call audit trail and
// gates paid LLM calls against monthly and daily limits. There is no running
// counter; usage is aggregated at check time, so concurrent call inserts are
// consistent at the next check.
package credits

import (
	"context"
	"fmt"
	"time"

	"scout/internal/core"
	"scout/internal/persistence"
)

// Credit cost per token, by direction. Output tokens cost more, mirroring
// provider pricing shape without tracking per-model price tables.
const (
	inputTokenCredits  = 0.00025
	outputTokenCredits = 0.001
)

// Ledger answers "are paid calls currently allowed?" for a user.
type Ledger struct {
	calls persistence.ProviderCallRepository
}

// NewLedger builds a ledger over the provider-call audit repository.
func NewLedger(calls persistence.ProviderCallRepository) *Ledger {
	return &Ledger{calls: calls}
}

// monthWindow returns the calendar month containing t, in UTC.
func monthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// dayWindow returns the calendar day containing t, in UTC.
func dayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Status computes the user's spend state as of the given instant. The monthly
// window is the calendar month containing at; the daily window, when a daily
// limit is configured, is the calendar day containing at. Daily fields stay
// nil when no daily limit is set and do not affect PaidCallsAllowed.
func (l *Ledger) Status(ctx context.Context, user *core.User, at time.Time) (*core.CreditUsage, error) {
	monthStart, monthEnd := monthWindow(at)
	monthlyUsed, err := l.calls.SumCostInRange(ctx, user.ID, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate monthly spend: %w", err)
	}

	usage := &core.CreditUsage{
		MonthlyUsed:      monthlyUsed,
		MonthlyLimit:     user.MonthlyCreditLimit,
		MonthlyRemaining: user.MonthlyCreditLimit - monthlyUsed,
	}
	usage.PaidCallsAllowed = usage.MonthlyRemaining > 0

	if user.DailyCreditLimit != nil {
		dayStart, dayEnd := dayWindow(at)
		dailyUsed, err := l.calls.SumCostInRange(ctx, user.ID, dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate daily spend: %w", err)
		}
		dailyLimit := *user.DailyCreditLimit
		dailyRemaining := dailyLimit - dailyUsed
		usage.DailyUsed = &dailyUsed
		usage.DailyLimit = &dailyLimit
		usage.DailyRemaining = &dailyRemaining
		usage.PaidCallsAllowed = usage.PaidCallsAllowed && dailyRemaining > 0
	}

	return usage, nil
}

// Authorize checks the budget ahead of a paid call and returns a
// core.BudgetError carrying the exact usage numbers when it is denied.
func (l *Ledger) Authorize(ctx context.Context, user *core.User, at time.Time) (*core.CreditUsage, error) {
	usage, err := l.Status(ctx, user, at)
	if err != nil {
		return nil, err
	}
	if !usage.PaidCallsAllowed {
		return usage, &core.BudgetError{Usage: *usage}
	}
	return usage, nil
}

// CostFor estimates the credit cost of one call from its token counts.
func CostFor(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*inputTokenCredits + float64(outputTokens)*outputTokenCredits
}
