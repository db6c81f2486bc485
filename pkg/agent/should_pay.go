package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowpay-labs/paystream/pkg/x402"
)

// ShouldPay asks the oracle whether req is worth paying for given the budget
// and what has been spent so far. With no oracle configured, or when the
// oracle fails, the answer is yes.
func (a *Agent) ShouldPay(ctx context.Context, req x402.Requirement, purpose string) bool {
	if a.oracle == nil {
		return true
	}
	prompt := fmt.Sprintf(`You are an AI payment agent. Should you pay for this service?

Service: %s
Payment Mode: %s
Cost: %s
Context: %s
Daily Budget: %s
Spent so far: %s

Respond with just YES or NO.`,
		deref(req.Description, "unknown"),
		req.Mode,
		costOf(req),
		purpose,
		a.cfg.DailyBudget,
		a.Stats().TotalSpent,
	)

	answer, err := a.oracle.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("payment judgment unavailable, paying", "error", err)
		return true
	}
	return strings.Contains(strings.ToUpper(answer), "YES")
}

func costOf(req x402.Requirement) string {
	if req.Mode == x402.ModeStreaming {
		return deref(req.RatePerSecond, "unknown") + "/second"
	}
	return deref(req.Amount, "unknown")
}

func deref(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
