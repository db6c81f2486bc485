package consensus

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

// NoAgentsSummary is the summary of a request nobody evaluated.
const NoAgentsSummary = "No agents available"

// Tally counts decisions by action.
func Tally(decisions []payment.Decision) payment.Tally {
	var t payment.Tally
	for _, d := range decisions {
		switch d.Action {
		case payment.ActionApprove:
			t.Approvals++
		case payment.ActionReject:
			t.Rejections++
		case payment.ActionDefer:
			t.Defers++
		default:
			t.Reviews++
		}
	}
	return t
}

// FinalAction applies the reduction precedence: any rejection vetoes, then
// the approval threshold, then any defer, otherwise review.
func FinalAction(t payment.Tally, threshold float64) payment.Action {
	total := t.Total()
	switch {
	case total == 0:
		return payment.ActionRequestReview
	case t.Rejections > 0:
		return payment.ActionReject
	case float64(t.Approvals)/float64(total) >= threshold:
		return payment.ActionApprove
	case t.Defers > 0:
		return payment.ActionDefer
	}
	return payment.ActionRequestReview
}

// Score is the consensus score for action over t. It depends only on the
// tally, never on decision order.
func Score(t payment.Tally, action payment.Action) float64 {
	total := float64(t.Total())
	if total == 0 {
		return 0
	}
	switch action {
	case payment.ActionReject:
		return float64(t.Rejections) / total
	case payment.ActionApprove:
		return float64(t.Approvals) / total
	}
	return 1 - math.Abs(float64(t.Approvals-t.Rejections))/total
}

// Reduce folds decisions into an OrchestratorDecision. The input order is
// preserved in the result. RequestID and DecidedAt are left to the caller.
func Reduce(decisions []payment.Decision, threshold float64) payment.OrchestratorDecision {
	t := Tally(decisions)
	total := t.Total()
	if total == 0 {
		return payment.OrchestratorDecision{
			FinalAction: payment.ActionRequestReview,
			Decisions:   []payment.Decision{},
			Summary:     NoAgentsSummary,
		}
	}

	confidences := make([]float64, total)
	for i, d := range decisions {
		confidences[i] = d.Confidence
	}
	mean, std := stat.Mean(confidences, nil), 0.0
	if total > 1 {
		mean, std = stat.MeanStdDev(confidences, nil)
	}

	action := FinalAction(t, threshold)
	kept := make([]payment.Decision, total)
	copy(kept, decisions)

	return payment.OrchestratorDecision{
		FinalAction:      action,
		Decisions:        kept,
		ConsensusScore:   Score(t, action),
		Summary:          fmt.Sprintf("Agents: %d approve, %d reject, %d defer, %d review. Avg confidence: %.2f", t.Approvals, t.Rejections, t.Defers, t.Reviews, mean),
		Tally:            t,
		ApprovalRate:     float64(t.Approvals) / float64(total),
		RejectionRate:    float64(t.Rejections) / float64(total),
		MeanConfidence:   mean,
		ConfidenceStdDev: std,
	}
}
