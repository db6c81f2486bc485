// Package consensus fans a payment request out to every registered evaluator,
// waits for all of them, and reduces their decisions to one authoritative
// outcome.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowpay-labs/paystream/pkg/evaluator"
	"github.com/flowpay-labs/paystream/pkg/observability"
	"github.com/flowpay-labs/paystream/pkg/payment"
)

// DefaultApprovalThreshold is the approval fraction required to approve.
const DefaultApprovalThreshold = 0.75

// Orchestrator owns the evaluator registry.
type Orchestrator struct {
	mu         sync.RWMutex
	evaluators []evaluator.Evaluator

	threshold     float64
	maxConcurrent int
	obs           *observability.Provider
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrent bounds how many evaluators run at once. Zero means no
// bound.
func WithMaxConcurrent(n int) Option { return func(o *Orchestrator) { o.maxConcurrent = n } }

// WithObservability traces every consensus round.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New returns an orchestrator that approves when at least threshold of the
// decisions approve and none reject.
func New(threshold float64, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		threshold: threshold,
		obs:       observability.Disabled(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "consensus")
	return o
}

// Threshold is the configured approval threshold.
func (o *Orchestrator) Threshold() float64 { return o.threshold }

// Register appends e to the registry. Registration order is the order of
// Decisions in every OrchestratorDecision.
func (o *Orchestrator) Register(e evaluator.Evaluator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluators = append(o.evaluators, e)
	o.logger.Info("evaluator registered", "evaluator_id", e.ID(), "role", string(e.Role()))
}

// Count is the number of registered evaluators.
func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.evaluators)
}

func (o *Orchestrator) snapshot() []evaluator.Evaluator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]evaluator.Evaluator, len(o.evaluators))
	copy(out, o.evaluators)
	return out
}

// ProcessPayment evaluates req with every registered evaluator concurrently
// and reduces the results. It has no failure mode: an empty registry yields
// RequestReview with score 0.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req payment.Request) payment.OrchestratorDecision {
	evaluators := o.snapshot()

	ctx, done := o.obs.TrackOperation(ctx, "consensus.process_payment",
		observability.ConsensusOperation(req.ID, req.Amount, req.Urgency.String(), len(evaluators))...)

	decisions := o.collect(ctx, req, evaluators)
	out := Reduce(decisions, o.threshold)
	out.RequestID = req.ID
	out.DecidedAt = time.Now().UTC()

	observability.SetSpanAttributes(ctx,
		observability.AttrFinalAction.String(string(out.FinalAction)),
		observability.AttrScore.Float64(out.ConsensusScore),
	)
	o.obs.RecordDecision(ctx, string(out.FinalAction))
	done(nil)

	o.logger.Info("consensus reached",
		"request_id", req.ID,
		"final_action", string(out.FinalAction),
		"score", out.ConsensusScore,
		"summary", out.Summary,
	)
	return out
}

// collect is the fork-join barrier. Each goroutine writes only its own slot,
// so results come back in registration order regardless of finish order.
func (o *Orchestrator) collect(ctx context.Context, req payment.Request, evaluators []evaluator.Evaluator) []payment.Decision {
	if len(evaluators) == 0 {
		return nil
	}
	decisions := make([]payment.Decision, len(evaluators))

	var g errgroup.Group
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, e := range evaluators {
		g.Go(func() error {
			decisions[i] = o.evaluate(ctx, e, req)
			return nil
		})
	}
	_ = g.Wait()
	return decisions
}

func (o *Orchestrator) evaluate(ctx context.Context, e evaluator.Evaluator, req payment.Request) (d payment.Decision) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("evaluator panicked", "evaluator_id", e.ID(), "panic", r)
			d = payment.NewDecision(e.ID(), req, payment.ActionRequestReview, fmt.Sprintf("Evaluator failed: %v", r), 0)
		}
	}()
	return e.Evaluate(ctx, req)
}
