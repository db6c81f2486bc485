// Package evaluator implements the policy roles that each produce one
// Decision per payment request. All roles share the Evaluator surface so the
// consensus orchestrator never depends on a concrete role.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flowpay-labs/paystream/pkg/guard"
	"github.com/flowpay-labs/paystream/pkg/oracle"
	"github.com/flowpay-labs/paystream/pkg/payment"
	"github.com/flowpay-labs/paystream/pkg/verdict"
)

// Evaluator is one policy role.
type Evaluator interface {
	ID() string
	Role() Role
	// Evaluate always returns a Decision; internal failures become a
	// RequestReview Decision with confidence 0.
	Evaluate(ctx context.Context, req payment.Request) payment.Decision
	// Communicate forwards free text to the oracle in the role's voice.
	Communicate(ctx context.Context, message string) string
}

// Role identifies an evaluator variant.
type Role string

const (
	RoleRiskAssessor      Role = "risk_assessor"
	RoleComplianceOfficer Role = "compliance_officer"
	RoleTreasuryManager   Role = "treasury_manager"
	RoleFraudDetector     Role = "fraud_detector"
)

type roleSpec struct {
	idPrefix      string
	title         string
	failurePrefix string
}

var roleSpecs = map[Role]roleSpec{
	RoleRiskAssessor:      {"risk-assessor", "Risk Assessor", "Risk assessment failed"},
	RoleComplianceOfficer: {"compliance", "Compliance Officer", "Compliance check failed"},
	RoleTreasuryManager:   {"treasury", "Treasury Manager", "Treasury check failed"},
	RoleFraudDetector:     {"fraud-detector", "Fraud Detector", "Fraud detection failed"},
}

// Title is the human-readable role name.
func (r Role) Title() string {
	if s, ok := roleSpecs[r]; ok {
		return s.title
	}
	return string(r)
}

// RoleEvaluator is the shared implementation behind every role: guards,
// then the oracle, then the verdict rules.
type RoleEvaluator struct {
	id     string
	role   Role
	client oracle.Client
	rules  verdict.Rules
	guards *guard.Set
	facts  func() map[string]any
	prompt func(payment.Request) string
	logger *slog.Logger
}

var _ Evaluator = (*RoleEvaluator)(nil)

func newRoleEvaluator(role Role, client oracle.Client, rules verdict.Rules, o *options, builtin ...guard.Rule) (*RoleEvaluator, error) {
	spec := roleSpecs[role]
	id := o.id
	if id == "" {
		id = fmt.Sprintf("%s-%s", spec.idPrefix, uuid.New().String()[:8])
	}

	engine := o.engine
	if engine == nil {
		var err error
		if engine, err = guard.NewEngine(); err != nil {
			return nil, err
		}
	}
	set, err := guard.NewSet(engine, append(builtin, o.guards...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RoleEvaluator{
		id:     id,
		role:   role,
		client: client,
		rules:  rules,
		guards: set,
		facts:  func() map[string]any { return map[string]any{} },
		logger: logger.With("component", "evaluator", "evaluator_id", id, "role", string(role)),
	}, nil
}

func (e *RoleEvaluator) ID() string { return e.id }

func (e *RoleEvaluator) Role() Role { return e.role }

// Rules are the verdict override rules this evaluator applies.
func (e *RoleEvaluator) Rules() verdict.Rules { return e.rules }

func (e *RoleEvaluator) Evaluate(ctx context.Context, req payment.Request) payment.Decision {
	d := e.evaluate(ctx, req)
	e.logger.Info("decision",
		"request_id", req.ID,
		"action", string(d.Action),
		"confidence", d.Confidence,
		"reason", d.Reason,
	)
	return d
}

func (e *RoleEvaluator) evaluate(ctx context.Context, req payment.Request) payment.Decision {
	failed := roleSpecs[e.role].failurePrefix

	hit, err := e.guards.First(req, e.facts())
	if err != nil {
		return payment.NewDecision(e.id, req, payment.ActionRequestReview, fmt.Sprintf("%s: %v", failed, err), 0)
	}
	if hit != nil {
		return payment.NewDecision(e.id, req, payment.ActionReject, hit.Reason, 1.0)
	}

	text, err := e.client.Generate(ctx, e.prompt(req))
	if err != nil {
		e.logger.Warn("oracle call failed", "request_id", req.ID, "error", err)
		return payment.NewDecision(e.id, req, payment.ActionRequestReview, fmt.Sprintf("%s: %v", failed, err), 0)
	}

	out := verdict.Decide(text, e.rules)
	return payment.NewDecision(e.id, req, out.Action, out.Reason, out.Confidence)
}

func (e *RoleEvaluator) Communicate(ctx context.Context, message string) string {
	prompt := fmt.Sprintf("You are a %s agent (%s) in a payment approval team. Respond to this message:\n%s",
		e.role.Title(), e.id, message)
	text, err := e.client.Generate(ctx, prompt)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return text
}
