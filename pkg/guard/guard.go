// Package guard evaluates deterministic pre-checks that run before an
// evaluator consults the oracle. Guards are CEL expressions over two
// variables: request (the payment request) and facts (role facts such as the
// available treasury balance). A guard that evaluates to true rejects the
// payment outright.
package guard

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

// Rule is one guard expression.
type Rule struct {
	Name   string `yaml:"name" json:"name"`
	Expr   string `yaml:"expr" json:"expr"`
	Reason string `yaml:"reason" json:"reason"`
}

// InsufficientBalance rejects requests larger than the available balance.
var InsufficientBalance = Rule{
	Name:   "insufficient_balance",
	Expr:   "request.amount > facts.available_balance",
	Reason: "Insufficient treasury balance",
}

// Engine compiles and caches CEL programs.
type Engine struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Engine{env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	p, err := e.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

// Compile checks that expr is a valid guard.
func (e *Engine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval evaluates expr against req and facts.
func (e *Engine) Eval(expr string, req payment.Request, facts map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	if facts == nil {
		facts = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"request": RequestVars(req),
		"facts":   facts,
	})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL guard %q did not return bool", expr)
	}
	return v, nil
}

// RequestVars is the request as seen from CEL.
func RequestVars(req payment.Request) map[string]any {
	return map[string]any{
		"id":            req.ID,
		"from":          req.From,
		"to":            req.To,
		"amount":        req.Amount,
		"description":   req.Description,
		"urgency":       req.Urgency.String(),
		"urgency_level": int64(req.Urgency),
	}
}

// Set is an ordered list of rules sharing one engine.
type Set struct {
	engine *Engine
	rules  []Rule
}

// NewSet compiles every rule up front so that a bad policy fails at load.
func NewSet(engine *Engine, rules ...Rule) (*Set, error) {
	for _, r := range rules {
		if err := engine.Compile(r.Expr); err != nil {
			return nil, fmt.Errorf("guard %s: %w", r.Name, err)
		}
	}
	return &Set{engine: engine, rules: rules}, nil
}

// Len is the number of rules in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// First returns the first rule that fires, or nil when none does.
func (s *Set) First(req payment.Request, facts map[string]any) (*Rule, error) {
	if s == nil {
		return nil, nil
	}
	for i := range s.rules {
		hit, err := s.engine.Eval(s.rules[i].Expr, req, facts)
		if err != nil {
			return nil, fmt.Errorf("guard %s: %w", s.rules[i].Name, err)
		}
		if hit {
			return &s.rules[i], nil
		}
	}
	return nil, nil
}
