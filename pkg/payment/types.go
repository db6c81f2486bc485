// Package payment defines the values that flow through the consensus engine:
// the payment request under evaluation, the per-evaluator decision, and the
// reduced orchestrator decision.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNegativeAmount is returned when a request carries an amount below zero.
	ErrNegativeAmount = errors.New("payment: amount must not be negative")
	// ErrMissingRecipient is returned when a request has no recipient.
	ErrMissingRecipient = errors.New("payment: recipient must not be empty")
	// ErrUnknownUrgency is returned when an urgency label cannot be parsed.
	ErrUnknownUrgency = errors.New("payment: unknown urgency")
)

// Urgency is an ordered priority label: Low < Medium < High < Critical.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = [...]string{"low", "medium", "high", "critical"}

func (u Urgency) String() string {
	if u < UrgencyLow || u > UrgencyCritical {
		return fmt.Sprintf("urgency(%d)", int(u))
	}
	return urgencyNames[u]
}

// ParseUrgency accepts the lower- or mixed-case urgency name.
func ParseUrgency(s string) (Urgency, error) {
	for i, name := range urgencyNames {
		if strings.EqualFold(s, name) {
			return Urgency(i), nil
		}
	}
	return UrgencyLow, fmt.Errorf("%w: %q", ErrUnknownUrgency, s)
}

func (u Urgency) MarshalText() ([]byte, error) {
	if u < UrgencyLow || u > UrgencyCritical {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUrgency, int(u))
	}
	return []byte(u.String()), nil
}

func (u *Urgency) UnmarshalText(b []byte) error {
	parsed, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Action is the outcome an evaluator (or the consensus) recommends.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionDefer         Action = "defer"
	ActionRequestReview Action = "request_review"
)

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionDefer, ActionRequestReview:
		return true
	}
	return false
}

// Request is a single payment awaiting a decision. It is treated as immutable
// once built; evaluators receive it by value.
type Request struct {
	ID          string  `json:"id"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Urgency     Urgency `json:"urgency"`
}

// NewRequest builds a validated request with a fresh identifier.
func NewRequest(from, to string, amount float64, description string, urgency Urgency) (Request, error) {
	r := Request{
		ID:          uuid.New().String(),
		From:        from,
		To:          to,
		Amount:      amount,
		Description: description,
		Urgency:     urgency,
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.Amount < 0 {
		return ErrNegativeAmount
	}
	if r.To == "" {
		return ErrMissingRecipient
	}
	return nil
}

// Decision is one evaluator's recommendation for one request.
type Decision struct {
	ID          string    `json:"id"`
	EvaluatorID string    `json:"evaluator_id"`
	Action      Action    `json:"action"`
	Amount      float64   `json:"amount"`
	Recipient   string    `json:"recipient"`
	Reason      string    `json:"reason"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDecision stamps a decision for req. Confidence is clamped into [0,1].
func NewDecision(evaluatorID string, req Request, action Action, reason string, confidence float64) Decision {
	return Decision{
		ID:          uuid.New().String(),
		EvaluatorID: evaluatorID,
		Action:      action,
		Amount:      req.Amount,
		Recipient:   req.To,
		Reason:      reason,
		Confidence:  ClampConfidence(confidence),
		CreatedAt:   time.Now().UTC(),
	}
}

// ClampConfidence bounds c into [0,1]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case c != c:
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Tally counts decisions by action.
type Tally struct {
	Approvals  int `json:"approvals"`
	Rejections int `json:"rejections"`
	Defers     int `json:"defers"`
	Reviews    int `json:"reviews"`
}

// Total is the number of decisions counted.
func (t Tally) Total() int {
	return t.Approvals + t.Rejections + t.Defers + t.Reviews
}

// OrchestratorDecision is the reduced outcome of every registered evaluator.
// Decisions are kept in evaluator registration order.
type OrchestratorDecision struct {
	RequestID        string     `json:"request_id"`
	FinalAction      Action     `json:"final_action"`
	Decisions        []Decision `json:"decisions"`
	ConsensusScore   float64    `json:"consensus_score"`
	Summary          string     `json:"summary"`
	Tally            Tally      `json:"tally"`
	ApprovalRate     float64    `json:"approval_rate"`
	RejectionRate    float64    `json:"rejection_rate"`
	MeanConfidence   float64    `json:"mean_confidence"`
	ConfidenceStdDev float64    `json:"confidence_std_dev"`
	DecidedAt        time.Time  `json:"decided_at"`
}

// MarshalJSON keeps an empty decision list as [] rather than null.
func (d OrchestratorDecision) MarshalJSON() ([]byte, error) {
	type alias OrchestratorDecision
	if d.Decisions == nil {
		d.Decisions = []Decision{}
	}
	return json.Marshal(alias(d))
}
