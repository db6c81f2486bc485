// Package receipts is the audit journal of consensus decisions and
// synthetic payments. It is write-mostly: nothing in the engine or the agent
// is ever rehydrated from it.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("receipts: not found")

// DefaultListLimit bounds List calls that pass a non-positive limit.
const DefaultListLimit = 50

// DecisionRecord is one journaled consensus outcome.
type DecisionRecord struct {
	RequestID      string                       `json:"request_id"`
	From           string                       `json:"from"`
	To             string                       `json:"to"`
	Amount         float64                      `json:"amount"`
	FinalAction    payment.Action               `json:"final_action"`
	ConsensusScore float64                      `json:"consensus_score"`
	Summary        string                       `json:"summary"`
	Decision       payment.OrchestratorDecision `json:"decision"`
	RecordedAt     time.Time                    `json:"recorded_at"`
}

// NewDecisionRecord flattens req and its outcome for the journal.
func NewDecisionRecord(req payment.Request, d payment.OrchestratorDecision) DecisionRecord {
	return DecisionRecord{
		RequestID:      req.ID,
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		FinalAction:    d.FinalAction,
		ConsensusScore: d.ConsensusScore,
		Summary:        d.Summary,
		Decision:       d,
		RecordedAt:     time.Now().UTC(),
	}
}

// Payment is one synthetic payment made by an agent.
type Payment struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	URL         string    `json:"url"`
	Recipient   string    `json:"recipient"`
	Mode        string    `json:"mode"`
	StreamID    uint64    `json:"stream_id,omitempty"`
	TxRef       string    `json:"tx_ref,omitempty"`
	AmountPaid  string    `json:"amount_paid"`
	AmountMicro uint64    `json:"amount_micro"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the journal.
type Store interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error
	RecordPayment(ctx context.Context, p Payment) error
	GetDecision(ctx context.Context, requestID string) (*DecisionRecord, error)
	// ListDecisions returns the most recent records first.
	ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	ListPayments(ctx context.Context, limit int) ([]Payment, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
