package payment_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

func TestUrgencyOrdering(t *testing.T) {
	assert.Less(t, payment.UrgencyLow, payment.UrgencyMedium)
	assert.Less(t, payment.UrgencyMedium, payment.UrgencyHigh)
	assert.Less(t, payment.UrgencyHigh, payment.UrgencyCritical)
}

func TestUrgencyText(t *testing.T) {
	for _, u := range []payment.Urgency{payment.UrgencyLow, payment.UrgencyMedium, payment.UrgencyHigh, payment.UrgencyCritical} {
		b, err := u.MarshalText()
		require.NoError(t, err)

		var back payment.Urgency
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, u, back)
	}

	_, err := payment.ParseUrgency("Critical")
	require.NoError(t, err)

	_, err = payment.ParseUrgency("whenever")
	require.ErrorIs(t, err, payment.ErrUnknownUrgency)
}

func TestNewRequestValidation(t *testing.T) {
	r, err := payment.NewRequest("0xaaaa", "0xbbbb", 1000, "subscription", payment.UrgencyMedium)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	_, err = payment.NewRequest("0xaaaa", "0xbbbb", -1, "refund?", payment.UrgencyLow)
	require.ErrorIs(t, err, payment.ErrNegativeAmount)

	_, err = payment.NewRequest("0xaaaa", "", 10, "nowhere", payment.UrgencyLow)
	require.ErrorIs(t, err, payment.ErrMissingRecipient)
}

func TestRequestJSONUsesUrgencyNames(t *testing.T) {
	r := payment.Request{ID: "r-1", From: "a", To: "b", Amount: 5, Urgency: payment.UrgencyHigh}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"urgency":"high"`)

	var back payment.Request
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r, back)
}

func TestNewDecisionCopiesRequestAndClamps(t *testing.T) {
	req := payment.Request{ID: "r-1", To: "0xdead", Amount: 42}

	d := payment.NewDecision("risk-1", req, payment.ActionApprove, "fine", 1.7)
	assert.Equal(t, 42.0, d.Amount)
	assert.Equal(t, "0xdead", d.Recipient)
	assert.Equal(t, 1.0, d.Confidence)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	assert.Equal(t, 0.0, payment.ClampConfidence(-0.2))
	assert.Equal(t, 0.0, payment.ClampConfidence(math.NaN()))
}

func TestOrchestratorDecisionEmptyListMarshalsAsArray(t *testing.T) {
	b, err := json.Marshal(payment.OrchestratorDecision{FinalAction: payment.ActionRequestReview})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"decisions":[]`)
}

func TestTallyTotal(t *testing.T) {
	assert.Equal(t, 10, payment.Tally{Approvals: 1, Rejections: 2, Defers: 3, Reviews: 4}.Total())
	assert.True(t, payment.ActionDefer.Valid())
	assert.False(t, payment.Action("maybe").Valid())
}
