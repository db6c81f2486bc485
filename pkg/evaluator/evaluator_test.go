package evaluator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/evaluator"
	"github.com/flowpay-labs/paystream/pkg/guard"
	"github.com/flowpay-labs/paystream/pkg/oracle"
	"github.com/flowpay-labs/paystream/pkg/payment"
)

var standardTreasury = evaluator.Treasury{Balance: 100000, DailyLimit: 50000, SpentToday: 0}

func request(t *testing.T, amount float64) payment.Request {
	t.Helper()
	r, err := payment.NewRequest("0xtreasury", "0xvendor", amount, "Quarterly hosting invoice", payment.UrgencyMedium)
	require.NoError(t, err)
	return r
}

type countingOracle struct {
	reply string
	err   error
	calls int
	last  string
}

func (c *countingOracle) Generate(_ context.Context, prompt string) (string, error) {
	c.calls++
	c.last = prompt
	return c.reply, c.err
}

func TestTreasuryScenarioA_PrecheckPasses(t *testing.T) {
	o := &countingOracle{reply: `{"can_fund": true, "action": "approve", "confidence": 0.8, "reason": "within limits"}`}
	e, err := evaluator.NewTreasuryManager(o, standardTreasury)
	require.NoError(t, err)

	d := e.Evaluate(context.Background(), request(t, 50000))
	assert.Equal(t, 1, o.calls, "pre-check must defer to the oracle")
	assert.Equal(t, payment.ActionApprove, d.Action)
	assert.Contains(t, o.last, "Remaining Daily Limit: 50000.00")
}

func TestTreasuryScenarioB_ImmediateReject(t *testing.T) {
	o := &countingOracle{reply: `{"can_fund": true, "action": "approve"}`}
	e, err := evaluator.NewTreasuryManager(o, standardTreasury)
	require.NoError(t, err)

	req := request(t, 150000)
	d := e.Evaluate(context.Background(), req)
	assert.Equal(t, payment.ActionReject, d.Action)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "Insufficient treasury balance", d.Reason)
	assert.Equal(t, 0, o.calls)
	assert.Equal(t, req.Amount, d.Amount)
	assert.Equal(t, req.To, d.Recipient)
	assert.Equal(t, e.ID(), d.EvaluatorID)
}

func TestTreasuryCannotFund(t *testing.T) {
	o := &countingOracle{reply: `{"can_fund": false, "action": "approve", "reason": "over daily limit"}`}
	e, err := evaluator.NewTreasuryManager(o, standardTreasury)
	require.NoError(t, err)
	assert.Equal(t, payment.ActionReject, e.Evaluate(context.Background(), request(t, 10)).Action)
}

func TestOracleFailureBecomesReview(t *testing.T) {
	failing := &countingOracle{err: &oracle.Error{Kind: oracle.KindTransport, Err: errors.New("connection reset")}}

	for _, role := range []evaluator.Role{
		evaluator.RoleRiskAssessor,
		evaluator.RoleComplianceOfficer,
		evaluator.RoleTreasuryManager,
		evaluator.RoleFraudDetector,
	} {
		t.Run(string(role), func(t *testing.T) {
			e, err := evaluator.New(role, failing, standardTreasury)
			require.NoError(t, err)

			d := e.Evaluate(context.Background(), request(t, 100))
			assert.Equal(t, payment.ActionRequestReview, d.Action)
			assert.Equal(t, 0.0, d.Confidence)
			assert.Contains(t, d.Reason, "failed")
			assert.Contains(t, d.Reason, "connection reset")
		})
	}
}

func TestRiskThresholdOverride(t *testing.T) {
	o := &countingOracle{reply: `{"risk_score": 0.85, "action": "approve", "confidence": 0.9}`}
	e, err := evaluator.NewRiskAssessor(o)
	require.NoError(t, err)
	assert.Equal(t, payment.ActionReject, e.Evaluate(context.Background(), request(t, 100)).Action)

	lenient, err := evaluator.NewRiskAssessor(o, evaluator.WithThreshold(0.9))
	require.NoError(t, err)
	assert.Equal(t, payment.ActionApprove, lenient.Evaluate(context.Background(), request(t, 100)).Action)
	assert.Equal(t, 0.9, lenient.Rules().Threshold)
}

func TestFraudReviewBand(t *testing.T) {
	o := &countingOracle{reply: `{"fraud_score": 0.5, "action": "approve", "confidence": 0.7}`}
	e, err := evaluator.NewFraudDetector(o)
	require.NoError(t, err)
	assert.Equal(t, payment.ActionRequestReview, e.Evaluate(context.Background(), request(t, 100)).Action)

	noBand, err := evaluator.NewFraudDetector(o, evaluator.WithReviewFraction(0))
	require.NoError(t, err)
	assert.Equal(t, payment.ActionApprove, noBand.Evaluate(context.Background(), request(t, 100)).Action)
}

func TestComplianceRejectsNonCompliant(t *testing.T) {
	o := &countingOracle{reply: "```json\n{\"compliant\": false, \"action\": \"approve\", \"reason\": \"sanctioned\"}\n```"}
	e, err := evaluator.NewComplianceOfficer(o)
	require.NoError(t, err)

	d := e.Evaluate(context.Background(), request(t, 100))
	assert.Equal(t, payment.ActionReject, d.Action)
	assert.Equal(t, "sanctioned", d.Reason)
	assert.Contains(t, o.last, "Sanctions list screening")
}

func TestMalformedOracleTextBecomesReview(t *testing.T) {
	o := &countingOracle{reply: "I would rather not say"}
	e, err := evaluator.NewRiskAssessor(o)
	require.NoError(t, err)

	d := e.Evaluate(context.Background(), request(t, 100))
	assert.Equal(t, payment.ActionRequestReview, d.Action)
	assert.NotEmpty(t, d.Reason)
}

func TestCustomGuards(t *testing.T) {
	o := &countingOracle{reply: `{"risk_score": 0.1, "action": "approve"}`}
	e, err := evaluator.NewRiskAssessor(o, evaluator.WithGuards(guard.Rule{
		Name:   "blocked",
		Expr:   `request.to == "0xvendor"`,
		Reason: "Recipient is blocked",
	}))
	require.NoError(t, err)

	d := e.Evaluate(context.Background(), request(t, 100))
	assert.Equal(t, payment.ActionReject, d.Action)
	assert.Equal(t, "Recipient is blocked", d.Reason)
	assert.Equal(t, 0, o.calls)

	_, err = evaluator.NewRiskAssessor(o, evaluator.WithGuards(guard.Rule{Name: "bad", Expr: "(("}))
	require.Error(t, err)
}

func TestGuardEvaluationErrorBecomesReview(t *testing.T) {
	o := &countingOracle{reply: `{"fraud_score": 0.1, "action": "approve"}`}
	e, err := evaluator.NewFraudDetector(o, evaluator.WithGuards(guard.Rule{
		Name: "needs_fact",
		Expr: "request.amount > facts.unknown_limit",
	}))
	require.NoError(t, err)

	d := e.Evaluate(context.Background(), request(t, 100))
	assert.Equal(t, payment.ActionRequestReview, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, 0, o.calls)
}

func TestIdentity(t *testing.T) {
	o := &countingOracle{}
	patterns := map[evaluator.Role]string{
		evaluator.RoleRiskAssessor:      `^risk-assessor-[0-9a-f]{8}$`,
		evaluator.RoleComplianceOfficer: `^compliance-[0-9a-f]{8}$`,
		evaluator.RoleTreasuryManager:   `^treasury-[0-9a-f]{8}$`,
		evaluator.RoleFraudDetector:     `^fraud-detector-[0-9a-f]{8}$`,
	}
	for role, pattern := range patterns {
		e, err := evaluator.New(role, o, standardTreasury)
		require.NoError(t, err)
		assert.Equal(t, role, e.Role())
		assert.Regexp(t, regexp.MustCompile(pattern), e.ID())
	}

	fixed, err := evaluator.NewRiskAssessor(o, evaluator.WithID("risk-1"))
	require.NoError(t, err)
	assert.Equal(t, "risk-1", fixed.ID())

	_, err = evaluator.New("auditor", o, standardTreasury)
	require.Error(t, err)
}

func TestCommunicate(t *testing.T) {
	o := &countingOracle{reply: "Happy to help"}
	e, err := evaluator.NewFraudDetector(o)
	require.NoError(t, err)

	assert.Equal(t, "Happy to help", e.Communicate(context.Background(), "status?"))
	assert.True(t, strings.Contains(o.last, "Fraud Detector"))
	assert.Contains(t, o.last, "status?")

	o.err = errors.New("offline")
	assert.Equal(t, "Error: offline", e.Communicate(context.Background(), "status?"))
}

func TestDemoOracleApprovesStandardPayment(t *testing.T) {
	demo := oracle.Demo()
	for _, role := range []evaluator.Role{
		evaluator.RoleRiskAssessor,
		evaluator.RoleComplianceOfficer,
		evaluator.RoleTreasuryManager,
		evaluator.RoleFraudDetector,
	} {
		e, err := evaluator.New(role, demo, standardTreasury)
		require.NoError(t, err)
		assert.Equal(t, payment.ActionApprove, e.Evaluate(context.Background(), request(t, 1000)).Action, role)
	}
}

func TestDemoOracleIgnoresRoleWordsInRequestFields(t *testing.T) {
	req, err := payment.NewRequest("0xcompliance", "0xfraud-desk", 1000, "treasury top-up after risk assessment", payment.UrgencyLow)
	require.NoError(t, err)

	e, err := evaluator.NewFraudDetector(oracle.Demo())
	require.NoError(t, err)
	d := e.Evaluate(context.Background(), req)
	assert.Equal(t, payment.ActionApprove, d.Action)
	assert.Equal(t, "No fraud indicators", d.Reason)
}

func TestOracleTransportFailureReasonOmitsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	e, err := evaluator.NewRiskAssessor(oracle.NewGeminiClient("SUPERSECRETKEY", "gemini-pro", srv.URL))
	require.NoError(t, err)
	d := e.Evaluate(context.Background(), request(t, 1000))

	assert.Equal(t, payment.ActionRequestReview, d.Action)
	assert.Zero(t, d.Confidence)
	assert.Contains(t, d.Reason, "transport")
	assert.NotContains(t, d.Reason, "SUPERSECRETKEY")
	assert.NotContains(t, d.Reason, "generateContent")
}
