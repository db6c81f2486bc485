package evaluator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowpay-labs/paystream/pkg/guard"
	"github.com/flowpay-labs/paystream/pkg/oracle"
	"github.com/flowpay-labs/paystream/pkg/payment"
	"github.com/flowpay-labs/paystream/pkg/verdict"
)

// Default role thresholds.
const (
	DefaultRiskThreshold       = 0.7
	DefaultFraudThreshold      = 0.6
	DefaultFraudReviewFraction = 0.7
)

// Option configures a role evaluator.
type Option func(*options)

type options struct {
	id             string
	threshold      *float64
	reviewFraction *float64
	guards         []guard.Rule
	engine         *guard.Engine
	logger         *slog.Logger
}

// WithID overrides the generated evaluator id.
func WithID(id string) Option { return func(o *options) { o.id = id } }

// WithThreshold sets the score threshold above which the role rejects.
func WithThreshold(t float64) Option { return func(o *options) { o.threshold = &t } }

// WithReviewFraction sets the fraction of the threshold above which the role
// asks for review. Zero disables the band.
func WithReviewFraction(f float64) Option { return func(o *options) { o.reviewFraction = &f } }

// WithGuards adds CEL guards that run before the oracle.
func WithGuards(rules ...guard.Rule) Option {
	return func(o *options) { o.guards = append(o.guards, rules...) }
}

// WithEngine shares one CEL engine between evaluators.
func WithEngine(e *guard.Engine) Option { return func(o *options) { o.engine = e } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func pick(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func describe(req payment.Request) string {
	return fmt.Sprintf(`Payment Details:
- From: %s
- To: %s
- Amount: %.2f CRO
- Description: %s
- Urgency: %s`, req.From, req.To, req.Amount, req.Description, req.Urgency)
}

// NewRiskAssessor scores counterparty and amount risk.
func NewRiskAssessor(client oracle.Client, opts ...Option) (*RoleEvaluator, error) {
	o := collect(opts)
	rules := verdict.Rules{
		ScoreField:     "risk_score",
		Threshold:      pick(o.threshold, DefaultRiskThreshold),
		ReviewFraction: pick(o.reviewFraction, 0),
	}
	e, err := newRoleEvaluator(RoleRiskAssessor, client, rules, o)
	if err != nil {
		return nil, err
	}
	e.facts = func() map[string]any { return map[string]any{"threshold": rules.Threshold} }
	e.prompt = func(req payment.Request) string {
		return fmt.Sprintf(`You are a Risk Assessment AI Agent for a crypto payment platform.
Perform a risk assessment of this payment:

%s

Consider counterparty history, amount relative to typical payments, and urgency pressure.
Risk threshold: %.2f

Respond in this exact JSON format:
{"risk_score": 0.0-1.0, "action": "approve|reject|defer|review", "reason": "explanation", "confidence": 0.0-1.0}`,
			describe(req), rules.Threshold)
	}
	return e, nil
}

// ComplianceRules are listed in the compliance officer's prompt.
var ComplianceRules = []string{
	"AML (Anti-Money Laundering) checks",
	"KYC verification status",
	"Sanctions list screening",
	"Transaction limits per jurisdiction",
	"Regulatory reporting requirements",
}

// NewComplianceOfficer checks regulatory compliance. A non-compliant verdict
// always rejects.
func NewComplianceOfficer(client oracle.Client, opts ...Option) (*RoleEvaluator, error) {
	o := collect(opts)
	e, err := newRoleEvaluator(RoleComplianceOfficer, client, verdict.Rules{FlagField: "compliant"}, o)
	if err != nil {
		return nil, err
	}
	e.prompt = func(req payment.Request) string {
		return fmt.Sprintf(`You are a Compliance Officer AI Agent for a crypto payment platform.
Evaluate this payment for regulatory compliance:

%s

Compliance Rules to Check:
- %s

Respond in this exact JSON format:
{"compliant": true|false, "action": "approve|reject|defer|review", "violations": [], "reason": "explanation", "confidence": 0.0-1.0}`,
			describe(req), strings.Join(ComplianceRules, "\n- "))
	}
	return e, nil
}

// Treasury is the balance state the treasury manager checks against.
type Treasury struct {
	Balance    float64 `yaml:"balance" json:"balance"`
	DailyLimit float64 `yaml:"daily_limit" json:"daily_limit"`
	SpentToday float64 `yaml:"spent_today" json:"spent_today"`
}

// Remaining is the unspent part of the daily limit.
func (t Treasury) Remaining() float64 {
	if r := t.DailyLimit - t.SpentToday; r > 0 {
		return r
	}
	return 0
}

func (t Treasury) facts() map[string]any {
	return map[string]any{
		"available_balance": t.Balance,
		"daily_limit":       t.DailyLimit,
		"spent_today":       t.SpentToday,
		"remaining_daily":   t.Remaining(),
	}
}

// NewTreasuryManager checks the request against the treasury. Requests above
// the available balance are rejected with full confidence without consulting
// the oracle.
func NewTreasuryManager(client oracle.Client, treasury Treasury, opts ...Option) (*RoleEvaluator, error) {
	o := collect(opts)
	e, err := newRoleEvaluator(RoleTreasuryManager, client, verdict.Rules{FlagField: "can_fund"}, o, guard.InsufficientBalance)
	if err != nil {
		return nil, err
	}
	e.facts = treasury.facts
	e.prompt = func(req payment.Request) string {
		return fmt.Sprintf(`You are a Treasury Manager AI Agent for a crypto payment platform.
Decide whether the treasury can fund this payment:

%s

Treasury Status:
- Available Balance: %.2f CRO
- Daily Limit: %.2f CRO
- Spent Today: %.2f CRO
- Remaining Daily Limit: %.2f CRO

Respond in this exact JSON format:
{"can_fund": true|false, "action": "approve|reject|defer|review", "reason": "explanation", "confidence": 0.0-1.0}`,
			describe(req), treasury.Balance, treasury.DailyLimit, treasury.SpentToday, treasury.Remaining())
	}
	return e, nil
}

// FraudIndicators are listed in the fraud detector's prompt.
var FraudIndicators = []string{
	"Unusual transaction patterns",
	"Velocity abuse (rapid successive transactions)",
	"Address reputation",
	"Amount anomalies",
	"Description red flags",
	"Time-based patterns",
}

// NewFraudDetector scores fraud likelihood, rejecting above the threshold
// and asking for review in the band just below it.
func NewFraudDetector(client oracle.Client, opts ...Option) (*RoleEvaluator, error) {
	o := collect(opts)
	rules := verdict.Rules{
		ScoreField:     "fraud_score",
		Threshold:      pick(o.threshold, DefaultFraudThreshold),
		ReviewFraction: pick(o.reviewFraction, DefaultFraudReviewFraction),
	}
	e, err := newRoleEvaluator(RoleFraudDetector, client, rules, o)
	if err != nil {
		return nil, err
	}
	e.facts = func() map[string]any { return map[string]any{"threshold": rules.Threshold} }
	e.prompt = func(req payment.Request) string {
		return fmt.Sprintf(`You are a Fraud Detection AI Agent for a crypto payment platform.
Analyze this payment for potential fraud indicators:

%s

Fraud Indicators to Check:
- %s

Respond in this exact JSON format:
{"fraud_score": 0.0-1.0, "action": "approve|reject|defer|review", "indicators": [], "reason": "explanation", "confidence": 0.0-1.0}`,
			describe(req), strings.Join(FraudIndicators, "\n- "))
	}
	return e, nil
}

// New builds the evaluator for role. Treasury state is only used by the
// treasury manager.
func New(role Role, client oracle.Client, treasury Treasury, opts ...Option) (*RoleEvaluator, error) {
	switch role {
	case RoleRiskAssessor:
		return NewRiskAssessor(client, opts...)
	case RoleComplianceOfficer:
		return NewComplianceOfficer(client, opts...)
	case RoleTreasuryManager:
		return NewTreasuryManager(client, treasury, opts...)
	case RoleFraudDetector:
		return NewFraudDetector(client, opts...)
	}
	return nil, fmt.Errorf("evaluator: unknown role %q", role)
}
