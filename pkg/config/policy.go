package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/flowpay-labs/paystream/pkg/guard"
	"github.com/flowpay-labs/paystream/pkg/money"
	"github.com/flowpay-labs/paystream/pkg/paywall"
)

// SupportedPolicyVersions is the constraint every policy version must meet.
const SupportedPolicyVersions = "^1"

var (
	// ErrUnsupportedPolicyVersion is returned for policies outside SupportedPolicyVersions.
	ErrUnsupportedPolicyVersion = errors.New("config: unsupported policy version")
	// ErrInvalidPolicy is returned when a policy fails validation.
	ErrInvalidPolicy = errors.New("config: invalid policy")
)

// Policy is the decision and payment profile loaded from POLICY_FILE.
type Policy struct {
	Version           string                   `yaml:"version" json:"version"`
	ApprovalThreshold float64                  `yaml:"approval_threshold" json:"approval_threshold"`
	MaxConcurrent     int                      `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	Treasury          TreasuryPolicy           `yaml:"treasury" json:"treasury"`
	Evaluators        []RolePolicy             `yaml:"evaluators" json:"evaluators"`
	Payments          PaymentsPolicy           `yaml:"payments" json:"payments"`
	Paywall           map[string]paywall.Price `yaml:"paywall,omitempty" json:"paywall,omitempty"`
}

// TreasuryPolicy is the treasury state the treasury manager checks against.
type TreasuryPolicy struct {
	Balance    float64 `yaml:"balance" json:"balance"`
	DailyLimit float64 `yaml:"daily_limit" json:"daily_limit"`
	SpentToday float64 `yaml:"spent_today" json:"spent_today"`
}

// RolePolicy configures one registered evaluator. Evaluators register in
// list order.
type RolePolicy struct {
	Role           string       `yaml:"role" json:"role"`
	Threshold      *float64     `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	ReviewFraction *float64     `yaml:"review_fraction,omitempty" json:"review_fraction,omitempty"`
	Guards         []guard.Rule `yaml:"guards,omitempty" json:"guards,omitempty"`
}

// PaymentsPolicy holds the amounts used when a challenge omits them.
type PaymentsPolicy struct {
	StreamDeposit    string `yaml:"stream_deposit" json:"stream_deposit"`
	StreamRate       string `yaml:"stream_rate" json:"stream_rate"`
	PerRequestAmount string `yaml:"per_request_amount" json:"per_request_amount"`
	FirstStreamID    uint64 `yaml:"first_stream_id" json:"first_stream_id"`
}

var knownRoles = map[string]bool{
	"risk_assessor":      true,
	"compliance_officer": true,
	"treasury_manager":   true,
	"fraud_detector":     true,
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		Version:           "1.0.0",
		ApprovalThreshold: 0.75,
		Treasury: TreasuryPolicy{
			Balance:    100000,
			DailyLimit: 50000,
		},
		Evaluators: []RolePolicy{
			{Role: "risk_assessor"},
			{Role: "compliance_officer"},
			{Role: "treasury_manager"},
			{Role: "fraud_detector"},
		},
		Payments: PaymentsPolicy{
			StreamDeposit:    "1.00",
			StreamRate:       "0.0001",
			PerRequestAmount: "0.001",
			FirstStreamID:    1000,
		},
		Paywall: map[string]paywall.Price{
			"/api/weather": {
				Mode: "streaming", Rate: "0.0001", MinDeposit: "1.00",
				Recipient: "0xProviderWallet", Description: "Real-time weather data", Network: "sepolia", Token: "MNEE",
			},
			"/api/translate": {
				Mode: "per_request", Amount: "0.001",
				Recipient: "0xProviderWallet", Description: "Text translation", Network: "sepolia", Token: "MNEE",
			},
			"/api/compute": {
				Mode: "per_request", Amount: "0.01",
				Recipient: "0xProviderWallet", Description: "Batch compute job", Network: "sepolia", Token: "MNEE",
			},
		},
	}
}

// LoadPolicy reads a YAML policy. Fields the file omits keep their
// DefaultPolicy values.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	p.Evaluators, p.Paywall = nil, nil
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(p.Evaluators) == 0 {
		p.Evaluators = DefaultPolicy().Evaluators
	}
	if p.Paywall == nil {
		p.Paywall = DefaultPolicy().Paywall
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the version constraint and every value the runtime relies on.
func (p *Policy) Validate() error {
	constraint, err := semver.NewConstraint(SupportedPolicyVersions)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedPolicyVersion, p.Version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedPolicyVersion, v, SupportedPolicyVersions)
	}

	if p.ApprovalThreshold <= 0 || p.ApprovalThreshold > 1 {
		return fmt.Errorf("%w: approval_threshold %.2f outside (0, 1]", ErrInvalidPolicy, p.ApprovalThreshold)
	}
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("%w: max_concurrent must not be negative", ErrInvalidPolicy)
	}
	for i, r := range p.Evaluators {
		if !knownRoles[r.Role] {
			return fmt.Errorf("%w: evaluators[%d]: unknown role %q", ErrInvalidPolicy, i, r.Role)
		}
		if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 1) {
			return fmt.Errorf("%w: evaluators[%d]: threshold outside [0, 1]", ErrInvalidPolicy, i)
		}
		if r.ReviewFraction != nil && (*r.ReviewFraction < 0 || *r.ReviewFraction > 1) {
			return fmt.Errorf("%w: evaluators[%d]: review_fraction outside [0, 1]", ErrInvalidPolicy, i)
		}
		for j, g := range r.Guards {
			if g.Expr == "" {
				return fmt.Errorf("%w: evaluators[%d].guards[%d]: empty expr", ErrInvalidPolicy, i, j)
			}
		}
	}
	for name, amount := range map[string]string{
		"stream_deposit":     p.Payments.StreamDeposit,
		"stream_rate":        p.Payments.StreamRate,
		"per_request_amount": p.Payments.PerRequestAmount,
	} {
		if !money.Valid(amount) {
			return fmt.Errorf("%w: payments.%s %q is not a non-negative decimal", ErrInvalidPolicy, name, amount)
		}
	}
	for route, price := range p.Paywall {
		if price.Recipient == "" {
			return fmt.Errorf("%w: paywall route %q has no recipient", ErrInvalidPolicy, route)
		}
	}
	return nil
}
