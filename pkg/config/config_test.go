package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/config"
)

// TestLoad_Defaults verifies that Load() boots lite mode with no environment.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "GEMINI_API_KEY", "ORACLE_RPS", "JWT_SECRET", "OTEL_ENABLED", "AGENT_NAME", "AGENT_FETCH_PRIVATE"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.LiteMode())
	assert.True(t, cfg.OfflineOracle())
	assert.Equal(t, 5.0, cfg.OracleRPS)
	assert.Equal(t, "gemini-pro", cfg.OracleModel)
	assert.Equal(t, 20, cfg.APIRPS)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "paystream-agent", cfg.AgentName)
	assert.False(t, cfg.AgentFetchPrivate)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("ORACLE_RPS", "0.5")
	t.Setenv("API_BURST", "not-a-number")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("AGENT_FETCH_PRIVATE", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.False(t, cfg.OfflineOracle())
	assert.Equal(t, 0.5, cfg.OracleRPS)
	assert.Equal(t, 40, cfg.APIBurst, "unparseable values fall back to the default")
	assert.True(t, cfg.OTelEnabled)
	assert.True(t, cfg.AgentFetchPrivate)
}

func TestDefaultPolicyIsValid(t *testing.T) {
	p := config.DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Len(t, p.Evaluators, 4)
	assert.Equal(t, uint64(1000), p.Payments.FirstStreamID)
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1.2.0
approval_threshold: 0.6
treasury:
  balance: 5000
  daily_limit: 1000
evaluators:
  - role: treasury_manager
    guards:
      - name: weekend_freeze
        expr: request.urgency_level < 2 && facts.spent_today > 0
        reason: Low urgency spend after first payment
  - role: fraud_detector
    threshold: 0.5
    review_fraction: 0.8
payments:
  stream_deposit: "2.00"
paywall:
  /api/data:
    mode: per_request
    amount: "0.002"
    recipient: "0xdata"
`), 0o600))

	p, err := config.LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, p.ApprovalThreshold)
	assert.Equal(t, 5000.0, p.Treasury.Balance)
	require.Len(t, p.Evaluators, 2)
	assert.Equal(t, "treasury_manager", p.Evaluators[0].Role)
	require.Len(t, p.Evaluators[0].Guards, 1)
	require.NotNil(t, p.Evaluators[1].Threshold)
	assert.Equal(t, 0.5, *p.Evaluators[1].Threshold)
	assert.Equal(t, "2.00", p.Payments.StreamDeposit)
	assert.Equal(t, "0.0001", p.Payments.StreamRate, "omitted fields keep defaults")
	assert.Len(t, p.Paywall, 1, "a configured paywall replaces the default routes")
}

func TestParsePolicy_Rejects(t *testing.T) {
	cases := map[string]struct {
		doc string
		err error
	}{
		"major version 2": {"version: 2.0.0\n", config.ErrUnsupportedPolicyVersion},
		"garbage version": {"version: banana\n", config.ErrUnsupportedPolicyVersion},
		"threshold zero":  {"approval_threshold: 0\n", config.ErrInvalidPolicy},
		"unknown role":    {"evaluators: [{role: astrologer}]\n", config.ErrInvalidPolicy},
		"role threshold":  {"evaluators: [{role: risk_assessor, threshold: 1.5}]\n", config.ErrInvalidPolicy},
		"empty guard":     {"evaluators: [{role: risk_assessor, guards: [{name: x}]}]\n", config.ErrInvalidPolicy},
		"bad deposit":     {"payments: {stream_deposit: lots}\n", config.ErrInvalidPolicy},
		"no recipient":    {"paywall: {/api/x: {mode: streaming}}\n", config.ErrInvalidPolicy},
		"negative fanout": {"max_concurrent: -1\n", config.ErrInvalidPolicy},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParsePolicy([]byte(tc.doc))
			require.ErrorIs(t, err, tc.err)
		})
	}

	_, err := config.ParsePolicy([]byte("evaluators: {"))
	require.Error(t, err)

	_, err = config.LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
