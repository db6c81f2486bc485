package paywall_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/agent"
	"github.com/flowpay-labs/paystream/pkg/paywall"
	"github.com/flowpay-labs/paystream/pkg/x402"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func prices() map[string]paywall.Price {
	return map[string]paywall.Price{
		"/api/weather": {Mode: "streaming", Rate: "0.0001", MinDeposit: "1.00", Recipient: "0xweather", Description: "Weather feed"},
		"/api/":        {Mode: "per_request", Amount: "0.001", Recipient: "0xgeneric"},
		"/api/premium": {Mode: "per_request", Amount: "0.05", Recipient: "0xpremium"},
	}
}

func protected(t *testing.T, cfg paywall.Config) *httptest.Server {
	t.Helper()
	if cfg.Routes == nil {
		cfg.Routes = prices()
	}
	cfg.Logger = quiet
	pw := paywall.New(cfg)
	srv := httptest.NewServer(pw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if proof, ok := paywall.ProofFromContext(r.Context()); ok {
			w.Header().Set("X-Paid-Mode", string(proof.Mode()))
		}
		_, _ = io.WriteString(w, "content")
	})))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMatchPrefersExactThenLongestPrefix(t *testing.T) {
	pw := paywall.New(paywall.Config{Routes: prices(), Logger: quiet})

	p, ok := pw.Match("/api/weather")
	require.True(t, ok)
	assert.Equal(t, "0xweather", p.Recipient)

	p, ok = pw.Match("/api/premium/report")
	require.True(t, ok)
	assert.Equal(t, "0xpremium", p.Recipient)

	p, ok = pw.Match("/api/other")
	require.True(t, ok)
	assert.Equal(t, "0xgeneric", p.Recipient)

	_, ok = pw.Match("/health")
	assert.False(t, ok)
}

func TestUnpricedRoutePassesThrough(t *testing.T) {
	srv := protected(t, paywall.Config{})
	resp := get(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChallengeWithoutProof(t *testing.T) {
	srv := protected(t, paywall.Config{})
	resp := get(t, srv.URL+"/api/weather", nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	req, ok := x402.FromResponse(resp)
	require.True(t, ok)
	assert.Equal(t, "0xweather", req.Recipient)
	assert.Equal(t, x402.ModeStreaming, req.Mode)
	require.NotNil(t, req.MinDeposit)
	assert.Equal(t, "1.00", *req.MinDeposit)
	assert.Nil(t, req.Amount)

	var body struct {
		Message      string           `json:"message"`
		Requirements x402.Requirement `json:"requirements"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Payment Required", body.Message)
	assert.Equal(t, "0xweather", body.Requirements.Recipient)
}

func TestProofPassesThrough(t *testing.T) {
	srv := protected(t, paywall.Config{})

	resp := get(t, srv.URL+"/api/weather", map[string]string{x402.HeaderStream: "1000"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "streaming", resp.Header.Get("X-Paid-Mode"))

	resp = get(t, srv.URL+"/api/other", map[string]string{x402.HeaderTxHashAlias: "0xabc"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "per_request", resp.Header.Get("X-Paid-Mode"))
}

func TestMalformedStreamID(t *testing.T) {
	srv := protected(t, paywall.Config{})
	resp := get(t, srv.URL+"/api/weather", map[string]string{x402.HeaderStream: "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifierRejection(t *testing.T) {
	srv := protected(t, paywall.Config{
		Verifier: paywall.VerifierFunc(func(_ context.Context, proof x402.Proof, _ paywall.Price) error {
			if id, ok := proof.StreamID(); ok && id < 2000 {
				return paywall.ErrInactiveStream
			}
			return nil
		}),
	})

	resp := get(t, srv.URL+"/api/weather", map[string]string{x402.HeaderStream: "1000"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = get(t, srv.URL+"/api/weather", map[string]string{x402.HeaderStream: "2000"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKey(t *testing.T) {
	srv := protected(t, paywall.Config{APIKey: "secret"})

	resp := get(t, srv.URL+"/api/weather", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, srv.URL+"/api/weather", map[string]string{paywall.HeaderAPIKey: "secret"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp = get(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAgentPaysThroughPaywall(t *testing.T) {
	srv := protected(t, paywall.Config{})
	a := agent.New(agent.Config{Name: "e2e"}, agent.WithLogger(quiet))

	res, err := a.Fetch(context.Background(), srv.URL+"/api/weather")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "content", res.Body)
	assert.Equal(t, x402.ModeStreaming, res.Mode)
	assert.Equal(t, "1.00", res.AmountSpent)

	res, err = a.Fetch(context.Background(), srv.URL+"/api/premium")
	require.NoError(t, err)
	assert.Equal(t, x402.ModePerRequest, res.Mode)
	assert.Equal(t, "0.05", res.AmountSpent)

	s := a.Stats()
	assert.Equal(t, uint64(2), s.PaymentsMade)
	assert.Equal(t, uint64(1_050_000), s.TotalSpentMicro)
}
