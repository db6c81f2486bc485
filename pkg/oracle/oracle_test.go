package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/oracle"
)

func TestGeminiClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "contents")

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"action\":\"approve\"}"}]}}]}`))
	}))
	defer srv.Close()

	c := oracle.NewGeminiClient("k-123", "", srv.URL)
	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"approve"}`, out)
}

func TestGeminiClientFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := oracle.NewGeminiClient("k", "m", srv.URL).Generate(context.Background(), "p")
		require.Error(t, err)
		assert.Equal(t, oracle.KindStatus, oracle.KindOf(err))

		var oe *oracle.Error
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, http.StatusTooManyRequests, oe.Status)
	})

	t.Run("no candidates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		_, err := oracle.NewGeminiClient("k", "m", srv.URL).Generate(context.Background(), "p")
		require.ErrorIs(t, err, oracle.ErrEmptyResponse)
		assert.Equal(t, oracle.KindInvalidResponse, oracle.KindOf(err))
	})

	t.Run("transport", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := oracle.NewGeminiClient("k-secret-77", "m", srv.URL).Generate(context.Background(), "p")
		assert.Equal(t, oracle.KindTransport, oracle.KindOf(err))
		assert.NotContains(t, err.Error(), "k-secret-77")
		assert.NotContains(t, err.Error(), srv.URL)
	})
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := oracle.NewScripted("").
		On("fraud", "fraud-reply").
		Fail("treasury", boom)

	out, err := s.Generate(context.Background(), "You are a FRAUD detector")
	require.NoError(t, err)
	assert.Equal(t, "fraud-reply", out)

	_, err = s.Generate(context.Background(), "treasury status")
	require.ErrorIs(t, err, boom)

	_, err = s.Generate(context.Background(), "unmatched")
	require.ErrorIs(t, err, oracle.ErrEmptyResponse)
	assert.Equal(t, 3, s.Calls())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Generate(ctx, "fraud")
	assert.Equal(t, oracle.KindTransport, oracle.KindOf(err))
}

func TestDemoAnswersEveryRole(t *testing.T) {
	d := oracle.Demo()
	for header, field := range map[string]string{
		"You are a Risk Assessment AI Agent for a crypto payment platform.":     "risk_score",
		"You are a Compliance Officer AI Agent for a crypto payment platform.": "compliant",
		"You are a Treasury Manager AI Agent for a crypto payment platform.":     "can_fund",
		"You are a Fraud Detection AI Agent for a crypto payment platform.":       "fraud_score",
	} {
		out, err := d.Generate(context.Background(), header+"\n\nPayment Request:\n- Description: treasury top-up")
		require.NoError(t, err)
		var reply map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &reply), header)
		assert.Contains(t, reply, field, header)
	}
	out, err := d.Generate(context.Background(), "You are an AI payment agent. Should you pay for this service?\n\nRespond with just YES or NO.")
	require.NoError(t, err)
	assert.Equal(t, "YES", out)
}

func TestScriptedIgnoresKeywordsBelowHeader(t *testing.T) {
	s := oracle.NewScripted("fallback").
		On("treasury", "treasury-reply").
		On("fraud", "fraud-reply")

	out, err := s.Generate(context.Background(), "\nYou are a fraud desk\n- From: 0xtreasury\n- Description: treasury top-up")
	require.NoError(t, err)
	assert.Equal(t, "fraud-reply", out)

	out, err = s.Generate(context.Background(), "Payment Request\n- Description: fraud and treasury review")
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

type denyLimiter struct{}

func (denyLimiter) Wait(context.Context) error { return oracle.ErrRateLimited }

func TestLimitedReportsRateLimitedKind(t *testing.T) {
	called := false
	next := oracle.Func(func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "ok", nil
	})

	_, err := oracle.NewLimited(next, denyLimiter{}).Generate(context.Background(), "p")
	assert.Equal(t, oracle.KindRateLimited, oracle.KindOf(err))
	assert.False(t, called)

	out, err := oracle.NewLimited(next, oracle.NewLocalLimiter(100, 1)).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestLocalLimiterHonoursContext(t *testing.T) {
	l := oracle.NewLocalLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}

func TestRedisLimiterSurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	defer func() { _ = client.Close() }()

	l := oracle.NewRedisLimiter(client, "test", 5, 5)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := l.Allow(ctx)
	require.Error(t, err)
	require.Error(t, l.Wait(ctx))
}
