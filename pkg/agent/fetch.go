package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowpay-labs/paystream/pkg/observability"
	"github.com/flowpay-labs/paystream/pkg/x402"
)

// State is a step of one challenge-retry call.
type State string

const (
	StateInitial           State = "initial"
	StateChallengeDetected State = "challenge_detected"
	StatePaid              State = "paid"
	StateRetried           State = "retried"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// maxBodyBytes caps how much of a response body is kept on a FetchResult.
const maxBodyBytes = 4 << 20

// FetchResult is the outcome of one call. It is returned alongside any error
// so callers can see how far the call got.
type FetchResult struct {
	URL         string            `json:"url"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	PaymentMade bool              `json:"payment_made"`
	Mode        x402.Mode         `json:"mode,omitempty"`
	StreamID    uint64            `json:"stream_id,omitempty"`
	TxRef       string            `json:"tx_ref,omitempty"`
	AmountSpent string            `json:"amount_spent,omitempty"`
	Requirement *x402.Requirement `json:"requirement,omitempty"`
	States      []State           `json:"states"`
}

// Final is the last state visited.
func (r *FetchResult) Final() State {
	if len(r.States) == 0 {
		return StateInitial
	}
	return r.States[len(r.States)-1]
}

func (r *FetchResult) enter(s State) { r.States = append(r.States, s) }

func (r *FetchResult) applyProof(p x402.Proof) {
	r.PaymentMade = true
	r.Mode = p.Mode()
	r.AmountSpent = p.AmountPaid()
	if id, ok := p.StreamID(); ok {
		r.StreamID = id
	}
	if ref, ok := p.TxRef(); ok {
		r.TxRef = ref
	}
}

// Fetch GETs url, paying and retrying once if the provider answers with a
// payment challenge. A second challenge on the retry is returned as-is with
// StateSucceeded; the client never loops.
func (a *Agent) Fetch(ctx context.Context, url string) (result *FetchResult, err error) {
	ctx, done := a.obs.TrackOperation(ctx, "agent.fetch", observability.FetchOperation(a.id, url)...)
	defer func() { done(err) }()

	a.stats.requestsMade.Add(1)
	result = &FetchResult{URL: url}
	result.enter(StateInitial)
	a.logger.Debug("fetching", "url", url)

	resp, err := a.do(ctx, url, nil)
	if err != nil {
		result.enter(StateFailed)
		return result, err
	}
	if resp.status != http.StatusPaymentRequired {
		result.Status, result.Body = resp.status, resp.body
		result.enter(StateSucceeded)
		return result, nil
	}

	result.enter(StateChallengeDetected)
	req, ok := x402.Parse(x402.MetadataFromHeader(resp.header))
	if !ok {
		result.Status, result.Body = resp.status, resp.body
		result.enter(StateFailed)
		a.logger.Warn("unparseable payment challenge", "url", url)
		return result, x402.ErrUnparseableChallenge
	}
	result.Requirement = req
	a.logger.Info("payment required", "url", url, "mode", req.Mode, "recipient", req.Recipient)

	proof, err := a.pay(ctx, *req, url)
	if err != nil {
		result.enter(StateFailed)
		return result, err
	}
	result.enter(StatePaid)
	result.applyProof(proof)

	retry, err := a.do(ctx, url, proof.Attach)
	result.enter(StateRetried)
	if err != nil {
		result.enter(StateFailed)
		return result, err
	}

	a.stats.paymentsMade.Add(1)
	result.Status, result.Body = retry.status, retry.body
	result.enter(StateSucceeded)
	observability.SetSpanAttributes(ctx, observability.AttrStatus.Int(retry.status))
	if retry.status == http.StatusPaymentRequired {
		a.logger.Warn("provider challenged the paid retry", "url", url)
	} else {
		a.logger.Info("request succeeded after payment", "url", url, "status", retry.status)
	}
	return result, nil
}

type response struct {
	status int
	header http.Header
	body   string
}

func (a *Agent) do(ctx context.Context, url string, decorate func(http.Header)) (*response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if decorate != nil {
		decorate(httpReq.Header)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: string(body)}, nil
}

// FetchWithMockChallenge walks the same state machine against a simulated
// provider: the first answer is a challenge carrying req, the retry answers
// 200 with a canned body chosen by keywords in url.
func (a *Agent) FetchWithMockChallenge(ctx context.Context, url string, req x402.Requirement) (result *FetchResult, err error) {
	ctx, done := a.obs.TrackOperation(ctx, "agent.fetch_mock", observability.FetchOperation(a.id, url)...)
	defer func() { done(err) }()

	a.stats.requestsMade.Add(1)
	result = &FetchResult{URL: url}
	result.enter(StateInitial)
	result.enter(StateChallengeDetected)

	parsed, ok := x402.Parse(req.Metadata())
	if !ok {
		result.Status = http.StatusPaymentRequired
		result.enter(StateFailed)
		return result, x402.ErrUnparseableChallenge
	}
	result.Requirement = parsed
	a.logger.Info("simulated payment challenge", "url", url, "mode", parsed.Mode)

	proof, err := a.pay(ctx, *parsed, url)
	if err != nil {
		result.enter(StateFailed)
		return result, err
	}
	result.enter(StatePaid)
	result.applyProof(proof)
	result.enter(StateRetried)

	a.stats.paymentsMade.Add(1)
	result.Status = http.StatusOK
	result.Body = MockResponse(url)
	result.enter(StateSucceeded)
	return result, nil
}

// MockResponse is the canned provider body for url.
func MockResponse(url string) string {
	switch {
	case strings.Contains(url, "weather"):
		return `{"temperature": 28, "condition": "Sunny", "city": "Lagos", "humidity": 65}`
	case strings.Contains(url, "translate"):
		return `{"translated": "Bonjour le monde!", "source": "en", "target": "fr"}`
	case strings.Contains(url, "compute"):
		return `{"status": "completed", "result": 42, "compute_time_ms": 1250}`
	default:
		return `{"status": "ok", "data": "API response"}`
	}
}

// IsTransport reports whether err came from the network rather than the
// provider's answer.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
