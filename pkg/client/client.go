// Package client provides a typed Go client for the PayStream API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flowpay-labs/paystream/pkg/agent"
	"github.com/flowpay-labs/paystream/pkg/payment"
	"github.com/flowpay-labs/paystream/pkg/receipts"
)

// APIError is returned when the API responds with a non-2xx status. The
// fields mirror the server's problem document.
type APIError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("paystream api %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("paystream api %d: %s: %s", e.Status, e.Title, e.Detail)
}

// Client is a typed client for the PayStream API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// EvaluateRequest is the body of POST /v1/payments/evaluate.
type EvaluateRequest struct {
	ID          string  `json:"id,omitempty"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	Urgency     string  `json:"urgency,omitempty"`
}

// Evaluate calls POST /v1/payments/evaluate.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*payment.OrchestratorDecision, error) {
	var out payment.OrchestratorDecision
	if err := c.do(ctx, http.MethodPost, "/v1/payments/evaluate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fetch calls POST /v1/agent/fetch.
func (c *Client) Fetch(ctx context.Context, target string) (*agent.FetchResult, error) {
	var out agent.FetchResult
	if err := c.do(ctx, http.MethodPost, "/v1/agent/fetch", map[string]string{"url": target}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats calls GET /v1/agent/stats.
func (c *Client) Stats(ctx context.Context) (*agent.StatsSnapshot, error) {
	var out agent.StatsSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/agent/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDecisions calls GET /v1/decisions. A limit of zero uses the server default.
func (c *Client) ListDecisions(ctx context.Context, limit int) ([]receipts.DecisionRecord, error) {
	var out []receipts.DecisionRecord
	err := c.do(ctx, http.MethodGet, "/v1/decisions"+limitQuery(limit), nil, &out)
	return out, err
}

// GetDecision calls GET /v1/decisions/{id}.
func (c *Client) GetDecision(ctx context.Context, requestID string) (*receipts.DecisionRecord, error) {
	var out receipts.DecisionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/decisions/"+url.PathEscape(requestID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPayments calls GET /v1/payments.
func (c *Client) ListPayments(ctx context.Context, limit int) ([]receipts.Payment, error) {
	var out []receipts.Payment
	err := c.do(ctx, http.MethodGet, "/v1/payments"+limitQuery(limit), nil, &out)
	return out, err
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
