// Package agent is the client side of the payment-challenge protocol. An
// Agent issues requests, detects 402 challenges, manufactures a synthetic
// proof of payment, and retries exactly once with that proof, while keeping
// lock-free spend counters that are safe under concurrent use.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay-labs/paystream/pkg/money"
	"github.com/flowpay-labs/paystream/pkg/observability"
	"github.com/flowpay-labs/paystream/pkg/oracle"
	"github.com/flowpay-labs/paystream/pkg/receipts"
)

var (
	// ErrTransport wraps network failures on the first request or the retry.
	ErrTransport = errors.New("agent: transport failure")
	// ErrInvalidAmount is returned when a requirement carries an amount that
	// is not a non-negative decimal.
	ErrInvalidAmount = errors.New("agent: invalid payment amount")
)

// Fallbacks used when a requirement omits an amount.
const (
	DefaultStreamDeposit    = "1.00"
	DefaultStreamRate       = "0.0001"
	DefaultPerRequestAmount = "0.001"

	// DefaultFirstStreamID keeps synthetic stream ids clear of small values
	// that mean something to providers.
	DefaultFirstStreamID uint64 = 1000
)

// Config describes one agent.
type Config struct {
	Name          string `yaml:"name" json:"name"`
	WalletAddress string `yaml:"wallet_address" json:"wallet_address"`
	DailyBudget   string `yaml:"daily_budget" json:"daily_budget"`

	StreamDeposit    string `yaml:"stream_deposit" json:"stream_deposit"`
	StreamRate       string `yaml:"stream_rate" json:"stream_rate"`
	PerRequestAmount string `yaml:"per_request_amount" json:"per_request_amount"`
	FirstStreamID    uint64 `yaml:"first_stream_id" json:"first_stream_id"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "paystream-agent"
	}
	if c.DailyBudget == "" {
		c.DailyBudget = "10.00"
	}
	if c.StreamDeposit == "" {
		c.StreamDeposit = DefaultStreamDeposit
	}
	if c.StreamRate == "" {
		c.StreamRate = DefaultStreamRate
	}
	if c.PerRequestAmount == "" {
		c.PerRequestAmount = DefaultPerRequestAmount
	}
	if c.FirstStreamID == 0 {
		c.FirstStreamID = DefaultFirstStreamID
	}
	return c
}

// Stats are the agent's lifetime counters. Every mutation is a single atomic
// add; no invariant spans two counters, so readers may observe one counter
// ahead of another.
type Stats struct {
	requestsMade    atomic.Uint64
	paymentsMade    atomic.Uint64
	totalSpentMicro atomic.Uint64
	activeStreams   atomic.Uint64
}

// StatsSnapshot is a point-in-time read of each counter.
type StatsSnapshot struct {
	RequestsMade    uint64  `json:"requests_made"`
	PaymentsMade    uint64  `json:"payments_made"`
	TotalSpentMicro uint64  `json:"total_spent_micro"`
	TotalSpent      string  `json:"total_spent"`
	TotalSpentFloat float64 `json:"-"`
	ActiveStreams   uint64  `json:"active_streams"`
}

// Recorder receives every payment the agent makes. receipts.Store
// implements it.
type Recorder interface {
	RecordPayment(ctx context.Context, p receipts.Payment) error
}

// Agent is safe for concurrent use.
type Agent struct {
	id     string
	cfg    Config
	client *http.Client
	oracle oracle.Client

	stats      Stats
	nextStream atomic.Uint64

	recorder Recorder
	obs      *observability.Provider
	logger   *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option { return func(a *Agent) { a.client = c } }

// WithOracle enables ShouldPay.
func WithOracle(c oracle.Client) Option { return func(a *Agent) { a.oracle = c } }

// WithRecorder journals every payment.
func WithRecorder(r Recorder) Option { return func(a *Agent) { a.recorder = r } }

func WithObservability(p *observability.Provider) Option {
	return func(a *Agent) { a.obs = p }
}

func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// New returns an agent with fresh counters.
func New(cfg Config, opts ...Option) *Agent {
	cfg = cfg.withDefaults()
	a := &Agent{
		id:     fmt.Sprintf("%s-%s", cfg.Name, uuid.New().String()[:8]),
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		obs:    observability.Disabled(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.nextStream.Store(cfg.FirstStreamID)
	a.logger = a.logger.With("component", "agent", "agent_id", a.id)
	a.logger.Info("payment agent initialized",
		"wallet", cfg.WalletAddress,
		"daily_budget", cfg.DailyBudget,
	)
	return a
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Config() Config { return a.cfg }

// Stats reads each counter atomically.
func (a *Agent) Stats() StatsSnapshot {
	micro := a.stats.totalSpentMicro.Load()
	return StatsSnapshot{
		RequestsMade:    a.stats.requestsMade.Load(),
		PaymentsMade:    a.stats.paymentsMade.Load(),
		TotalSpentMicro: micro,
		TotalSpent:      money.FromMicro(micro),
		TotalSpentFloat: money.MicroToFloat(micro),
		ActiveStreams:   a.stats.activeStreams.Load(),
	}
}

// TotalSpent is the cumulative spend for display.
func (a *Agent) TotalSpent() float64 {
	return money.MicroToFloat(a.stats.totalSpentMicro.Load())
}

// Summary renders the counters as a tree for logs and the CLI.
func (a *Agent) Summary() string {
	s := a.Stats()
	return fmt.Sprintf("Agent Stats:\n   ├─ Requests: %d\n   ├─ Payments: %d\n   ├─ Spent: %s\n   └─ Active Streams: %d",
		s.RequestsMade, s.PaymentsMade, s.TotalSpent, s.ActiveStreams)
}
