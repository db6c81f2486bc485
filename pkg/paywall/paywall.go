// Package paywall is the provider side of the payment-challenge protocol:
// HTTP middleware that answers priced routes with a 402 challenge until the
// caller attaches a proof of payment.
package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/flowpay-labs/paystream/pkg/x402"
)

// HeaderAPIKey carries the optional provider API key.
const HeaderAPIKey = "X-API-Key"

// ErrInactiveStream is what a Verifier returns for a stream that exists but
// no longer pays.
var ErrInactiveStream = errors.New("paywall: stream is inactive")

// Price is the challenge terms for one route.
type Price struct {
	Mode        string `yaml:"mode" json:"mode"`
	Amount      string `yaml:"amount,omitempty" json:"amount,omitempty"`
	Rate        string `yaml:"rate,omitempty" json:"rate,omitempty"`
	MinDeposit  string `yaml:"min_deposit,omitempty" json:"min_deposit,omitempty"`
	Recipient   string `yaml:"recipient" json:"recipient"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Network     string `yaml:"network,omitempty" json:"network,omitempty"`
	Token       string `yaml:"token,omitempty" json:"token,omitempty"`
}

// Requirement renders the price as challenge terms. Empty fields are absent.
func (p Price) Requirement() x402.Requirement {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return x402.String(s)
	}
	return x402.Requirement{
		Recipient:     p.Recipient,
		Mode:          x402.ParseMode(p.Mode),
		Amount:        opt(p.Amount),
		RatePerSecond: opt(p.Rate),
		MinDeposit:    opt(p.MinDeposit),
		Description:   opt(p.Description),
		Network:       opt(p.Network),
		Token:         opt(p.Token),
	}
}

// Verifier decides whether a well-formed proof pays for a route.
type Verifier interface {
	Verify(ctx context.Context, proof x402.Proof, price Price) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, proof x402.Proof, price Price) error

func (f VerifierFunc) Verify(ctx context.Context, proof x402.Proof, price Price) error {
	return f(ctx, proof, price)
}

// AcceptAll accepts every well-formed proof.
var AcceptAll Verifier = VerifierFunc(func(context.Context, x402.Proof, Price) error { return nil })

// Config configures a Paywall.
type Config struct {
	// Routes maps a path or path prefix to its price. Exact matches win,
	// then the longest matching prefix.
	Routes   map[string]Price `yaml:"routes" json:"routes"`
	APIKey   string           `yaml:"-" json:"-"`
	Verifier Verifier         `yaml:"-" json:"-"`
	Logger   *slog.Logger     `yaml:"-" json:"-"`
}

// Paywall is safe for concurrent use once built.
type Paywall struct {
	routes   map[string]Price
	prefixes []string
	apiKey   string
	verifier Verifier
	logger   *slog.Logger
}

// New builds a paywall from cfg.
func New(cfg Config) *Paywall {
	p := &Paywall{
		routes:   make(map[string]Price, len(cfg.Routes)),
		apiKey:   cfg.APIKey,
		verifier: cfg.Verifier,
		logger:   cfg.Logger,
	}
	if p.verifier == nil {
		p.verifier = AcceptAll
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "paywall")
	for route, price := range cfg.Routes {
		p.routes[route] = price
		p.prefixes = append(p.prefixes, route)
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})
	return p
}

// Match returns the price for path, if any.
func (p *Paywall) Match(path string) (Price, bool) {
	if price, ok := p.routes[path]; ok {
		return price, true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(path, prefix) {
			return p.routes[prefix], true
		}
	}
	return Price{}, false
}

type proofKey struct{}

// ProofFromContext returns the proof the paywall accepted for this request.
func ProofFromContext(ctx context.Context) (x402.Proof, bool) {
	proof, ok := ctx.Value(proofKey{}).(x402.Proof)
	return proof, ok
}

// Middleware guards next with the configured prices. Unpriced routes pass
// through untouched.
func (p *Paywall) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		price, ok := p.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if p.apiKey != "" && r.Header.Get(HeaderAPIKey) != p.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized: Invalid or missing API Key",
			})
			return
		}

		proof, err := x402.ProofFromRequest(r)
		switch {
		case errors.Is(err, x402.ErrNoProof):
			p.challenge(w, price)
			return
		case err != nil:
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "Malformed payment proof",
				"detail": err.Error(),
			})
			return
		}

		if err := p.verifier.Verify(r.Context(), proof, price); err != nil {
			p.logger.Warn("payment proof rejected", "path", r.URL.Path, "mode", proof.Mode(), "error", err)
			writeJSON(w, http.StatusPaymentRequired, map[string]string{
				"error":  "Payment proof rejected",
				"detail": err.Error(),
			})
			return
		}

		if id, ok := proof.StreamID(); ok {
			p.logger.Info("request accepted", "path", r.URL.Path, "stream_id", id)
		} else if ref, ok := proof.TxRef(); ok {
			p.logger.Info("request accepted", "path", r.URL.Path, "tx_ref", ref)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), proofKey{}, proof)))
	})
}

type challengeBody struct {
	Message      string           `json:"message"`
	Requirements x402.Requirement `json:"requirements"`
}

func (p *Paywall) challenge(w http.ResponseWriter, price Price) {
	req := price.Requirement()
	req.WriteHeaders(w.Header())
	writeJSON(w, http.StatusPaymentRequired, challengeBody{
		Message:      "Payment Required",
		Requirements: req,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
