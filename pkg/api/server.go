package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowpay-labs/paystream/pkg/agent"
	"github.com/flowpay-labs/paystream/pkg/payment"
	"github.com/flowpay-labs/paystream/pkg/receipts"
	"github.com/flowpay-labs/paystream/pkg/x402"
)

const maxBodyBytes = 1 << 20

// Consensus decides payment requests.
type Consensus interface {
	ProcessPayment(ctx context.Context, req payment.Request) payment.OrchestratorDecision
}

// PaymentAgent is the challenge-retry client exposed by the API.
type PaymentAgent interface {
	Fetch(ctx context.Context, url string) (*agent.FetchResult, error)
	Stats() agent.StatsSnapshot
}

// Options configures a Server. Consensus, Agent, and Store are required.
type Options struct {
	Consensus Consensus
	Agent     PaymentAgent
	Store     receipts.Store
	Hub       *Hub
	Validator *JWTValidator
	RateRPS   int
	RateBurst int
	Logger    *slog.Logger

	// AllowPrivateFetch lets unauthenticated callers point the agent at
	// loopback and private addresses. Authenticated servers always allow it.
	AllowPrivateFetch bool
}

// Server is the HTTP surface of the engine.
type Server struct {
	consensus Consensus
	agent     PaymentAgent
	store     receipts.Store
	hub       *Hub
	validator *JWTValidator
	limiter   *GlobalRateLimiter
	logger    *slog.Logger

	allowPrivateFetch bool

	evaluateBody *bodyValidator
	fetchBody    *bodyValidator
}

func NewServer(opts Options) (*Server, error) {
	if opts.Consensus == nil || opts.Agent == nil || opts.Store == nil {
		return nil, errors.New("api: consensus, agent, and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	evaluateBody, err := compileSchema(evaluateSchemaURL, evaluateSchema)
	if err != nil {
		return nil, err
	}
	fetchBody, err := compileSchema(fetchSchemaURL, fetchSchema)
	if err != nil {
		return nil, err
	}

	s := &Server{
		consensus:    opts.Consensus,
		agent:        opts.Agent,
		store:        opts.Store,
		hub:          opts.Hub,
		validator:    opts.Validator,
		logger:       opts.Logger.With("component", "api"),
		evaluateBody: evaluateBody,
		fetchBody:    fetchBody,

		allowPrivateFetch: opts.AllowPrivateFetch || opts.Validator != nil,
	}
	if !s.allowPrivateFetch {
		s.logger.Warn("API is unauthenticated; agent fetches to internal addresses are refused")
	}
	if opts.RateRPS > 0 {
		s.limiter = NewGlobalRateLimiter(opts.RateRPS, max(opts.RateBurst, 1))
	}
	return s, nil
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// Hub is the decision stream.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler wrapped in rate limiting and auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/payments/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/agent/fetch", s.handleFetch)
	mux.HandleFunc("GET /v1/agent/stats", s.handleStats)
	mux.HandleFunc("GET /v1/decisions", s.handleListDecisions)
	mux.Handle("GET /v1/decisions/stream", s.hub)
	mux.HandleFunc("GET /v1/decisions/{id}", s.handleGetDecision)
	mux.HandleFunc("GET /v1/payments", s.handleListPayments)

	var h http.Handler = mux
	h = AuthMiddleware(s.validator)(h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
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

// PaymentRequest converts the body into a validated request.
func (e EvaluateRequest) PaymentRequest() (payment.Request, error) {
	urgency := payment.UrgencyMedium
	if e.Urgency != "" {
		u, err := payment.ParseUrgency(e.Urgency)
		if err != nil {
			return payment.Request{}, err
		}
		urgency = u
	}
	req, err := payment.NewRequest(e.From, e.To, e.Amount, e.Description, urgency)
	if err != nil {
		return payment.Request{}, err
	}
	if e.ID != "" {
		req.ID = e.ID
	}
	return req, nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, v *bodyValidator, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := v.Decode(body, dst); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body EvaluateRequest
	if !s.readBody(w, r, s.evaluateBody, &body) {
		return
	}
	req, err := body.PaymentRequest()
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	decision := s.consensus.ProcessPayment(r.Context(), req)
	if err := s.store.RecordDecision(r.Context(), receipts.NewDecisionRecord(req, decision)); err != nil {
		s.logger.Warn("failed to journal decision", "request_id", req.ID, "error", err)
	}
	s.hub.Broadcast("decision", decision)
	writeJSON(w, http.StatusOK, decision)
}

// FetchRequest is the body of POST /v1/agent/fetch.
type FetchRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body FetchRequest
	if !s.readBody(w, r, s.fetchBody, &body) {
		return
	}

	if !s.allowPrivateFetch {
		if err := checkFetchTarget(r.Context(), body.URL); err != nil {
			s.logger.Warn("refused agent fetch", "url", body.URL, "error", err)
			WriteErrorR(w, r, http.StatusForbidden, "Fetch Target Refused", err.Error())
			return
		}
	}

	result, err := s.agent.Fetch(r.Context(), body.URL)
	switch {
	case errors.Is(err, x402.ErrUnparseableChallenge):
		WriteErrorR(w, r, http.StatusUnprocessableEntity, "Unparseable Payment Challenge", err.Error())
		return
	case errors.Is(err, agent.ErrTransport):
		WriteErrorR(w, r, http.StatusBadGateway, "Upstream Unreachable", err.Error())
		return
	case errors.Is(err, agent.ErrInvalidAmount):
		WriteErrorR(w, r, http.StatusUnprocessableEntity, "Invalid Payment Amount", err.Error())
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Stats())
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return receipts.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("limit must be an integer between 1 and 1000, got %q", raw)
	}
	return n, nil
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	list, err := s.store.ListDecisions(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetDecision(r.Context(), r.PathValue("id"))
	if errors.Is(err, receipts.ErrNotFound) {
		WriteNotFound(w, "No decision recorded for that request id")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	list, err := s.store.ListPayments(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
