package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/flowpay-labs/paystream/pkg/agent"
	"github.com/flowpay-labs/paystream/pkg/config"
	"github.com/flowpay-labs/paystream/pkg/payment"
	"github.com/flowpay-labs/paystream/pkg/paywall"
	"github.com/flowpay-labs/paystream/pkg/receipts"
	"github.com/flowpay-labs/paystream/pkg/x402"
)

// demoPayments are the requests the evaluate command runs through consensus.
func demoPayments() ([]payment.Request, error) {
	specs := []struct {
		from, to    string
		amount      float64
		description string
		urgency     payment.Urgency
	}{
		{"0x1234...abcd", "0x5678...efgh", 1000, "Monthly subscription payment", payment.UrgencyMedium},
		{"0xaaaa...bbbb", "0xcccc...dddd", 50000, "Large vendor payment - Q4 services", payment.UrgencyHigh},
		{"0x9999...0000", "0x1111...2222", 100, "Urgent emergency fund transfer", payment.UrgencyCritical},
	}
	out := make([]payment.Request, 0, len(specs))
	for _, s := range specs {
		req, err := payment.NewRequest(s.from, s.to, s.amount, s.description, s.urgency)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output decisions as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, config.Load(), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close() }()

	payments, err := demoPayments()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if !jsonOutput {
		fmt.Fprintf(stdout, "%s%d evaluators ready%s (approval threshold %.2f)\n",
			ColorBold, rt.orchestrator.Count(), ColorReset, rt.orchestrator.Threshold())
	}

	var decisions []payment.OrchestratorDecision
	for _, req := range payments {
		decision := rt.orchestrator.ProcessPayment(ctx, req)
		if err := rt.store.RecordDecision(ctx, receipts.NewDecisionRecord(req, decision)); err != nil {
			fmt.Fprintf(stderr, "journal: %v\n", err)
		}
		decisions = append(decisions, decision)
		if !jsonOutput {
			printDecision(stdout, req, decision)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(decisions); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

func printDecision(w io.Writer, req payment.Request, d payment.OrchestratorDecision) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sPayment %s%s\n", ColorBold+ColorCyan, req.ID, ColorReset)
	fmt.Fprintf(w, "  Amount:      %.2f\n", req.Amount)
	fmt.Fprintf(w, "  To:          %s\n", req.To)
	fmt.Fprintf(w, "  Description: %s\n", req.Description)
	fmt.Fprintf(w, "  Urgency:     %s\n", req.Urgency)
	for _, ed := range d.Decisions {
		fmt.Fprintf(w, "  [%s] %s - %s (confidence: %.2f)\n", ed.EvaluatorID, ed.Action, ed.Reason, ed.Confidence)
	}
	fmt.Fprintf(w, "  Final Decision: %s%s%s\n", actionColor(d.FinalAction), d.FinalAction, ColorReset)
	fmt.Fprintf(w, "  Consensus Score: %.2f\n", d.ConsensusScore)
	fmt.Fprintf(w, "  Summary: %s\n", d.Summary)
}

func actionColor(a payment.Action) string {
	switch a {
	case payment.ActionApprove:
		return ColorGreen
	case payment.ActionReject:
		return ColorRed
	}
	return ColorYellow
}

// runDemo402Cmd pays one mock challenge per priced paywall route.
func runDemo402Cmd(stdout, stderr io.Writer) int {
	ctx := context.Background()
	rt, err := newRuntime(ctx, config.Load(), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close() }()

	routes := make([]string, 0, len(rt.policy.Paywall))
	for route := range rt.policy.Paywall {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	for _, route := range routes {
		req := rt.policy.Paywall[route].Requirement()
		url := "https://provider.example" + route
		fmt.Fprintf(stdout, "%s402 Payment Required%s %s\n%s\n", ColorBold+ColorYellow, ColorReset, url, req.Display())

		if !rt.agent.ShouldPay(ctx, req, "demo request for "+route) {
			fmt.Fprintf(stdout, "  %sdeclined%s\n", ColorGray, ColorReset)
			continue
		}
		res, err := rt.agent.FetchWithMockChallenge(ctx, url, req)
		if err != nil {
			fmt.Fprintf(stdout, "  %sfailed:%s %v\n", ColorRed, ColorReset, err)
			continue
		}
		printFetch(stdout, res)
	}

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, rt.agent.Summary())
	return 0
}

func printFetch(w io.Writer, res *agent.FetchResult) {
	fmt.Fprintf(w, "  status %d (%s)\n", res.Status, res.Final())
	if res.PaymentMade {
		switch {
		case res.Mode == x402.ModeStreaming:
			fmt.Fprintf(w, "  paid %s via stream #%d\n", res.AmountSpent, res.StreamID)
		case res.TxRef != "":
			fmt.Fprintf(w, "  paid %s via tx %s\n", res.AmountSpent, res.TxRef)
		}
	}
	fmt.Fprintf(w, "  body: %s\n", res.Body)
}

func runFetchCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: paystream fetch <url>")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rt, err := newRuntime(ctx, config.Load(), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close() }()

	res, err := rt.agent.Fetch(ctx, args[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printFetch(stdout, res)
	fmt.Fprintln(stdout, rt.agent.Summary())
	return 0
}

// runPaywallCmd serves canned provider bodies behind the policy's prices.
func runPaywallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("paywall", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var addr, apiKey string
	cmd.StringVar(&addr, "addr", ":8402", "Listen address")
	cmd.StringVar(&apiKey, "api-key", os.Getenv("PAYWALL_API_KEY"), "Require this X-API-Key on priced routes")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := newLogger(cfg, stderr)
	policy, err := loadPolicy(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	pw := paywall.New(paywall.Config{Routes: policy.Paywall, APIKey: apiKey, Logger: logger})
	provider := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if proof, ok := paywall.ProofFromContext(r.Context()); ok {
			logger.Info("served paid request", "path", r.URL.Path, "mode", proof.Mode(), "amount", proof.AmountPaid())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, agent.MockResponse(r.URL.Path))
	})

	srv := &http.Server{Addr: addr, Handler: pw.Middleware(provider), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Printf("[paystream] paywall: %d priced routes on %s", len(policy.Paywall), addr)
	fmt.Fprintf(stdout, "paywall listening on %s\n", addr)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "paywall failed: %v\n", err)
			return 1
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return 0
}
