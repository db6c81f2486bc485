package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpay-labs/paystream/pkg/api"
	"github.com/flowpay-labs/paystream/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func runServer(_, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	rt, err := newRuntime(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close() }()

	validator := api.NewJWTValidator(cfg.JWTSecret)
	if validator == nil {
		log.Println("[paystream] auth: JWT_SECRET not set, API is unauthenticated")
		if cfg.AgentFetchPrivate {
			log.Println("[paystream] WARNING: AGENT_FETCH_PRIVATE=true, unauthenticated callers can make the agent fetch internal addresses")
		} else {
			log.Println("[paystream] agent fetch: internal addresses refused for unauthenticated callers")
		}
	}
	srv, err := api.NewServer(api.Options{
		Consensus: rt.orchestrator,
		Agent:     rt.agent,
		Store:     rt.store,
		Validator: validator,
		RateRPS:   cfg.APIRPS,
		RateBurst: cfg.APIBurst,
		Logger:    rt.logger,

		AllowPrivateFetch: cfg.AgentFetchPrivate,
	})
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Printf("[paystream] evaluators: %d registered, approval threshold %.2f", rt.orchestrator.Count(), rt.orchestrator.Threshold())
	log.Printf("[paystream] agent: %s", rt.agent.ID())
	log.Printf("[paystream] ready: http://localhost:%s", cfg.Port)
	log.Println("[paystream] press ctrl+c to stop")

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "server failed: %v\n", err)
			return 1
		}
	case <-ctx.Done():
	}

	log.Println("[paystream] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "shutdown: %v\n", err)
		return 1
	}
	return 0
}
