package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/flowpay-labs/paystream/pkg/agent"
	"github.com/flowpay-labs/paystream/pkg/config"
	"github.com/flowpay-labs/paystream/pkg/consensus"
	"github.com/flowpay-labs/paystream/pkg/evaluator"
	"github.com/flowpay-labs/paystream/pkg/guard"
	"github.com/flowpay-labs/paystream/pkg/observability"
	"github.com/flowpay-labs/paystream/pkg/oracle"
	"github.com/flowpay-labs/paystream/pkg/receipts"
)

// runtime is everything a command needs, built once from the environment.
type runtime struct {
	cfg          *config.Config
	policy       *config.Policy
	logger       *slog.Logger
	obs          *observability.Provider
	oracle       oracle.Client
	store        receipts.Store
	orchestrator *consensus.Orchestrator
	agent        *agent.Agent

	closers []func() error
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func loadPolicy(cfg *config.Config) (*config.Policy, error) {
	if cfg.PolicyFile == "" {
		return config.DefaultPolicy(), nil
	}
	p, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	log.Printf("[paystream] policy: loaded %s (version %s)", cfg.PolicyFile, p.Version)
	return p, nil
}

// newRuntime wires the journal, oracle, evaluators, orchestrator, and agent.
func newRuntime(ctx context.Context, cfg *config.Config, logw io.Writer) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: newLogger(cfg, logw)}
	slog.SetDefault(rt.logger)

	policy, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	rt.policy = policy

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	rt.obs = obs
	rt.closers = append(rt.closers, func() error { return obs.Shutdown(context.Background()) })

	if cfg.LiteMode() {
		log.Printf("[paystream] lite mode: in-memory sqlite journal")
	}
	store, err := receipts.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	client, closeOracle := newOracle(cfg)
	rt.oracle = client
	if closeOracle != nil {
		rt.closers = append(rt.closers, closeOracle)
	}

	orch, err := buildOrchestrator(policy, client, obs, rt.logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.orchestrator = orch

	rt.agent = agent.New(agent.Config{
		Name:             cfg.AgentName,
		WalletAddress:    cfg.AgentWallet,
		DailyBudget:      cfg.AgentDailyBudget,
		StreamDeposit:    policy.Payments.StreamDeposit,
		StreamRate:       policy.Payments.StreamRate,
		PerRequestAmount: policy.Payments.PerRequestAmount,
		FirstStreamID:    policy.Payments.FirstStreamID,
	},
		agent.WithOracle(client),
		agent.WithRecorder(store),
		agent.WithObservability(obs),
		agent.WithLogger(rt.logger),
	)
	return rt, nil
}

// newOracle picks Gemini when a key is configured and the scripted demo
// oracle otherwise. Gemini calls are rate limited, through Redis when
// REDIS_ADDR is set.
func newOracle(cfg *config.Config) (oracle.Client, func() error) {
	if cfg.OfflineOracle() {
		log.Printf("[paystream] oracle: GEMINI_API_KEY not set, using scripted demo oracle")
		return oracle.Demo(), nil
	}

	gemini := oracle.NewGeminiClient(cfg.GeminiAPIKey, cfg.OracleModel, cfg.OracleURL)
	if cfg.RedisAddr == "" {
		log.Printf("[paystream] oracle: %s, local limiter %.2f rps", cfg.OracleModel, cfg.OracleRPS)
		return oracle.NewLimited(gemini, oracle.NewLocalLimiter(cfg.OracleRPS, cfg.OracleBurst)), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Printf("[paystream] oracle: %s, redis limiter at %s", cfg.OracleModel, cfg.RedisAddr)
	limiter := oracle.NewRedisLimiter(rdb, cfg.OracleModel, cfg.OracleRPS, cfg.OracleBurst)
	return oracle.NewLimited(gemini, limiter), rdb.Close
}

// buildOrchestrator registers one evaluator per policy entry, in order.
func buildOrchestrator(policy *config.Policy, client oracle.Client, obs *observability.Provider, logger *slog.Logger) (*consensus.Orchestrator, error) {
	engine, err := guard.NewEngine()
	if err != nil {
		return nil, err
	}
	orch := consensus.New(policy.ApprovalThreshold,
		consensus.WithMaxConcurrent(policy.MaxConcurrent),
		consensus.WithObservability(obs),
		consensus.WithLogger(logger),
	)
	treasury := evaluator.Treasury{
		Balance:    policy.Treasury.Balance,
		DailyLimit: policy.Treasury.DailyLimit,
		SpentToday: policy.Treasury.SpentToday,
	}
	for _, rp := range policy.Evaluators {
		opts := []evaluator.Option{evaluator.WithEngine(engine), evaluator.WithLogger(logger)}
		if rp.Threshold != nil {
			opts = append(opts, evaluator.WithThreshold(*rp.Threshold))
		}
		if rp.ReviewFraction != nil {
			opts = append(opts, evaluator.WithReviewFraction(*rp.ReviewFraction))
		}
		if len(rp.Guards) > 0 {
			opts = append(opts, evaluator.WithGuards(rp.Guards...))
		}
		e, err := evaluator.New(evaluator.Role(rp.Role), client, treasury, opts...)
		if err != nil {
			return nil, fmt.Errorf("evaluator %s: %w", rp.Role, err)
		}
		orch.Register(e)
	}
	return orch, nil
}
