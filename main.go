package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/handler"
	"github.com/nexus-gateway/nexus/logger"
	"github.com/nexus-gateway/nexus/metering"
	"github.com/nexus-gateway/nexus/observability"
	"github.com/nexus-gateway/nexus/policy"
	"github.com/nexus-gateway/nexus/queue"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/router"
	"github.com/nexus-gateway/nexus/routing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("nexus gateway starting")

	domainCfg, err := config.LoadDomain(cfg.DomainConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DomainConfigPath).Msg("failed to load domain config")
	}

	reg := registry.NewRegistry()
	registerBackends(domainCfg, reg, log)

	matcher, err := policy.Compile(domainCfg.TrafficPolicies)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile traffic policies")
	}

	costEngine := metering.NewCostEngine()
	budgetTracker := metering.NewBudgetTracker()
	for _, b := range domainCfg.Backends {
		if b.BudgetCapUSD > 0 {
			budgetTracker.SetCap(fmt.Sprintf("%s:%s", b.Type, b.Name), b.BudgetCapUSD)
		}
	}
	tokenCounter := metering.NewTokenCounter(4.0)

	metrics := observability.NewMetrics()

	baseBudget := routing.NewBudgetReconciler(budgetTracker, costEngine)
	baseSched := routing.NewSchedulerReconciler(reg, domainCfg.Queue.IsEnabled(), domainCfg.Queue.MaxWaitSeconds, routing.BestFit, costEngine)
	pipelineFunc := func(inputTokens, outputTokens int) *routing.Pipeline {
		budgetR := baseBudget.WithEstimate(inputTokens, outputTokens)
		schedR := baseSched.WithEstimate(inputTokens, outputTokens)
		return routing.NewPipeline(reg, matcher, budgetR, schedR, domainCfg.ModelAliases, log)
	}
	r := routing.NewRouter(reg, pipelineFunc, domainCfg.ModelAliases, log)

	reqQueue := queue.NewRequestQueue(domainCfg.Queue.MaxSize)
	reqQueue.SetDepthGauge(metrics.QueueDepth)
	maxWait := time.Duration(domainCfg.Queue.MaxWaitSeconds) * time.Second

	chatHandler := handler.NewChatHandler(reg, r, reqQueue, domainCfg.Queue.IsEnabled(), maxWait, tokenCounter, costEngine, budgetTracker, metrics, log)

	healthPoller := registry.NewHealthPoller(reg, log, 30*time.Second)
	healthPoller.Start()

	drainCtx, drainCancel := context.WithCancel(context.Background())
	drainLoop := queue.NewDrainLoop(reqQueue, log)
	go drainLoop.Run(drainCtx)

	httpRouter := router.NewRouter(cfg, log, chatHandler, metrics)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	healthPoller.Stop()
	drainCancel()
	select {
	case <-drainLoop.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("queue drain loop did not stop within grace period")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}
}

func registerBackends(domainCfg *config.DomainConfig, reg *registry.Registry, log zerolog.Logger) {
	for _, bc := range domainCfg.Backends {
		bt, ok := registry.ParseBackendType(bc.Type)
		if !ok {
			log.Warn().Str("backend", bc.Name).Str("type", bc.Type).Msg("unknown backend type, treating as generic")
		}

		apiKey := ""
		if bc.APIKeyEnv != "" {
			apiKey = os.Getenv(bc.APIKeyEnv)
			if apiKey == "" {
				log.Warn().Str("backend", bc.Name).Str("env", bc.APIKeyEnv).Msg("api_key_env set but environment variable is empty")
			}
		}

		// Unset zone defaults by type: local runtimes are restricted, cloud
		// APIs open.
		zone := registry.Restricted
		if bt.IsCloud() {
			zone = registry.Open
		}
		switch bc.Zone {
		case "restricted":
			zone = registry.Restricted
		case "open":
			zone = registry.Open
		}

		profile := registry.AgentProfile{
			BackendType:    bt,
			PrivacyZone:    zone,
			CapabilityTier: bc.Tier,
			Streaming:      true,
		}

		agent := registry.NewAgent(bt, registry.AgentOptions{
			BaseURL: bc.URL,
			APIKey:  apiKey,
			Profile: profile,
		})

		models := make([]registry.ModelCapability, 0, len(bc.Models))
		for _, m := range bc.Models {
			models = append(models, registry.ModelCapability{Name: m})
		}

		backend := &registry.Backend{
			ID:           fmt.Sprintf("%s:%s", bc.Type, bc.Name),
			Name:         bc.Name,
			URL:          bc.URL,
			BackendType:  bt,
			Models:       models,
			Profile:      profile,
			PendingLimit: bc.PendingLimit,
			Priority:     bc.Priority,
		}
		backend.SetStatus(registry.Unknown)

		if err := reg.Register(backend, agent); err != nil {
			log.Error().Err(err).Str("backend", bc.Name).Msg("failed to register backend")
			continue
		}
		log.Info().Str("backend", bc.Name).Str("type", bc.Type).Msg("registered backend")
	}
	log.Info().Int("count", len(domainCfg.Backends)).Msg("backend registration complete")
}
