package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/api"
	"github.com/verifyhub/otp-delivery/internal/backoff"
	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/config"
	"github.com/verifyhub/otp-delivery/internal/db"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/escalation"
	"github.com/verifyhub/otp-delivery/internal/executor"
	"github.com/verifyhub/otp-delivery/internal/metrics"
	"github.com/verifyhub/otp-delivery/internal/monitor"
	"github.com/verifyhub/otp-delivery/internal/planner"
	"github.com/verifyhub/otp-delivery/internal/provider"
	"github.com/verifyhub/otp-delivery/internal/ratelimiter"
	"github.com/verifyhub/otp-delivery/internal/registry"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	descriptors, adapters := buildProviders(cfg, logger)

	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}

	breakerCfg := breaker.DefaultConfig()
	breakerCfg.Threshold = cfg.BreakerThreshold
	breakerCfg.OpenTimeout = cfg.BreakerOpenTimeout
	breakerCfg.HalfOpenMaxAttempts = cfg.BreakerHalfOpenMax
	breakers := breaker.NewRegistry(breakerCfg, names, logger)

	services := registry.New(descriptors, adapters, breakers, config.Credentials, registry.NopHealthSink{}, logger)

	summary := services.ValidateAll(ctx)
	for _, action := range summary.RecommendedActions {
		logger.Warn("provider validation recommendation", zap.String("action", action))
	}

	attempts := repository.NewPgAttemptRepository(pool)
	limiter := ratelimiter.New(names, cfg.ProviderRateLimit)
	calc := backoff.NewCalculator(backoff.Config{
		BaseDelay:    cfg.BackoffBase,
		Multiplier:   2,
		MaxDelay:     cfg.BackoffMax,
		JitterFactor: cfg.BackoffJitter,
		MaxAttempts:  cfg.MaxRetries,
	})
	pl := planner.New(services, logger)

	exec := executor.New(
		executor.Config{AttemptTimeout: cfg.AttemptTimeout},
		pl, adapters, breakers, calc, limiter, attempts, services,
		m.ExecutorHooks(), logger,
	)

	// ---- background jobs ----
	esc := escalation.New(attempts, escalation.LogTicketSink{Logger: logger}, logger)

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.Interval = cfg.MonitorInterval
	mon := monitor.New(monitorCfg, attempts, esc, monitor.LogAlertSink{Logger: logger}, m.MonitorHook(), logger)
	if err := mon.Start(); err != nil {
		logger.Fatal("failed to start proactive monitor", zap.Error(err))
	}

	// Periodic credential revalidation and breaker gauge refresh.
	jobs := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := jobs.AddFunc("@every "+cfg.RevalidateInterval.String(), func() {
		services.Revalidate(context.Background())
		m.ObserveBreakers(breakers)
	}); err != nil {
		logger.Fatal("failed to schedule revalidation", zap.Error(err))
	}
	jobs.Start()

	// ---- HTTP server ----
	router := api.NewRouter(exec, attempts, esc, services, breakers, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests; in-flight deliveries finish
	//    within the write timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the background jobs; a monitoring cycle in progress runs
	//    to completion.
	<-jobs.Stop().Done()
	mon.Stop()

	logger.Info("server stopped cleanly")
}

// buildProviders constructs the descriptor list and the adapter strategy map.
// A provider with incomplete credentials gets a NullAdapter, chosen once
// here; no delivery-path code branches on configuration state.
func buildProviders(cfg *config.Config, logger *zap.Logger) ([]*domain.ServiceDescriptor, map[string]provider.Adapter) {
	creds := config.Credentials()

	descriptors := []*domain.ServiceDescriptor{
		{
			Name:                config.ServiceUnified,
			DisplayName:         "Unified Messaging",
			Capabilities:        []domain.Method{domain.MethodSMS, domain.MethodEmail},
			Priority:            1,
			IsPrimary:           true,
			Enabled:             true,
			RequiredCredentials: []string{config.CredAPIKey, config.CredAPISecret},
		},
		{
			Name:                config.ServiceSMSGateway,
			DisplayName:         "SMS Gateway",
			Capabilities:        []domain.Method{domain.MethodSMS},
			Priority:            2,
			Enabled:             true,
			RequiredCredentials: []string{config.CredAPIKey, config.CredSenderID},
		},
		{
			Name:                config.ServiceEmailGateway,
			DisplayName:         "Email Gateway",
			Capabilities:        []domain.Method{domain.MethodEmail},
			Priority:            3,
			Enabled:             true,
			RequiredCredentials: []string{config.CredAPIKey, config.CredFromAddr},
		},
	}

	adapters := make(map[string]provider.Adapter, len(descriptors))

	if b := creds[config.ServiceUnified]; b[config.CredAPIKey] != "" && b[config.CredAPISecret] != "" {
		adapters[config.ServiceUnified] = provider.NewUnifiedAdapter(
			config.ServiceUnified, b[config.CredAPIKey], b[config.CredAPISecret],
			cfg.UnifiedEndpoints, cfg.AttemptTimeout)
	}
	if b := creds[config.ServiceSMSGateway]; b[config.CredAPIKey] != "" && b[config.CredSenderID] != "" {
		adapters[config.ServiceSMSGateway] = provider.NewSMSGatewayAdapter(
			config.ServiceSMSGateway, b[config.CredAPIKey], b[config.CredSenderID],
			cfg.SMSGatewayEndpoints, cfg.AttemptTimeout)
	}
	if b := creds[config.ServiceEmailGateway]; b[config.CredAPIKey] != "" && b[config.CredFromAddr] != "" {
		adapters[config.ServiceEmailGateway] = provider.NewEmailGatewayAdapter(
			config.ServiceEmailGateway, b[config.CredAPIKey], b[config.CredFromAddr],
			cfg.EmailGatewayEndpoints, cfg.AttemptTimeout)
	}

	for _, d := range descriptors {
		if _, ok := adapters[d.Name]; !ok {
			logger.Warn("provider not configured, using null adapter",
				zap.String("service", d.Name))
			adapters[d.Name] = provider.NewNullAdapter(d.Name, d.Capabilities)
		}
	}

	return descriptors, adapters
}
