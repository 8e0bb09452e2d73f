package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/saint0x/flywatch/internal/agent"
	"github.com/saint0x/flywatch/internal/config"
	"github.com/saint0x/flywatch/internal/ingest"
	"github.com/saint0x/flywatch/internal/logging"
	"github.com/saint0x/flywatch/internal/metrics"
	"github.com/saint0x/flywatch/internal/server"
	"github.com/saint0x/flywatch/internal/state"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flywatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	logger.Info().
		Str("app", cfg.AppName).
		Str("org", cfg.OrgSlug).
		Str("subject", cfg.Subject()).
		Int("port", cfg.Port).
		Bool("auth", cfg.AuthToken != "").
		Bool("chat", cfg.OpenAIAPIKey != "").
		Msg("Starting flywatch")

	stats := metrics.NewStats(prometheus.DefaultRegisterer)

	sampler, err := metrics.NewProcessSampler()
	if err != nil {
		// Snapshots simply omit the system block.
		logger.Warn().Err(err).Msg("System sampler unavailable")
		sampler = nil
	}

	st := state.New(stats, sampler, cfg.BufferMaxEntries, cfg.BufferMaxAge(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go st.Collector.Run(ctx)

	ing := ingest.New(ingest.Config{
		URL:     cfg.NATSURL,
		Token:   cfg.NATSToken,
		Subject: cfg.Subject(),
	}, st, logger)
	if err := ing.Start(ctx); err != nil {
		return fmt.Errorf("bus ingest failed to start: %w", err)
	}
	defer ing.Close()

	ag := agent.New(agent.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		DefaultModel: cfg.OpenAIModel,
		MaxRounds:    cfg.ChatMaxRounds,
		Timeout:      cfg.ChatTimeout(),
	}, st, logger)

	srv := server.New(server.Config{
		Addr:      cfg.Addr(),
		AuthToken: cfg.AuthToken,
	}, st, ag, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	cancel()
	if err := srv.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("Error during HTTP shutdown")
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
