package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/medtwin/doc-voice/internal/app"
	"github.com/medtwin/doc-voice/internal/config"
	"github.com/medtwin/doc-voice/internal/observability"
	"github.com/medtwin/doc-voice/internal/patient"
	"github.com/medtwin/doc-voice/internal/reasoning"
	"github.com/medtwin/doc-voice/internal/session"
	"github.com/medtwin/doc-voice/internal/transport"
)

const readinessInterval = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_health_port", cfg.GRPCHealthPort).
		Strs("reasoning_chain", cfg.ReasoningChain).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Doc voice gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	reasoner, err := app.NewReasoner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build reasoner: %w", err)
	}

	store, err := patient.Open(cfg.PatientFile, logger)
	if err != nil {
		return fmt.Errorf("failed to load patient context: %w", err)
	}

	registry := session.NewRegistry(app.SessionConfig(cfg), session.RegistryDeps{
		Reasoner:        reasoner,
		Patient:         store,
		NewTranscriber:  app.NewTranscriberFactory(cfg, logger),
		BroadcastBuffer: cfg.BroadcastBuffer,
		Logger:          logger,
	})
	defer registry.Close()

	// Health check functions are built here to keep observability free of
	// domain imports.
	checks := map[string]observability.HealthCheckFunc{
		"reasoning": func(ctx context.Context) (bool, error) {
			return len(reasoner.Chain()) > 0, nil
		},
		"patient": func(ctx context.Context) (bool, error) {
			return store.Snapshot() != nil, nil
		},
	}

	deps := transport.Deps{
		Registry: registry,
		Intents:  reasoning.NewIntentRouter(reasoner, logger),
		Checks:   checks,
		Metrics:  cfg.MetricsEnabled,
		Logger:   logger,
	}
	if synth := app.NewSynthesizer(cfg, logger); synth.Configured() {
		deps.Synthesizer = synth
		checks["synthesis"] = func(ctx context.Context) (bool, error) { return synth.Configured(), nil }
	} else {
		logger.Warn().Msg("ELEVENLABS_API_KEY not set, /tts disabled")
	}

	// Create HTTP server with timeouts. Streaming routes outlive WriteTimeout,
	// so it is left unset.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           transport.NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/session/{id}", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
		if err != nil {
			return fmt.Errorf("grpc health listener: %w", err)
		}
		logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health service listening")
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		// Losing hot reload is not fatal: the loaded snapshot keeps serving.
		if err := store.Watch(gctx); err != nil {
			logger.Warn().Err(err).Msg("Patient context hot reload disabled")
		}
		return nil
	})

	g.Go(func() error {
		mirrorReadiness(gctx, healthServer, checks)
		return nil
	})

	g.Go(func() error {
		registry.RunReaper(gctx, reapInterval(cfg.SessionIdleTimeout))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		healthServer.Shutdown()
		registry.Close()
		grpcServer.GracefulStop()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// reapInterval checks for idle sessions a few times per idle timeout.
func reapInterval(idle time.Duration) time.Duration {
	return max(idle/4, time.Second)
}

// mirrorReadiness publishes the readiness checks on the gRPC health service.
func mirrorReadiness(ctx context.Context, hs *health.Server, checks map[string]observability.HealthCheckFunc) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ready, _ := observability.CheckDependencies(checkCtx, checks)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if !ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(observability.ServiceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
