// Package main is the CLI entry point for the CoverDesk assistant service.
//
// Start the server:
//
//	coverdesk serve --config coverdesk.yaml
//
// Configuration can also come from environment variables referenced in
// the YAML file, e.g. api_key: ${OPENAI_API_KEY}. A .env file in the
// working directory is loaded on startup if present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/coverdesk/coverdesk/internal/assistant"
	"github.com/coverdesk/coverdesk/internal/assistant/providers"
	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/config"
	"github.com/coverdesk/coverdesk/internal/dispatch"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/querycache"
	"github.com/coverdesk/coverdesk/internal/ratelimit"
	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/internal/tools"
	"github.com/coverdesk/coverdesk/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "coverdesk",
		Short:        "CoverDesk - streaming CRM assistant service",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "coverdesk",
		Endpoint:       cfg.Tracing.Endpoint,
		EnableInsecure: true,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	stores := store.NewMemoryStores()

	registry, err := tools.NewRegistry(stores.Set())
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	sink, err := buildAuditSink(cfg, logger)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(sink, audit.Config{
		Enabled:          cfg.Audit.Enabled,
		IncludeSnapshots: cfg.Audit.IncludeSnapshots,
	}, logger, metrics)
	defer recorder.Close()

	dispatcher := dispatch.NewDispatcher(registry, recorder, logger, metrics, tracer)

	counterStore := ratelimit.NewMemoryStore(time.Minute)
	defer counterStore.Close()
	limiter := ratelimit.NewLimiter(counterStore, ratelimit.Config{
		Limit:    cfg.RateLimit.Limit,
		Window:   cfg.RateLimit.Window,
		Enabled:  cfg.RateLimit.Enabled,
		FailOpen: cfg.RateLimit.FailOpen,
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	views := querycache.NewStore(logger)
	registerViewPartitions(views, stores.Set())

	producer := assistant.NewProducer(
		limiter, stores.Set().Conversations, dispatcher, provider, registry,
		logger, metrics, tracer,
	)
	handler := assistant.NewHandler(producer, views, cfg.Assistant, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler.Routes(),
	}
	go func() {
		logger.Info(ctx, "server listening",
			"addr", srv.Addr,
			"provider", provider.Name(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", "error", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// registerViewPartitions installs the dashboard partition fetchers over
// the domain stores.
func registerViewPartitions(views *querycache.Store, stores store.StoreSet) {
	views.Register(querycache.PartitionDeals, func(ctx context.Context) (json.RawMessage, error) {
		byStage, err := stores.Deals.ListByStage(ctx, "")
		if err != nil {
			return nil, err
		}
		return json.Marshal(byStage)
	})
	views.Register(querycache.PartitionPipelineSummary, func(ctx context.Context) (json.RawMessage, error) {
		byStage, err := stores.Deals.ListByStage(ctx, "")
		if err != nil {
			return nil, err
		}
		summary := make(map[models.DealStage]int, len(byStage))
		for stage, deals := range byStage {
			summary[stage] = len(deals)
		}
		return json.Marshal(summary)
	})
	views.Register(querycache.PartitionClients, func(ctx context.Context) (json.RawMessage, error) {
		clients, err := stores.Clients.Search(ctx, "", "", 100)
		if err != nil {
			return nil, err
		}
		return json.Marshal(clients)
	})
	views.Register(querycache.PartitionAppointments, func(ctx context.Context) (json.RawMessage, error) {
		appts, err := stores.Appointments.List(ctx, "", 100)
		if err != nil {
			return nil, err
		}
		return json.Marshal(appts)
	})
	views.Register(querycache.PartitionAgenda, func(ctx context.Context) (json.RawMessage, error) {
		appts, err := stores.Appointments.List(ctx, "", 20)
		if err != nil {
			return nil, err
		}
		return json.Marshal(appts)
	})
	views.Register(querycache.PartitionDashboardStats, func(ctx context.Context) (json.RawMessage, error) {
		byStage, err := stores.Deals.ListByStage(ctx, "")
		if err != nil {
			return nil, err
		}
		clients, err := stores.Clients.Search(ctx, "", "", 0)
		if err != nil {
			return nil, err
		}
		appts, err := stores.Appointments.List(ctx, "", 0)
		if err != nil {
			return nil, err
		}
		deals := 0
		var pipelineValue float64
		for _, stageDeals := range byStage {
			deals += len(stageDeals)
			for _, d := range stageDeals {
				pipelineValue += d.Value
			}
		}
		return json.Marshal(map[string]any{
			"deals":          deals,
			"pipeline_value": pipelineValue,
			"clients":        len(clients),
			"appointments":   len(appts),
		})
	})
	views.Register(querycache.PartitionActivityFeed, func(ctx context.Context) (json.RawMessage, error) {
		appts, err := stores.Appointments.List(ctx, "", 10)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"upcoming": appts})
	})
}

func buildAuditSink(cfg *config.Config, logger *observability.Logger) (audit.Sink, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	switch cfg.Audit.Sink {
	case "sqlite":
		sink, err := audit.NewSQLiteSink(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit sink: %w", err)
		}
		return sink, nil
	default:
		return audit.NewLogSink(logger.Slog(), cfg.Audit.IncludeSnapshots, 0), nil
	}
}

func buildProvider(cfg *config.Config) (assistant.CompletionProvider, error) {
	providerCfg := cfg.LLM.Providers[cfg.LLM.Provider]

	switch cfg.LLM.Provider {
	case "anthropic":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  apiKey,
			Model:   providerCfg.Model,
			BaseURL: providerCfg.BaseURL,
		})
	case "openai", "":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  apiKey,
			Model:   providerCfg.Model,
			BaseURL: providerCfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
