package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/agentdesk/internal/agent"
	"github.com/szaher/agentdesk/internal/auth"
	"github.com/szaher/agentdesk/internal/config"
	"github.com/szaher/agentdesk/internal/llm"
	"github.com/szaher/agentdesk/internal/server"
	"github.com/szaher/agentdesk/internal/session"
	"github.com/szaher/agentdesk/internal/telemetry"
)

// shutdownTimeout bounds how long an interrupted server waits for
// in-flight requests and the final sweep.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentdesk HTTP API server",
		Long: `Loads the configuration, opens the session store, starts the expiry
janitor, and serves the query and session APIs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			logger := newLogger(cfg)
			metrics := telemetry.NewMetrics()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := session.Open(ctx, storeConfig(cfg),
				session.WithLogger(logger), session.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			janitor := session.NewJanitor(store, cfg.Sessions.CleanupInterval(), logger)
			janitor.Start()

			apiKey := cfg.Server.APIKey
			if apiKey == "" {
				apiKey = auth.KeyFromEnv()
			}

			svc := buildService(cfg, store, logger, metrics)
			srv := server.NewServer(svc, store,
				server.WithLogger(logger),
				server.WithMetrics(metrics),
				server.WithAPIKey(apiKey),
				server.WithRateLimiter(auth.NewRateLimiter(auth.RateLimitConfigFromEnv())),
				server.WithVersion(version),
			)
			if apiKey == "" {
				logger.Warn("no API key configured: the API accepts unauthenticated requests")
			}

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := janitor.Stop(shutdownCtx); err != nil {
					logger.Warn("janitor did not stop cleanly", "error", err)
				}
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")

	return cmd
}

// storeConfig maps the sessions config section onto the store's own
// configuration type.
func storeConfig(cfg config.Config) session.Config {
	return session.Config{
		StorageType:        cfg.Sessions.StorageType,
		DBPath:             cfg.Sessions.DBPath,
		PostgresDSN:        cfg.Sessions.PostgresDSN,
		Timeout:            cfg.Sessions.Timeout(),
		MaxSessionsPerUser: cfg.Sessions.MaxSessionsPerUser,
	}
}

// buildService wires the configured LLM client and both pipelines into
// the dispatch service.
func buildService(cfg config.Config, store *session.Store, logger *slog.Logger, metrics *telemetry.Metrics) *agent.Service {
	client, model := llm.NewClientForConfig(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.BaseURL)
	params := agent.ModelParams{
		Model:       model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	pipelines := []agent.Pipeline{
		agent.NewStandardPipeline(client, params),
		agent.NewResearchPipeline(client, params, cfg.Agents.MaxSteps, cfg.Agents.TokenBudget),
	}
	opts := []agent.Option{agent.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, agent.WithMetrics(metrics))
	}
	return agent.NewService(store, cfg.Agents.DefaultType, pipelines, opts...)
}
