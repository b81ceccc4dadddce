package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stephenschoettler/frontdesk-ai/internal/calendar"
	"github.com/stephenschoettler/frontdesk-ai/internal/config"
	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/database"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/metrics"
	"github.com/stephenschoettler/frontdesk-ai/internal/oauthflow"
	"github.com/stephenschoettler/frontdesk-ai/internal/resolver"
	"github.com/stephenschoettler/frontdesk-ai/internal/scheduling"
	"github.com/stephenschoettler/frontdesk-ai/internal/server"
	"github.com/stephenschoettler/frontdesk-ai/internal/tools"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		debugMode bool
		transport string
		mcpAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling backend",
		Long: `Starts the MCP tool server, the dashboard HTTP API and the metrics
endpoint. Configuration comes from environment variables; in development
a .env file is honored too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if transport != "stdio" && transport != "http" {
				return fmt.Errorf("invalid transport %q: must be stdio or http", transport)
			}
			return runServe(transport, mcpAddr, debugMode)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport: stdio or http")
	cmd.Flags().StringVar(&mcpAddr, "mcp-addr", ":8081", "Listen address for the MCP streamable HTTP transport")

	return cmd
}

func runServe(transport, mcpAddr string, debugMode bool) error {
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(debugMode)
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	encryptor, err := credstore.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	if !encryptor.Enabled() {
		logger.Warn("credential encryption disabled, tokens stored in plaintext")
	}

	store := credstore.NewStore(db, encryptor, logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	flow := oauthflow.NewManager(store, oauthflow.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
	}, logger).WithMetrics(collector)

	strategies := []resolver.Strategy{
		resolver.NewOAuthStrategy(store, flow, logger),
		resolver.NewServiceAccountStrategy(store, logger),
	}
	if cfg.HasFallbackCredential() {
		fallback, err := resolver.NewFallbackStrategy(cfg.FallbackServiceAccountFile)
		if err != nil {
			return fmt.Errorf("failed to load fallback service account: %w", err)
		}
		strategies = append(strategies, fallback)
	}
	creds := resolver.New(logger, strategies...)

	clientProvider := scheduling.ClientProviderFunc(func(ctx context.Context, tenantID string) (scheduling.CalendarAPI, error) {
		cred, err := creds.Resolve(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		collector.RecordCredentialResolution(string(cred.Source))
		return calendar.NewClient(ctx, cred)
	})

	engine := scheduling.NewEngine(store, clientProvider, logger)
	adapter := tools.NewAdapter(engine, collector, logger)

	mcpSrv := mcpserver.NewMCPServer("frontdesk-ai", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	adapter.RegisterSchedulingTools(mcpSrv)

	dashboard := server.New(store, flow, cfg.DashboardAPIToken, cfg.HasFallbackCredential(), logger)
	dashboardSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           dashboard.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Info("dashboard API listening", "addr", cfg.HTTPAddr)
		if err := dashboardSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("dashboard server failed: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()

	var streamable *mcpserver.StreamableHTTPServer
	switch transport {
	case "stdio":
		go func() {
			logger.Info("MCP server listening on stdio")
			if err := mcpserver.ServeStdio(mcpSrv); err != nil {
				errCh <- fmt.Errorf("stdio server failed: %w", err)
			}
		}()
	case "http":
		streamable = mcpserver.NewStreamableHTTPServer(mcpSrv)
		go func() {
			logger.Info("MCP server listening", "addr", mcpAddr)
			if err := streamable.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("MCP http server failed: %w", err)
			}
		}()
	}

	go cleanupStateTokens(shutdownCtx, store, logger)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		cancel()
		logger.Error("server failed", logging.Err(err))
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := dashboardSrv.Shutdown(stopCtx); err != nil {
		logger.Error("dashboard shutdown failed", logging.Err(err))
	}
	if err := metricsSrv.Shutdown(stopCtx); err != nil {
		logger.Error("metrics shutdown failed", logging.Err(err))
	}
	if streamable != nil {
		if err := streamable.Shutdown(stopCtx); err != nil {
			logger.Error("MCP server shutdown failed", logging.Err(err))
		}
	}

	return nil
}

// cleanupStateTokens periodically prunes expired OAuth state tokens so
// abandoned authorization attempts don't accumulate forever.
func cleanupStateTokens(ctx context.Context, store *credstore.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CleanupExpiredStateTokens(ctx); err != nil {
				logger.Warn("state token cleanup failed", logging.Err(err))
			}
		}
	}
}
