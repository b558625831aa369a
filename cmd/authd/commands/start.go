package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpost-games/authd/internal/logger"
	"github.com/outpost-games/authd/internal/protocol/auth"
	"github.com/outpost-games/authd/internal/session"
	"github.com/outpost-games/authd/pkg/api"
	"github.com/outpost-games/authd/pkg/config"
	"github.com/outpost-games/authd/pkg/credstore"
	"github.com/outpost-games/authd/pkg/metrics"
	promm "github.com/outpost-games/authd/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the authentication daemon",
	Long: `Start the authd UDP listener with the specified configuration.

Use --config to specify a custom configuration file, or it will use
the default location at $XDG_CONFIG_HOME/authd/config.yaml.

Examples:
  # Start with default config location
  authd start

  # Start with custom config file
  authd start --config /etc/authd/config.yaml

  # Use environment variables to override config
  AUTHD_LOGGING_LEVEL=DEBUG authd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics FIRST so constructors see an enabled registry
	var authMetrics metrics.AuthMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		authMetrics = promm.NewAuthMetrics()
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	creds, err := credstore.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer func() { _ = creds.Close() }()
	logger.Info("Credential store connected", "type", cfg.Database.Type)

	sessions, err := newSessionStore(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = sessions.Close() }()
	logger.Info("Session store ready", "backend", cfg.Auth.SessionStore, "ttl", cfg.Auth.SessionTTL)

	handler := auth.NewHandler(creds, sessions, authMetrics)
	authSrv := auth.NewServer(auth.ServerConfig{
		Address:       cfg.Auth.Address,
		Port:          cfg.Auth.Port,
		Workers:       cfg.Auth.Workers,
		MaxPacketSize: cfg.Auth.MaxPacketSize,
	}, handler, sessions, authMetrics)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- authSrv.Serve(ctx)
	}()

	var apiSrv *api.Server
	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiSrv = api.NewServer(cfg.API, api.Probes{
			CheckCredentials: creds.Ping,
			SessionCount:     sessions.Count,
		})
		go func() {
			apiDone <- apiSrv.Start(ctx)
		}()
		logger.Info("Management server enabled", "port", apiSrv.Port())
	} else {
		logger.Info("Management server disabled")
	}

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := waitShutdown(serverDone, cfg.ShutdownTimeout); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		if apiSrv != nil {
			if err := waitShutdown(apiDone, cfg.ShutdownTimeout); err != nil {
				logger.Error("Management server shutdown error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")

	case err := <-apiDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Management server error", "error", err)
			return err
		}
	}

	return nil
}

// newSessionStore builds the configured session backend.
func newSessionStore(cfg *config.AuthConfig) (session.Store, error) {
	switch cfg.SessionStore {
	case "badger":
		return session.NewBadgerStore(cfg.BadgerPath, cfg.SessionTTL)
	default:
		return session.NewMemoryStore(cfg.SessionTTL), nil
	}
}

// waitShutdown waits for a server goroutine to drain, bounded by the
// configured shutdown timeout.
func waitShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// getConfigSource returns a description of where the config was
// loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
