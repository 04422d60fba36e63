// Command coordinator runs a 2PC coordinator process: an HTTP API
// backed by a coordinator.Engine and a durable decision log, wired up
// as a cobra command with flag-overridable TOML config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apicoordinator "github.com/twopc/commit/api/coordinator"
	"github.com/twopc/commit/config"
	"github.com/twopc/commit/metrics"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/service/coordinator"
	"github.com/twopc/commit/service/registry"
	"github.com/twopc/commit/transport"
)

func main() {
	var configPath, listenAddr, dataDir, logLevel string

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run a two-phase commit coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listenAddr, dataDir, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override listen_addr")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override data_dir")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log_level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr, dataDir, logLevel string) error {
	cfg, err := config.LoadCoordinatorFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	decisionLog, err := journal.Open[coordinator.Record](filepath.Join(cfg.DataDir, "decisions.log"))
	if err != nil {
		return fmt.Errorf("opening decision log: %w", err)
	}
	defer decisionLog.Close()

	reg := registry.New()
	client := transport.New()
	engine := coordinator.New(reg, client, decisionLog, coordinator.Config{
		DefaultTimeout: cfg.DefaultTimeout(),
		AbortRetries:   cfg.AbortRetries,
	}, logger)

	logger.Info("recovering decision log")
	if err := engine.Recover(); err != nil {
		return fmt.Errorf("recovering: %w", err)
	}

	promReg := metrics.Registry()
	router := apicoordinator.NewRouter(engine, reg, promReg)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server exited", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

func waitForShutdown(logger *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	logger.Info("shutting down")
}
