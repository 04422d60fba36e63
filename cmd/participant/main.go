// Command participant runs a 2PC participant process: an HTTP API
// backed by a participant.Engine, a durable prepared journal and a
// durable key-value store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apiparticipant "github.com/twopc/commit/api/participant"
	"github.com/twopc/commit/config"
	"github.com/twopc/commit/metrics"
	"github.com/twopc/commit/pkg/journal"
	"github.com/twopc/commit/repository/store"
	"github.com/twopc/commit/service/participant"
	"github.com/twopc/commit/transport"
)

func main() {
	var configPath, id, listenAddr, advertiseAddr, dataDir, coordinatorEndpoint, logLevel string

	cmd := &cobra.Command{
		Use:   "participant",
		Short: "Run a two-phase commit participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, id, listenAddr, advertiseAddr, dataDir, coordinatorEndpoint, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&id, "id", "", "override participant id")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override listen_addr")
	cmd.Flags().StringVar(&advertiseAddr, "advertise", "", "override advertise_addr (how the coordinator reaches this process)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override data_dir")
	cmd.Flags().StringVar(&coordinatorEndpoint, "coordinator", "", "override coordinator_endpoint")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log_level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, id, listenAddr, advertiseAddr, dataDir, coordinatorEndpoint, logLevel string) error {
	cfg, err := config.LoadParticipantFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if id != "" {
		cfg.ID = id
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if advertiseAddr != "" {
		cfg.AdvertiseAddr = advertiseAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if coordinatorEndpoint != "" {
		cfg.CoordinatorEndpoint = coordinatorEndpoint
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

	st, err := store.Open(filepath.Join(cfg.DataDir, "store.log"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	preparedLog, err := journal.Open[participant.Record](filepath.Join(cfg.DataDir, "prepared.log"))
	if err != nil {
		return fmt.Errorf("opening prepared journal: %w", err)
	}
	defer preparedLog.Close()

	client := transport.New()
	engine := participant.New(st, preparedLog, participant.Config{
		PrepareTimeout:      cfg.PrepareTimeout(),
		CoordinatorEndpoint: cfg.CoordinatorEndpoint,
	}, client, logger)

	logger.Info("recovering prepared journal")
	if err := engine.Recover(); err != nil {
		return fmt.Errorf("recovering: %w", err)
	}

	promReg := metrics.Registry()
	router := apiparticipant.NewRouter(engine, promReg)

	if cfg.CoordinatorEndpoint != "" && cfg.ID != "" {
		go registerWithCoordinator(logger, client, cfg)
	}

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

// registerWithCoordinator announces this participant's advertise
// address to the coordinator, retrying with capped backoff since the
// coordinator may still be starting up.
func registerWithCoordinator(logger *zap.Logger, client *transport.Client, cfg config.Participant) {
	self := cfg.AdvertiseAddr
	if self == "" {
		self = "http://localhost" + cfg.ListenAddr
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Register(ctx, cfg.CoordinatorEndpoint, cfg.ID, self)
	}, policy)
	if err != nil {
		logger.Error("failed to register with coordinator", zap.Error(err))
		return
	}
	logger.Info("registered with coordinator", zap.String("self", self))
}
