package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenlight-sh/greenlight/pkg/api"
	"github.com/greenlight-sh/greenlight/pkg/approval"
	"github.com/greenlight-sh/greenlight/pkg/config"
	"github.com/greenlight-sh/greenlight/pkg/events"
	"github.com/greenlight-sh/greenlight/pkg/log"
	"github.com/greenlight-sh/greenlight/pkg/metrics"
	"github.com/greenlight-sh/greenlight/pkg/orchestrator"
	"github.com/greenlight-sh/greenlight/pkg/platform"
	"github.com/greenlight-sh/greenlight/pkg/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the greenlight server",
	Long: `Run the greenlight control plane: the REST API, the approval gate,
and the orchestrator that drives releases against the cluster.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("config", "", "Config file (default: search ~/.config/greenlight)")
	serverCmd.Flags().String("listen", "", "API listen address (overrides config)")
	serverCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Server.DataDir = dataDir
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: !cfg.Logging.Pretty,
	})
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "bolt store open")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	driver := &platform.ExecDriver{
		Binary:     cfg.Platform.Kubectl,
		Kubeconfig: cfg.Platform.Kubeconfig,
		Timeout:    cfg.Platform.CommandTimeout,
	}

	approvals := approval.NewManager(store, broker)
	orch := orchestrator.New(store, driver, approvals, broker, cfg.RolloutDefaults())
	orch.Start()
	defer orch.Stop()
	metrics.RegisterComponent("orchestrator", true, "pickup loop running")

	apiServer := api.NewServer(store, orch, approvals)
	errCh := make(chan error, 1)
	go func() {
		metrics.RegisterComponent("api", true, "listening on "+cfg.Server.ListenAddr)
		if err := apiServer.Start(cfg.Server.ListenAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	log.WithComponent("server").Info().
		Str("version", Version).
		Str("listen", cfg.Server.ListenAddr).
		Str("data_dir", cfg.Server.DataDir).
		Msg("greenlight server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("server").Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.WithComponent("server").Error().Err(err).Msg("API shutdown failed")
	}
	return nil
}
