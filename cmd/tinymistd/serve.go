package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/tinymistd/pkg/api"
	"github.com/cuemby/tinymistd/pkg/config"
	"github.com/cuemby/tinymistd/pkg/events"
	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/manager"
	"github.com/cuemby/tinymistd/pkg/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Run the tinymistd daemon with its admin HTTP API.

Editors report opened and closed documents to the API; tinymistd installs
the binary, keeps the language server running and starts preview servers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("api-addr", "", "Address for the admin HTTP API (default from config)")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "How long to wait for child processes on exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api-addr") {
		cfg.API.Addr, _ = cmd.Flags().GetString("api-addr")
	}
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	configPath, _ := cmd.Flags().GetString("config")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	store := config.NewStore(configPath, cfg, broker)
	mgr, err := manager.New(store, broker, manager.WithOnReady(func(h service.Handle) {
		if h == nil {
			log.Warn("Language server did not become ready in time")
			return
		}
		logger := log.WithServiceKey(h.Key())
		logger.Info().Int("pid", h.PID()).Msg("Language server ready")
	}))
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}
	fmt.Println("✓ Manager started")

	apiServer := api.NewServer(mgr)
	addr, err := apiServer.Start(cfg.API.Addr)
	if err != nil {
		_ = mgr.Shutdown(context.Background())
		return fmt.Errorf("failed to start API server: %w", err)
	}
	fmt.Printf("✓ Admin API listening on %s\n", addr)

	fmt.Println()
	fmt.Println("tinymistd is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown failed", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// logEvents mirrors the event stream into the log at debug level
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		entry := logger.Debug().Str("type", string(ev.Type))
		for k, v := range ev.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(ev.Message)
	}
}
