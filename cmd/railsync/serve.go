package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qaops/railsync/pkg/api"
	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/history"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	Long:  `Serve recent runs, KPIs, and flaky test listings from the history store.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cfg.HistoryEnabled() {
		return fmt.Errorf("history.driver is required for the dashboard API")
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	store, err := history.Open(ctx, log, &cfg.History)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}

	srv := api.NewServer(log, &cfg.API, &cfg.History.Window, store)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	if err := store.Close(context.Background()); err != nil {
		log.WithError(err).Warn("History store close failed")
	}

	return nil
}
