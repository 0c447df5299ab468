package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qaops/railsync/pkg/artifact"
	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/history"
	"github.com/qaops/railsync/pkg/narrative"
	"github.com/qaops/railsync/pkg/notify"
	"github.com/qaops/railsync/pkg/pipeline"
	"github.com/qaops/railsync/pkg/testrail"
)

var resultsPath string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Parse results and sync them into TestRail",
	Long: `Parse the configured Karate JSON results, reconcile cases,
create a run, and submit per-test results. Optional collaborators
(history, narrative, Slack, artifact upload) run when configured.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVar(&resultsPath, "results", "",
		"results file path (overrides results.path from config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if resultsPath != "" {
		cfg.Results.Path = resultsPath
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Cancel the pass on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	client := testrail.NewClient(log, &cfg.TestRail)

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("testrail unreachable: %w", err)
	}

	opts, cleanup, err := buildOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := pipeline.New(log, cfg, client, opts).Run(ctx)
	if err != nil && !errors.Is(err, pipeline.ErrGateFailed) {
		return err
	}

	log.WithField("parsed", report.Parsed).
		WithField("reconciled", report.Reconciled).
		WithField("submitted", report.Submitted).
		WithField("unsynced", len(report.Unsynced)).
		WithField("errors", len(report.Errors)).
		Info("Sync finished")

	for _, recordErr := range report.Errors {
		log.WithError(recordErr).Warn("Record not synced")
	}

	if err != nil {
		// Gate failure: the sync completed, the exit code reports it.
		return err
	}

	return nil
}

// buildOptions resolves the optional collaborators from config. The
// returned cleanup closes whatever was opened.
func buildOptions(
	ctx context.Context, cfg *config.Config,
) (pipeline.Options, func(), error) {
	opts := pipeline.Options{
		Narrator: narrative.NewGenerator(log, &cfg.Narrative),
	}
	cleanup := func() {}

	store, err := history.Open(ctx, log, &cfg.History)
	if err != nil {
		log.WithError(err).Warn("History store unavailable, flakiness disabled")
	}

	if store != nil {
		opts.Store = store
		cleanup = func() {
			if err := store.Close(context.Background()); err != nil {
				log.WithError(err).Warn("History store close failed")
			}
		}
	}

	if cfg.Notify.Slack.WebhookURL != "" {
		opts.Notifier = notify.NewSlackNotifier(log, &cfg.Notify.Slack)
	}

	if cfg.Artifact.S3.Enabled {
		uploader, err := artifact.NewS3Uploader(log, &cfg.Artifact.S3)
		if err != nil {
			cleanup()

			return opts, func() {}, fmt.Errorf("initializing s3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			log.WithError(err).Warn("S3 preflight failed, artifact upload disabled")
		} else {
			opts.Uploader = uploader
		}
	}

	return opts, cleanup, nil
}
