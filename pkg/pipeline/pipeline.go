// Package pipeline wires one full pass: parse results, reconcile cases,
// submit the run, then fan out to the optional collaborators. Optional
// collaborators are resolved once at construction; a nil collaborator
// skips its stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/history"
	"github.com/qaops/railsync/pkg/karate"
	"github.com/qaops/railsync/pkg/notify"
	"github.com/qaops/railsync/pkg/report"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/stats"
	"github.com/qaops/railsync/pkg/sync"
)

// ErrGateFailed marks a pass whose synchronization succeeded but whose
// pass rate fell below the configured gate.
var ErrGateFailed = errors.New("pass rate below configured gate")

// ReportFileName is written next to the results file after every pass.
const ReportFileName = "railsync-report.md"

// Narrator produces the run narrative.
type Narrator interface {
	Generate(
		ctx context.Context,
		summary schema.RunSummary,
		records []schema.ResultRecord,
		risk stats.RiskLevel,
	) string
}

// Notifier pushes the run outcome to chat.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Uploader pushes run artifacts to remote storage.
type Uploader interface {
	UploadRun(ctx context.Context, runLabel string, files []string) error
}

// Options carries the optional collaborators. Any nil field disables
// its stage.
type Options struct {
	Store    history.Store
	Narrator Narrator
	Notifier Notifier
	Uploader Uploader
}

// Pipeline executes one synchronization pass.
type Pipeline struct {
	log  logrus.FieldLogger
	cfg  *config.Config
	api  sync.API
	opts Options

	now func() time.Time
}

func New(log logrus.FieldLogger, cfg *config.Config, api sync.API, opts Options) *Pipeline {
	return &Pipeline{
		log:  log.WithField("component", "pipeline"),
		cfg:  cfg,
		api:  api,
		opts: opts,
		now:  time.Now,
	}
}

// Run executes the pass and returns its report. Only a parse failure or
// total remote unavailability is fatal; per-record failures are
// collected in the report and the pass continues. A gate violation is
// returned as ErrGateFailed after all stages have run.
func (p *Pipeline) Run(ctx context.Context) (*schema.Report, error) {
	records, err := karate.ParseFile(p.cfg.Results.Path)
	if err != nil {
		return nil, fmt.Errorf("parsing results: %w", err)
	}

	summary := stats.Aggregate(records)
	risk := stats.Classify(summary, records)

	p.log.WithFields(logrus.Fields{
		"records":   len(records),
		"pass_rate": summary.PassRate,
		"risk":      risk,
	}).Info("Parsed results")

	reconciler := sync.NewReconciler(p.log, p.api, &p.cfg.TestRail)

	reconciled, err := reconciler.Reconcile(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("reconciling cases: %w", err)
	}

	submitter := sync.NewSubmitter(p.log, p.api, &p.cfg.TestRail, &p.cfg.Build)

	submitted, err := submitter.Submit(ctx, records, reconciled.CaseIDs)
	if err != nil {
		return nil, fmt.Errorf("submitting results: %w", err)
	}

	if err := submitter.AttachArtifact(ctx, submitted.RunID, p.cfg.Results.Path); err != nil {
		p.log.WithError(err).Warn("Artifact attachment failed")
	}

	out := &schema.Report{
		Parsed:     len(records),
		Reconciled: len(reconciled.CaseIDs),
		Submitted:  submitted.Submitted,
		Unsynced:   submitted.Unsynced,
	}
	out.Errors = append(out.Errors, reconciled.Errors...)
	out.Errors = append(out.Errors, submitted.Errors...)

	p.appendHistory(ctx, summary, records, submitted.RunID)

	flakiness := p.flakiness(ctx, records)

	var narrativeText string
	if p.opts.Narrator != nil {
		narrativeText = p.opts.Narrator.Generate(ctx, summary, records, risk)
	}

	p.writeReport(summary, risk, records, flakiness, submitted, narrativeText)
	p.notifyRun(ctx, summary, risk, submitted, narrativeText)
	p.uploadArtifacts(ctx, submitted.RunID)

	if gate := p.cfg.Gate.MinPassRate; gate > 0 && summary.PassRate < gate {
		return out, fmt.Errorf("%w: %.1f%% < %.1f%%", ErrGateFailed, summary.PassRate, gate)
	}

	return out, nil
}

// appendHistory records the pass in the history store. Store failures
// degrade to a warning.
func (p *Pipeline) appendHistory(
	ctx context.Context,
	summary schema.RunSummary,
	records []schema.ResultRecord,
	runID int,
) {
	if p.opts.Store == nil {
		return
	}

	entry := &history.Entry{
		Branch:    p.cfg.Build.Branch,
		Timestamp: p.now().UTC(),
		CommitSHA: p.cfg.Build.CommitSHA,
		RunID:     runID,
		Summary:   summary,
		Records:   records,
	}

	if err := p.opts.Store.Append(ctx, entry); err != nil {
		p.log.WithError(err).Warn("History append failed")
	}
}

// flakiness computes per-key flakiness over the configured window. An
// unreachable store yields an empty map.
func (p *Pipeline) flakiness(
	ctx context.Context, records []schema.ResultRecord,
) map[schema.AutomationKey]float64 {
	if p.opts.Store == nil {
		return nil
	}

	window := history.Window{Limit: p.cfg.History.Window.Limit}
	if days := p.cfg.History.Window.Days; days > 0 {
		window.Since = p.now().UTC().AddDate(0, 0, -days)
	}

	entries, err := p.opts.Store.Query(ctx, history.Filter{Branch: p.cfg.Build.Branch}, window)
	if err != nil {
		p.log.WithError(err).Warn("History query failed, skipping flakiness")

		return nil
	}

	scores := make(map[schema.AutomationKey]float64)

	for _, record := range records {
		key := record.Key()
		if _, ok := scores[key]; ok {
			continue
		}

		scores[key] = stats.Flakiness(entries, key)
	}

	return scores
}

func (p *Pipeline) writeReport(
	summary schema.RunSummary,
	risk stats.RiskLevel,
	records []schema.ResultRecord,
	flakiness map[schema.AutomationKey]float64,
	submitted *sync.SubmitOutcome,
	narrativeText string,
) {
	data := &report.Data{
		RunID:       submitted.RunID,
		RunName:     submitted.RunName,
		RunURL:      p.runURL(submitted.RunID),
		Branch:      p.cfg.Build.Branch,
		CommitSHA:   p.cfg.Build.CommitSHA,
		Environment: p.cfg.Build.Environment,
		Summary:     summary,
		Risk:        risk,
		Records:     records,
		Flakiness:   flakiness,
		Narrative:   narrativeText,
	}

	path := p.reportPath()
	if err := report.WriteFile(path, data); err != nil {
		p.log.WithError(err).Warn("Report write failed")

		return
	}

	p.log.WithField("path", path).Info("Report written")
}

func (p *Pipeline) notifyRun(
	ctx context.Context,
	summary schema.RunSummary,
	risk stats.RiskLevel,
	submitted *sync.SubmitOutcome,
	narrativeText string,
) {
	if p.opts.Notifier == nil {
		return
	}

	msg := notify.Message{
		Summary:   summary,
		Risk:      risk,
		Branch:    p.cfg.Build.Branch,
		Actor:     p.cfg.Build.Actor,
		CommitSHA: p.cfg.Build.CommitSHA,
		RunID:     submitted.RunID,
		RunName:   submitted.RunName,
		Narrative: narrativeText,
	}

	if err := p.opts.Notifier.Notify(ctx, msg); err != nil {
		p.log.WithError(err).Warn("Notification failed")
	}
}

func (p *Pipeline) uploadArtifacts(ctx context.Context, runID int) {
	if p.opts.Uploader == nil {
		return
	}

	files := []string{p.cfg.Results.Path, p.reportPath()}
	label := fmt.Sprintf("run-%d", runID)

	if err := p.opts.Uploader.UploadRun(ctx, label, files); err != nil {
		p.log.WithError(err).Warn("Artifact upload failed")
	}
}

func (p *Pipeline) reportPath() string {
	return filepath.Join(filepath.Dir(p.cfg.Results.Path), ReportFileName)
}

func (p *Pipeline) runURL(runID int) string {
	if p.cfg.TestRail.URL == "" || runID == 0 {
		return ""
	}

	base := strings.TrimRight(p.cfg.TestRail.URL, "/")

	return fmt.Sprintf("%s/index.php?/runs/view/%d", base, runID)
}
