package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/testrail"
)

// SubmitOutcome reports what reached the remote run. Unsynced lists
// keys that had no reconciled case; their results were skipped, not
// failed.
type SubmitOutcome struct {
	RunID     int
	RunName   string
	Submitted int
	Unsynced  []schema.AutomationKey
	Errors    []error
}

// Submitter creates the remote run and pushes per-record results into
// it, retrying transient failures with exponential backoff.
type Submitter struct {
	log   logrus.FieldLogger
	api   API
	cfg   *config.TestRailConfig
	build *config.BuildConfig
}

func NewSubmitter(
	log logrus.FieldLogger, api API, cfg *config.TestRailConfig, build *config.BuildConfig,
) *Submitter {
	return &Submitter{
		log:   log.WithField("component", "submitter"),
		api:   api,
		cfg:   cfg,
		build: build,
	}
}

// Submit creates one run covering the reconciled cases and adds a
// result per record. Run creation failure is fatal; individual result
// failures are collected and the rest of the batch proceeds.
func (s *Submitter) Submit(
	ctx context.Context,
	records []schema.ResultRecord,
	caseIDs map[schema.AutomationKey]int,
) (*SubmitOutcome, error) {
	run, err := s.api.AddRun(ctx, s.runFields(caseIDs))
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	outcome := &SubmitOutcome{
		RunID:   run.ID,
		RunName: run.Name,
	}

	s.log.WithField("run_id", run.ID).WithField("name", run.Name).Info("Created run")

	var mu gosync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, record := range records {
		key := record.Key()

		caseID, ok := caseIDs[key]
		if !ok {
			outcome.Unsynced = append(outcome.Unsynced, key)

			continue
		}

		g.Go(func() error {
			err := s.addResult(gctx, run.ID, caseID, resultFields(record))

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				outcome.Errors = append(outcome.Errors, fmt.Errorf("submitting %s: %w", key, err))

				return nil
			}

			outcome.Submitted++

			return nil
		})
	}

	// Workers never return errors; per-result failures land in the outcome.
	_ = g.Wait()

	if s.cfg.CloseRun {
		if err := s.api.CloseRun(ctx, run.ID); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Errorf("closing run %d: %w", run.ID, err))
		}
	}

	s.log.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"submitted": outcome.Submitted,
		"unsynced":  len(outcome.Unsynced),
		"failed":    len(outcome.Errors),
	}).Info("Submission complete")

	return outcome, nil
}

// AttachArtifact uploads the raw results file to the run. Attachment
// failure is reported but never fails the pass.
func (s *Submitter) AttachArtifact(ctx context.Context, runID int, path string) error {
	if err := s.api.AddAttachment(ctx, runID, path); err != nil {
		return fmt.Errorf("attaching artifact: %w", err)
	}

	s.log.WithField("run_id", runID).WithField("path", path).Debug("Attached artifact")

	return nil
}

func (s *Submitter) addResult(
	ctx context.Context, runID, caseID int, fields testrail.ResultFields,
) error {
	return retryTransient(ctx, s.cfg.Retries, func() error {
		return s.api.AddResult(ctx, runID, caseID, fields)
	})
}

func (s *Submitter) runFields(caseIDs map[schema.AutomationKey]int) testrail.RunFields {
	ids := make([]int, 0, len(caseIDs))
	for _, id := range caseIDs {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	number := s.build.Number
	if number == "" {
		number = "local"
	}

	branch := s.build.Branch
	if branch == "" {
		branch = "unknown"
	}

	return testrail.RunFields{
		SuiteID:     s.cfg.SuiteID,
		Name:        fmt.Sprintf("Build #%s - %s", number, branch),
		Description: s.runDescription(number, branch),
		IncludeAll:  false,
		CaseIDs:     ids,
	}
}

func (s *Submitter) runDescription(number, branch string) string {
	description := fmt.Sprintf("Build: #%s\nBranch: %s", number, branch)

	if s.build.CommitSHA != "" {
		description += "\nCommit: " + s.build.CommitSHA
	}

	if s.build.CommitMessage != "" {
		description += "\nMessage: " + s.build.CommitMessage
	}

	environment := s.build.Environment
	if environment == "" {
		environment = "dev"
	}

	return description + "\nEnvironment: " + environment
}

func resultFields(record schema.ResultRecord) testrail.ResultFields {
	statusID := testrail.StatusIDPassed
	comment := "Test passed"

	if record.Failed() {
		statusID = testrail.StatusIDFailed
		comment = record.ErrorMessage
	}

	return testrail.ResultFields{
		StatusID: statusID,
		Elapsed:  fmt.Sprintf("%.2fs", record.DurationMS/1000),
		Comment:  comment,
	}
}
