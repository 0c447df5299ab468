// Package sync reconciles parsed results against the remote test
// management system and submits run outcomes. All remote access goes
// through the API interface so the pipeline can be tested offline.
package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/testrail"
)

// API is the remote surface reconciliation and submission need.
type API interface {
	ListSections(ctx context.Context) ([]testrail.Section, error)
	ListCases(ctx context.Context) ([]testrail.Case, error)
	AddCase(ctx context.Context, sectionID int, fields testrail.CaseFields) (*testrail.Case, error)
	UpdateCase(ctx context.Context, caseID int, fields testrail.CaseFields) (*testrail.Case, error)
	AddRun(ctx context.Context, fields testrail.RunFields) (*testrail.Run, error)
	AddResult(ctx context.Context, runID, caseID int, fields testrail.ResultFields) error
	AddAttachment(ctx context.Context, runID int, path string) error
	CloseRun(ctx context.Context, runID int) error
}

// Compile-time interface check.
var _ API = (*testrail.Client)(nil)

// ReconcileOutcome maps automation keys to remote case IDs. Per-key
// failures are collected, not fatal; a key absent from CaseIDs was not
// reconciled this pass.
type ReconcileOutcome struct {
	CaseIDs map[schema.AutomationKey]int
	Created int
	Updated int
	Errors  []error
}

// Reconciler ensures every parsed result has a matching remote case.
type Reconciler struct {
	log logrus.FieldLogger
	api API
	cfg *config.TestRailConfig
}

func NewReconciler(log logrus.FieldLogger, api API, cfg *config.TestRailConfig) *Reconciler {
	return &Reconciler{
		log: log.WithField("component", "reconciler"),
		api: api,
		cfg: cfg,
	}
}

// Reconcile matches records to remote cases by automation key, creating
// missing cases and refreshing drifted ones. The remote directory is
// listed exactly once per pass; records sharing a key are deduplicated
// before any case is created.
func (r *Reconciler) Reconcile(
	ctx context.Context, records []schema.ResultRecord,
) (*ReconcileOutcome, error) {
	sectionID, err := r.resolveSection(ctx)
	if err != nil {
		return nil, err
	}

	cases, err := r.api.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}

	existing := make(map[schema.AutomationKey]testrail.Case, len(cases))
	for _, c := range cases {
		existing[schema.AutomationKey(c.AutomationID)] = c
	}

	// One record per key; the first occurrence carries the fields.
	seen := make(map[schema.AutomationKey]bool, len(records))
	unique := make([]schema.ResultRecord, 0, len(records))

	for _, record := range records {
		key := record.Key()
		if seen[key] {
			continue
		}

		seen[key] = true
		unique = append(unique, record)
	}

	outcome := &ReconcileOutcome{
		CaseIDs: make(map[schema.AutomationKey]int, len(unique)),
	}

	var mu gosync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, record := range unique {
		g.Go(func() error {
			key := record.Key()
			fields := buildCaseFields(record)
			fields.SectionID = sectionID

			caseID, created, updated, err := r.reconcileOne(
				gctx, sectionID, key, fields, existing,
			)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				outcome.Errors = append(outcome.Errors, fmt.Errorf("reconciling %s: %w", key, err))

				return nil
			}

			outcome.CaseIDs[key] = caseID

			if created {
				outcome.Created++
			}

			if updated {
				outcome.Updated++
			}

			return nil
		})
	}

	// Workers never return errors; per-key failures land in the outcome.
	_ = g.Wait()

	r.log.WithFields(logrus.Fields{
		"matched": len(outcome.CaseIDs),
		"created": outcome.Created,
		"updated": outcome.Updated,
		"failed":  len(outcome.Errors),
	}).Info("Reconciliation complete")

	return outcome, nil
}

func (r *Reconciler) reconcileOne(
	ctx context.Context,
	sectionID int,
	key schema.AutomationKey,
	fields testrail.CaseFields,
	existing map[schema.AutomationKey]testrail.Case,
) (caseID int, created, updated bool, err error) {
	current, ok := existing[key]
	if !ok {
		var added *testrail.Case

		err := retryTransient(ctx, r.cfg.Retries, func() error {
			var err error
			added, err = r.api.AddCase(ctx, sectionID, fields)

			return err
		})
		if err != nil {
			return 0, false, false, err
		}

		r.log.WithField("key", key).WithField("case_id", added.ID).Debug("Created case")

		return added.ID, true, false, nil
	}

	if current.Title == fields.Title &&
		current.SectionID == fields.SectionID &&
		current.PriorityID == fields.PriorityID &&
		current.Steps == fields.Steps {
		return current.ID, false, false, nil
	}

	err = retryTransient(ctx, r.cfg.Retries, func() error {
		_, err := r.api.UpdateCase(ctx, current.ID, fields)

		return err
	})
	if err != nil {
		return 0, false, false, err
	}

	r.log.WithField("key", key).WithField("case_id", current.ID).Debug("Updated case")

	return current.ID, false, true, nil
}

// resolveSection picks the destination section for created cases, by
// configured name or falling back to the first section of the suite.
func (r *Reconciler) resolveSection(ctx context.Context) (int, error) {
	sections, err := r.api.ListSections(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sections: %w", err)
	}

	if len(sections) == 0 {
		return 0, fmt.Errorf("suite %d has no sections", r.cfg.SuiteID)
	}

	if r.cfg.SectionName != "" {
		for _, section := range sections {
			if strings.EqualFold(section.Name, r.cfg.SectionName) {
				return section.ID, nil
			}
		}

		return 0, fmt.Errorf("section %q not found in suite %d", r.cfg.SectionName, r.cfg.SuiteID)
	}

	return sections[0].ID, nil
}

func buildCaseFields(record schema.ResultRecord) testrail.CaseFields {
	return testrail.CaseFields{
		Title:        record.ScenarioName,
		AutomationID: string(record.Key()),
		Steps:        renderSteps(record),
		PriorityID:   inferPriority(record),
	}
}

func renderSteps(record schema.ResultRecord) string {
	if len(record.Steps) == 0 {
		return ""
	}

	lines := make([]string, 0, len(record.Steps))
	for i, step := range record.Steps {
		lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, strings.TrimSpace(step.Keyword), step.Text))
	}

	return strings.Join(lines, "\n")
}

// inferPriority derives a remote priority from tags first, then from
// keywords in the scenario name.
func inferPriority(record schema.ResultRecord) int {
	for _, tag := range []string{"critical", "smoke", "main"} {
		if record.HasTag(tag) {
			return testrail.PriorityCritical
		}
	}

	name := strings.ToLower(record.ScenarioName)

	switch {
	case strings.Contains(name, "critical"),
		strings.Contains(name, "smoke"),
		strings.Contains(name, "main"):
		return testrail.PriorityCritical
	case strings.Contains(name, "error"),
		strings.Contains(name, "negative"):
		return testrail.PriorityLow
	default:
		return testrail.PriorityMedium
	}
}
