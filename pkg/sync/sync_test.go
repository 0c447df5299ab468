package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/testrail"
)

// fakeAPI is an in-memory remote. Error hooks fail specific calls.
type fakeAPI struct {
	mu gosync.Mutex

	sections []testrail.Section
	cases    []testrail.Case
	nextID   int

	listCasesCalls int
	runs           []testrail.RunFields
	results        map[int][]testrail.ResultFields
	attachments    []string
	closedRuns     []int

	addCaseErr    func(fields testrail.CaseFields) error
	updateCaseErr func(caseID int, attempt int) error
	addResultErr  func(caseID int, attempt int) error

	updateAttempts int

	resultAttempts map[int]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		sections:       []testrail.Section{{ID: 10, Name: "API Tests"}},
		nextID:         100,
		results:        make(map[int][]testrail.ResultFields),
		resultAttempts: make(map[int]int),
	}
}

func (f *fakeAPI) ListSections(context.Context) ([]testrail.Section, error) {
	return f.sections, nil
}

func (f *fakeAPI) ListCases(context.Context) ([]testrail.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCasesCalls++

	return append([]testrail.Case(nil), f.cases...), nil
}

func (f *fakeAPI) AddCase(
	_ context.Context, sectionID int, fields testrail.CaseFields,
) (*testrail.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.addCaseErr != nil {
		if err := f.addCaseErr(fields); err != nil {
			return nil, err
		}
	}

	f.nextID++
	created := testrail.Case{
		ID:           f.nextID,
		Title:        fields.Title,
		SectionID:    sectionID,
		AutomationID: fields.AutomationID,
		Steps:        fields.Steps,
		PriorityID:   fields.PriorityID,
	}
	f.cases = append(f.cases, created)

	return &created, nil
}

func (f *fakeAPI) UpdateCase(
	_ context.Context, caseID int, fields testrail.CaseFields,
) (*testrail.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateAttempts++

	if f.updateCaseErr != nil {
		if err := f.updateCaseErr(caseID, f.updateAttempts); err != nil {
			return nil, err
		}
	}

	for i := range f.cases {
		if f.cases[i].ID == caseID {
			f.cases[i].Title = fields.Title
			f.cases[i].Steps = fields.Steps
			f.cases[i].PriorityID = fields.PriorityID

			if fields.SectionID != 0 {
				f.cases[i].SectionID = fields.SectionID
			}

			return &f.cases[i], nil
		}
	}

	return nil, fmt.Errorf("case %d not found", caseID)
}

func (f *fakeAPI) AddRun(_ context.Context, fields testrail.RunFields) (*testrail.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, fields)

	return &testrail.Run{ID: 500, Name: fields.Name}, nil
}

func (f *fakeAPI) AddResult(
	_ context.Context, runID, caseID int, fields testrail.ResultFields,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resultAttempts[caseID]++

	if f.addResultErr != nil {
		if err := f.addResultErr(caseID, f.resultAttempts[caseID]); err != nil {
			return err
		}
	}

	f.results[runID] = append(f.results[runID], fields)

	return nil
}

func (f *fakeAPI) AddAttachment(_ context.Context, _ int, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attachments = append(f.attachments, path)

	return nil
}

func (f *fakeAPI) CloseRun(_ context.Context, runID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closedRuns = append(f.closedRuns, runID)

	return nil
}

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func testRecord(feature, scenario string, status schema.Status) schema.ResultRecord {
	return schema.ResultRecord{
		FeatureName:  feature,
		ScenarioName: scenario,
		Status:       status,
		DurationMS:   1250,
		Steps: []schema.StepRecord{
			{Keyword: "Given ", Text: "path 'users'", Status: schema.StatusPassed},
			{Keyword: "When ", Text: "method get", Status: status},
		},
	}
}

func testTestRailConfig() *config.TestRailConfig {
	return &config.TestRailConfig{
		ProjectID:   1,
		SuiteID:     2,
		Concurrency: 4,
		Retries:     3,
	}
}

func TestReconcile_CreatesMissingCases(t *testing.T) {
	api := newFakeAPI()
	r := NewReconciler(testLog(), api, testTestRailConfig())

	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
		testRecord("Users API", "Delete user", schema.StatusFailed),
	}

	outcome, err := r.Reconcile(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Created)
	assert.Equal(t, 0, outcome.Updated)
	assert.Empty(t, outcome.Errors)
	assert.Len(t, outcome.CaseIDs, 2)
	assert.Len(t, api.cases, 2)

	// The remote directory is listed once per pass.
	assert.Equal(t, 1, api.listCasesCalls)
}

func TestReconcile_MatchesExistingCases(t *testing.T) {
	api := newFakeAPI()
	api.cases = []testrail.Case{
		{
			ID:           700,
			Title:        "Get user",
			SectionID:    10,
			AutomationID: "users api::get user",
			Steps:        "1. Given path 'users'\n2. When method get",
			PriorityID:   testrail.PriorityMedium,
		},
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	outcome, err := r.Reconcile(context.Background(), []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Created)
	assert.Equal(t, 0, outcome.Updated)
	assert.Equal(t, 700, outcome.CaseIDs[schema.DeriveKey("Users API", "Get user", nil)])
}

func TestReconcile_UpdatesDriftedCases(t *testing.T) {
	api := newFakeAPI()
	api.cases = []testrail.Case{
		{
			ID:           700,
			Title:        "Old title",
			AutomationID: "users api::get user",
			PriorityID:   testrail.PriorityLow,
		},
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	outcome, err := r.Reconcile(context.Background(), []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Updated)
	assert.Equal(t, "Get user", api.cases[0].Title)
	assert.Equal(t, testrail.PriorityMedium, api.cases[0].PriorityID)
}

func TestReconcile_UpdatesStaleSteps(t *testing.T) {
	api := newFakeAPI()
	api.cases = []testrail.Case{
		{
			ID:           700,
			Title:        "Get user",
			SectionID:    10,
			AutomationID: "users api::get user",
			Steps:        "1. Given path 'users'",
			PriorityID:   testrail.PriorityMedium,
		},
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	outcome, err := r.Reconcile(context.Background(), []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Updated)
	assert.Equal(t, "1. Given path 'users'\n2. When method get", api.cases[0].Steps)
}

func TestReconcile_RetriesTransientCaseUpdate(t *testing.T) {
	api := newFakeAPI()
	api.cases = []testrail.Case{
		{
			ID:           700,
			Title:        "Old title",
			SectionID:    10,
			AutomationID: "users api::get user",
			PriorityID:   testrail.PriorityMedium,
		},
	}
	api.updateCaseErr = func(_ int, attempt int) error {
		if attempt < 3 {
			return &testrail.APIError{StatusCode: 503, Body: "busy"}
		}

		return nil
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	outcome, err := r.Reconcile(context.Background(), []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	})
	require.NoError(t, err)

	assert.Empty(t, outcome.Errors)
	assert.Equal(t, 1, outcome.Updated)
	assert.Equal(t, 3, api.updateAttempts)
	assert.Equal(t, "Get user", api.cases[0].Title)
}

func TestReconcile_DeduplicatesKeys(t *testing.T) {
	api := newFakeAPI()
	r := NewReconciler(testLog(), api, testTestRailConfig())

	// Same scenario twice, as after a retry merge.
	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
		testRecord("Users API", "Get user", schema.StatusFailed),
	}

	outcome, err := r.Reconcile(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Created)
	assert.Len(t, api.cases, 1)
}

func TestReconcile_PartialFailureIsolated(t *testing.T) {
	api := newFakeAPI()
	api.addCaseErr = func(fields testrail.CaseFields) error {
		if fields.Title == "Delete user" {
			return &testrail.APIError{StatusCode: 400, Body: "bad field"}
		}

		return nil
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
		testRecord("Users API", "Delete user", schema.StatusPassed),
	}

	outcome, err := r.Reconcile(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Created)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0].Error(), "delete user")
	assert.Len(t, outcome.CaseIDs, 1)
}

func TestReconcile_RetriesTransientCaseCreation(t *testing.T) {
	api := newFakeAPI()

	attempts := 0
	api.addCaseErr = func(testrail.CaseFields) error {
		attempts++
		if attempts < 3 {
			return &testrail.APIError{StatusCode: 503, Body: "busy"}
		}

		return nil
	}

	r := NewReconciler(testLog(), api, testTestRailConfig())

	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	}

	outcome, err := r.Reconcile(context.Background(), records)
	require.NoError(t, err)

	assert.Empty(t, outcome.Errors)
	assert.Equal(t, 1, outcome.Created)
	assert.Equal(t, 3, attempts)
}

func TestReconcile_SectionByName(t *testing.T) {
	api := newFakeAPI()
	api.sections = []testrail.Section{
		{ID: 10, Name: "API Tests"},
		{ID: 11, Name: "Regression"},
	}

	cfg := testTestRailConfig()
	cfg.SectionName = "regression"

	r := NewReconciler(testLog(), api, cfg)

	_, err := r.Reconcile(context.Background(), []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
	})
	require.NoError(t, err)
	assert.Equal(t, 11, api.cases[0].SectionID)

	cfg.SectionName = "missing"
	_, err = r.Reconcile(context.Background(), nil)
	assert.Error(t, err)
}

func TestInferPriority(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		tags     []string
		want     int
	}{
		{"default is medium", "Get user", nil, testrail.PriorityMedium},
		{"critical tag", "Get user", []string{"critical"}, testrail.PriorityCritical},
		{"smoke tag", "Get user", []string{"smoke"}, testrail.PriorityCritical},
		{"critical in name", "Critical login path", nil, testrail.PriorityCritical},
		{"negative in name", "Negative: bad payload", nil, testrail.PriorityLow},
		{"error in name", "Returns error on 404", nil, testrail.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := testRecord("Users API", tt.scenario, schema.StatusPassed)
			record.Tags = tt.tags

			assert.Equal(t, tt.want, inferPriority(record))
		})
	}
}

func TestRenderSteps(t *testing.T) {
	record := testRecord("Users API", "Get user", schema.StatusPassed)

	assert.Equal(t, "1. Given path 'users'\n2. When method get", renderSteps(record))
	assert.Empty(t, renderSteps(schema.ResultRecord{}))
}

func TestSubmit_CreatesRunAndResults(t *testing.T) {
	api := newFakeAPI()
	build := &config.BuildConfig{
		Number:    "42",
		Branch:    "main",
		CommitSHA: "abc123",
	}

	s := NewSubmitter(testLog(), api, testTestRailConfig(), build)

	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
		testRecord("Users API", "Delete user", schema.StatusFailed),
	}
	records[1].ErrorMessage = "status code was: 500"

	caseIDs := map[schema.AutomationKey]int{
		records[0].Key(): 101,
		records[1].Key(): 102,
	}

	outcome, err := s.Submit(context.Background(), records, caseIDs)
	require.NoError(t, err)

	assert.Equal(t, 500, outcome.RunID)
	assert.Equal(t, "Build #42 - main", outcome.RunName)
	assert.Equal(t, 2, outcome.Submitted)
	assert.Empty(t, outcome.Unsynced)
	assert.Empty(t, outcome.Errors)

	require.Len(t, api.runs, 1)
	run := api.runs[0]
	assert.Equal(t, 2, run.SuiteID)
	assert.False(t, run.IncludeAll)
	assert.Equal(t, []int{101, 102}, run.CaseIDs)
	assert.Contains(t, run.Description, "Commit: abc123")

	results := api.results[500]
	require.Len(t, results, 2)

	byStatus := map[int]testrail.ResultFields{}
	for _, res := range results {
		byStatus[res.StatusID] = res
	}

	assert.Equal(t, "Test passed", byStatus[testrail.StatusIDPassed].Comment)
	assert.Equal(t, "1.25s", byStatus[testrail.StatusIDPassed].Elapsed)
	assert.Equal(t, "status code was: 500", byStatus[testrail.StatusIDFailed].Comment)
}

func TestSubmit_SkipsUnmappedRecords(t *testing.T) {
	api := newFakeAPI()
	s := NewSubmitter(testLog(), api, testTestRailConfig(), &config.BuildConfig{})

	records := []schema.ResultRecord{
		testRecord("Users API", "Get user", schema.StatusPassed),
		testRecord("Users API", "Unknown", schema.StatusPassed),
	}

	caseIDs := map[schema.AutomationKey]int{records[0].Key(): 101}

	outcome, err := s.Submit(context.Background(), records, caseIDs)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Submitted)
	require.Len(t, outcome.Unsynced, 1)
	assert.Equal(t, records[1].Key(), outcome.Unsynced[0])
}

func TestSubmit_RetriesTransientFailures(t *testing.T) {
	api := newFakeAPI()
	api.addResultErr = func(caseID, attempt int) error {
		if attempt < 3 {
			return &testrail.APIError{StatusCode: 503, Body: "overloaded"}
		}

		return nil
	}

	s := NewSubmitter(testLog(), api, testTestRailConfig(), &config.BuildConfig{})

	record := testRecord("Users API", "Get user", schema.StatusPassed)
	caseIDs := map[schema.AutomationKey]int{record.Key(): 101}

	outcome, err := s.Submit(context.Background(), []schema.ResultRecord{record}, caseIDs)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Submitted)
	assert.Empty(t, outcome.Errors)
	assert.Equal(t, 3, api.resultAttempts[101])
}

func TestSubmit_PermanentFailureNotRetried(t *testing.T) {
	api := newFakeAPI()
	api.addResultErr = func(caseID, attempt int) error {
		return &testrail.APIError{StatusCode: 400, Body: "bad result"}
	}

	s := NewSubmitter(testLog(), api, testTestRailConfig(), &config.BuildConfig{})

	record := testRecord("Users API", "Get user", schema.StatusPassed)
	caseIDs := map[schema.AutomationKey]int{record.Key(): 101}

	outcome, err := s.Submit(context.Background(), []schema.ResultRecord{record}, caseIDs)
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Submitted)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 1, api.resultAttempts[101])
}

func TestSubmit_DefaultRunName(t *testing.T) {
	api := newFakeAPI()
	s := NewSubmitter(testLog(), api, testTestRailConfig(), &config.BuildConfig{})

	outcome, err := s.Submit(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Build #local - unknown", outcome.RunName)
}

func TestSubmit_ClosesRunWhenConfigured(t *testing.T) {
	api := newFakeAPI()
	cfg := testTestRailConfig()
	cfg.CloseRun = true

	s := NewSubmitter(testLog(), api, cfg, &config.BuildConfig{})

	record := testRecord("Users API", "Get user", schema.StatusPassed)
	caseIDs := map[schema.AutomationKey]int{record.Key(): 101}

	outcome, err := s.Submit(context.Background(), []schema.ResultRecord{record}, caseIDs)
	require.NoError(t, err)

	assert.Empty(t, outcome.Errors)
	assert.Equal(t, []int{500}, api.closedRuns)
}

func TestAttachArtifact(t *testing.T) {
	api := newFakeAPI()
	s := NewSubmitter(testLog(), api, testTestRailConfig(), &config.BuildConfig{})

	require.NoError(t, s.AttachArtifact(context.Background(), 500, "karate.json"))
	assert.Equal(t, []string{"karate.json"}, api.attachments)
}
