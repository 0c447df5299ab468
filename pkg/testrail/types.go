// Package testrail wraps the TestRail REST API v2 surface this
// pipeline needs: case listing and create-or-update, run creation,
// result submission, and artifact attachment.
package testrail

// TestRail result status IDs.
const (
	StatusIDPassed = 1
	StatusIDFailed = 5
)

// TestRail case priority IDs.
const (
	PriorityLow      = 2
	PriorityMedium   = 3
	PriorityCritical = 5
)

// Case is a test case as known to TestRail. AutomationID is the
// custom field that links a case to a local automation key.
type Case struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	SectionID    int    `json:"section_id"`
	AutomationID string `json:"custom_automation_id"`
	Steps        string `json:"custom_steps"`
	PriorityID   int    `json:"priority_id"`
}

// CaseFields is the payload for creating or updating a case.
// SectionID is honored by update_case on TestRail 6.5.2+ and moves
// the case; add_case takes the section from the URL.
type CaseFields struct {
	Title        string `json:"title"`
	SectionID    int    `json:"section_id,omitempty"`
	AutomationID string `json:"custom_automation_id"`
	Steps        string `json:"custom_steps,omitempty"`
	PriorityID   int    `json:"priority_id,omitempty"`
}

// Section is a case container within a suite.
type Section struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	SuiteID int    `json:"suite_id"`
}

// Run is a test run entity.
type Run struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RunFields is the payload for creating a run.
type RunFields struct {
	SuiteID     int    `json:"suite_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IncludeAll  bool   `json:"include_all"`
	CaseIDs     []int  `json:"case_ids,omitempty"`
}

// ResultFields is the payload for submitting one result.
type ResultFields struct {
	StatusID int    `json:"status_id"`
	Elapsed  string `json:"elapsed,omitempty"`
	Comment  string `json:"comment,omitempty"`
}
