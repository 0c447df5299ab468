// Package schema defines the canonical in-memory model for executed
// scenarios and the derived identifiers used to reconcile them against
// the remote test-management inventory.
package schema

// Status is the outcome of one executed scenario. Any non-pass outcome
// is folded into StatusFailed; there is no skipped or pending state.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// StepRecord is a single executed step within a scenario. Steps are
// carried for display and description generation only; no control
// decision is made from them.
type StepRecord struct {
	Keyword    string  `json:"keyword" bson:"keyword"`
	Text       string  `json:"text" bson:"text"`
	Status     Status  `json:"status" bson:"status"`
	DurationMS float64 `json:"duration_ms" bson:"duration_ms"`
}

// ResultRecord is the canonical representation of one executed scenario,
// or of one expanded example row of a parametrized scenario.
type ResultRecord struct {
	FeatureName  string `json:"feature_name" bson:"feature_name"`
	ScenarioName string `json:"scenario_name" bson:"scenario_name"`

	// ExampleIndex is the 0-based ordinal of the data row when the
	// scenario is parametrized, nil otherwise.
	ExampleIndex *int `json:"example_index,omitempty" bson:"example_index,omitempty"`

	// Tags is a set: deduplicated, order not significant.
	Tags []string `json:"tags,omitempty" bson:"tags,omitempty"`

	Status     Status  `json:"status" bson:"status"`
	DurationMS float64 `json:"duration_ms" bson:"duration_ms"`

	// ErrorMessage is set only when Status is StatusFailed.
	ErrorMessage string `json:"error_message,omitempty" bson:"error_message,omitempty"`

	Steps []StepRecord `json:"steps,omitempty" bson:"steps,omitempty"`
}

// Failed reports whether the record represents a failed execution.
func (r *ResultRecord) Failed() bool {
	return r.Status == StatusFailed
}

// HasTag reports whether the record carries the given tag.
func (r *ResultRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Key derives the record's automation key.
func (r *ResultRecord) Key() AutomationKey {
	return DeriveKey(r.FeatureName, r.ScenarioName, r.ExampleIndex)
}
