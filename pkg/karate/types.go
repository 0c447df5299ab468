// Package karate parses Karate JSON result output into the canonical
// record model. Karate emits cucumber-style JSON: one document per
// executed feature, each containing scenario elements with their tags
// and step results.
package karate

// FeatureDocument is the raw result document for one executed feature.
type FeatureDocument struct {
	Name     string    `json:"name"`
	Elements []Element `json:"elements"`
}

// Element is one entry in a feature document. Scenario outlines appear
// as one element per expanded example row, repeating the scenario name.
type Element struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Tags  []Tag  `json:"tags"`
	Steps []Step `json:"steps"`
}

// Tag is a label attached to a scenario element. Karate prefixes tag
// names with "@".
type Tag struct {
	Name string `json:"name"`
}

// Step is a single executed step.
type Step struct {
	Keyword string      `json:"keyword"`
	Name    string      `json:"name"`
	Result  *StepResult `json:"result"`
}

// StepResult is the execution outcome of a step. Duration is reported
// by Karate in nanoseconds.
type StepResult struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message"`
}
