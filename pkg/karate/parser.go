package karate

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/qaops/railsync/pkg/schema"
)

// MalformedResultError reports runner output that is structurally
// invalid. It is fatal to the whole parse: partial results are never
// returned, since silent loss would corrupt downstream reconciliation
// and statistics.
type MalformedResultError struct {
	Document string
	Reason   string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("malformed result document %q: %s", e.Document, e.Reason)
}

// ParseFile reads and parses a Karate JSON results file.
func ParseFile(path string) ([]schema.ResultRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results file: %w", err)
	}

	return Parse(data)
}

// Parse converts raw Karate JSON output into an ordered sequence of
// ResultRecords. The input may be a single feature document, a JSON
// array of feature documents, or a wrapper object with a "features"
// key; Karate produces all three depending on version and report mode.
//
// Parse is a pure transformation with no side effects.
func Parse(data []byte) ([]schema.ResultRecord, error) {
	features, err := decodeFeatures(data)
	if err != nil {
		return nil, err
	}

	var records []schema.ResultRecord

	for i, feature := range features {
		if feature.Name == "" {
			return nil, &MalformedResultError{
				Document: fmt.Sprintf("feature[%d]", i),
				Reason:   "missing feature name",
			}
		}

		recs, err := parseFeature(&feature)
		if err != nil {
			return nil, err
		}

		records = append(records, recs...)
	}

	assignExampleIndexes(records)

	return records, nil
}

// decodeFeatures handles the three top-level shapes Karate emits.
func decodeFeatures(data []byte) ([]FeatureDocument, error) {
	var features []FeatureDocument
	if err := json.Unmarshal(data, &features); err == nil {
		return features, nil
	}

	var wrapper struct {
		Features []FeatureDocument `json:"features"`
		Elements []Element         `json:"elements"`
		Name     string            `json:"name"`
	}

	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, &MalformedResultError{
			Document: "<input>",
			Reason:   "not valid JSON: " + err.Error(),
		}
	}

	if wrapper.Features != nil {
		return wrapper.Features, nil
	}

	if wrapper.Elements != nil {
		return []FeatureDocument{{Name: wrapper.Name, Elements: wrapper.Elements}}, nil
	}

	return nil, &MalformedResultError{
		Document: "<input>",
		Reason:   "unrecognized document structure",
	}
}

// parseFeature converts all scenario elements of one feature document.
func parseFeature(feature *FeatureDocument) ([]schema.ResultRecord, error) {
	records := make([]schema.ResultRecord, 0, len(feature.Elements))

	for _, element := range feature.Elements {
		if !strings.EqualFold(element.Type, "scenario") {
			// Backgrounds and other element types carry no outcome.
			continue
		}

		if element.Name == "" {
			return nil, &MalformedResultError{
				Document: feature.Name,
				Reason:   "scenario element missing name",
			}
		}

		rec, err := parseScenario(feature.Name, &element)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	return records, nil
}

// parseScenario builds one ResultRecord from a scenario element.
func parseScenario(featureName string, element *Element) (*schema.ResultRecord, error) {
	rec := &schema.ResultRecord{
		FeatureName:  featureName,
		ScenarioName: element.Name,
		Tags:         normalizeTags(element.Tags),
		Status:       schema.StatusPassed,
		Steps:        make([]schema.StepRecord, 0, len(element.Steps)),
	}

	for _, step := range element.Steps {
		if step.Result == nil {
			return nil, &MalformedResultError{
				Document: featureName,
				Reason: fmt.Sprintf(
					"scenario %q: step %q has no result", element.Name, step.Name,
				),
			}
		}

		durationMS := float64(step.Result.Duration) / 1e6
		rec.DurationMS += durationMS

		stepStatus := schema.StatusPassed
		if step.Result.Status != "passed" {
			stepStatus = schema.StatusFailed
		}

		rec.Steps = append(rec.Steps, schema.StepRecord{
			Keyword:    strings.TrimSpace(step.Keyword),
			Text:       step.Name,
			Status:     stepStatus,
			DurationMS: durationMS,
		})

		// First failing step decides the scenario outcome and message.
		if stepStatus == schema.StatusFailed && rec.Status == schema.StatusPassed {
			rec.Status = schema.StatusFailed

			rec.ErrorMessage = step.Result.ErrorMessage
			if rec.ErrorMessage == "" {
				rec.ErrorMessage = fmt.Sprintf("step %q %s", step.Name, step.Result.Status)
			}
		}
	}

	return rec, nil
}

// normalizeTags strips the "@" prefix, lowercases, and deduplicates.
// The result is sorted so tag order never depends on input order.
func normalizeTags(tags []Tag) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag.Name), "@"))
		if name == "" {
			continue
		}

		seen[name] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// assignExampleIndexes marks expanded outline rows. A scenario name
// repeated under the same feature means the element came from a
// Scenario Outline; each row gets its 0-based declaration-order index
// so every (feature, scenario, example) tuple is unique within the
// parse pass.
func assignExampleIndexes(records []schema.ResultRecord) {
	type nameKey struct {
		feature  string
		scenario string
	}

	counts := make(map[nameKey]int, len(records))
	for _, rec := range records {
		counts[nameKey{rec.FeatureName, rec.ScenarioName}]++
	}

	next := make(map[nameKey]int)

	for i := range records {
		key := nameKey{records[i].FeatureName, records[i].ScenarioName}
		if counts[key] < 2 {
			continue
		}

		idx := next[key]
		next[key]++
		records[i].ExampleIndex = &idx
	}
}
