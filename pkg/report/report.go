// Package report renders a markdown summary of one synchronized run,
// suitable for CI job summaries and artifact upload.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/stats"
)

// Data is everything one report renders. Optional fields are skipped
// when empty.
type Data struct {
	RunID       int
	RunName     string
	RunURL      string
	Branch      string
	CommitSHA   string
	Environment string

	Summary schema.RunSummary
	Risk    stats.RiskLevel
	Records []schema.ResultRecord

	// Flakiness per automation key; only keys above zero are listed.
	Flakiness map[schema.AutomationKey]float64

	Narrative string
}

// Generate renders the full markdown report.
func Generate(data *Data) string {
	var sb strings.Builder

	writeTitle(&sb, data)
	writeOverview(&sb, data)
	writeSummary(&sb, data)
	writeTagBreakdown(&sb, data.Summary)
	writeFailures(&sb, data.Records)
	writeFlakiness(&sb, data.Flakiness)
	writeNarrative(&sb, data.Narrative)

	return sb.String()
}

// WriteFile renders the report and writes it to path.
func WriteFile(path string, data *Data) error {
	if err := os.WriteFile(path, []byte(Generate(data)), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

func writeTitle(sb *strings.Builder, data *Data) {
	name := data.RunName
	if name == "" {
		name = "Test Run"
	}

	fmt.Fprintf(sb, "# Run Report: %s\n\n", name)
}

func writeOverview(sb *strings.Builder, data *Data) {
	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if data.RunID != 0 {
		fmt.Fprintf(sb, "| Run ID | #%d |\n", data.RunID)
	}

	if data.Branch != "" {
		fmt.Fprintf(sb, "| Branch | %s |\n", data.Branch)
	}

	if data.CommitSHA != "" {
		fmt.Fprintf(sb, "| Commit | %s |\n", data.CommitSHA)
	}

	if data.Environment != "" {
		fmt.Fprintf(sb, "| Environment | %s |\n", data.Environment)
	}

	fmt.Fprintf(sb, "| Risk | %s |\n", data.Risk)

	if data.RunURL != "" {
		fmt.Fprintf(sb, "| URL | %s |\n", data.RunURL)
	}

	sb.WriteString("\n")
}

func writeSummary(sb *strings.Builder, data *Data) {
	summary := data.Summary

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Total | Passed | Failed | Pass Rate | Duration |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(sb, "| %d | %d | %d | %.1f%% | %.2fs |\n\n",
		summary.Total, summary.Passed, summary.Failed,
		summary.PassRate, summary.TotalDurationMS/1000)
}

func writeTagBreakdown(sb *strings.Builder, summary schema.RunSummary) {
	if len(summary.PerTag) == 0 {
		return
	}

	tags := make([]string, 0, len(summary.PerTag))
	for tag := range summary.PerTag {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	sb.WriteString("## By Tag\n\n")
	sb.WriteString("| Tag | Total | Passed |\n")
	sb.WriteString("|---|---|---|\n")

	for _, tag := range tags {
		ts := summary.PerTag[tag]
		fmt.Fprintf(sb, "| @%s | %d | %d |\n", tag, ts.Total, ts.Passed)
	}

	sb.WriteString("\n")
}

func writeFailures(sb *strings.Builder, records []schema.ResultRecord) {
	var failures []schema.ResultRecord

	for _, record := range records {
		if record.Failed() {
			failures = append(failures, record)
		}
	}

	if len(failures) == 0 {
		return
	}

	fmt.Fprintf(sb, "## Failed Tests (%d)\n\n", len(failures))

	for _, record := range failures {
		message := record.ErrorMessage
		if message == "" {
			message = "no error detail"
		}

		fmt.Fprintf(sb, "- **%s / %s**: %s\n", record.FeatureName, record.ScenarioName, message)
	}

	sb.WriteString("\n")
}

func writeFlakiness(sb *strings.Builder, flakiness map[schema.AutomationKey]float64) {
	keys := make([]schema.AutomationKey, 0, len(flakiness))

	for key, score := range flakiness {
		if score > 0 {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return
	}

	sort.Slice(keys, func(i, j int) bool {
		if flakiness[keys[i]] != flakiness[keys[j]] {
			return flakiness[keys[i]] > flakiness[keys[j]]
		}

		return keys[i] < keys[j]
	})

	sb.WriteString("## Flaky Tests\n\n")
	sb.WriteString("| Test | Flakiness |\n")
	sb.WriteString("|---|---|\n")

	for _, key := range keys {
		fmt.Fprintf(sb, "| %s | %.0f%% |\n", key, flakiness[key]*100)
	}

	sb.WriteString("\n")
}

func writeNarrative(sb *strings.Builder, narrative string) {
	if narrative == "" {
		return
	}

	sb.WriteString("## Analysis\n\n")
	sb.WriteString(narrative)
	sb.WriteString("\n")
}
