// Package stats computes batch-level and historical statistics over
// result records: run summaries, rolling flakiness, and the risk
// classification used by downstream automation.
package stats

import (
	"math"

	"github.com/qaops/railsync/pkg/schema"
)

// Aggregate computes a fresh RunSummary for one batch of records. The
// summary is derived, never mutated incrementally; calling Aggregate
// twice over the same records yields identical summaries.
func Aggregate(records []schema.ResultRecord) schema.RunSummary {
	summary := schema.RunSummary{Total: len(records)}

	for _, rec := range records {
		summary.TotalDurationMS += rec.DurationMS

		if rec.Failed() {
			summary.Failed++
		} else {
			summary.Passed++
		}

		for _, tag := range rec.Tags {
			if summary.PerTag == nil {
				summary.PerTag = make(map[string]schema.TagStats)
			}

			ts := summary.PerTag[tag]
			ts.Total++

			if !rec.Failed() {
				ts.Passed++
			}

			summary.PerTag[tag] = ts
		}
	}

	if summary.Total > 0 {
		summary.PassRate = round2(100 * float64(summary.Passed) / float64(summary.Total))
	}

	return summary
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
