package stats

import (
	"github.com/qaops/railsync/pkg/history"
	"github.com/qaops/railsync/pkg/schema"
)

// Flakiness computes how often a test disagreed with its own majority
// outcome across the given history entries. The entries are assumed to
// already be bounded to the configured rolling window by the store
// query.
//
// Returns a value in [0, 1]. A key absent from history, or with fewer
// than two historical points, yields 0: insufficient data is not
// evidence of flakiness.
func Flakiness(entries []history.Entry, key schema.AutomationKey) float64 {
	var passed, failed int

	for _, entry := range entries {
		for _, rec := range entry.Records {
			if rec.Key() != key {
				continue
			}

			if rec.Failed() {
				failed++
			} else {
				passed++
			}
		}
	}

	total := passed + failed
	if total < 2 {
		return 0.0
	}

	minority := failed
	if passed < failed {
		minority = passed
	}

	return float64(minority) / float64(total)
}
