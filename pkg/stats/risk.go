package stats

import "github.com/qaops/railsync/pkg/schema"

// RiskLevel classifies the overall risk of a batch.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskCritical RiskLevel = "CRITICAL"
)

const (
	// CriticalTag marks tests whose failure forces a CRITICAL
	// classification regardless of the overall pass rate.
	CriticalTag = "critical"

	lowThreshold    = 95.0
	mediumThreshold = 80.0
)

// Classify maps a summary and its records to a risk level. This is a
// pure threshold function: any failed record tagged critical forces
// CRITICAL; otherwise pass rate >= 95 is LOW, >= 80 is MEDIUM, and
// anything below is CRITICAL. The LLM narrative never feeds into this
// classification.
func Classify(summary schema.RunSummary, records []schema.ResultRecord) RiskLevel {
	for _, rec := range records {
		if rec.Failed() && rec.HasTag(CriticalTag) {
			return RiskCritical
		}
	}

	switch {
	case summary.PassRate >= lowThreshold:
		return RiskLow
	case summary.PassRate >= mediumThreshold:
		return RiskMedium
	default:
		return RiskCritical
	}
}
