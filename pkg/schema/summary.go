package schema

// TagStats counts records carrying a given tag within one batch.
type TagStats struct {
	Total  int `json:"total" bson:"total"`
	Passed int `json:"passed" bson:"passed"`
}

// RunSummary is the aggregation over one batch of ResultRecords. It is
// recomputed fresh on every pass, never mutated incrementally.
type RunSummary struct {
	Total           int     `json:"total" bson:"total"`
	Passed          int     `json:"passed" bson:"passed"`
	Failed          int     `json:"failed" bson:"failed"`
	PassRate        float64 `json:"pass_rate" bson:"pass_rate"`
	TotalDurationMS float64 `json:"total_duration_ms" bson:"total_duration_ms"`

	// PerTag maps each tag appearing on any record to its counts.
	// Records without tags contribute to no bucket.
	PerTag map[string]TagStats `json:"per_tag,omitempty" bson:"per_tag,omitempty"`
}

// Report is the outcome of one full pipeline invocation, surfaced to
// the invoker instead of a bare success flag.
type Report struct {
	Parsed     int
	Reconciled int
	Submitted  int

	// Unsynced lists the automation keys that could not be reconciled
	// or submitted; the pass continues without them.
	Unsynced []AutomationKey

	// Errors holds the isolated per-record errors behind Unsynced.
	Errors []error
}
