package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/qaops/railsync/pkg/history"
	"github.com/qaops/railsync/pkg/schema"
	"github.com/qaops/railsync/pkg/stats"
)

const (
	defaultFlakyMin   = 0.3
	defaultFlakyLimit = 20
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// runView is one history entry without its full record payload.
type runView struct {
	Branch    string            `json:"branch"`
	Timestamp time.Time         `json:"timestamp"`
	CommitSHA string            `json:"commit_sha,omitempty"`
	RunID     int               `json:"run_id,omitempty"`
	Summary   schema.RunSummary `json:"summary"`
	Risk      stats.RiskLevel   `json:"risk"`
}

// summaryView aggregates KPIs over the queried window.
type summaryView struct {
	Runs            int     `json:"runs"`
	TotalTests      int     `json:"total_tests"`
	TotalFailed     int     `json:"total_failed"`
	AveragePassRate float64 `json:"average_pass_rate"`
	LatestPassRate  float64 `json:"latest_pass_rate"`
	LatestRisk      string  `json:"latest_risk,omitempty"`
}

// flakyView is one flaky test entry.
type flakyView struct {
	Key       schema.AutomationKey `json:"key"`
	Flakiness float64              `json:"flakiness"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRuns lists recent runs, newest first. Query params: branch,
// limit.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.queryHistory(w, r)
	if !ok {
		return
	}

	views := make([]runView, 0, len(entries))

	for _, entry := range entries {
		views = append(views, runView{
			Branch:    entry.Branch,
			Timestamp: entry.Timestamp,
			CommitSHA: entry.CommitSHA,
			RunID:     entry.RunID,
			Summary:   entry.Summary,
			Risk:      stats.Classify(entry.Summary, entry.Records),
		})
	}

	writeJSON(w, http.StatusOK, views)
}

// handleSummary aggregates KPIs over the queried window.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.queryHistory(w, r)
	if !ok {
		return
	}

	view := summaryView{Runs: len(entries)}

	for _, entry := range entries {
		view.TotalTests += entry.Summary.Total
		view.TotalFailed += entry.Summary.Failed
		view.AveragePassRate += entry.Summary.PassRate
	}

	if len(entries) > 0 {
		view.AveragePassRate /= float64(len(entries))

		// Entries come newest first.
		latest := entries[0]
		view.LatestPassRate = latest.Summary.PassRate
		view.LatestRisk = string(stats.Classify(latest.Summary, latest.Records))
	}

	writeJSON(w, http.StatusOK, view)
}

// handleFlaky lists tests whose rolling flakiness meets the threshold,
// most flaky first. Query params: branch, limit, min.
func (s *server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.queryHistory(w, r)
	if !ok {
		return
	}

	min := defaultFlakyMin
	if raw := r.URL.Query().Get("min"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid min"})

			return
		}

		min = parsed
	}

	seen := make(map[schema.AutomationKey]bool)

	var views []flakyView

	for _, entry := range entries {
		for _, record := range entry.Records {
			key := record.Key()
			if seen[key] {
				continue
			}

			seen[key] = true

			score := stats.Flakiness(entries, key)
			if score >= min {
				views = append(views, flakyView{Key: key, Flakiness: score})
			}
		}
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Flakiness != views[j].Flakiness {
			return views[i].Flakiness > views[j].Flakiness
		}

		return views[i].Key < views[j].Key
	})

	if len(views) > defaultFlakyLimit {
		views = views[:defaultFlakyLimit]
	}

	if views == nil {
		views = []flakyView{}
	}

	writeJSON(w, http.StatusOK, views)
}

// queryHistory runs the store query shared by all listing handlers.
// Reports false after writing the error response.
func (s *server) queryHistory(
	w http.ResponseWriter, r *http.Request,
) ([]history.Entry, bool) {
	window := history.Window{Limit: s.window.Limit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return nil, false
		}

		window.Limit = limit
	}

	if days := s.window.Days; days > 0 {
		window.Since = time.Now().UTC().AddDate(0, 0, -days)
	}

	filter := history.Filter{Branch: r.URL.Query().Get("branch")}

	entries, err := s.store.Query(r.Context(), filter, window)
	if err != nil {
		s.log.WithError(err).Error("History query failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"history unavailable"})

		return nil, false
	}

	return entries, true
}
