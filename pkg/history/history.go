// Package history persists run summaries and their records as an
// append-only log, used to compute rolling flakiness and to serve the
// dashboard API. The store is an optional collaborator: when absent or
// unreachable the pipeline degrades gracefully.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
)

// Entry is one immutable run record, keyed by (branch, timestamp).
// Entries are never updated in place; corrections are new entries.
type Entry struct {
	Branch    string                `json:"branch" bson:"branch"`
	Timestamp time.Time             `json:"timestamp" bson:"timestamp"`
	CommitSHA string                `json:"commit_sha,omitempty" bson:"commit_sha,omitempty"`
	RunID     int                   `json:"run_id,omitempty" bson:"run_id,omitempty"`
	Summary   schema.RunSummary     `json:"summary" bson:"summary"`
	Records   []schema.ResultRecord `json:"records" bson:"records"`
}

// Window bounds a history query. A zero Limit means unlimited count;
// a zero Since means no time bound.
type Window struct {
	Limit int
	Since time.Time
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Branch string
	Key    schema.AutomationKey
}

// Store is the append-only history collaborator.
type Store interface {
	// Append writes one entry. Entries are never rewritten.
	Append(ctx context.Context, entry *Entry) error

	// Query returns entries matching the filter inside the window,
	// newest first.
	Query(ctx context.Context, filter Filter, window Window) ([]Entry, error)

	Close(ctx context.Context) error
}

// Open returns the store for the configured driver, or (nil, nil) when
// history is disabled.
func Open(
	ctx context.Context, log logrus.FieldLogger, cfg *config.HistoryConfig,
) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "mongo":
		return NewMongoStore(ctx, log, &cfg.Mongo)
	case "sqlite", "postgres":
		return NewSQLStore(log, cfg)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}
}
