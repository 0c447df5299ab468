package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qaops/railsync/pkg/config"
	"github.com/qaops/railsync/pkg/schema"
)

// runRow is the relational shape of an Entry. Summary and Records are
// stored as JSON blobs; filtering by automation key happens in Go.
type runRow struct {
	ID        uint      `gorm:"primaryKey"`
	Branch    string    `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	CommitSHA string
	RunID     int
	Summary   []byte
	Records   []byte
}

func (runRow) TableName() string { return "runs" }

type sqlStore struct {
	log logrus.FieldLogger
	db  *gorm.DB
}

// Compile-time interface check.
var _ Store = (*sqlStore)(nil)

// NewSQLStore opens the configured relational backend and runs
// migrations. The driver must be "sqlite" or "postgres".
func NewSQLStore(log logrus.FieldLogger, cfg *config.HistoryConfig) (Store, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Postgres.Host,
			cfg.Postgres.Port,
			cfg.Postgres.User,
			cfg.Postgres.Password,
			cfg.Postgres.Database,
			cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	if err := db.AutoMigrate(&runRow{}); err != nil {
		return nil, fmt.Errorf("running history migrations: %w", err)
	}

	s := &sqlStore{
		log: log.WithField("component", "history").WithField("driver", cfg.Driver),
		db:  db,
	}

	s.log.Info("History store connected")

	return s, nil
}

func (s *sqlStore) Append(ctx context.Context, entry *Entry) error {
	summary, err := json.Marshal(entry.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	records, err := json.Marshal(entry.Records)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	row := runRow{
		Branch:    entry.Branch,
		Timestamp: entry.Timestamp,
		CommitSHA: entry.CommitSHA,
		RunID:     entry.RunID,
		Summary:   summary,
		Records:   records,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}

	return nil
}

func (s *sqlStore) Query(
	ctx context.Context, filter Filter, window Window,
) ([]Entry, error) {
	q := s.db.WithContext(ctx).
		Model(&runRow{}).
		Order("timestamp DESC")

	if filter.Branch != "" {
		q = q.Where("branch = ?", filter.Branch)
	}

	if !window.Since.IsZero() {
		q = q.Where("timestamp >= ?", window.Since)
	}

	if window.Limit > 0 {
		q = q.Limit(window.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}

	entries := make([]Entry, 0, len(rows))

	for _, row := range rows {
		entry := Entry{
			Branch:    row.Branch,
			Timestamp: row.Timestamp,
			CommitSHA: row.CommitSHA,
			RunID:     row.RunID,
		}

		if err := json.Unmarshal(row.Summary, &entry.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}

		if err := json.Unmarshal(row.Records, &entry.Records); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}

		entries = append(entries, entry)
	}

	return filterByKey(entries, filter.Key), nil
}

func (s *sqlStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// filterByKey drops entries that contain no record with the given key.
// Records within kept entries are untouched so summaries stay intact.
func filterByKey(entries []Entry, key schema.AutomationKey) []Entry {
	if key == "" {
		return entries
	}

	kept := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		for _, record := range entry.Records {
			if record.Key() == key {
				kept = append(kept, entry)

				break
			}
		}
	}

	return kept
}
