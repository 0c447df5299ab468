// Package config loads and validates the railsync configuration. The
// configuration is read once at startup and handed down immutably;
// components never read files or environment variables on their own.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSuiteID is the TestRail suite used when none is configured.
	DefaultSuiteID = 1

	// DefaultTimeout is the per-call timeout for remote APIs.
	DefaultTimeout = 30 * time.Second

	// DefaultRetries is the bounded retry count for transient
	// submission failures.
	DefaultRetries = 3

	// DefaultConcurrency bounds parallel outbound calls during
	// reconciliation and submission.
	DefaultConcurrency = 4

	// DefaultHistoryWindow is the number of recent entries considered
	// for flakiness when no window is configured.
	DefaultHistoryWindow = 20

	// DefaultNarrativeModel is the LLM model used for run narratives.
	DefaultNarrativeModel = "gpt-4o"

	// DefaultListen is the dashboard API listen address.
	DefaultListen = ":8080"

	// envPrefix namespaces environment overrides, e.g.
	// RAILSYNC_TESTRAIL_API_KEY overrides testrail.api_key.
	envPrefix = "RAILSYNC"
)

// Config is the root configuration for railsync.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Results   ResultsConfig   `yaml:"results" mapstructure:"results"`
	Build     BuildConfig     `yaml:"build" mapstructure:"build"`
	TestRail  TestRailConfig  `yaml:"testrail" mapstructure:"testrail"`
	Gate      GateConfig      `yaml:"gate,omitempty" mapstructure:"gate"`
	History   HistoryConfig   `yaml:"history,omitempty" mapstructure:"history"`
	Narrative NarrativeConfig `yaml:"narrative,omitempty" mapstructure:"narrative"`
	Notify    NotifyConfig    `yaml:"notify,omitempty" mapstructure:"notify"`
	Artifact  ArtifactConfig  `yaml:"artifact,omitempty" mapstructure:"artifact"`
	API       APIConfig       `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ResultsConfig locates the runner output to parse.
type ResultsConfig struct {
	// Path points at the Karate JSON results file.
	Path string `yaml:"path" mapstructure:"path"`
}

// BuildConfig carries CI metadata attached to the remote run. In CI
// these fields arrive via RAILSYNC_BUILD_* environment overrides.
type BuildConfig struct {
	Number        string `yaml:"number,omitempty" mapstructure:"number"`
	Branch        string `yaml:"branch,omitempty" mapstructure:"branch"`
	CommitSHA     string `yaml:"commit_sha,omitempty" mapstructure:"commit_sha"`
	CommitMessage string `yaml:"commit_message,omitempty" mapstructure:"commit_message"`
	Environment   string `yaml:"environment,omitempty" mapstructure:"environment"`
	Actor         string `yaml:"actor,omitempty" mapstructure:"actor"`
}

// TestRailConfig contains the test-management API connection and sync
// tuning parameters.
type TestRailConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	Email     string `yaml:"email" mapstructure:"email"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	ProjectID int    `yaml:"project_id" mapstructure:"project_id"`
	SuiteID   int    `yaml:"suite_id,omitempty" mapstructure:"suite_id"`

	// SectionName selects the destination section for created cases.
	// When empty, the first section of the suite is used.
	SectionName string `yaml:"section_name,omitempty" mapstructure:"section_name"`

	Timeout     time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retries     int           `yaml:"retries,omitempty" mapstructure:"retries"`
	Concurrency int           `yaml:"concurrency,omitempty" mapstructure:"concurrency"`

	// RequestsPerMinute caps outbound API calls; 0 disables the limiter.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`

	// CloseRun closes the remote run after all results are submitted.
	CloseRun bool `yaml:"close_run,omitempty" mapstructure:"close_run"`
}

// GateConfig optionally turns a low pass rate into a process failure.
type GateConfig struct {
	// MinPassRate fails the invocation when the batch pass rate falls
	// below it. 0 disables the gate: a low pass rate is reported data,
	// not a pipeline failure.
	MinPassRate float64 `yaml:"min_pass_rate,omitempty" mapstructure:"min_pass_rate"`
}

// HistoryConfig configures the optional append-only history store.
type HistoryConfig struct {
	// Driver selects the backend: "mongo", "sqlite", "postgres", or
	// empty to disable history (and with it, flakiness).
	Driver string `yaml:"driver,omitempty" mapstructure:"driver"`

	Mongo    MongoConfig    `yaml:"mongo,omitempty" mapstructure:"mongo"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`

	Window WindowConfig `yaml:"window,omitempty" mapstructure:"window"`
}

// MongoConfig contains MongoDB connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Database string `yaml:"database,omitempty" mapstructure:"database"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// WindowConfig bounds the rolling flakiness window.
type WindowConfig struct {
	// Limit is the maximum number of recent entries considered.
	Limit int `yaml:"limit,omitempty" mapstructure:"limit"`

	// Days bounds the window by age; 0 means no age bound.
	Days int `yaml:"days,omitempty" mapstructure:"days"`
}

// NarrativeConfig configures the optional LLM run summarizer.
type NarrativeConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey  string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Model   string `yaml:"model,omitempty" mapstructure:"model"`
}

// NotifyConfig configures optional notification targets.
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack,omitempty" mapstructure:"slack"`
}

// SlackConfig contains the Slack incoming-webhook settings.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ArtifactConfig configures optional artifact upload.
type ArtifactConfig struct {
	S3 S3Config `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3Config contains S3-compatible storage settings for artifacts.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// APIConfig contains dashboard API server settings.
type APIConfig struct {
	Listen      string   `yaml:"listen,omitempty" mapstructure:"listen"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
}

// Load reads and parses the configuration file at the given path.
// Values can be overridden with RAILSYNC_-prefixed environment
// variables, e.g. RAILSYNC_TESTRAIL_API_KEY for testrail.api_key.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.TestRail.SuiteID == 0 {
		c.TestRail.SuiteID = DefaultSuiteID
	}

	if c.TestRail.Timeout == 0 {
		c.TestRail.Timeout = DefaultTimeout
	}

	if c.TestRail.Retries == 0 {
		c.TestRail.Retries = DefaultRetries
	}

	if c.TestRail.Concurrency == 0 {
		c.TestRail.Concurrency = DefaultConcurrency
	}

	if c.History.Window.Limit == 0 {
		c.History.Window.Limit = DefaultHistoryWindow
	}

	if c.Narrative.Model == "" {
		c.Narrative.Model = DefaultNarrativeModel
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}

	if c.Build.Environment == "" {
		c.Build.Environment = "dev"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Results.Path == "" {
		return fmt.Errorf("results.path is required")
	}

	if c.TestRail.URL == "" {
		return fmt.Errorf("testrail.url is required")
	}

	if c.TestRail.Email == "" {
		return fmt.Errorf("testrail.email is required")
	}

	if c.TestRail.APIKey == "" {
		return fmt.Errorf("testrail.api_key is required")
	}

	if c.TestRail.ProjectID == 0 {
		return fmt.Errorf("testrail.project_id is required")
	}

	if c.TestRail.Retries < 0 {
		return fmt.Errorf("testrail.retries must not be negative")
	}

	if c.TestRail.Concurrency < 1 {
		return fmt.Errorf("testrail.concurrency must be at least 1")
	}

	if c.Gate.MinPassRate < 0 || c.Gate.MinPassRate > 100 {
		return fmt.Errorf("gate.min_pass_rate must be between 0 and 100")
	}

	switch c.History.Driver {
	case "", "mongo", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported history driver: %s", c.History.Driver)
	}

	if c.History.Driver == "mongo" && c.History.Mongo.URI == "" {
		return fmt.Errorf("history.mongo.uri is required for the mongo driver")
	}

	if c.History.Driver == "sqlite" && c.History.SQLite.Path == "" {
		return fmt.Errorf("history.sqlite.path is required for the sqlite driver")
	}

	if c.Artifact.S3.Enabled && c.Artifact.S3.Bucket == "" {
		return fmt.Errorf("artifact.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}

// HistoryEnabled reports whether a history backend is configured.
func (c *Config) HistoryEnabled() bool {
	return c.History.Driver != ""
}
