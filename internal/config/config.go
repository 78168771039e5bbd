// Package config loads runtime settings from the environment and campaign
// configurations from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

// Environment defaults. Every setting can be overridden with a DIALECTIC_*
// variable, read from the process environment or a .env file.
const (
	DefaultDatabasePath = "dialectic.db"
	DefaultQueuePath    = "dialectic-queue.db"
	DefaultObjectsDir   = "objects"
	DefaultListenAddr   = ":8080"

	DefaultWorkerConcurrency = 4
	DefaultVisibility        = 5 * time.Minute
	DefaultMaxDeliveries     = 3
	DefaultStaleClaim        = 10 * time.Minute
	DefaultCronSpec          = "0 6 * * 1"
)

// Settings holds the process-level runtime configuration shared by all
// subcommands.
type Settings struct {
	// DatabasePath is the SQLite file backing runs, turns, scores,
	// summaries and aggregates.
	DatabasePath string
	// QueuePath is the SQLite file backing the job queues.
	QueuePath string
	// ObjectsDir is the directory holding prompt/reply/summary documents.
	ObjectsDir string
	// ListenAddr is the query service bind address.
	ListenAddr string

	OpenAIAPIKey      string
	OpenAIEndpoint    string
	AnthropicAPIKey   string
	AnthropicEndpoint string

	// WorkerConcurrency is the number of consumers per pool.
	WorkerConcurrency int
	// Visibility is the lease taken per received message.
	Visibility time.Duration
	// MaxDeliveries is the delivery cap before a message is dead-lettered.
	MaxDeliveries int
	// StaleClaim is the age after which an in-progress run claim is
	// considered abandoned and may be reclaimed.
	StaleClaim time.Duration
	// CronSpec schedules recurring campaign planning.
	CronSpec string
	// CampaignPath points at the JSON campaign configuration. Empty means
	// the built-in default campaign.
	CampaignPath string
}

// Load reads settings from the environment, loading a .env file first if one
// exists. Malformed numeric or duration values are reported, missing values
// fall back to defaults.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		DatabasePath:      envString("DIALECTIC_DB", DefaultDatabasePath),
		QueuePath:         envString("DIALECTIC_QUEUE_DB", DefaultQueuePath),
		ObjectsDir:        envString("DIALECTIC_OBJECTS_DIR", DefaultObjectsDir),
		ListenAddr:        envString("DIALECTIC_LISTEN_ADDR", DefaultListenAddr),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint:    os.Getenv("OPENAI_ENDPOINT"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicEndpoint: os.Getenv("ANTHROPIC_ENDPOINT"),
		CronSpec:          envString("DIALECTIC_CRON", DefaultCronSpec),
		CampaignPath:      os.Getenv("DIALECTIC_CAMPAIGN"),
	}

	var err error
	if s.WorkerConcurrency, err = envInt("DIALECTIC_WORKER_CONCURRENCY", DefaultWorkerConcurrency); err != nil {
		return nil, err
	}
	if s.MaxDeliveries, err = envInt("DIALECTIC_MAX_DELIVERIES", DefaultMaxDeliveries); err != nil {
		return nil, err
	}
	if s.Visibility, err = envDuration("DIALECTIC_VISIBILITY", DefaultVisibility); err != nil {
		return nil, err
	}
	if s.StaleClaim, err = envDuration("DIALECTIC_STALE_CLAIM", DefaultStaleClaim); err != nil {
		return nil, err
	}

	if s.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("config: DIALECTIC_WORKER_CONCURRENCY must be at least 1, got %d", s.WorkerConcurrency)
	}
	if s.MaxDeliveries < 1 {
		return nil, fmt.Errorf("config: DIALECTIC_MAX_DELIVERIES must be at least 1, got %d", s.MaxDeliveries)
	}
	return s, nil
}

// LoadCampaign parses a campaign configuration from a JSON file. Defaults and
// full validation are applied later during planning, so a file may omit
// parameters entirely.
func LoadCampaign(path string) (domain.CampaignConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CampaignConfig{}, fmt.Errorf("read campaign config %s: %w", path, err)
	}

	var cfg domain.CampaignConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.CampaignConfig{}, fmt.Errorf("parse campaign config %s: %w", path, err)
	}
	if len(cfg.Models) == 0 {
		return domain.CampaignConfig{}, fmt.Errorf("campaign config %s: no models", path)
	}
	if len(cfg.Scenarios) == 0 {
		return domain.CampaignConfig{}, fmt.Errorf("campaign config %s: no scenarios", path)
	}
	return cfg, nil
}

// DefaultCampaign is the built-in campaign used when no configuration file is
// supplied: two models over six scenarios spanning all three vectors.
func DefaultCampaign() domain.CampaignConfig {
	return domain.CampaignConfig{
		Models: []domain.ModelSpec{
			{ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "anthropic"},
			{ModelID: "anthropic.claude-3-5-haiku-20241022-v1:0", Provider: "anthropic"},
		},
		Scenarios: []string{
			"EL-ETH-UTIL-DEON-01",
			"EL-CIV-FREE-HARM-01",
			"MAI-BIO-CRISPR-01",
			"MAI-ECO-INFL-01",
			"APO-PHY-HEAT-TEMP-01",
			"APO-BIO-GENE-DETERM-01",
		},
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration", key, v)
	}
	return d, nil
}
