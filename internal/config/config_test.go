package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialecticlabs/dialectic/internal/scenario"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DIALECTIC_DB", "DIALECTIC_QUEUE_DB", "DIALECTIC_OBJECTS_DIR",
		"DIALECTIC_LISTEN_ADDR", "DIALECTIC_WORKER_CONCURRENCY",
		"DIALECTIC_VISIBILITY", "DIALECTIC_MAX_DELIVERIES",
		"DIALECTIC_STALE_CLAIM", "DIALECTIC_CRON", "DIALECTIC_CAMPAIGN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, s.DatabasePath)
	assert.Equal(t, DefaultQueuePath, s.QueuePath)
	assert.Equal(t, DefaultObjectsDir, s.ObjectsDir)
	assert.Equal(t, DefaultListenAddr, s.ListenAddr)
	assert.Equal(t, DefaultWorkerConcurrency, s.WorkerConcurrency)
	assert.Equal(t, DefaultVisibility, s.Visibility)
	assert.Equal(t, DefaultMaxDeliveries, s.MaxDeliveries)
	assert.Equal(t, DefaultStaleClaim, s.StaleClaim)
	assert.Equal(t, DefaultCronSpec, s.CronSpec)
	assert.Empty(t, s.CampaignPath)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DIALECTIC_DB", "/var/lib/dialectic/runs.db")
	t.Setenv("DIALECTIC_LISTEN_ADDR", ":9090")
	t.Setenv("DIALECTIC_WORKER_CONCURRENCY", "8")
	t.Setenv("DIALECTIC_VISIBILITY", "90s")
	t.Setenv("DIALECTIC_MAX_DELIVERIES", "5")
	t.Setenv("DIALECTIC_STALE_CLAIM", "30m")
	t.Setenv("DIALECTIC_CAMPAIGN", "campaign.json")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/dialectic/runs.db", s.DatabasePath)
	assert.Equal(t, ":9090", s.ListenAddr)
	assert.Equal(t, 8, s.WorkerConcurrency)
	assert.Equal(t, 90*time.Second, s.Visibility)
	assert.Equal(t, 5, s.MaxDeliveries)
	assert.Equal(t, 30*time.Minute, s.StaleClaim)
	assert.Equal(t, "campaign.json", s.CampaignPath)
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non-numeric concurrency", key: "DIALECTIC_WORKER_CONCURRENCY", value: "many"},
		{name: "non-duration visibility", key: "DIALECTIC_VISIBILITY", value: "5 minutes"},
		{name: "zero concurrency", key: "DIALECTIC_WORKER_CONCURRENCY", value: "0"},
		{name: "zero deliveries", key: "DIALECTIC_MAX_DELIVERIES", value: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadCampaign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.json")
	doc := `{
		"models": [
			{"model_id": "openai.gpt-4o-mini"},
			{"model_id": "anthropic.claude-3-5-haiku", "max_tokens": 300}
		],
		"scenarios": ["EL-ETH-UTIL-DEON-01", "APO-PHY-HEAT-TEMP-01"],
		"parameters": {"max_turns": 3}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadCampaign(path)
	require.NoError(t, err)

	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "openai.gpt-4o-mini", cfg.Models[0].ModelID)
	assert.Equal(t, 300, cfg.Models[1].MaxTokens)
	assert.Equal(t, []string{"EL-ETH-UTIL-DEON-01", "APO-PHY-HEAT-TEMP-01"}, cfg.Scenarios)
	assert.Equal(t, 3, cfg.Parameters.MaxTurns)
}

func TestLoadCampaign_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCampaign(filepath.Join(dir, "absent.json"))
		assert.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
		_, err := LoadCampaign(path)
		assert.Error(t, err)
	})

	t.Run("no models", func(t *testing.T) {
		path := filepath.Join(dir, "nomodels.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"scenarios":["EL-ETH-UTIL-DEON-01"]}`), 0o644))
		_, err := LoadCampaign(path)
		assert.ErrorContains(t, err, "no models")
	})

	t.Run("no scenarios", func(t *testing.T) {
		path := filepath.Join(dir, "noscen.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"models":[{"model_id":"openai.gpt-4o-mini"}]}`), 0o644))
		_, err := LoadCampaign(path)
		assert.ErrorContains(t, err, "no scenarios")
	})
}

func TestDefaultCampaign_ScenariosRegistered(t *testing.T) {
	cfg := DefaultCampaign()
	registry := scenario.Default()

	require.NotEmpty(t, cfg.Models)
	for _, id := range cfg.Scenarios {
		_, err := registry.Get(id)
		assert.NoError(t, err, "scenario %s", id)
	}
}
