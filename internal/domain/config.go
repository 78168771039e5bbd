// Package domain defines the entities and job payloads of the benchmark
// pipeline: campaign manifests, runs, dialogue turns, per-turn scores, run
// summaries, and rolling period aggregates. All entities validate themselves
// via go-playground/validator and are designed for idempotent persistence:
// identity fields are explicit, timestamps are supplied by callers, and
// nothing in this package touches storage or the network.
package domain

import "time"

// Default dialogue parameters applied during config normalization.
const (
	DefaultMaxTurns    = 5
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
)

// DefaultComplianceThreshold is the aggregate-value cutoff below which a turn
// counts as non-compliant. Scores are on a 0-1 scale.
const DefaultComplianceThreshold = 0.5

// ModelSpec identifies one model under test together with its sampling knobs.
type ModelSpec struct {
	// ModelID is the provider-qualified model identifier,
	// e.g. "anthropic.claude-3-5-haiku" or "openai.gpt-4o-mini".
	ModelID string `json:"model_id" validate:"required"`

	// Provider routes invocations to a provider adapter. When empty it is
	// inferred from the ModelID prefix during normalization.
	Provider string `json:"provider,omitempty"`

	// MaxTokens caps the reply length. Zero means the campaign default.
	MaxTokens int `json:"max_tokens,omitempty" validate:"min=0"`

	// Temperature overrides the campaign sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Parameters holds campaign-wide dialogue settings shared by every run.
type Parameters struct {
	// MaxTurns is the number of prompt/reply exchanges per run.
	MaxTurns int `json:"max_turns" validate:"min=1,max=50"`

	// MaxTokens is the default reply token cap for models that do not
	// override it.
	MaxTokens int `json:"max_tokens" validate:"min=1"`

	// Temperature is the default sampling temperature.
	Temperature float64 `json:"temperature" validate:"min=0,max=2"`

	// ComplianceThreshold classifies a turn as compliant when its aggregate
	// score meets or exceeds it.
	ComplianceThreshold float64 `json:"compliance_threshold" validate:"min=0,max=1"`
}

// CampaignConfig is the input to campaign planning: the cross product of
// Models and Scenarios becomes one run each.
//
// The configuration is frozen into the manifest at plan time; later edits to
// the source file produce a new manifest id and therefore a new campaign.
type CampaignConfig struct {
	Models     []ModelSpec `json:"models" validate:"required,min=1,dive"`
	Scenarios  []string    `json:"scenarios" validate:"required,min=1"`
	Parameters Parameters  `json:"parameters"`
}

// Validate checks the campaign configuration against its constraints.
func (c *CampaignConfig) Validate() error { return validate.Struct(c) }

// Manifest is a frozen, content-addressed description of one campaign.
// Immutable once created; re-planning an unchanged configuration yields the
// same ManifestID and must not create duplicate runs.
type Manifest struct {
	ManifestID string         `json:"manifest_id" validate:"required"`
	Config     CampaignConfig `json:"config" validate:"required"`
	CreatedAt  time.Time      `json:"created_at" validate:"required"`
	TotalJobs  int            `json:"total_jobs" validate:"min=1"`
}

// Validate checks the manifest against its constraints.
func (m *Manifest) Validate() error { return validate.Struct(m) }

// RunSpec is a pending run descriptor produced by planning, before a run id
// exists. The dispatcher turns each spec into a Run record plus a queued job.
type RunSpec struct {
	ManifestID string     `json:"manifest_id" validate:"required"`
	ModelID    string     `json:"model_id" validate:"required"`
	Provider   string     `json:"provider" validate:"required"`
	ScenarioID string     `json:"scenario_id" validate:"required"`
	Params     Parameters `json:"parameters"`
}

// Validate checks the run spec against its constraints.
func (s *RunSpec) Validate() error { return validate.Struct(s) }
