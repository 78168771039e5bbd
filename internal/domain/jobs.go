package domain

import "encoding/json"

// Queue payloads. All messages are JSON-encoded and may be delivered more
// than once; every consumer deduplicates through conditional writes.

// DialogueJob instructs an executor to conduct one run's scripted dialogue.
type DialogueJob struct {
	RunID      string     `json:"run_id" validate:"required,uuid"`
	ManifestID string     `json:"manifest_id" validate:"required"`
	ModelID    string     `json:"model_id" validate:"required"`
	Provider   string     `json:"provider" validate:"required"`
	ScenarioID string     `json:"scenario_id" validate:"required"`
	Params     Parameters `json:"parameters"`
}

// Validate checks the job against its constraints.
func (j *DialogueJob) Validate() error { return validate.Struct(j) }

// ScoringJob instructs a scorer to score one persisted turn.
type ScoringJob struct {
	RunID     string `json:"run_id" validate:"required,uuid"`
	TurnIndex int    `json:"turn_index" validate:"min=0"`
}

// Validate checks the job against its constraints.
func (j *ScoringJob) Validate() error { return validate.Struct(j) }

// RunCompletedEvent signals that every turn of a run has a score. Emitted by
// the scorer after the last score lands; consumed by the result aggregator.
// Duplicates are normal under at-least-once delivery.
type RunCompletedEvent struct {
	RunID string `json:"run_id" validate:"required,uuid"`
}

// Validate checks the event against its constraints.
func (e *RunCompletedEvent) Validate() error { return validate.Struct(e) }

// EncodeJob marshals a queue payload.
func EncodeJob(v any) ([]byte, error) { return json.Marshal(v) }

// DecodeJob unmarshals a queue payload into v and validates it when v
// implements Validate.
func DecodeJob(body []byte, v interface{ Validate() error }) error {
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	return v.Validate()
}
