package domain

import "errors"

// Sentinel errors shared across the pipeline stages.
var (
	// ErrManifestNotFound indicates that no manifest exists for the given id.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrRunNotFound indicates that no run exists for the given id.
	ErrRunNotFound = errors.New("run not found")

	// ErrTurnNotFound indicates that no turn exists for the given (run, index).
	ErrTurnNotFound = errors.New("turn not found")

	// ErrScenarioNotFound indicates that a run references an unknown scenario.
	// This is a fatal configuration error: the run transitions to FAILED.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrRunIncomplete indicates that a run cannot be summarized yet because
	// its turn and score records are not complete and contiguous.
	ErrRunIncomplete = errors.New("run is not complete")
)
