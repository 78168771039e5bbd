// Package scenario holds the Socratic evaluation scenario bank and the
// prompt templates used to drive tutor dialogues.
//
// Each scenario is one of three test vectors: elenchus (refutation of a
// contradictory belief), maieutics (scaffolding from partial understanding),
// and aporia (deconstruction of a deep misconception). A scenario carries the
// opening student utterance plus scripted follow-ups so that benchmark runs
// are reproducible without a live student.
package scenario

import (
	"fmt"
	"sort"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

// Test vectors.
const (
	VectorElenchus  = "elenchus"
	VectorMaieutics = "maieutics"
	VectorAporia    = "aporia"
)

// Scenario is a single evaluation scenario.
type Scenario struct {
	ID      string
	Vector  string
	Persona string
	// Prompt is the student's opening utterance.
	Prompt string
	// FollowUps are scripted student replies for subsequent turns, in order.
	FollowUps []string
	// Goals document what the tutor should accomplish; they are not sent to
	// the model.
	Goals []string
	Notes string
}

// Turns reports how many tutor turns the script supports: the opening
// utterance plus one per follow-up.
func (s *Scenario) Turns() int { return 1 + len(s.FollowUps) }

// StudentUtterance returns the scripted student line for the given tutor
// turn, the opening prompt for turn 0.
func (s *Scenario) StudentUtterance(turn int) (string, error) {
	if turn == 0 {
		return s.Prompt, nil
	}
	if turn < 0 || turn > len(s.FollowUps) {
		return "", fmt.Errorf("scenario %s has no student utterance for turn %d", s.ID, turn)
	}
	return s.FollowUps[turn-1], nil
}

// Registry resolves scenario ids to scenarios.
type Registry struct {
	byID map[string]*Scenario
}

// NewRegistry builds a registry over the given scenarios. Duplicate ids are
// rejected.
func NewRegistry(scenarios []*Scenario) (*Registry, error) {
	byID := make(map[string]*Scenario, len(scenarios))
	for _, s := range scenarios {
		if _, ok := byID[s.ID]; ok {
			return nil, fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		byID[s.ID] = s
	}
	return &Registry{byID: byID}, nil
}

// Default returns the registry over the built-in scenario bank.
func Default() *Registry {
	r, err := NewRegistry(defaultScenarios())
	if err != nil {
		// The built-in bank is static; a duplicate is a programming error.
		panic(err)
	}
	return r
}

// Get resolves a scenario id.
func (r *Registry) Get(id string) (*Scenario, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return s, nil
}

// IDs returns all registered scenario ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
