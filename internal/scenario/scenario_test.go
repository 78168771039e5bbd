package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialecticlabs/dialectic/internal/domain"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	ids := r.IDs()
	assert.Len(t, ids, 8)
	assert.Contains(t, ids, "MAI-BIO-CRISPR-01")
	assert.Contains(t, ids, "EL-ETH-UTIL-DEON-01")
	assert.Contains(t, ids, "APO-PHY-HEAT-TEMP-01")

	for _, id := range ids {
		s, err := r.Get(id)
		require.NoError(t, err)
		assert.NotEmpty(t, s.Persona)
		assert.NotEmpty(t, s.Prompt)
		// Every scenario supports at least a five-turn dialogue.
		assert.GreaterOrEqual(t, s.Turns(), 5, "scenario %s", id)
	}

	_, err := r.Get("NO-SUCH-SCENARIO")
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]*Scenario{
		{ID: "X", Vector: VectorAporia},
		{ID: "X", Vector: VectorElenchus},
	})
	assert.Error(t, err)
}

func TestScenario_StudentUtterance(t *testing.T) {
	s := &Scenario{
		ID:        "T-1",
		Prompt:    "opening",
		FollowUps: []string{"second", "third"},
	}

	first, err := s.StudentUtterance(0)
	require.NoError(t, err)
	assert.Equal(t, "opening", first)

	second, err := s.StudentUtterance(1)
	require.NoError(t, err)
	assert.Equal(t, "second", second)

	third, err := s.StudentUtterance(2)
	require.NoError(t, err)
	assert.Equal(t, "third", third)

	_, err = s.StudentUtterance(3)
	assert.Error(t, err)

	assert.Equal(t, 3, s.Turns())
}

func TestScenario_SystemPrompt(t *testing.T) {
	r := Default()

	s, err := r.Get("MAI-BIO-CRISPR-01")
	require.NoError(t, err)

	prompt := s.SystemPrompt()
	assert.Contains(t, prompt, "Socratic facilitator")
	assert.Contains(t, prompt, "Vector: MAIEUTICS")
	assert.Contains(t, prompt, "Scaffold")
	assert.Contains(t, prompt, s.Persona)
	assert.True(t, strings.HasSuffix(prompt, "(no explanations, no answers)."))

	elenchus, err := r.Get("EL-CIV-FREE-HARM-01")
	require.NoError(t, err)
	assert.Contains(t, elenchus.SystemPrompt(), "contradictions")

	aporia, err := r.Get("APO-PHY-QUANT-OBS-01")
	require.NoError(t, err)
	assert.Contains(t, aporia.SystemPrompt(), "aporia")
}
