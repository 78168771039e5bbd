package scenario

import (
	"fmt"
	"strings"
)

const facilitatorRole = "You are a Socratic facilitator. Ask only open-ended, probing questions. Do not lecture. Do not provide answers. " +
	"Use the student's own words to surface assumptions. Keep language age-appropriate and concise."

const responseInstruction = "Your response: Ask 1-2 Socratic questions only (no explanations, no answers)."

// objective returns the vector-specific objective line.
func (s *Scenario) objective() string {
	switch s.Vector {
	case VectorElenchus:
		return "Objective: Elicit and probe contradictions in the student's stated belief using their own logic. " +
			"Do not resolve the contradiction for them."
	case VectorMaieutics:
		return "Objective: Scaffold from the student's correct Level-1 understanding to deeper levels by asking stepwise questions. " +
			"Avoid information dumps; introduce one idea per question."
	default:
		return "Objective: Deconstruct a deep misconception, guide the student into productive puzzlement (aporia), then begin rebuilding with questions. " +
			"Stay non-directive; never substitute your explanation for their thinking."
	}
}

// SystemPrompt builds the system prompt carrying the facilitator role, the
// vector objective, and the student persona. Conversation turns travel as
// chat messages, not inside this prompt.
func (s *Scenario) SystemPrompt() string {
	return fmt.Sprintf("%s\n\nVector: %s\n%s\n\nPersona: %s\n\n%s",
		facilitatorRole, strings.ToUpper(s.Vector), s.objective(), s.Persona, responseInstruction)
}
