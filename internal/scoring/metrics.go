package scoring

import "strings"

// MetricFunc scores one tutor reply on a 0-1 scale.
type MetricFunc func(text string) float64

// Word-count band for the conciseness metric. A Socratic reply of one or two
// probing questions lands comfortably inside it.
const (
	minConciseWords = 5
	maxConciseWords = 100
)

// yesNoMarkers flag closed questions; their presence disqualifies a reply
// from the open-endedness heuristic.
var yesNoMarkers = []string{"yes", "no", "is it", "are you", "do you", "did you", "can you"}

// HeuristicMetrics is the default metric set: question presence,
// open-endedness, and conciseness.
func HeuristicMetrics() map[string]MetricFunc {
	return map[string]MetricFunc{
		"question":   QuestionPresence,
		"open_ended": OpenEndedness,
		"concise":    Conciseness,
	}
}

// QuestionPresence scores 1 when the reply asks at least one question.
func QuestionPresence(text string) float64 {
	if strings.Contains(text, "?") {
		return 1
	}
	return 0
}

// OpenEndedness scores 1 when the reply asks a question without leaning on
// yes/no phrasing.
func OpenEndedness(text string) float64 {
	if !strings.Contains(text, "?") {
		return 0
	}
	lower := strings.ToLower(text)
	for _, marker := range yesNoMarkers {
		if strings.Contains(lower, marker) {
			return 0
		}
	}
	return 1
}

// Conciseness scores 1 inside the word-count band and decays linearly
// outside it.
func Conciseness(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words == 0:
		return 0
	case words < minConciseWords:
		return float64(words) / minConciseWords
	case words <= maxConciseWords:
		return 1
	default:
		return float64(maxConciseWords) / float64(words)
	}
}
