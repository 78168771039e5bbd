package domain

import (
	"fmt"
	"strings"
	"time"
)

// Turn is one prompt/reply exchange within a run, ordered by TurnIndex
// (0-based, contiguous, no gaps). Prompt and reply bodies live in the object
// store; the row carries references plus cheap derived fields.
//
// A turn is written exactly once per (RunID, TurnIndex): a duplicate write
// with the same key is a no-op, never a distinct row.
type Turn struct {
	RunID     string `json:"run_id" validate:"required,uuid"`
	TurnIndex int    `json:"turn_index" validate:"min=0"`

	// PromptRef and ReplyRef are object-store keys for the full bodies.
	PromptRef string `json:"prompt_ref" validate:"required"`
	ReplyRef  string `json:"reply_ref" validate:"required"`

	LatencyMS    int64 `json:"latency_ms" validate:"min=0"`
	InputTokens  int   `json:"input_tokens" validate:"min=0"`
	OutputTokens int   `json:"output_tokens" validate:"min=0"`

	// HasQuestion and WordCount are derived from the reply at write time so
	// listings do not need the object store.
	HasQuestion bool `json:"has_question"`
	WordCount   int  `json:"word_count" validate:"min=0"`

	CreatedAt time.Time `json:"created_at" validate:"required"`
}

// Validate checks the turn against its constraints.
func (t *Turn) Validate() error { return validate.Struct(t) }

// PromptKey returns the object-store key for a turn's prompt body.
func PromptKey(runID string, turnIndex int) string {
	return fmt.Sprintf("runs/%s/turn_%03d_prompt", runID, turnIndex)
}

// ReplyKey returns the object-store key for a turn's reply body.
func ReplyKey(runID string, turnIndex int) string {
	return fmt.Sprintf("runs/%s/turn_%03d_reply", runID, turnIndex)
}

// SummaryKey returns the object-store key for a run's curated summary document.
func SummaryKey(runID string) string {
	return fmt.Sprintf("runs/%s/summary", runID)
}

// ContiguousTurns reports whether indices form the exact sequence 0..n-1.
// The slice must be sorted ascending.
func ContiguousTurns(indices []int) bool {
	for i, idx := range indices {
		if idx != i {
			return false
		}
	}
	return true
}

// CountWords counts whitespace-separated tokens in a reply.
func CountWords(text string) int { return len(strings.Fields(text)) }
