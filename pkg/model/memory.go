package model

import (
	"fmt"
	"strings"
	"time"
)

// MemoryItem is one record in a memory store, either an ingested
// knowledge document or a saved learning.
type MemoryItem struct {
	ID        int64
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Name returns a human-readable label for the item, preferring the
// metadata title, then the metadata name, then the numeric ID.
func (x *MemoryItem) Name() string {
	for _, key := range []string{"title", "name"} {
		if v, ok := x.Metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("Item %d", x.ID)
}

// MemoryHit is a memory item with its retrieval score. For fused results
// the score is the reciprocal rank fusion score; for single-pass results
// it is the pass's native score.
type MemoryHit struct {
	MemoryItem
	Score float64
}

// Snippet collapses whitespace runs (including newlines) to single
// spaces and truncates to maxLen runes with an ellipsis.
func Snippet(s string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	runes := []rune(collapsed)
	if maxLen <= 0 || len(runes) <= maxLen {
		return collapsed
	}
	return string(runes[:maxLen]) + "..."
}
