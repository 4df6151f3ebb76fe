// Package tokenizer estimates token counts for context budgeting. It
// wraps the cl100k_base byte-pair encoding used by the chat models the
// assistant targets.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/compass/pkg/types"
)

const encodingName = "cl100k_base"

// Tokenizer counts tokens against a fixed encoding. Safe for concurrent
// use.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the encoding. Loading can fail when the BPE data is
// unavailable; callers that only need a rough estimate can fall back to a
// character heuristic.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", encodingName, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the total token count across a conversation,
// including a small per-message overhead for role framing.
func (t *Tokenizer) CountMessages(messages []*types.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		total += t.CountTokens(m.Content) + perMessageOverhead
	}
	return total
}
