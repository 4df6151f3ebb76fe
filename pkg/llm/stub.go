package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/compass/pkg/types"
)

// Stub is the terminal backend of a fallback chain. It never fails and
// produces a deterministic templated response from the last user message,
// so the assistant degrades to canned analysis instead of an error when
// every hosted backend is down.
type Stub struct{}

// NewStub returns the deterministic fallback backend.
func NewStub() *Stub { return &Stub{} }

// Complete produces the templated response. The output depends only on
// the input messages.
func (s *Stub) Complete(_ context.Context, messages []*types.Message) (*types.Message, error) {
	prompt := lastUserContent(messages)
	subject := firstLine(prompt)
	if len(subject) > 80 {
		subject = subject[:80]
	}
	content := fmt.Sprintf(
		"Based on the available market data, here is a preliminary assessment.\n\n"+
			"Request: %s\n\n"+
			"The market shows moderate activity with established competitors and room "+
			"for a differentiated entrant. Focus on underserved customer segments, "+
			"competitive pricing at entry, and location visibility. Validate demand "+
			"with a small pilot before committing to a full launch.\n\n"+
			"Confidence: 0.5 (offline estimate, live analysis unavailable)",
		subject)
	return types.NewAssistantMessage(content), nil
}

// Name identifies the backend.
func (s *Stub) Name() string { return "stub" }

// Model reports the placeholder model name.
func (s *Stub) Model() string { return "stub-analysis-v1" }

func lastUserContent(messages []*types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
