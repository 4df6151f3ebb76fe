// Package llm abstracts the LLM backends used to generate analysis
// narratives and chat responses. Concrete providers live in subpackages;
// Chain composes them into an ordered fallback list.
package llm

import (
	"context"
	"fmt"

	"github.com/entrhq/compass/pkg/types"
)

// Provider is a single LLM backend.
type Provider interface {
	// Complete sends the conversation to the backend and returns the
	// assistant's full response. The context bounds the call; a cancelled
	// or expired context aborts the request.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// Name identifies the backend in logs and errors, e.g. "cerebras".
	Name() string

	// Model returns the model the backend is configured for.
	Model() string
}

// ProviderError wraps a failure from one named backend so callers can tell
// which link of a fallback chain failed.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
