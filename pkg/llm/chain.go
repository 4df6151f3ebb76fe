package llm

import (
	"context"
	"errors"

	"github.com/entrhq/compass/pkg/types"
)

// ErrNoProviders is returned by a Chain constructed with no backends.
var ErrNoProviders = errors.New("llm: chain has no providers")

// Chain is a Provider that tries its backends in order, returning the
// first successful completion. A backend failure moves on to the next one;
// only when every backend fails does the chain return an error, joining
// the per-backend failures. A typical chain is a fast hosted model, a
// second hosted fallback, then a deterministic stub so the assistant
// always answers.
type Chain struct {
	providers []Provider
}

// NewChain builds a fallback chain over the given backends, tried in the
// order given.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Complete tries each backend in order until one succeeds. Context
// cancellation stops the chain immediately rather than burning the
// remaining backends on a request nobody is waiting for.
func (c *Chain) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}
	var failures []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		msg, err := p.Complete(ctx, messages)
		if err == nil {
			return msg, nil
		}
		failures = append(failures, &ProviderError{Provider: p.Name(), Err: err})
	}
	return nil, errors.Join(failures...)
}

// Name identifies the chain in logs.
func (c *Chain) Name() string { return "chain" }

// Model reports the model of the first backend, the one the chain prefers.
func (c *Chain) Model() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].Model()
}
