package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/compass/pkg/types"
)

type fakeProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Complete(_ context.Context, _ []*types.Message) (*types.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return types.NewAssistantMessage(f.response), nil
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func TestChainFirstProviderSucceeds(t *testing.T) {
	first := &fakeProvider{name: "first", response: "from first"}
	second := &fakeProvider{name: "second", response: "from second"}
	chain := NewChain(first, second)

	msg, err := chain.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "from first", msg.Content)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "chain should short-circuit on success")
}

func TestChainFallsBackOnError(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("rate limited")}
	second := &fakeProvider{name: "second", response: "from second"}
	chain := NewChain(first, second)

	msg, err := chain.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "from second", msg.Content)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChainAllProvidersFail(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("down")}
	second := &fakeProvider{name: "second", err: errors.New("also down")}
	chain := NewChain(first, second)

	_, err := chain.Complete(context.Background(), []*types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)

	var provErr *ProviderError
	assert.True(t, errors.As(err, &provErr), "error should carry provider attribution")
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "also down")
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain()
	_, err := chain.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("down")}
	second := &fakeProvider{name: "second", response: "never reached"}
	chain := NewChain(first, second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chain.Complete(ctx, []*types.Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestStubDeterministic(t *testing.T) {
	stub := NewStub()
	messages := []*types.Message{
		types.NewSystemMessage("you are a market analyst"),
		types.NewUserMessage("Should I open a bakery in Pune?"),
	}

	first, err := stub.Complete(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, first.Role)
	assert.Contains(t, first.Content, "Should I open a bakery in Pune?")
	assert.Contains(t, first.Content, "Confidence:")

	second, err := stub.Complete(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content, "stub output must be deterministic")
}

func TestChainWithStubTerminalNeverFails(t *testing.T) {
	broken := &fakeProvider{name: "hosted", err: errors.New("down")}
	chain := NewChain(broken, NewStub())

	msg, err := chain.Complete(context.Background(), []*types.Message{types.NewUserMessage("q")})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Content)
}
