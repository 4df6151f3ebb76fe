package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/compass/pkg/memory"
	"github.com/entrhq/compass/pkg/types"
)

type fakeLLM struct {
	response string
	err      error
	waitCtx  bool
	received [][]*types.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	f.received = append(f.received, messages)
	if f.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return types.NewAssistantMessage(f.response), nil
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-model" }

func newTestSession(t *testing.T, provider *fakeLLM, opts ...Option) (*Session, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewSession(store, memory.NewAssembler(), provider, opts...), store
}

func TestChatResolvesTurn(t *testing.T) {
	provider := &fakeLLM{response: "Pune has a healthy bakery market."}
	s, store := newTestSession(t, provider)

	reply, err := s.Chat(context.Background(), "alice", "How is the bakery market?", "bakery", "pune")
	require.NoError(t, err)
	assert.Equal(t, "Pune has a healthy bakery market.", reply)

	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
	turn := rec.ConversationHistory[0]
	assert.False(t, turn.Pending())
	assert.Equal(t, "How is the bakery market?", turn.UserMessage)
	assert.Equal(t, reply, turn.AssistantResponse)
	assert.Equal(t, "bakery", turn.BusinessType)
}

func TestChatIncludesMemoryContext(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	s, store := newTestSession(t, provider)

	require.NoError(t, store.SaveResearch("alice", memory.ResearchRecord{
		BusinessType:     "bakery",
		Location:         "pune",
		Timestamp:        time.Now(),
		ExecutiveSummary: "12 competitors with medium saturation",
		TotalCompetitors: 12,
		MarketSaturation: "medium",
	}))

	_, err := s.Chat(context.Background(), "", "should I expand?", "", "")
	require.Error(t, err, "empty user id must be rejected")

	_, err = s.Chat(context.Background(), "alice", "should I expand?", "", "")
	require.NoError(t, err)

	require.NotEmpty(t, provider.received)
	system := provider.received[len(provider.received)-1][0]
	assert.Equal(t, types.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "12 competitors with medium saturation")
}

func TestChatNewUserGetsPlaceholderContext(t *testing.T) {
	provider := &fakeLLM{response: "welcome"}
	s, _ := newTestSession(t, provider)

	_, err := s.Chat(context.Background(), "newcomer", "hello", "", "")
	require.NoError(t, err)

	system := provider.received[0][0]
	assert.Contains(t, system.Content, memory.NoDataPlaceholder)
}

func TestChatProviderFailure(t *testing.T) {
	provider := &fakeLLM{err: errors.New("every backend down")}
	s, store := newTestSession(t, provider)

	reply, err := s.Chat(context.Background(), "alice", "question", "", "")
	require.NoError(t, err, "backend failure should degrade, not error")
	assert.Equal(t, failureMessage, reply)

	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
	assert.False(t, rec.ConversationHistory[0].Pending(), "failed turn must not stay pending")
	assert.Equal(t, failureMessage, rec.ConversationHistory[0].AssistantResponse)
}

func TestChatTimeout(t *testing.T) {
	provider := &fakeLLM{waitCtx: true}
	s, store := newTestSession(t, provider, WithTimeout(20*time.Millisecond))

	reply, err := s.Chat(context.Background(), "alice", "slow question", "", "")
	require.NoError(t, err)
	assert.Equal(t, timeoutMessage, reply)

	rec, _ := store.Load("alice")
	assert.Equal(t, timeoutMessage, rec.ConversationHistory[0].AssistantResponse)
}

func TestStartResolveFailTurn(t *testing.T) {
	provider := &fakeLLM{}
	s, store := newTestSession(t, provider)

	turn, err := s.StartTurn("alice", "q1", "bakery", "pune")
	require.NoError(t, err)
	require.True(t, turn.Pending())

	require.NoError(t, s.ResolveTurn("alice", turn.ID, "a1"))
	assert.ErrorIs(t, s.ResolveTurn("alice", turn.ID, "a1 again"), memory.ErrNoPendingTurn)

	failed, err := s.StartTurn("alice", "q2", "", "")
	require.NoError(t, err)
	require.NoError(t, s.FailTurn("alice", failed.ID, "the data collector was unreachable"))

	generic, err := s.StartTurn("alice", "q3", "", "")
	require.NoError(t, err)
	require.NoError(t, s.FailTurn("alice", generic.ID, ""))

	rec, _ := store.Load("alice")
	assert.Equal(t, "the data collector was unreachable", rec.ConversationHistory[1].AssistantResponse)
	assert.Equal(t, failureMessage, rec.ConversationHistory[2].AssistantResponse)
}

func TestChatSurvivesCorruptRecord(t *testing.T) {
	provider := &fakeLLM{response: "fresh start"}
	dir := t.TempDir()
	store, err := memory.NewStore(dir)
	require.NoError(t, err)
	s := NewSession(store, memory.NewAssembler(), provider)

	// Poison the record, then chat. The corrupt file is quarantined and
	// the turn proceeds on a fresh record.
	path := filepath.Join(dir, "user_alice_memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err = s.Chat(context.Background(), "alice", "first", "", "")
	require.NoError(t, err)

	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
}
