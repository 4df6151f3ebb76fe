// Package session runs the conversational loop: each chat request becomes
// a persisted turn that starts pending, gets the user's assembled memory
// context attached, goes to the LLM, and resolves to either the response
// or a polite failure message. A crash mid-request leaves the pending
// marker behind as evidence rather than losing the turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/compass/pkg/llm"
	"github.com/entrhq/compass/pkg/logging"
	"github.com/entrhq/compass/pkg/memory"
	"github.com/entrhq/compass/pkg/types"
)

// DefaultTimeout bounds one LLM request.
const DefaultTimeout = 60 * time.Second

const (
	failureMessage = "I apologize, but I could not complete your request. Please try again."
	timeoutMessage = "The analysis is taking longer than expected. Please try again in a moment."
)

const systemPromptTemplate = `You are a market intelligence assistant helping small business founders evaluate opportunities. Answer from the data in the user's history where possible and say so when you are extrapolating.

%s`

// Option configures a Session.
type Option func(*Session)

// WithTimeout overrides the per-request LLM timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Session orchestrates chat turns for all users against one store and one
// LLM backend.
type Session struct {
	store     *memory.Store
	assembler *memory.Assembler
	provider  llm.Provider
	logger    *logging.Logger
	timeout   time.Duration
	dataDir   string
}

// NewSession wires a session.
func NewSession(store *memory.Store, assembler *memory.Assembler, provider llm.Provider, opts ...Option) *Session {
	s := &Session{
		store:     store,
		assembler: assembler,
		provider:  provider,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *Session) warnf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger.Warnf(format, v...)
	}
}

// StartTurn persists a new pending turn for the user's message.
func (s *Session) StartTurn(userID, message, businessType, location string) (memory.ConversationTurn, error) {
	return s.store.AddTurn(userID, message, businessType, location)
}

// ResolveTurn records the assistant's response on a pending turn.
func (s *Session) ResolveTurn(userID, turnID, response string) error {
	return s.store.SetResponse(userID, turnID, response)
}

// FailTurn records a human-readable failure description on a pending
// turn, so the history never shows a turn as answered when it was not.
// An empty description falls back to the generic failure message.
func (s *Session) FailTurn(userID, turnID, description string) error {
	if description == "" {
		description = failureMessage
	}
	return s.store.SetResponse(userID, turnID, description)
}

// recoverCorrupt reports whether err means the user's record was found
// corrupt and quarantined, in which case the failed operation can be
// retried once against the fresh record.
func (s *Session) recoverCorrupt(err error) bool {
	var corrupt *memory.CorruptRecordError
	if !errors.As(err, &corrupt) {
		return false
	}
	s.warnf("session: %v", err)
	return true
}

// Chat runs one full turn: persist pending, assemble context, call the
// LLM under the timeout, resolve. On any backend failure the turn is
// failed with a polite message which is returned to the caller; Chat
// errors only when the turn itself cannot be persisted.
func (s *Session) Chat(ctx context.Context, userID, message, businessType, location string) (string, error) {
	turn, err := s.StartTurn(userID, message, businessType, location)
	if err != nil && s.recoverCorrupt(err) {
		turn, err = s.StartTurn(userID, message, businessType, location)
	}
	if err != nil {
		return "", fmt.Errorf("session: start turn: %w", err)
	}

	userContext := s.loadContext(userID, businessType, location)
	s.logf("session: turn %s for user %s (~%d context tokens)",
		turn.ID, userID, s.assembler.EstimateTokens(userContext))

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.provider.Complete(callCtx, []*types.Message{
		types.NewSystemMessage(fmt.Sprintf(systemPromptTemplate, userContext)),
		types.NewUserMessage(message),
	})
	if err != nil {
		reply := failureMessage
		if errors.Is(err, context.DeadlineExceeded) {
			reply = timeoutMessage
		}
		s.warnf("session: turn %s failed: %v", turn.ID, err)
		if resolveErr := s.FailTurn(userID, turn.ID, reply); resolveErr != nil {
			return "", fmt.Errorf("session: record failure: %w", resolveErr)
		}
		return reply, nil
	}

	if err := s.ResolveTurn(userID, turn.ID, response.Content); err != nil {
		return "", fmt.Errorf("session: resolve turn: %w", err)
	}
	return response.Content, nil
}

// loadContext assembles the user's memory context. A quarantined record
// degrades to the empty-context placeholder instead of blocking the chat.
func (s *Session) loadContext(userID, businessType, location string) string {
	rec, err := s.store.Load(userID)
	if err != nil {
		var corrupt *memory.CorruptRecordError
		if errors.As(err, &corrupt) {
			s.warnf("session: %v", err)
			rec, err = s.store.Load(userID)
		}
		if err != nil {
			s.warnf("session: load record for %s: %v", userID, err)
			return memory.NoDataPlaceholder
		}
	}

	var filter *memory.SubjectFilter
	if businessType != "" || location != "" {
		filter = &memory.SubjectFilter{BusinessType: businessType, Location: location}
	}
	return s.assembler.BuildContext(rec, filter)
}
