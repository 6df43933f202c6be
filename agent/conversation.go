package agent

import (
	"sync"
	"time"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"go.opentelemetry.io/otel/trace"
)

// TurnState is the running/idle flag of a conversation.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnRunning
	TurnAwaiting
	TurnPaused
)

func (s TurnState) String() string {
	switch s {
	case TurnRunning:
		return "running"
	case TurnAwaiting:
		return "awaiting-decision"
	case TurnPaused:
		return "paused"
	default:
		return "idle"
	}
}

// Conversation is the per-session state the Runner drives: history, turn
// flags, the policy store and the gate.
type Conversation struct {
	ID      string
	Workdir string
	Policy  *policy.Store
	Gate    *Gate

	agent Agent

	mu      sync.Mutex
	history []llm.Message
	state   TurnState
	cancel  bool
	pause   bool
	queued  []string
	span    trace.Span
	started time.Time

	persist func([]llm.Message) error
	closers []func() error
}

type ConversationOption func(*Conversation)

// WithHistory seeds the conversation, e.g. from a stored session.
func WithHistory(msgs []llm.Message) ConversationOption {
	return func(c *Conversation) { c.history = append([]llm.Message(nil), msgs...) }
}

// WithPersist is called with a copy of the history after each executed batch
// and at the end of every turn.
func WithPersist(fn func([]llm.Message) error) ConversationOption {
	return func(c *Conversation) { c.persist = fn }
}

// WithCloser registers a function run by Close.
func WithCloser(fn func() error) ConversationOption {
	return func(c *Conversation) { c.closers = append(c.closers, fn) }
}

func NewConversation(id, workdir string, a Agent, store *policy.Store, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		ID:      id,
		Workdir: workdir,
		Policy:  store,
		Gate:    NewGate(store),
		agent:   a,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conversation) Agent() Agent { return c.agent }

func (c *Conversation) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the messages so far.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

// Close releases the conversation's resources. A turn still in flight keeps
// running until its next checkpoint, where it is cancelled.
func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.state != TurnIdle {
		c.cancel = true
	}
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

func (c *Conversation) append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msgs...)
}

func (c *Conversation) cancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel
}
