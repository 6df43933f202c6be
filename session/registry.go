package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
)

var ErrNotFound = errors.Sentinel("session not found")

// Factory builds the agent of a new or reloaded session. The returned close
// function, when not nil, runs once the session ends.
type Factory func(ctx context.Context, id string, spec Spec) (agent.Agent, func() error, error)

// Registry owns the live sessions. It is safe for concurrent use.
type Registry struct {
	factory  Factory
	store    *FileStore
	policy   policy.Policy
	analyzer policy.Analyzer
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	// reserved holds ids whose factory is still running; ended holds ids
	// that must never be handed out again.
	reserved map[string]struct{}
	ended    map[string]struct{}
}

type RegistryOption func(*Registry)

// WithStore persists every session to s and enables Load.
func WithStore(s *FileStore) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithDefaultPolicy sets the policy of sessions created without one.
func WithDefaultPolicy(p policy.Policy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

func WithAnalyzer(a policy.Analyzer) RegistryOption {
	return func(r *Registry) { r.analyzer = a }
}

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:  factory,
		policy:   policy.Always(),
		logger:   slog.New(slog.DiscardHandler),
		sessions: make(map[string]*Session),
		reserved: make(map[string]struct{}),
		ended:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a session and returns it with a fresh id, or an error; it
// never returns a session without an id. The factory runs without holding the
// registry lock, so a slow start does not block other sessions.
func (r *Registry) Create(ctx context.Context, spec Spec) (*Session, error) {
	id := r.reserve()
	sess, err := r.start(ctx, id, spec, time.Now().UTC())
	if err != nil {
		r.release(id)
		return nil, err
	}
	r.logger.Info("session created", "session", id, "cwd", spec.Cwd)
	return sess, nil
}

// Load restores a stored session under its original id. A live session is
// returned as is. Ended and unknown ids are ErrNotFound.
func (r *Registry) Load(ctx context.Context, id string, spec Spec) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	_, ended := r.ended[id]
	_, busy := r.reserved[id]
	if ended || r.store == nil {
		r.mu.Unlock()
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if busy {
		r.mu.Unlock()
		return nil, errors.New("session %s is still starting", id)
	}
	r.reserved[id] = struct{}{}
	r.mu.Unlock()

	rec, err := r.store.Load(id)
	if err != nil {
		r.release(id)
		return nil, err
	}
	if spec.Cwd == "" {
		spec.Cwd = rec.Cwd
	}
	if spec.Policy == nil && rec.Mode != "" {
		if p, err := policy.FromMode(rec.Mode); err == nil {
			spec.Policy = &p
		}
	}
	spec.History = rec.Messages

	sess, err := r.start(ctx, id, spec, rec.CreatedAt)
	if err != nil {
		r.release(id)
		return nil, err
	}
	r.logger.Info("session loaded", "session", id, "messages", len(rec.Messages))
	return sess, nil
}

func (r *Registry) start(ctx context.Context, id string, spec Spec, created time.Time) (*Session, error) {
	p := r.policy
	if spec.Policy != nil {
		p = *spec.Policy
	}
	store := policy.NewStore(p, r.analyzer)

	a, closeFn, err := r.factory(ctx, id, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "could not start session")
	}

	sess := &Session{
		ID:         id,
		Cwd:        spec.Cwd,
		MCPServers: spec.MCPServers,
		CreatedAt:  created,
	}
	opts := []agent.ConversationOption{agent.WithHistory(spec.History)}
	if closeFn != nil {
		opts = append(opts, agent.WithCloser(closeFn))
	}
	if r.store != nil {
		opts = append(opts, agent.WithPersist(func(msgs []llm.Message) error {
			return r.store.Save(Record{
				ID:        id,
				Cwd:       spec.Cwd,
				CreatedAt: created,
				Mode:      string(store.Get().Mode()),
				Messages:  msgs,
			})
		}))
	}
	sess.conv = agent.NewConversation(id, spec.Cwd, a, store, opts...)

	r.mu.Lock()
	delete(r.reserved, id)
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess, nil
}

// reserve picks an id unused by any live, starting or ended session.
func (r *Registry) reserve() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := uuid.NewString()
		if r.taken(id) {
			continue
		}
		r.reserved[id] = struct{}{}
		return id
	}
}

func (r *Registry) taken(id string) bool {
	_, live := r.sessions[id]
	_, starting := r.reserved[id]
	_, ended := r.ended[id]
	return live || starting || ended
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.reserved, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return s, nil
}

// End removes the session and releases its conversation. Ending an id twice
// returns ErrNotFound the second time.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	delete(r.sessions, id)
	r.ended[id] = struct{}{}
	r.mu.Unlock()

	if err := s.conv.Close(); err != nil {
		r.logger.Warn("error releasing session", "session", id, "error", err)
	}
	r.logger.Info("session ended", "session", id)
	return nil
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close ends every live session.
func (r *Registry) Close() {
	for _, s := range r.List() {
		r.End(s.ID)
	}
}
