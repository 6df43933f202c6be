package policy

import "sync"

// Observer is called synchronously by Set after the policy changed.
type Observer func(previous, current Policy)

type subscription struct {
	id int
	fn Observer
}

// Store is the single owner of one session's policy. Set is the only way to
// change it.
type Store struct {
	mu        sync.RWMutex
	current   Policy
	analyzer  Analyzer
	observers []subscription
	nextID    int
}

// NewStore returns a store holding initial. A nil analyzer falls back to the
// argument analyzer.
func NewStore(initial Policy, analyzer Analyzer) *Store {
	if analyzer == nil {
		analyzer = ArgumentAnalyzer{}
	}
	return &Store{current: initial, analyzer: analyzer}
}

func (s *Store) Get() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the policy and notifies observers in subscription order.
// Setting the current value again is not a change and notifies nobody.
func (s *Store) Set(p Policy) {
	s.mu.Lock()
	previous := s.current
	if previous == p {
		s.mu.Unlock()
		return
	}
	s.current = p
	observers := make([]subscription, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(previous, p)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) Analyzer() Analyzer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyzer
}

func (s *Store) SetAnalyzer(a Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		a = ArgumentAnalyzer{}
	}
	s.analyzer = a
}

// Classify assesses a proposed tool call and reports whether the current
// policy requires a decision for it.
func (s *Store) Classify(tool string, args map[string]any) (Risk, bool) {
	s.mu.RLock()
	p, a := s.current, s.analyzer
	s.mu.RUnlock()
	r := a.Assess(tool, args)
	return r, p.RequiresConfirmation(r)
}
