package agent

import (
	"sync"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/policy"
)

var (
	ErrNotAwaiting   = errors.Sentinel("no decision is pending")
	ErrUnknownAction = errors.Sentinel("action is not pending")
	ErrGateBusy      = errors.Sentinel("previous actions are still undecided")
)

type GateState int

const (
	GateIdle GateState = iota
	GateEvaluating
	GateAwaitingDecision
	GateResolved
)

func (s GateState) String() string {
	switch s {
	case GateEvaluating:
		return "evaluating"
	case GateAwaitingDecision:
		return "awaiting-decision"
	case GateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Decision answers one pending action. The zero value means undecided.
type Decision int

const (
	Approve Decision = iota + 1
	ApproveAlways
	ApproveRiskThreshold
	Reject
	Defer
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case ApproveAlways:
		return "approve-always"
	case ApproveRiskThreshold:
		return "approve-risk-threshold"
	case Reject:
		return "reject"
	case Defer:
		return "defer"
	default:
		return "undecided"
	}
}

// Approves reports whether d lets the action run.
func (d Decision) Approves() bool {
	return d == Approve || d == ApproveAlways || d == ApproveRiskThreshold
}

// Outcome is the gate's verdict on one action of a resolved batch.
type Outcome struct {
	Action Action
	// NeedsDecision is the classification made when the action was evaluated.
	NeedsDecision bool
	Decision      Decision
	Reason        string
	// Run is set by Take for the actions handed out for execution.
	Run bool
}

// Approved reports whether the action may run.
func (o Outcome) Approved() bool {
	return !o.NeedsDecision || o.Decision.Approves()
}

// Gate holds the actions proposed in the current step and the decisions made
// about them. A suspended turn lives entirely in this state; no goroutine
// waits on it.
type Gate struct {
	mu       sync.Mutex
	store    *policy.Store
	state    GateState
	batch    []Outcome
	deferred bool
}

func NewGate(store *policy.Store) *Gate {
	return &Gate{store: store}
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Begin marks the start of a turn.
func (g *Gate) Begin() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateIdle || g.state == GateResolved {
		g.state = GateEvaluating
	}
}

// Evaluate classifies actions under the policy current at this moment and
// returns them with their assessed risk. The gate moves to awaiting-decision
// when at least one of them needs confirmation and to resolved otherwise.
func (g *Gate) Evaluate(actions []Action) ([]Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == GateAwaitingDecision || len(g.batch) > 0 {
		return nil, ErrGateBusy
	}

	awaiting := false
	classified := make([]Action, len(actions))
	for i, a := range actions {
		risk, needs := g.store.Classify(a.Tool, a.Args)
		a.Risk = risk
		classified[i] = a
		g.batch = append(g.batch, Outcome{Action: a, NeedsDecision: needs})
		awaiting = awaiting || needs
	}
	if awaiting {
		g.state = GateAwaitingDecision
	} else {
		g.state = GateResolved
	}
	g.deferred = false
	return classified, nil
}

// Pending returns the actions still waiting for a decision, in proposal order.
func (g *Gate) Pending() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingLocked()
}

func (g *Gate) pendingLocked() []Action {
	var out []Action
	for _, o := range g.batch {
		if o.NeedsDecision && o.Decision == 0 {
			out = append(out, o.Action)
		}
	}
	return out
}

// Deferred reports whether a defer decision paused the current batch.
func (g *Gate) Deferred() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deferred
}

// Decide records d for the pending action id. Defer leaves the action
// pending and marks the batch deferred. Approve-always and
// approve-risk-threshold change the policy through the store; the new policy
// only affects actions evaluated afterwards, so the rest of this batch still
// needs its own decisions.
func (g *Gate) Decide(id string, d Decision, reason string) error {
	g.mu.Lock()
	if g.state != GateAwaitingDecision {
		g.mu.Unlock()
		return ErrNotAwaiting
	}
	idx := -1
	for i, o := range g.batch {
		if o.Action.ID == id && o.NeedsDecision && o.Decision == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return errors.Wrapf(ErrUnknownAction, "%s", id)
	}

	if d == Defer {
		g.deferred = true
		g.mu.Unlock()
		return nil
	}
	g.batch[idx].Decision = d
	g.batch[idx].Reason = reason
	if len(g.pendingLocked()) == 0 {
		g.state = GateResolved
		g.deferred = false
	}
	g.mu.Unlock()

	switch d {
	case ApproveAlways:
		g.store.Set(policy.Never())
	case ApproveRiskThreshold:
		g.store.Set(policy.Risky(policy.DefaultThreshold))
	}
	return nil
}

// DecideAll applies d to every pending action in order.
func (g *Gate) DecideAll(d Decision, reason string) error {
	pending := g.Pending()
	if len(pending) == 0 {
		return ErrNotAwaiting
	}
	for _, a := range pending {
		if err := g.Decide(a.ID, d, reason); err != nil {
			return err
		}
		if d == Defer {
			return nil
		}
	}
	return nil
}

// Undefer clears a previous defer so the pending actions can be decided.
func (g *Gate) Undefer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deferred = false
}

// Take hands the resolved batch to the runner in proposal order and returns
// the gate to evaluating.
func (g *Gate) Take() ([]Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GateResolved {
		return nil, ErrNotAwaiting
	}
	batch := g.batch
	for i := range batch {
		batch[i].Run = batch[i].Approved()
	}
	g.batch = nil
	g.state = GateEvaluating
	return batch, nil
}

// Abort drops the current batch and returns the actions that were not
// handed out for execution. The gate goes idle.
func (g *Gate) Abort() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	var dropped []Action
	for _, o := range g.batch {
		dropped = append(dropped, o.Action)
	}
	g.batch = nil
	g.deferred = false
	g.state = GateIdle
	return dropped
}

// End returns the gate to idle at the end of a turn.
func (g *Gate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = GateIdle
}
