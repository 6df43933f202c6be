package agent

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrTurnInProgress  = errors.Sentinel("a turn is already running for this session")
	ErrNothingToResume = errors.Sentinel("no paused or suspended turn")
	ErrPolicyViolation = errors.Sentinel("action reached execution without an approval")
)

const (
	cancelledResult = "Action was not executed: the turn was cancelled."
	rejectedResult  = "The user rejected this action."
)

// Runner drives conversations one step at a time. It holds no per-session
// state, so one Runner serves every session.
type Runner struct {
	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("github.com/m4xw311/warden/agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTurn sends message into the conversation and returns the turn's events.
// The sequence must be consumed; it ends with a terminal event or with
// EventAwaitingDecision/EventPaused, after which Resume continues the turn.
//
// A message sent to a paused turn is queued behind the retained pending
// actions, which are offered for decision again.
func (r *Runner) RunTurn(ctx context.Context, c *Conversation, message string) (iter.Seq[Event], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case TurnRunning, TurnAwaiting:
		return nil, ErrTurnInProgress
	case TurnPaused:
		c.queued = append(c.queued, message)
		c.Gate.Undefer()
		c.state = TurnRunning
		r.logger.Debug("prompt queued behind paused turn", "session", c.ID)
		return r.drive(ctx, c), nil
	}

	c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: message})
	c.state = TurnRunning
	c.cancel = false
	c.pause = false
	c.started = time.Now()
	_, c.span = r.tracer.Start(ctx, "warden.turn", trace.WithAttributes(attribute.String("session.id", c.ID)))
	c.Gate.Begin()
	r.logger.Debug("turn started", "session", c.ID)
	return r.drive(ctx, c), nil
}

// Resume continues a turn that suspended for decisions or was paused.
func (r *Runner) Resume(ctx context.Context, c *Conversation) (iter.Seq[Event], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case TurnAwaiting:
	case TurnPaused:
		c.Gate.Undefer()
	default:
		return nil, ErrNothingToResume
	}
	c.state = TurnRunning
	return r.drive(ctx, c), nil
}

// Cancel requests cooperative cancellation. It returns false when no turn is
// active, which is not an error. A running turn stops at its next checkpoint;
// a paused turn is cancelled immediately and its pending actions rejected.
func (r *Runner) Cancel(c *Conversation) bool {
	c.mu.Lock()
	switch c.state {
	case TurnIdle:
		c.mu.Unlock()
		r.logger.Debug("cancel after turn end ignored", "session", c.ID)
		return false
	case TurnRunning, TurnAwaiting:
		c.cancel = true
		c.mu.Unlock()
		return true
	}
	dropped := c.Gate.Abort()
	for _, a := range dropped {
		c.history = append(c.history, llm.ToolResult(a.Call(), cancelledResult, true))
	}
	c.queued = nil
	c.state = TurnIdle
	r.endSpan(c, "cancelled", nil)
	c.mu.Unlock()
	r.save(c)
	return true
}

// Pause defers the turn. A running turn pauses at its next step boundary; a
// turn awaiting decisions pauses immediately with its pending set retained.
func (r *Runner) Pause(c *Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case TurnRunning:
		c.pause = true
		return true
	case TurnAwaiting:
		if err := c.Gate.DecideAll(Defer, ""); err != nil {
			return false
		}
		c.state = TurnPaused
		return true
	}
	return false
}

func (r *Runner) drive(ctx context.Context, c *Conversation) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		t := &turn{r: r, c: c, yield: yield}
		t.run(ctx)
	}
}

// turn is one pass of the step loop over a conversation.
type turn struct {
	r       *Runner
	c       *Conversation
	yield   func(Event) bool
	stopped bool
}

// emit forwards ev; once the consumer stops reading, the turn is abandoned
// as cancelled.
func (t *turn) emit(ev Event) bool {
	if t.stopped {
		return false
	}
	if !t.yield(ev) {
		t.stopped = true
		return false
	}
	return true
}

func (t *turn) run(ctx context.Context) {
	c := t.c
	for {
		if c.cancelRequested() {
			t.cancelled()
			return
		}

		switch c.Gate.State() {
		case GateAwaitingDecision:
			pending := c.Gate.Pending()
			c.mu.Lock()
			kind := EventAwaitingDecision
			c.state = TurnAwaiting
			if c.Gate.Deferred() {
				kind = EventPaused
				c.state = TurnPaused
			}
			c.mu.Unlock()
			if !t.emit(Event{Kind: kind, Pending: pending}) {
				t.abandon()
			}
			return
		case GateResolved:
			outcomes, err := c.Gate.Take()
			if err != nil {
				t.failed(err)
				return
			}
			if !t.execute(ctx, outcomes) {
				return
			}
			t.r.save(c)
			continue
		}

		c.mu.Lock()
		if c.pause {
			c.pause = false
			c.state = TurnPaused
			c.mu.Unlock()
			if !t.emit(Event{Kind: EventPaused}) {
				t.abandon()
			}
			return
		}
		for _, q := range c.queued {
			c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: q})
		}
		c.queued = nil
		history := append([]llm.Message(nil), c.history...)
		c.mu.Unlock()

		msg, err := c.agent.Step(ctx, history)
		if err != nil {
			if c.cancelRequested() || ctx.Err() != nil {
				t.cancelled()
			} else {
				t.failed(err)
			}
			return
		}
		c.append(*msg)

		// The reply stays in history but is not shown, and none of its
		// tool calls run.
		if c.cancelRequested() {
			for _, tc := range msg.ToolCalls {
				c.append(llm.ToolResult(tc, cancelledResult, true))
			}
			t.cancelled()
			return
		}

		if len(msg.ToolCalls) == 0 {
			if msg.Content != "" && !t.emit(Event{Kind: EventMessage, Text: msg.Content}) {
				t.abandon()
				return
			}
			t.finished()
			return
		}
		if msg.Content != "" && !t.emit(Event{Kind: EventThought, Text: msg.Content}) {
			t.abandon()
			return
		}

		actions := make([]Action, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			actions[i] = Action{ID: tc.ToolCallID, Tool: tc.Name, Args: tc.Args}
		}
		classified, err := c.Gate.Evaluate(actions)
		if err != nil {
			t.failed(err)
			return
		}
		for i := range classified {
			a := classified[i]
			if !t.emit(Event{Kind: EventToolProposed, Action: &a}) {
				t.abandon()
				return
			}
		}
	}
}

// execute runs a resolved batch in proposal order. The cancellation
// checkpoint sits before every tool; a tool already started always finishes.
// It returns false when the turn ended.
func (t *turn) execute(ctx context.Context, outcomes []Outcome) bool {
	c := t.c
	for i, o := range outcomes {
		a := o.Action
		if c.cancelRequested() {
			for _, rest := range outcomes[i:] {
				c.append(llm.ToolResult(rest.Action.Call(), cancelledResult, true))
			}
			t.cancelled()
			return false
		}

		if !o.Run {
			reason := o.Reason
			if reason == "" {
				reason = rejectedResult
			}
			c.append(llm.ToolResult(a.Call(), reason, true))
			if !t.emit(Event{Kind: EventToolRejected, Action: &a, Text: reason}) {
				t.abandonRest(outcomes[i+1:])
				return false
			}
			continue
		}
		if o.NeedsDecision && !o.Decision.Approves() {
			t.r.logger.Error("policy violation", "session", c.ID, "tool", a.Tool, "action", a.ID)
			for _, rest := range outcomes[i:] {
				c.append(llm.ToolResult(rest.Action.Call(), cancelledResult, true))
			}
			t.failed(ErrPolicyViolation)
			return false
		}

		if !t.emit(Event{Kind: EventToolStarted, Action: &a}) {
			t.abandonRest(outcomes[i:])
			return false
		}
		output, failed := t.runTool(ctx, o)
		c.append(llm.ToolResult(a.Call(), output, failed))
		if !t.emit(Event{Kind: EventToolResult, Action: &a, Output: output, Failed: failed}) {
			t.abandonRest(outcomes[i+1:])
			return false
		}

		if a.Tool == tools.TaskTrackerName && !failed && a.Args["command"] == "plan" {
			if plan, err := tools.ParseTaskList(a.Args); err == nil {
				if !t.emit(Event{Kind: EventPlan, Plan: plan}) {
					t.abandonRest(outcomes[i+1:])
					return false
				}
			}
		}
	}
	return true
}

func (t *turn) runTool(ctx context.Context, o Outcome) (string, bool) {
	a := o.Action
	ctx, span := t.r.tracer.Start(ctx, "warden.tool", trace.WithAttributes(
		attribute.String("session.id", t.c.ID),
		attribute.String("tool.name", a.Tool),
		attribute.String("tool.risk", a.Risk.String()),
		attribute.String("tool.decision", o.Decision.String()),
	))
	defer span.End()

	start := time.Now()
	output, err := t.c.agent.Execute(ctx, a.Call())
	t.r.logger.Debug("tool executed", "session", t.c.ID, "tool", a.Tool, "duration", time.Since(start), "error", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "Error: " + err.Error(), true
	}
	return output, false
}

func (t *turn) finished() {
	c := t.c
	c.Gate.End()
	c.mu.Lock()
	c.state = TurnIdle
	t.r.endSpan(c, "finished", nil)
	c.mu.Unlock()
	t.r.save(c)
	t.emit(Event{Kind: EventTurnFinished})
}

func (t *turn) cancelled() {
	t.r.logger.Debug("turn cancelled", "session", t.c.ID)
	t.end(EventTurnCancelled, nil)
}

// failed ends the turn with an error event. The conversation stays usable.
func (t *turn) failed(err error) {
	t.r.logger.Warn("turn failed", "session", t.c.ID, "error", err)
	t.end(EventTurnError, err)
}

func (t *turn) end(kind EventKind, err error) {
	c := t.c
	dropped := c.Gate.Abort()
	c.mu.Lock()
	for _, a := range dropped {
		c.history = append(c.history, llm.ToolResult(a.Call(), cancelledResult, true))
	}
	c.queued = nil
	c.cancel = false
	c.pause = false
	c.state = TurnIdle
	outcome := "cancelled"
	if kind == EventTurnError {
		outcome = "error"
	}
	t.r.endSpan(c, outcome, err)
	c.mu.Unlock()
	t.r.save(c)
	t.emit(Event{Kind: kind, Err: err})
}

// abandon ends a turn whose consumer stopped reading.
func (t *turn) abandon() {
	t.r.logger.Debug("event consumer stopped, abandoning turn", "session", t.c.ID)
	t.end(EventTurnCancelled, nil)
}

func (t *turn) abandonRest(rest []Outcome) {
	for _, o := range rest {
		t.c.append(llm.ToolResult(o.Action.Call(), cancelledResult, true))
	}
	t.abandon()
}

// endSpan must be called with c.mu held.
func (r *Runner) endSpan(c *Conversation, outcome string, err error) {
	if c.span == nil {
		return
	}
	c.span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int64("turn.duration_ms", time.Since(c.started).Milliseconds()),
	)
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.End()
	c.span = nil
}

func (r *Runner) save(c *Conversation) {
	if c.persist == nil {
		return
	}
	if err := c.persist(c.History()); err != nil {
		r.logger.Warn("failed to save session", "session", c.ID, "error", err)
	}
}
