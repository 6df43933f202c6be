package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/session"
)

// Verbosity controls how much tool activity is printed.
type Verbosity int

const (
	VerbosityNone Verbosity = iota
	VerbosityInfo
	VerbosityAll
)

func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return VerbosityNone, nil
	case "info":
		return VerbosityInfo, nil
	case "all":
		return VerbosityAll, nil
	}
	return VerbosityNone, errors.New("invalid tool verbosity '%s', must be one of: none, info, all", s)
}

func (v Verbosity) String() string {
	switch v {
	case VerbosityInfo:
		return "info"
	case VerbosityAll:
		return "all"
	}
	return "none"
}

var answers = map[string]agent.Decision{
	"y": agent.Approve, "yes": agent.Approve,
	"n": agent.Reject, "no": agent.Reject,
	"a": agent.ApproveAlways, "always": agent.ApproveAlways,
	"r": agent.ApproveRiskThreshold, "risk": agent.ApproveRiskThreshold,
	"d": agent.Defer, "defer": agent.Defer,
}

// Terminal handles the terminal/CLI interaction mode for one session.
type Terminal struct {
	runner    *agent.Runner
	sess      *session.Session
	in        *bufio.Scanner
	out       io.Writer
	verbosity Verbosity
	logger    *slog.Logger

	panel   lipgloss.Style
	dim     lipgloss.Style
	warning lipgloss.Style
}

type Option func(*Terminal)

func WithVerbosity(v Verbosity) Option {
	return func(t *Terminal) { t.verbosity = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Terminal) { t.logger = l }
}

// New creates a Terminal that reads user input from in and writes to out.
func New(runner *agent.Runner, sess *session.Session, in io.Reader, out io.Writer, opts ...Option) *Terminal {
	r := lipgloss.NewRenderer(out)
	t := &Terminal{
		runner: runner,
		sess:   sess,
		in:     bufio.NewScanner(in),
		out:    out,
		logger: slog.New(slog.DiscardHandler),
		panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
		dim:     r.NewStyle().Faint(true),
		warning: r.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cancel cancels the running turn, if any.
func (t *Terminal) Cancel() bool {
	return t.runner.Cancel(t.sess.Conversation())
}

// Run starts the interactive terminal session. It returns when input ends or
// the user quits.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	unsubscribe := t.sess.Policy().Subscribe(func(_, current policy.Policy) {
		fmt.Fprintf(t.out, "Confirmation mode: %s\n", current.Mode())
	})
	defer unsubscribe()

	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, ok := t.readLine()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := t.command(ctx, line); quit {
				break
			}
			continue
		}
		if err := t.processTurn(ctx, line); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}
	return t.in.Err()
}

func (t *Terminal) readLine() (string, bool) {
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

// command runs a slash command and reports whether the session should end.
func (t *Terminal) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(t.out, "Commands:")
		fmt.Fprintln(t.out, "  /confirm [mode]  show or change the confirmation mode")
		fmt.Fprintln(t.out, "  /resume          review actions left for later")
		fmt.Fprintln(t.out, "  /quit            end the session")
	case "confirm":
		if arg == "" {
			fmt.Fprintf(t.out, "Current confirmation mode: %s\n", t.sess.Policy().Get().Mode())
			for _, m := range policy.Modes() {
				fmt.Fprintf(t.out, "  %-14s %s\n", m.ID, t.dim.Render(m.Description))
			}
			return false
		}
		p, err := policy.FromMode(arg)
		if err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
			return false
		}
		t.sess.Policy().Set(p)
	case "resume":
		events, err := t.runner.Resume(ctx, t.sess.Conversation())
		if err != nil {
			fmt.Fprintln(t.out, "Nothing to resume.")
			return false
		}
		if err := t.drive(ctx, events); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	default:
		fmt.Fprintf(t.out, "Unknown command /%s, type /help for the list.\n", name)
	}
	return false
}

// processTurn handles a single user input turn.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	events, err := t.runner.RunTurn(ctx, t.sess.Conversation(), userInput)
	if err != nil {
		return err
	}
	return t.drive(ctx, events)
}

// drive renders events, asks for the decisions the turn suspends on and
// resumes it until it ends or is deferred.
func (t *Terminal) drive(ctx context.Context, events iter.Seq[agent.Event]) error {
	conv := t.sess.Conversation()
	for {
		var last agent.Event
		for ev := range events {
			t.render(ev)
			last = ev
		}
		switch last.Kind {
		case agent.EventAwaitingDecision:
			t.decide(conv, last.Pending)
			var err error
			if events, err = t.runner.Resume(ctx, conv); err != nil {
				return err
			}
		case agent.EventTurnError:
			return last.Err
		default:
			return nil
		}
	}
}

func (t *Terminal) decide(conv *agent.Conversation, pending []agent.Action) {
	for _, a := range pending {
		fmt.Fprintln(t.out, t.panel.Render(describe(a)))
		d := t.ask()
		if err := conv.Gate.Decide(a.ID, d, ""); err != nil {
			t.logger.Warn("could not record decision", "action", a.ID, "error", err)
			conv.Gate.DecideAll(agent.Defer, "")
			return
		}
		if d == agent.Defer {
			return
		}
	}
}

// ask reads answers until one is valid. End of input defers.
func (t *Terminal) ask() agent.Decision {
	for {
		fmt.Fprint(t.out, "Allow? [y]es / [n]o / [a]lways / [r]isk-based / [d]ecide later: ")
		line, ok := t.readLine()
		if !ok {
			return agent.Defer
		}
		if d, ok := answers[strings.ToLower(line)]; ok {
			return d
		}
	}
}

func describe(a agent.Action) string {
	args := make(map[string]any, len(a.Args))
	for k, v := range a.Args {
		if k != policy.RiskArgument {
			args[k] = v
		}
	}
	encoded, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		encoded = []byte(fmt.Sprint(args))
	}
	return fmt.Sprintf("Warden wants to call `%s` (risk: %s)\n%s", a.Tool, a.Risk, encoded)
}

func (t *Terminal) render(ev agent.Event) {
	switch ev.Kind {
	case agent.EventMessage:
		fmt.Fprintf(t.out, "Warden: %s\n", ev.Text)
	case agent.EventThought:
		fmt.Fprintln(t.out, t.dim.Render(ev.Text))
	case agent.EventToolProposed:
		switch t.verbosity {
		case VerbosityAll:
			fmt.Fprintf(t.out, "Warden wants to call tool `%s` with args: %v\n", ev.Action.Tool, ev.Action.Args)
		case VerbosityInfo:
			fmt.Fprintf(t.out, "Warden wants to call tool `%s`\n", ev.Action.Tool)
		}
	case agent.EventToolResult:
		if ev.Failed && t.verbosity >= VerbosityInfo {
			fmt.Fprintln(t.out, t.warning.Render(fmt.Sprintf("Tool `%s` failed: %s", ev.Action.Tool, ev.Output)))
		} else if t.verbosity == VerbosityAll {
			fmt.Fprintf(t.out, "Tool `%s` output: %s\n", ev.Action.Tool, ev.Output)
		}
	case agent.EventToolRejected:
		if t.verbosity >= VerbosityInfo {
			fmt.Fprintf(t.out, "Tool `%s` was not run: %s\n", ev.Action.Tool, ev.Text)
		}
	case agent.EventPlan:
		fmt.Fprintln(t.out, "Plan:")
		for _, task := range ev.Plan {
			fmt.Fprintf(t.out, "  [%s] %s\n", task.Status, task.Title)
		}
	case agent.EventPaused:
		fmt.Fprintf(t.out, "Paused with %d action(s) waiting. Type /resume to review them.\n", len(ev.Pending))
	case agent.EventTurnCancelled:
		fmt.Fprintln(t.out, t.warning.Render("Turn cancelled."))
	}
}
