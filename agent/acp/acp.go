package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/auth"
	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/session"
	"github.com/m4xw311/warden/telemetry"
)

// handler serves one request. The optional after function runs once the
// response has been written.
type handler func(ctx context.Context, params json.RawMessage) (result any, after func(), err error)

// activeTurn lets session/cancel and session/close reach a running prompt.
// stopDecisions abandons outstanding permission requests; stop also cancels
// the context tools and model calls run under.
type activeTurn struct {
	stop          context.CancelFunc
	stopDecisions context.CancelFunc
}

// Server is an ACP agent speaking newline-delimited JSON-RPC 2.0. Every frame
// is converted between the camelCase wire form and the snake_case internal
// form, in both directions.
type Server struct {
	registry *session.Registry
	runner   *agent.Runner
	auth     auth.Authenticator
	logger   *slog.Logger
	coalesce int
	timeout  time.Duration

	ctx      context.Context
	handlers map[string]handler

	writeMu sync.Mutex
	out     *bufio.Writer

	mu      sync.Mutex
	nextID  int64
	pending map[string]chan *message
	turns   map[string]*activeTurn
	subs    map[string]func()

	wg sync.WaitGroup
}

type Option func(*Server)

func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCoalesceBytes merges consecutive message chunks up to n bytes.
func WithCoalesceBytes(n int) Option {
	return func(s *Server) { s.coalesce = n }
}

// WithRequestTimeout bounds every request the server sends to the client.
// An unanswered permission request is deferred when it expires.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// FromConfig maps the acp section of the configuration onto options.
func FromConfig(cfg config.ACP) []Option {
	return []Option{WithCoalesceBytes(cfg.CoalesceBytes), WithRequestTimeout(cfg.RequestTimeout)}
}

func newServer(registry *session.Registry, runner *agent.Runner, out *bufio.Writer, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		runner:   runner,
		auth:     auth.NoopAuthenticator{},
		logger:   slog.New(slog.DiscardHandler),
		out:      out,
		pending:  make(map[string]chan *message),
		turns:    make(map[string]*activeTurn),
		subs:     make(map[string]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]handler{
		"initialize":       s.initialize,
		"authenticate":     s.authenticate,
		"session/new":      s.newSession,
		"session/load":     s.loadSession,
		"session/prompt":   s.prompt,
		"session/set_mode": s.setMode,
		"session/list":     s.listSessions,
		"session/close":    s.closeSession,
	}
	return s
}

// Run serves the Agent Client Protocol until in reaches EOF or ctx is done.
// Nothing but JSON-RPC frames is written to out; diagnostics go to the
// logger. On return every turn has been cancelled and every session in
// registry has been ended.
func Run(ctx context.Context, registry *session.Registry, runner *agent.Runner, in *bufio.Reader, out *bufio.Writer, opts ...Option) error {
	ctx, cancel := context.WithCancel(ctx)
	s := newServer(registry, runner, out, opts...)
	s.ctx = ctx
	defer s.shutdown(cancel)

	s.logger.Info("acp server started")
	for {
		line, err := in.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			s.handleFrame(line)
		}
		if err != nil {
			if err == io.EOF {
				s.logger.Info("acp client closed the connection")
				return nil
			}
			return errors.Wrapf(err, "acp: read error")
		}
	}
}

func (s *Server) shutdown(cancel context.CancelFunc) {
	for _, sess := range s.registry.List() {
		s.runner.Cancel(sess.Conversation())
	}
	cancel()
	s.wg.Wait()

	s.mu.Lock()
	for id, unsubscribe := range s.subs {
		unsubscribe()
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.registry.Close()
}

func (s *Server) handleFrame(line []byte) {
	s.logger.Debug("frame received", "frame", string(line))
	generic, err := decodeGeneric(line)
	if err != nil {
		s.writeError(nil, &rpcError{Code: codeParseError, Message: "Parse error"})
		return
	}
	// Batches are not supported.
	if _, ok := generic.(map[string]any); !ok {
		s.writeError(nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"})
		return
	}
	data, err := fromWire(generic)
	if err != nil {
		s.writeError(nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"})
		return
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil || msg.JSONRPC != "2.0" {
		s.writeError(msg.ID, &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"})
		return
	}

	if msg.Method == "" {
		if msg.hasID() {
			s.resolve(&msg)
			return
		}
		s.writeError(nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid Request"})
		return
	}
	if msg.Method == "session/cancel" {
		s.cancel(&msg)
		return
	}

	h, ok := s.handlers[msg.Method]
	if !ok {
		if msg.hasID() {
			s.writeError(msg.ID, &rpcError{Code: codeMethodNotFound, Message: "Method not found", Data: map[string]any{"method": msg.Method}})
		} else {
			s.logger.Debug("ignoring unknown notification", "method", msg.Method)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(&msg, h)
	}()
}

// serve runs h and writes exactly one response when msg is a request.
func (s *Server) serve(msg *message, h handler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", msg.Method, "panic", r)
			if msg.hasID() {
				s.writeError(msg.ID, internalError("Unexpected failure", fmt.Errorf("%v", r)))
			}
		}
	}()

	result, after, err := h(s.ctx, msg.Params)
	if !msg.hasID() {
		if err != nil {
			s.logger.Warn("notification failed", "method", msg.Method, "error", err)
		}
		return
	}
	if err != nil {
		s.logger.Debug("request failed", "method", msg.Method, "error", err)
		s.writeError(msg.ID, toRPCError(err))
		return
	}
	s.writeResult(msg.ID, result)
	if after != nil {
		after()
	}
}

func toRPCError(err error) *rpcError {
	var re *rpcError
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, session.ErrNotFound) {
		return &rpcError{Code: codeInvalidParams, Message: "Session not found", Data: map[string]any{"details": err.Error()}}
	}
	return internalError("Request failed", err)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

// ---- output ----

func (s *Server) send(frame map[string]any) error {
	data, err := toWire(frame)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	if err := s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result}); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(id json.RawMessage, e *rpcError) {
	if err := s.send(map[string]any{"jsonrpc": "2.0", "id": id, "error": e}); err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}

func (s *Server) notify(sessionID string, update map[string]any) {
	err := s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params":  sessionNotification{SessionID: sessionID, Update: update},
	})
	if err != nil {
		s.logger.Error("failed to write session update", "session", sessionID, "error", err)
	}
}

// call sends a request to the client and waits for its response. It fails
// when the client answers with an error, when ctx ends or when the request
// timeout expires.
func (s *Server) call(ctx context.Context, method string, params, result any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ch := make(chan *message, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	key := strconv.FormatInt(id, 10)
	s.pending[key] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	if err := s.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params}); err != nil {
		return errors.Wrapf(err, "sending %s", method)
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Wrapf(err, "decoding %s response", method)
			}
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for %s response", method)
	}
}

// resolve hands a client response to the call waiting for it.
func (s *Server) resolve(msg *message) {
	key := strings.Trim(string(msg.ID), `"`)
	s.mu.Lock()
	ch, ok := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("response to unknown request", "id", key)
		return
	}
	ch <- msg
}

// ---- sessions ----

func (s *Server) session(id string) (*session.Session, error) {
	if id == "" {
		return nil, invalidParams("session_id is required")
	}
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, sessionNotFound(id)
	}
	return sess, nil
}

// attach reports the session's policy changes to the client for as long as
// the session lives.
func (s *Server) attach(sess *session.Session) {
	id := sess.ID
	unsubscribe := sess.Policy().Subscribe(func(previous, current policy.Policy) {
		if previous.Mode() == current.Mode() {
			return
		}
		s.notify(id, map[string]any{"session_update": updateCurrentMode, "current_mode_id": string(current.Mode())})
	})
	s.mu.Lock()
	if old := s.subs[id]; old != nil {
		old()
	}
	s.subs[id] = unsubscribe
	s.mu.Unlock()
}

func (s *Server) detach(id string) {
	s.mu.Lock()
	unsubscribe := s.subs[id]
	delete(s.subs, id)
	t := s.turns[id]
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if t != nil {
		t.stop()
	}
}

func modeState(p policy.Policy) sessionModeState {
	modes := policy.Modes()
	out := make([]sessionMode, len(modes))
	for i, m := range modes {
		out[i] = sessionMode{ID: string(m.ID), Name: m.Name, Description: m.Description}
	}
	return sessionModeState{CurrentModeID: string(p.Mode()), AvailableModes: out}
}

func mcpServers(in []mcpServer) ([]config.MCPServer, error) {
	out := make([]config.MCPServer, 0, len(in))
	for _, m := range in {
		if (m.Type != "" && m.Type != "stdio") || m.Command == "" {
			return nil, invalidParams("MCP server %q: only stdio servers are supported", m.Name)
		}
		env := make([]config.EnvVar, len(m.Env))
		for i, e := range m.Env {
			env[i] = config.EnvVar{Name: e.Name, Value: e.Value}
		}
		out = append(out, config.MCPServer{Name: m.Name, Command: m.Command, Args: m.Args, Env: env})
	}
	return out, nil
}

// ---- handlers ----

func (s *Server) initialize(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p initializeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	s.logger.Info("client initialized", "protocol_version", p.ProtocolVersion)
	methods := s.auth.Methods()
	if methods == nil {
		methods = []auth.Method{}
	}
	return initializeResult{
		ProtocolVersion: ProtocolVersion,
		AgentCapabilities: agentCapabilities{
			LoadSession:        true,
			PromptCapabilities: promptCapabilities{EmbeddedContext: true},
		},
		AuthMethods: methods,
		AgentInfo:   implementation{Name: "warden", Version: telemetry.Version},
	}, nil, nil
}

func (s *Server) authenticate(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p authenticateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	if p.MethodID == "" {
		return nil, nil, invalidParams("method_id is required")
	}
	if err := s.auth.Authenticate(ctx, p.MethodID); err != nil {
		return nil, nil, &rpcError{Code: codeAuthFailed, Message: "Authentication failed", Data: map[string]any{"method_id": p.MethodID, "details": err.Error()}}
	}
	return map[string]any{}, nil, nil
}

func (s *Server) newSession(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p newSessionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	if !filepath.IsAbs(p.Cwd) {
		return nil, nil, invalidParams("cwd must be an absolute path, got %q", p.Cwd)
	}
	servers, err := mcpServers(p.MCPServers)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.registry.Create(ctx, session.Spec{Cwd: p.Cwd, MCPServers: servers})
	if err != nil {
		return nil, nil, internalError("Failed to create session", err)
	}
	s.attach(sess)
	after := func() { s.notify(sess.ID, availableCommands()) }
	return newSessionResult{SessionID: sess.ID, Modes: modeState(sess.Policy().Get())}, after, nil
}

// loadSession restores a stored session and streams its history to the
// client before responding.
func (s *Server) loadSession(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p loadSessionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	if p.SessionID == "" {
		return nil, nil, invalidParams("session_id is required")
	}
	if p.Cwd != "" && !filepath.IsAbs(p.Cwd) {
		return nil, nil, invalidParams("cwd must be an absolute path, got %q", p.Cwd)
	}
	servers, err := mcpServers(p.MCPServers)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.registry.Load(ctx, p.SessionID, session.Spec{Cwd: p.Cwd, MCPServers: servers})
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, sessionNotFound(p.SessionID)
	}
	if err != nil {
		return nil, nil, internalError("Failed to load session", err)
	}
	s.attach(sess)
	replay(sess.Conversation().History(), func(u map[string]any) { s.notify(sess.ID, u) })
	after := func() { s.notify(sess.ID, availableCommands()) }
	return loadSessionResult{Modes: modeState(sess.Policy().Get())}, after, nil
}

func (s *Server) setMode(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p setModeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	sess, err := s.session(p.SessionID)
	if err != nil {
		return nil, nil, err
	}
	pol, err := policy.FromMode(p.ModeID)
	if err != nil {
		return nil, nil, invalidParams("unknown mode %q", p.ModeID)
	}
	sess.Policy().Set(pol)
	s.logger.Info("session mode changed", "session", sess.ID, "mode", p.ModeID)
	return map[string]any{}, nil, nil
}

func (s *Server) listSessions(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	live := s.registry.List()
	infos := make([]sessionInfo, 0, len(live))
	for _, sess := range live {
		infos = append(infos, sessionInfo{
			SessionID: sess.ID,
			Cwd:       sess.Cwd,
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
			ModeID:    string(sess.Policy().Get().Mode()),
			Status:    sess.Status(),
		})
	}
	return listSessionsResult{Sessions: infos}, nil, nil
}

func (s *Server) closeSession(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p sessionRef
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	sess, err := s.session(p.SessionID)
	if err != nil {
		return nil, nil, err
	}
	s.runner.Cancel(sess.Conversation())
	s.detach(sess.ID)
	if err := s.registry.End(sess.ID); err != nil {
		return nil, nil, sessionNotFound(sess.ID)
	}
	return map[string]any{}, nil, nil
}

// cancel handles session/cancel inline so it is never queued behind the
// prompt it targets. It is a notification; a request form gets a null
// result.
func (s *Server) cancel(msg *message) {
	var p sessionRef
	err := decodeParams(msg.Params, &p)
	if err == nil {
		var sess *session.Session
		if sess, err = s.session(p.SessionID); err == nil {
			active := s.runner.Cancel(sess.Conversation())
			s.mu.Lock()
			t := s.turns[sess.ID]
			s.mu.Unlock()
			if t != nil {
				t.stopDecisions()
			}
			s.logger.Info("session cancel", "session", sess.ID, "active", active)
		}
	}
	if !msg.hasID() {
		if err != nil {
			s.logger.Warn("cancel for unknown session", "session", p.SessionID)
		}
		return
	}
	if err != nil {
		s.writeError(msg.ID, toRPCError(err))
		return
	}
	s.writeResult(msg.ID, nil)
}

// prompt runs one turn to completion. The response is the turn's terminal
// signal: end_turn when it finished or paused, cancelled when it was
// cancelled, and an internal error when it failed.
func (s *Server) prompt(ctx context.Context, raw json.RawMessage) (any, func(), error) {
	var p promptParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, nil, err
	}
	sess, err := s.session(p.SessionID)
	if err != nil {
		return nil, nil, err
	}
	conv := sess.Conversation()

	if text, ok := singleText(p.Prompt); ok {
		if name, arg, ok := parseSlashCommand(text); ok {
			s.notify(sess.ID, chunk(updateAgentChunk, runCommand(sess.Policy(), name, arg)))
			return promptResult{StopReason: stopEndTurn}, nil, nil
		}
	}
	text := extractUserText(p.Prompt)
	if strings.TrimSpace(text) == "" {
		return promptResult{StopReason: stopEndTurn}, nil, nil
	}

	turnCtx, stop := context.WithCancel(ctx)
	defer stop()
	decideCtx, stopDecisions := context.WithCancel(turnCtx)
	defer stopDecisions()

	events, err := s.runner.RunTurn(turnCtx, conv, text)
	if errors.Is(err, agent.ErrTurnInProgress) {
		return nil, nil, &rpcError{Code: codeInvalidRequest, Message: "Invalid Request", Data: map[string]any{"details": "a prompt is already running for this session"}}
	}
	if err != nil {
		return nil, nil, internalError("Failed to process prompt", err)
	}

	t := &activeTurn{stop: stop, stopDecisions: stopDecisions}
	s.mu.Lock()
	s.turns[sess.ID] = t
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.turns[sess.ID] == t {
			delete(s.turns, sess.ID)
		}
		s.mu.Unlock()
	}()

	tr := NewTranslator(s.coalesce, func(u map[string]any) { s.notify(sess.ID, u) })
	for {
		var last agent.Event
		for ev := range events {
			tr.Translate(ev)
			last = ev
		}
		tr.Flush()

		switch last.Kind {
		case agent.EventAwaitingDecision:
			s.decide(decideCtx, sess.ID, conv, last.Pending)
			events, err = s.runner.Resume(turnCtx, conv)
			if err != nil {
				return nil, nil, internalError("Failed to resume turn", err)
			}
		case agent.EventTurnCancelled:
			return promptResult{StopReason: stopCancelled}, nil, nil
		case agent.EventTurnError:
			cause := last.Err
			if cause == nil {
				cause = errors.New("turn failed")
			}
			s.notify(sess.ID, chunk(updateAgentChunk, "Error: "+cause.Error()))
			return nil, nil, internalError("Failed to process prompt", cause)
		default:
			return promptResult{StopReason: stopEndTurn}, nil, nil
		}
	}
}
