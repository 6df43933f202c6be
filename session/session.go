package session

import (
	"time"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
)

// Spec describes the session to create or load.
type Spec struct {
	Cwd        string
	MCPServers []config.MCPServer
	// Policy overrides the registry default when set.
	Policy *policy.Policy
	// History seeds the conversation. Load fills it from the stored record.
	History []llm.Message
}

// Session is one live agent conversation. The id stays valid for lookup
// until the session is ended and is never handed out again afterwards.
type Session struct {
	ID         string
	Cwd        string
	MCPServers []config.MCPServer
	CreatedAt  time.Time

	conv *agent.Conversation
}

func (s *Session) Conversation() *agent.Conversation { return s.conv }

// Policy is the session's policy store.
func (s *Session) Policy() *policy.Store { return s.conv.Policy }

// Status reports the turn state: idle, running, awaiting-decision or paused.
func (s *Session) Status() string { return s.conv.State().String() }
