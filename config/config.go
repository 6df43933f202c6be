package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/policy"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user and per-project configuration directory name.
const Dir = ".warden"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []EnvVar `yaml:"env"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type RiskRule struct {
	Tool string `yaml:"tool"`
	Risk string `yaml:"risk"`
}

// Confirmation selects the initial policy of every new session.
type Confirmation struct {
	Mode          string     `yaml:"mode"`
	RiskThreshold string     `yaml:"risk_threshold"`
	RiskRules     []RiskRule `yaml:"risk_rules"`
}

type ACP struct {
	// CoalesceBytes merges consecutive message chunks up to this size.
	// Zero forwards every chunk as is.
	CoalesceBytes  int           `yaml:"coalesce_bytes"`
	TraceFile      string        `yaml:"trace_file"`
	// RequestTimeout bounds how long a permission request may stay
	// unanswered before the decision is deferred. Zero waits indefinitely.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // stdout, otlp or none
	Endpoint    string `yaml:"endpoint"`
	File        string `yaml:"file"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
	Confirmation         Confirmation     `yaml:"confirmation"`
	ACP                  ACP              `yaml:"acp"`
	Telemetry            Telemetry        `yaml:"telemetry"`
	SessionDir           string           `yaml:"session_dir"`
}

// Default returns the configuration used before any file is applied.
func Default() *Config {
	cfg := &Config{}
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, Dir, Dir+"/**")
	cfg.Toolsets = []Toolset{{Name: "default", Tools: []string{"read_file", "write_file", "execute_command", "think", "task_tracker"}}}
	cfg.Confirmation.Mode = string(policy.ModeAlwaysAsk)
	cfg.ACP.TraceFile = filepath.Join(Dir, "warden.trace")
	cfg.Telemetry.Exporter = "none"
	cfg.Telemetry.ServiceName = "warden"
	cfg.SessionDir = filepath.Join(Dir, "sessions")
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, Dir, "config.yaml"))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	paths = append(paths, filepath.Join(wd, Dir, "config.yaml"))
	return Load(paths...)
}

// Load applies each existing file in order on top of Default. Missing files
// are skipped.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in a later file replace the earlier value wholesale.
	return yaml.Unmarshal(data, cfg)
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}

// InitialPolicy is the policy every new session starts with.
func (c *Config) InitialPolicy() (policy.Policy, error) {
	mode := c.Confirmation.Mode
	if mode == "" {
		mode = string(policy.ModeAlwaysAsk)
	}
	p, err := policy.FromMode(mode)
	if err != nil {
		return policy.Policy{}, errors.Wrapf(err, "confirmation.mode")
	}
	if p.Kind == policy.ConfirmRisky && c.Confirmation.RiskThreshold != "" {
		threshold, err := policy.ParseRisk(c.Confirmation.RiskThreshold)
		if err != nil {
			return policy.Policy{}, errors.Wrapf(err, "confirmation.risk_threshold")
		}
		p = policy.Risky(threshold)
	}
	return p, nil
}

// Analyzer builds the security analyzer from the configured risk rules.
func (c *Config) Analyzer() (policy.Analyzer, error) {
	if len(c.Confirmation.RiskRules) == 0 {
		return policy.ArgumentAnalyzer{}, nil
	}
	rules := make([]policy.Rule, 0, len(c.Confirmation.RiskRules))
	for _, r := range c.Confirmation.RiskRules {
		risk, err := policy.ParseRisk(r.Risk)
		if err != nil {
			return nil, errors.Wrapf(err, "risk rule for %q", r.Tool)
		}
		rules = append(rules, policy.Rule{Tool: r.Tool, Risk: risk})
	}
	return policy.RuleAnalyzer{Rules: rules}, nil
}
