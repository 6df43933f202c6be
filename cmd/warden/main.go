package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/m4xw311/warden/agent"
	"github.com/m4xw311/warden/agent/acp"
	"github.com/m4xw311/warden/agent/terminal"
	"github.com/m4xw311/warden/auth"
	"github.com/m4xw311/warden/config"
	"github.com/m4xw311/warden/errors"
	"github.com/m4xw311/warden/llm"
	"github.com/m4xw311/warden/policy"
	"github.com/m4xw311/warden/session"
	"github.com/m4xw311/warden/telemetry"
	"github.com/spf13/pflag"
)

type options struct {
	mode          string
	toolset       string
	resume        string
	toolVerbosity string
	acp           bool
	trace         bool
	provider      string
	model         string
	configPath    string
	prompt        string
}

func parseFlags(args []string) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("warden", pflag.ContinueOnError)
	fs.StringVarP(&o.mode, "mode", "m", "", "Confirmation mode: always-ask, llm-approve or always-approve")
	fs.StringVarP(&o.toolset, "toolset", "t", "", "Toolset to use (defaults to 'default')")
	fs.StringVarP(&o.resume, "resume", "r", "", "Resume a stored session by id")
	fs.StringVar(&o.toolVerbosity, "tool-verbosity", "none", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.BoolVar(&o.acp, "acp", false, "Serve the Agent Client Protocol on stdio")
	fs.BoolVar(&o.trace, "trace", false, "Write a debug log to the configured trace file")
	fs.StringVar(&o.provider, "llm", "", "LLM provider, overrides the configuration")
	fs.StringVar(&o.model, "model", "", "Model name, overrides the configuration")
	fs.StringVar(&o.configPath, "config", "", "Configuration file to use instead of the default locations")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.prompt = strings.Join(fs.Args(), " ")
	if _, err := terminal.ParseVerbosity(o.toolVerbosity); err != nil {
		return nil, err
	}
	if o.mode != "" {
		if _, err := policy.FromMode(o.mode); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func loadConfig(o *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if o.provider != "" {
		cfg.LLMClient = o.provider
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.mode != "" {
		cfg.Confirmation.Mode = o.mode
	}
	return cfg, nil
}

// newLogger writes to the trace file when tracing is on. Stdout carries the
// protocol in ACP mode, so nothing is ever logged there.
func newLogger(enabled bool, path string) (*slog.Logger, func() error, error) {
	if !enabled {
		return slog.New(slog.DiscardHandler), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, errors.Wrapf(err, "creating trace directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening trace file")
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})), f.Close, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return errors.Wrapf(err, "loading configuration")
	}
	logger, closeLog, err := newLogger(o.trace, cfg.ACP.TraceFile)
	if err != nil {
		return err
	}
	defer closeLog()

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return errors.Wrapf(err, "initializing telemetry")
	}
	defer tp.Shutdown(context.Background())

	initial, err := cfg.InitialPolicy()
	if err != nil {
		return err
	}
	analyzer, err := cfg.Analyzer()
	if err != nil {
		return err
	}
	client, err := llm.New(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return errors.Wrapf(err, "initializing LLM client")
	}

	registry := session.NewRegistry(
		session.LLMFactory(cfg, client, o.toolset, logger),
		session.WithStore(session.NewFileStore(cfg.SessionDir)),
		session.WithDefaultPolicy(initial),
		session.WithAnalyzer(analyzer),
		session.WithLogger(logger),
	)
	runner := agent.NewRunner(agent.WithLogger(logger), agent.WithTracer(tp.Tracer))

	if o.acp {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		opts := append(acp.FromConfig(cfg.ACP), acp.WithLogger(logger), acp.WithAuthenticator(auth.For(cfg.LLMClient)))
		return acp.Run(ctx, registry, runner, bufio.NewReader(stdin), bufio.NewWriter(stdout), opts...)
	}
	defer registry.Close()

	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrapf(err, "could not get working directory")
	}
	var sess *session.Session
	if o.resume != "" {
		sess, err = registry.Load(ctx, o.resume, session.Spec{Cwd: wd})
		if err != nil {
			return errors.Wrapf(err, "resuming session '%s'", o.resume)
		}
		fmt.Fprintf(stdout, "Resuming session: %s\n", sess.ID)
	} else {
		sess, err = registry.Create(ctx, session.Spec{Cwd: wd})
		if err != nil {
			return errors.Wrapf(err, "creating session")
		}
		fmt.Fprintf(stdout, "Starting new session: %s\n", sess.ID)
	}

	verbosity, _ := terminal.ParseVerbosity(o.toolVerbosity)
	term := terminal.New(runner, sess, stdin, stdout, terminal.WithVerbosity(verbosity), terminal.WithLogger(logger))

	// Ctrl-C cancels the running turn instead of ending the session.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if !term.Cancel() {
				fmt.Fprintln(stderr, "\nNothing to cancel. Type /quit to exit.")
			}
		}
	}()

	fmt.Fprintln(stdout, "Warden is ready. Type your prompt.")
	return term.Run(ctx, o.prompt)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
