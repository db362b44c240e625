// Orcad is a conversational agent daemon backed by two Ollama instances.
//
// It routes each chat turn to either a small low-latency model or a
// larger reasoning model, keeps bounded per-conversation history, and
// exposes an HTTP API plus a CLI for one-shot questions. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	orcad serve              Start the API server
//	orcad init [dir]         Initialize a working directory with defaults
//	orcad ask <question>     Ask a single question (for testing)
//	orcad version            Print version and build information
//	orcad -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/orcalabs/orca-agents/internal/agent"
	"github.com/orcalabs/orca-agents/internal/api"
	"github.com/orcalabs/orca-agents/internal/backend"
	"github.com/orcalabs/orca-agents/internal/buildinfo"
	"github.com/orcalabs/orca-agents/internal/config"
	"github.com/orcalabs/orca-agents/internal/defaults"
	"github.com/orcalabs/orca-agents/internal/llm"
	"github.com/orcalabs/orca-agents/internal/session"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the orcad command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process (cancelling it triggers graceful shutdown), stdout and
// stderr receive all program output, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on package-level
// globals (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and our argument surface is small enough that
// manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: orcad ask [-deep] <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// orcad is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Orcad - Dual-Backend Conversational Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: orcad [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk handles the "orcad ask [-deep] <question>" subcommand. It boots
// a minimal pipeline (in-memory registry, no API server, no sweeper) and
// processes a single question, printing the response to stdout. Useful
// for quick smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	useDeep := false
	if args[0] == "-deep" {
		useDeep = true
		args = args[1:]
		if len(args) == 0 {
			return fmt.Errorf("usage: orcad ask [-deep] <question>")
		}
	}
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	persona, err := loadPersona(cfg)
	if err != nil {
		return err
	}

	orchestrator, _, _ := buildPipeline(logger, cfg, persona)

	result := orchestrator.ProcessMessage(ctx, "cli-ask", question, useDeep, false)
	fmt.Fprintln(stdout, result.Reply)
	return nil
}

// runServe handles the "orcad serve" subcommand. It is the primary
// operating mode: loads config, builds the conversation pipeline against
// both backends, starts the stale-conversation sweeper, starts the HTTP
// API server, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting orcad", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that we know the desired level. The
	// initial Info-level logger is used only for the startup banner.
	if cfg.LogLevel != "" {
		// ParseLogLevel is already checked by config validation, so this
		// error path should be unreachable in practice.
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"fast_model", cfg.Backends.Fast.Model,
		"deep_model", cfg.Backends.Deep.Model,
	)

	persona, err := loadPersona(cfg)
	if err != nil {
		return err
	}

	orchestrator, selector, clients := buildPipeline(logger, cfg, persona)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orchestrator, selector, clients, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Periodically remove conversations idle past the configured cutoff.
	go orchestrator.RunSweeper(ctx, cfg.Conversation.SweepInterval(), cfg.Conversation.StaleAfter())

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("orcad stopped")
	return nil
}

// buildPipeline wires the conversation registry, backend selector,
// executor, and orchestrator from the configuration. It is shared by
// serve and ask so both exercise the same code path.
func buildPipeline(logger *slog.Logger, cfg *config.Config, persona string) (*agent.Orchestrator, *backend.Selector, map[string]llm.Client) {
	registry := session.New(logger)

	selector := backend.NewSelector(logger,
		backend.Profile{URL: cfg.Backends.Fast.URL, Model: cfg.Backends.Fast.Model},
		backend.Profile{URL: cfg.Backends.Deep.URL, Model: cfg.Backends.Deep.Model},
	)

	clients := map[string]llm.Client{
		backend.ProfileFast: llm.NewOllamaClient(cfg.Backends.Fast.URL, logger),
		backend.ProfileDeep: llm.NewOllamaClient(cfg.Backends.Deep.URL, logger),
	}

	executor := agent.NewExecutor(logger, registry, selector, clients, persona, cfg.Conversation.MaxHistory)
	orchestrator := agent.NewOrchestrator(logger, registry, selector, executor, cfg.Conversation.MaxHistory)
	return orchestrator, selector, clients
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output in orcad goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// loadPersona reads the configured persona file, falling back to the
// embedded default when no file is configured. A configured path that
// cannot be read is an error rather than a silent fallback.
func loadPersona(cfg *config.Config) (string, error) {
	if cfg.PersonaFile == "" {
		return string(defaults.PersonaMD), nil
	}

	path := cfg.PersonaFile
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve persona path %s: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return string(content), nil
}
