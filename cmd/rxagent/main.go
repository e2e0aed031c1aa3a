// Rxagent is a streaming pharmacist-assistant service.
//
// It drives bounded tool-calling rounds against an OpenAI-compatible
// completion provider, executes pharmacy tools against a SQLite
// catalog, and streams results to clients over SSE. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	rxagent serve              Start the API server
//	rxagent seed               Create the schema and seed demo data
//	rxagent ask <question>     Ask a single question (for testing)
//	rxagent version            Print version and build information
//	rxagent -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/farmalink/rxagent/internal/agent"
	"github.com/farmalink/rxagent/internal/api"
	"github.com/farmalink/rxagent/internal/auth"
	"github.com/farmalink/rxagent/internal/buildinfo"
	"github.com/farmalink/rxagent/internal/config"
	"github.com/farmalink/rxagent/internal/events"
	"github.com/farmalink/rxagent/internal/llm"
	"github.com/farmalink/rxagent/internal/policy"
	"github.com/farmalink/rxagent/internal/store"
	"github.com/farmalink/rxagent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the rxagent command. All OS-level
// dependencies are injected as parameters. Arguments are parsed by
// hand: the flag package relies on package-level globals, which makes
// it impossible to call run() concurrently from tests, and the
// argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
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
		return runServe(ctx, stdout, configPath)
	case "seed":
		return runSeed(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: rxagent ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
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
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Rxagent - Streaming Pharmacist Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: rxagent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  seed         Create the schema and seed demo data")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./rxagent.yaml, ~/.config/rxagent/config.yaml, /etc/rxagent/config.yaml")
	return nil
}

// newLogger builds a slog logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// openDatabase opens the pharmacy database with WAL journaling so the
// chat surface and concurrent reservations do not block each other.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// runServe handles "rxagent serve": it wires the store, tool registry,
// agent loop, and HTTP server, then blocks until shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting rxagent",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	if cfg.Provider.APIKey == "" {
		return errors.New("provider.api_key is required for serve")
	}

	db, err := openDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := st.SeedIfEmpty(ctx); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	logger.Info("database ready", "path", cfg.DatabasePath)

	bus := events.New()
	registry := tools.NewRegistry(st, bus, logger)
	client := llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL, logger)
	loop := agent.New(client, registry, bus, logger, cfg.MaxRounds)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		logger.Warn("auth.jwt_secret not set, all requests run anonymous")
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, verifier, bus, cfg.CORSOrigins, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("rxagent stopped", "uptime", buildinfo.Uptime())
	return nil
}

// runSeed handles "rxagent seed": create the schema and load demo data
// without starting the server.
func runSeed(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	db, err := openDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := st.SeedIfEmpty(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	fmt.Fprintf(stdout, "database ready: %s (created tables; seeded if empty)\n", cfg.DatabasePath)
	return nil
}

// cliEmitter renders the event stream for a terminal session: deltas
// to stdout, tool activity and errors to stderr.
type cliEmitter struct {
	stdout io.Writer
	stderr io.Writer
}

func (e *cliEmitter) Delta(text string) {
	fmt.Fprint(e.stdout, text)
}

func (e *cliEmitter) ToolStatus(tool, status string) {
	fmt.Fprintf(e.stderr, "[tool %s: %s]\n", tool, status)
}

func (e *cliEmitter) Error(message string) {
	fmt.Fprintf(e.stderr, "error: %s\n", message)
}

func (e *cliEmitter) Done() {
	fmt.Fprintln(e.stdout)
}

// runAsk handles "rxagent ask <question>": one anonymous conversation
// turn through the full loop, without the HTTP server. Useful for
// smoke tests and debugging.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return errors.New("provider.api_key is required for ask")
	}

	db, err := openDatabase(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if err := st.SeedIfEmpty(ctx); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	registry := tools.NewRegistry(st, nil, logger)
	client := llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL, logger)
	loop := agent.New(client, registry, nil, logger, cfg.MaxRounds)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: policy.BuildSystemPrompt("")},
		{Role: llm.RoleUser, Content: question},
	}
	loop.Run(ctx, messages, &cliEmitter{stdout: stdout, stderr: stderr})
	return nil
}
