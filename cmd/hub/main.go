package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ameliarose/hub/internal/api"
	"github.com/ameliarose/hub/internal/config"
	"github.com/ameliarose/hub/internal/doctor"
	"github.com/ameliarose/hub/internal/engine"
	"github.com/ameliarose/hub/internal/events"
	"github.com/ameliarose/hub/internal/history"
	"github.com/ameliarose/hub/internal/lock"
	"github.com/ameliarose/hub/internal/log"
	"github.com/ameliarose/hub/internal/module"
	"github.com/ameliarose/hub/internal/run"
	"github.com/ameliarose/hub/internal/scheduler"
	"github.com/ameliarose/hub/internal/storage"
	"github.com/ameliarose/hub/internal/stream"
	"github.com/ameliarose/hub/internal/tui"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "run":
		os.Exit(runOnce(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("hub version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hub - module runner with live output streaming

Usage:
  hub <command> [flags]

Commands:
  start               Run the hub (interactive console plus scheduler and API)
  run <module>        Run one module in the foreground and exit
  doctor              Validate configuration and module setup
  config hash-update  Regenerate the config integrity manifest
  version             Show version information
  help                Show this help message

Common flags:
  --config PATH       Configuration file or directory (default ./config.yaml)
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hub config <hash-update|check> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "hash-update":
		return runConfigHashUpdate(actionArgs)
	case "check":
		return runDoctor(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// loadConfig resolves the --config flag default and loads the file.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	return config.Load(configPath)
}

// buildRegistry assembles the module registry from config plus on-disk
// discovery.
func buildRegistry(cfg *config.Config) (*module.Registry, error) {
	configured := cfg.Descriptors()

	var discovered []module.Descriptor
	if root := cfg.ModulesRoot(); root != "" {
		logger := log.WithComponent("discovery")
		var err error
		discovered, err = module.Discover(root, func(level, msg string, args ...any) {
			switch level {
			case "debug":
				logger.Debug(msg, args...)
			case "warn":
				logger.Warn(msg, args...)
			case "error":
				logger.Error(msg, args...)
			default:
				logger.Info(msg, args...)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("module discovery: %w", err)
		}
	}

	return module.NewRegistry(module.Merge(configured, discovered))
}

func engineOptions(cfg *config.Config, hub *events.Hub, sink engine.HistorySink) engine.Options {
	return engine.Options{
		Timeout:       cfg.Engine.Timeout,
		Grace:         cfg.Engine.Grace,
		QueueCapacity: cfg.Engine.QueueCapacity,
		BatchTick:     cfg.Engine.BatchTick,
		BatchSize:     cfg.Engine.BatchSize,
		Events:        hub,
		History:       sink,
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	headless := fs.Bool("headless", false, "Run without the interactive console")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logFormat := cfg.Service.LogFormat
	if !*headless {
		// The console owns the terminal; keep service logs structured for
		// redirection.
		logFormat = "json"
	}
	log.Setup(cfg.Service.LogLevel, logFormat)
	logger := log.WithComponent("main")
	logger.Info("hub starting", "version", version, "config", *configPath)

	pidLock, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", cfg.LockPath(), "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Error("failed to build module registry", "error", err)
		return 1
	}
	logger.Info("module registry ready", "count", registry.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, cfg.HistoryPath())
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.HistoryPath(), "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("history database opened", "path", cfg.HistoryPath())

	store := history.New(db)
	hub := events.NewHub(256)

	var console *tui.Console
	var deliver stream.Deliver
	if *headless {
		chunkLog := log.WithComponent("output")
		deliver = func(batch []run.OutputChunk) {
			for _, c := range batch {
				chunkLog.Info("chunk",
					"module", c.Module,
					"stream", string(c.Stream),
					"seq", c.Sequence,
					"text", strings.TrimSuffix(c.Text, "\n"),
				)
			}
		}
	}

	if !*headless {
		// The console and the coordinator reference each other; the closure
		// breaks the cycle. No batch is delivered before Start below.
		deliver = func(batch []run.OutputChunk) { console.Deliver(batch) }
	}
	coord := engine.New(registry, deliver, engineOptions(cfg, hub, store))
	if !*headless {
		console = tui.NewConsole(coord, hub)
	}
	coord.Start()

	sched := scheduler.New(cfg, coord, store, hub, log.Get())
	sched.Start(ctx)

	errCh := make(chan error, 2)
	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, coord, store, hub, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *headless {
		logger.Info("hub running (press Ctrl+C to stop)")
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-errCh:
			logger.Error("component failed", "error", err)
		}
	} else {
		go func() {
			select {
			case <-sigCh:
				console.Quit()
			case err := <-errCh:
				logger.Error("component failed", "error", err)
				console.Quit()
			case <-ctx.Done():
			}
		}()
		if err := console.Run(); err != nil {
			logger.Error("console failed", "error", err)
		}
	}

	cancel()
	sched.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := coord.Stop(stopCtx); err != nil {
		logger.Warn("engine did not stop cleanly", "error", err)
	}

	logger.Info("hub stopped")
	return 0
}

// runOnce executes a single module in the foreground, streaming its output to
// the terminal, and exits with the module's status.
func runOnce(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")

	// Accept flags before or after the module key.
	var key string
	var remaining []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && key == "" {
			key = arg
		} else {
			remaining = append(remaining, arg)
		}
	}
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "Usage: hub run <module> [--config PATH]")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("warn", "text")

	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build module registry: %v\n", err)
		return 1
	}

	deliver := func(batch []run.OutputChunk) {
		for _, c := range batch {
			switch c.Stream {
			case run.StreamStdout:
				fmt.Fprint(os.Stdout, c.Text)
			default:
				// stderr and lifecycle banners stay off stdout so one-shot
				// output can be piped cleanly.
				fmt.Fprint(os.Stderr, c.Text)
			}
		}
	}

	coord := engine.New(registry, deliver, engineOptions(cfg, nil, nil))
	coord.Start()

	if _, err := coord.Run(key); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start %s: %v\n", key, err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			_ = coord.Cancel(key)
		case <-time.After(50 * time.Millisecond):
		}
		if coord.CurrentState(key).Terminal() {
			break
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = coord.Stop(stopCtx)

	res, ok := coord.LastResult(key)
	if !ok {
		return 1
	}
	switch res.State {
	case run.StateSucceeded:
		return 0
	case run.StateFailed:
		if res.ExitCode != nil && *res.ExitCode > 0 {
			return *res.ExitCode
		}
		return 1
	default:
		return 1
	}
}

func runDoctor(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	log.Setup("error", "text")

	registry, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Module discovery error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigHashUpdate(args []string) int {
	var configPath string
	var dryRun bool

	fs := flag.NewFlagSet("hash-update", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would be hashed without writing")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		configPath = "config.yaml"
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve path error: %v\n", err)
		return 1
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
	}
	if _, err := os.Stat(abs); err != nil {
		fmt.Fprintf(os.Stderr, "Config file not found: %s\n", abs)
		return 1
	}

	dir := filepath.Dir(abs)
	files := []string{filepath.Base(abs)}

	if dryRun {
		for _, f := range files {
			hash, err := config.ComputeHash(filepath.Join(dir, f))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Hash error for %s: %v\n", f, err)
				return 1
			}
			fmt.Printf("  HASH %s: %s\n", f, hash)
		}
		fmt.Printf("Dry run completed (no files written): %s\n", filepath.Join(dir, ".checksums"))
		return 0
	}

	if err := config.GenerateChecksums(dir, files); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", filepath.Join(dir, ".checksums"))
	return 0
}
