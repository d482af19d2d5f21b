// guardiand - Child activity monitoring daemon with parent approval workflow
//
//	guardiand init          Write the default configuration
//	guardiand run           Run the monitoring daemon
//	guardiand status        Show daemon status over the control socket
//	guardiand hash-pin      Hash a parent PIN for the config file
//	guardiand version       Show version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"guardiand/internal/analysis"
	"guardiand/internal/capture"
	"guardiand/internal/config"
	"guardiand/internal/dashboard"
	"guardiand/internal/ipc"
	"guardiand/internal/judge"
	"guardiand/internal/keyevent"
	"guardiand/internal/logging"
	"guardiand/internal/monitor"
	"guardiand/internal/notify"
	"guardiand/internal/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit()
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "hash-pin":
		cmdHashPIN()
	case "version":
		fmt.Println("guardiand", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`guardiand - Child activity monitoring daemon

USAGE:
    guardiand <command> [options]

COMMANDS:
    init        Write the default configuration file
    run         Run the monitoring daemon
    status      Show daemon status over the control socket
    hash-pin    Hash a parent PIN for the dashboard config
    version     Show version
    help        Show this help message

SETUP:
    1. guardiand init                       # Write ~/.guardiand/config.toml
    2. guardiand hash-pin                   # Hash the parent PIN, paste into config
    3. guardiand run                        # Start monitoring
    4. guardianctl status                   # Inspect from another terminal

The daemon reads typed input from stdin (one segment per line) unless a
platform keyboard hook feeds it. Screenshots, the parent dashboard, and
desktop notifications are all enabled in the config file.`)
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", config.ConfigPath(), "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config")
	fs.Parse(os.Args[2:])

	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Config already exists at %s (use -force to overwrite)\n", *path)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(cfg, *path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default configuration to %s\n", *path)
	fmt.Println("Set dashboard.parent_pin_hash with 'guardiand hash-pin' to enable remote approvals.")
}

func cmdHashPIN() {
	fs := flag.NewFlagSet("hash-pin", flag.ExitOnError)
	pin := fs.String("pin", "", "PIN to hash (prompted when empty)")
	fs.Parse(os.Args[2:])

	value := *pin
	if value == "" {
		fmt.Print("Parent PIN: ")
		if _, err := fmt.Scanln(&value); err != nil || value == "" {
			fmt.Fprintln(os.Stderr, "No PIN entered")
			os.Exit(1)
		}
	}

	hash, err := dashboard.HashPIN(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash PIN: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.guardiand/config.toml)")
	source := fs.String("source", "stdin", "key event source: stdin or simulated")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare data directory: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)

	deps, cleanup, err := buildDeps(cfg, *source, log)
	if err != nil {
		log.Error("failed to assemble daemon", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	svc, err := monitor.New(cfg, deps)
	if err != nil {
		log.Error("failed to build monitor service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Error("failed to start monitor service", "error", err)
		os.Exit(1)
	}
	log.Info("guardiand started", "version", version, "pid", os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	if err := svc.Stop(); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = int64(cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	return logging.New(lc)
}

// buildDeps assembles the external collaborators: input source, screen
// capturer, analyzer, persistence, and notifier. The returned cleanup
// closes whatever was opened.
func buildDeps(cfg *config.Config, source string, log *logging.Logger) (monitor.Deps, func(), error) {
	var deps monitor.Deps
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch source {
	case "stdin":
		deps.Source = keyevent.NewStdin()
	case "simulated":
		deps.Source = keyevent.NewSimulated()
	default:
		return deps, cleanup, fmt.Errorf("unknown key event source %q", source)
	}
	ok, detail := deps.Source.Available()
	if !ok {
		return deps, cleanup, fmt.Errorf("key event source unavailable: %s", detail)
	}
	log.Info("key event source ready", "detail", detail)

	if cfg.Capture.Enabled {
		deps.Capturer = capture.NewCommandCapturer(cfg.Capture.Command)
	}

	deps.Analyzer = buildAnalyzer(cfg, log)

	if cfg.Storage.Type != "memory" {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return deps, cleanup, fmt.Errorf("open store: %w", err)
		}
		closers = append(closers, func() { st.Close() })
		deps.Store = st
	}

	deps.Notifier = buildNotifier(cfg, log)
	closers = append(closers, func() { deps.Notifier.Close() })

	return deps, cleanup, nil
}

func buildAnalyzer(cfg *config.Config, log *logging.Logger) judge.Analyzer {
	if cfg.Analysis.Endpoint != "" {
		log.Info("using remote analysis service", "endpoint", cfg.Analysis.Endpoint)
		return analysis.NewHTTPAnalyzer(cfg.Analysis.Endpoint, cfg.Analysis.APIKey)
	}
	log.Info("no analysis endpoint configured, using local heuristics")
	return analysis.NewLocalAnalyzer()
}

func buildNotifier(cfg *config.Config, log *logging.Logger) notify.Notifier {
	if cfg.Notify.Backend == "dbus" {
		d, err := notify.NewDBusNotifier()
		if err != nil {
			log.Warn("desktop notifications unavailable, using log", "error", err)
			return notify.NewLogNotifier()
		}
		return notify.NewFallback(d, notify.NewLogNotifier())
	}
	return notify.NewLogNotifier()
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := fs.String("socket", "", "control socket path")
	fs.Parse(os.Args[2:])

	path := *socket
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.IPC.SocketPath
	}

	client, err := ipc.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		os.Exit(1)
	}
	printStatus(st)
}

func printStatus(st *ipc.StatusPayload) {
	fmt.Printf("Session:      %s (started %s)\n", st.SessionID, st.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Status:       %s\n", st.Status)
	fmt.Printf("Profile:      %s / %s\n", st.Profile.AgeGroup, st.Profile.Strictness)
	if st.Locked {
		fmt.Printf("Locked:       yes (request %s)\n", st.RequestID)
	} else {
		fmt.Printf("Locked:       no\n")
	}
	if st.Degraded {
		fmt.Printf("Health:       DEGRADED (analysis or capture failing)\n")
	}
	fmt.Printf("Judgments:    %d (%d locks, %d approvals, %d denials, %d timeouts)\n",
		st.Summary.Judgments, st.Summary.Locks, st.Summary.Approvals,
		st.Summary.Denials, st.Summary.Timeouts)
	if st.Summary.Emergencies > 0 {
		fmt.Printf("Emergencies:  %d\n", st.Summary.Emergencies)
	}
	fmt.Printf("Rules:        %d loaded", st.RuleCount)
	if st.RulesPath != "" {
		fmt.Printf(" (%s)", st.RulesPath)
	}
	fmt.Println()
	fmt.Printf("Cache:        %d verdicts\n", st.CacheSize)
	if st.DroppedCap > 0 {
		fmt.Printf("Dropped:      %d capture requests\n", st.DroppedCap)
	}
}
