// Package main is the entry point for the problemwatch daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"problemwatch/internal/analyzer"
	"problemwatch/internal/config"
	"problemwatch/internal/engine"
	"problemwatch/internal/event"
	"problemwatch/internal/export"
	"problemwatch/internal/logging"
	"problemwatch/internal/source"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	root       string
	exportPath string
	logLevel   string
	analyze    bool
	once       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}
	if opts.root != "" {
		cfg.Source.Root = opts.root
	}
	if opts.exportPath != "" {
		cfg.Export.Path = opts.exportPath
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Output: os.Stderr,
		Prefix: "problemwatch",
	})

	folders := make([]source.Folder, 0, len(cfg.Source.Workspaces))
	for _, ws := range cfg.Source.Workspaces {
		folders = append(folders, source.Folder{Name: ws.Name, Path: ws.Path})
	}

	src, err := source.NewFileSource(cfg.Source.Root, cfg.Source.ReportGlob, folders, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: creating report source: %v\n", err)
		return 1
	}
	defer src.Close()

	eng := engine.New(src, engine.Options{
		DebounceWindow:     cfg.Engine.Debounce(),
		MaxProblemsPerFile: cfg.Engine.MaxProblemsPerFile,
		Logger:             log,
	})
	defer eng.Dispose()

	exporter := export.NewExporter(eng, cfg.Export.Path, log)

	// Live exports: every change and refresh rewrites the artifact,
	// fire-and-forget.
	eng.OnChange(func(event.ChangeEvent) { exporter.ExportQuiet() })
	eng.OnRefresh(func(event.RefreshEvent) { exporter.ExportQuiet() })

	scanner := analyzer.New(src, eng, eng.Normalizer(), analyzer.Config{
		Patterns:    cfg.Scan.Patterns,
		Exclude:     cfg.Scan.Exclude,
		BatchSize:   cfg.Scan.BatchSize,
		FileDelay:   cfg.Scan.FileDelay(),
		BatchPause:  cfg.Scan.BatchPause(),
		SettleDelay: cfg.Scan.Settle(),
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.once {
		report := scanner.Run(ctx)
		for _, phase := range report.Failed() {
			log.Warn("analysis phase %s: %v", phase.Name, phase.Err)
		}
		if err := exporter.Export(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			return 1
		}
		log.Info("exported snapshot to %s", exporter.Path())
		return 0
	}

	if opts.analyze {
		go scanner.Run(ctx)
	}

	ticker := time.NewTicker(cfg.Export.Interval())
	defer ticker.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	log.Info("watching %s, exporting to %s every %s",
		cfg.Source.Root, cfg.Export.Path, cfg.Export.Interval())

	for {
		select {
		case <-ticker.C:
			exporter.ExportQuiet()
		case sig := <-signals:
			log.Info("received %s, shutting down", sig)
			cancel()
			eng.Dispose()
			return 0
		}
	}
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.root, "root", "", "Workspace root directory")
	flag.StringVar(&opts.root, "w", "", "Workspace root directory (shorthand)")
	flag.StringVar(&opts.exportPath, "export", "", "Export artifact path")
	flag.StringVar(&opts.exportPath, "o", "", "Export artifact path (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.analyze, "analyze", false, "Run a full workspace analysis at startup")
	flag.BoolVar(&opts.once, "once", false, "Analyze, export once, and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Problemwatch - diagnostic aggregation and export daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: problemwatch [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  problemwatch -w ./project                 Watch a project\n")
		fmt.Fprintf(os.Stderr, "  problemwatch -c problemwatch.toml         Use a config file\n")
		fmt.Fprintf(os.Stderr, "  problemwatch -w ./project -once -o p.json Analyze and export once\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Problemwatch %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.logLevel != "" {
		switch opts.logLevel {
		case "debug", "info", "warn", "error":
			// Valid
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
			os.Exit(1)
		}
	}

	return opts
}
