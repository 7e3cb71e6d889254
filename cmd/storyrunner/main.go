package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corestories/storyrunner/internal/config"
	"github.com/corestories/storyrunner/internal/runlog"
	"github.com/corestories/storyrunner/internal/runner"
)

func main() {
	var (
		configPath  = flag.String("config", "storyrunner.config.yaml", "path to the run config YAML file")
		url         = flag.String("url", "", "override the story-index base URL from the config file")
		update      = flag.Bool("update", false, "update baselines instead of comparing against them")
		clean       = flag.Bool("clean", false, "with -update, remove orphaned baselines/results first")
		missingOnly = flag.Bool("missingOnly", false, "only run stories with no existing baseline")
		failedOnly  = flag.Bool("failedOnly", false, "only run stories with a stale failure artifact")
		grep        = flag.String("grep", "", "only run stories whose id or name matches this regex")
		workers     = flag.Int("workers", 0, "fixed worker count; 0 keeps the config file's value (adaptive scaling when unset)")
		retries     = flag.Int("retries", -1, "override retries from the config file; -1 leaves it unset")
		interactive = flag.Bool("progress", true, "render the interactive terminal progress UI")
		staticDir   = flag.String("staticExport", "", "fallback static export index file (e.g. storybook-static/index.json)")
		logFile     = flag.String("logFile", "", "path to a run log file; empty disables file logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storyrunner:", err)
		os.Exit(1)
	}

	if *url != "" {
		cfg.URL = *url
	}
	cfg.Update = cfg.Update || *update
	cfg.Clean = cfg.Clean || *clean
	cfg.MissingOnly = cfg.MissingOnly || *missingOnly
	cfg.FailedOnly = cfg.FailedOnly || *failedOnly
	if *grep != "" {
		cfg.Grep = *grep
	}
	if *workers > 0 {
		cfg.Workers = workers
	}
	if *retries >= 0 {
		cfg.Retries = *retries
	}

	logPath := *logFile
	if logPath == "" && cfg.ResultsPath != "" {
		logPath = filepath.Join(cfg.ResultsPath, "run.log")
	}

	logger, cleanup, err := runlog.New(runlog.Config{
		Level:    cfg.LogLevel,
		FilePath: logPath,
		JSON:     true,
		Console:  true,
		Quiet:    cfg.Quiet,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "storyrunner: failed to initialize logging:", err)
		os.Exit(1)
	}
	defer cleanup()

	staticPath := *staticDir
	if staticPath == "" {
		staticPath = filepath.Join(cfg.SnapshotPath, "..", "storybook-static", "index.json")
	}

	code := runner.Run(context.Background(), runner.Options{
		Cfg:              cfg,
		StaticExportPath: staticPath,
		Interactive:      *interactive && !cfg.Quiet,
		Logger:           logger,
	})
	os.Exit(code)
}
