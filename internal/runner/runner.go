// Package runner wires every component together, per spec.md §4.10: load
// and filter stories, resolve viewports, construct the worker pool with a
// capture-backed RunFunc, subscribe progress to an event sink, and return
// the process exit code.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corestories/storyrunner/internal/animation"
	"github.com/corestories/storyrunner/internal/artifact"
	"github.com/corestories/storyrunner/internal/browserpool"
	"github.com/corestories/storyrunner/internal/capture"
	"github.com/corestories/storyrunner/internal/clock"
	"github.com/corestories/storyrunner/internal/compare"
	"github.com/corestories/storyrunner/internal/config"
	"github.com/corestories/storyrunner/internal/model"
	"github.com/corestories/storyrunner/internal/progressui"
	"github.com/corestories/storyrunner/internal/storyfilter"
	"github.com/corestories/storyrunner/internal/storyindex"
	"github.com/corestories/storyrunner/internal/viewport"
	"github.com/corestories/storyrunner/internal/workerpool"
)

// ExitSIGINT is the code returned when a run is aborted by SIGINT, per
// spec.md §6.
const ExitSIGINT = 130

// Options bundles everything Run needs beyond the resolved config: the
// static export fallback path for story discovery and whether to render
// the interactive TUI.
type Options struct {
	Cfg              *config.RunConfig
	StaticExportPath string
	Interactive      bool
	Logger           *zap.Logger
}

// Run executes one full test run and returns the process exit code.
func Run(ctx context.Context, opts Options) int {
	cfg := opts.Cfg
	logger := opts.Logger
	runID := uuid.NewString()
	logger = logger.With(zap.String("runId", runID))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx := storyindex.New(cfg.URL, opts.StaticExportPath)
	stories, err := idx.Load(ctx)
	if err != nil {
		logger.Error("story discovery failed", zap.Error(err))
		return 1
	}
	logger.Info("discovered stories", zap.Int("count", len(stories)))

	filter := &storyfilter.Filter{
		Include:      cfg.Include,
		Exclude:      cfg.Exclude,
		Grep:         cfg.Grep,
		MissingOnly:  cfg.MissingOnly,
		FailedOnly:   cfg.FailedOnly,
		SnapshotPath: cfg.SnapshotPath,
		ResultsPath:  cfg.ResultsPath,
	}
	stories, err = filter.Apply(stories)
	if err != nil {
		logger.Error("story filtering failed", zap.Error(err))
		return 1
	}

	artifacts := artifact.New(cfg.SnapshotPath, cfg.ResultsPath)

	if cfg.Update && cfg.Clean {
		known := make(map[string]struct{}, len(stories))
		for _, s := range stories {
			known[s.SnapshotRelPath] = struct{}{}
		}
		if err := artifacts.RemoveOrphans(known); err != nil {
			logger.Warn("failed to remove orphaned artifacts", zap.Error(err))
		}
	}

	if !cfg.Update {
		var kept []model.Story
		skipped := 0
		for _, s := range stories {
			if baselineExists(cfg.SnapshotPath, s.SnapshotRelPath) {
				kept = append(kept, s)
			} else {
				skipped++
			}
		}
		if skipped > 0 {
			logger.Info("skipped stories with no existing baseline", zap.Int("count", skipped))
		}
		stories = kept
	}

	resolver := viewport.New(cfg)
	resolver.ResolveAll(stories)

	if len(stories) == 0 {
		logger.Info("no stories to run")
		return 0
	}

	browsers, err := browserpool.LaunchPool(ctx, cfg.BrowserInstances, cfg.ChromeArgs, logger)
	if err != nil {
		logger.Error("failed to launch browser pool", zap.Error(err))
		return 1
	}
	defer browsers.CloseAll()

	fixedClock := cfg.FixDate.Time
	if !cfg.FixDate.Enabled {
		fixedClock = time.Now().UTC()
	}

	capturer := capture.New(logger)
	capturer.Browsers = browsers
	capturer.Artifacts = artifacts
	capturer.Clock = clock.New(fixedClock)
	capturer.Animations = animation.New(cfg.DisableAnimations)
	capturer.Comparator = compare.NewEvaluator(cfg.Threshold, true)
	capturer.FullPage = cfg.FullPage
	capturer.Update = cfg.Update
	capturer.TestTimeout = cfg.TestTimeout()
	capturer.StoryLoadDelay = cfg.StoryLoadDelay()
	capturer.ResultsPath = cfg.ResultsPath

	sink := buildSink(ctx, opts.Interactive, cfg.Quiet, cfg.Summary, len(stories))
	defer sink.Close()

	pool := workerpool.New(workerpool.Config{
		Retries:     cfg.Retries,
		MaxFailures: cfg.MaxFailures,
		Workers:     cfg.Workers,
	}, capturer.Run)

	cancelOnSignal := make(chan struct{})
	go func() {
		<-ctx.Done()
		pool.Cancel()
		close(cancelOnSignal)
	}()

	for _, s := range stories {
		sink.OnStoryStart(s.ID, s.DisplayName())
	}

	start := time.Now()
	failed := pool.Run(ctx, stories,
		sink.OnProgress,
		func(o model.StoryOutcome) {
			sink.OnResult(o)
			sink.OnStoryComplete(o)
			logResult(logger, o)
		},
		func() {},
	)
	elapsed := time.Since(start)

	select {
	case <-ctx.Done():
		logger.Info("run cancelled", zap.Duration("elapsed", elapsed))
		return ExitSIGINT
	default:
	}

	if !cfg.Update {
		if err := artifacts.SweepEmptyDirs(); err != nil {
			logger.Warn("empty-directory sweep failed", zap.Error(err))
		}
	}

	if cfg.Summary {
		fmt.Printf("done in %s, %d failed\n", elapsed.Round(time.Millisecond), failed)
	}

	logger.Info("run complete", zap.Int("failed", failed), zap.Duration("elapsed", elapsed))

	if failed > 0 {
		return 1
	}
	return 0
}

func baselineExists(snapshotPath, rel string) bool {
	_, err := os.Stat(filepath.Join(snapshotPath, rel))
	return err == nil
}

func buildSink(ctx context.Context, interactive, quiet, summary bool, total int) progressui.Sink {
	if interactive && !quiet {
		return progressui.NewTUISink(ctx, total)
	}
	return progressui.NewLogSink(quiet, summary)
}

func logResult(logger *zap.Logger, o model.StoryOutcome) {
	fields := []zap.Field{
		zap.String("storyId", o.StoryID),
		zap.String("status", string(o.Status)),
		zap.String("action", string(o.Action)),
		zap.Int64("durationMs", o.DurationMs),
		zap.Int("attempts", o.Attempts),
	}
	if o.Reason != "" {
		fields = append(fields, zap.String("reason", o.Reason))
	}
	if o.DiffPath != "" {
		fields = append(fields, zap.String("diffPath", o.DiffPath))
	}
	switch o.Status {
	case model.StatusFailed:
		logger.Warn("story failed", fields...)
	case model.StatusCancelled:
		logger.Info("story cancelled", fields...)
	default:
		logger.Info("story completed", fields...)
	}
}
