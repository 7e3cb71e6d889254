// Package capture implements PageCapturer, the per-story state machine of
// spec.md §4.6: Launched → Navigated → DomReady → ContentReady → Settled →
// Captured → Compared → Done, with cooperative cancellation checkpoints,
// staggered launch delays, and timeout/crash diagnostics dumped through
// internal/timeoutdump.
package capture

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/corestories/storyrunner/internal/animation"
	"github.com/corestories/storyrunner/internal/artifact"
	"github.com/corestories/storyrunner/internal/browserpool"
	"github.com/corestories/storyrunner/internal/clock"
	"github.com/corestories/storyrunner/internal/compare"
	"github.com/corestories/storyrunner/internal/model"
	"github.com/corestories/storyrunner/internal/runnererrors"
	"github.com/corestories/storyrunner/internal/timeoutdump"
)

// Capturer runs one story through the full state machine. A single
// Capturer is shared by every worker; all per-attempt state is local to
// Run.
type Capturer struct {
	Browsers       browserpool.Instances
	Artifacts      *artifact.Manager
	Clock          *clock.Fixer
	Animations     *animation.Suppressor
	Comparator     *compare.Evaluator
	FullPage       bool
	Update         bool
	TestTimeout    time.Duration
	StoryLoadDelay time.Duration
	ResultsPath    string
	Logger         *zap.Logger

	staggerMu      sync.Mutex
	staggerApplied map[string]bool
}

func New(logger *zap.Logger) *Capturer {
	return &Capturer{Logger: logger, staggerApplied: make(map[string]bool)}
}

const contentReadyQuietPollMs = 200
const domReadyBudget = 5 * time.Second
const fontsReadyCap = 5 * time.Second
const domStableQuietPeriod = 300 * time.Millisecond
const domStableWaitCap = 2000 * time.Millisecond

// staggerDelay returns a deterministic 0-49ms delay derived from storyID,
// per spec.md §4.6's "hash of storyId modulo 50ms" stagger requirement.
func staggerDelay(storyID string) time.Duration {
	h := fnv.New32a()
	_, _ = h.Write([]byte(storyID))
	return time.Duration(h.Sum32()%50) * time.Millisecond
}

// Run drives story through every state once. It returns a terminal
// StoryOutcome and a nil error on success, or a non-nil error the worker
// pool uses (via runnererrors.Kind) to decide whether to retry; a skipped
// story comes back with the non-retryable runnererrors.MissingBaseline.
func (c *Capturer) Run(ctx context.Context, story model.Story, attempt int, checkpoint func() bool) (model.StoryOutcome, error) {
	base := model.StoryOutcome{StoryID: story.ID, DisplayName: story.DisplayName()}

	c.staggerMu.Lock()
	firstLaunch := attempt == 0 && !c.staggerApplied[story.ID]
	if firstLaunch {
		c.staggerApplied[story.ID] = true
	}
	c.staggerMu.Unlock()
	if firstLaunch {
		select {
		case <-time.After(staggerDelay(story.ID)):
		case <-ctx.Done():
		}
	}

	if checkpoint() {
		return cancelledOutcome(base), runnererrors.Cancelled
	}

	inst := c.Browsers.PickRoundRobin()
	pageCtx, pageCancel := browserpool.NewPageContext(inst)
	defer pageCancel()

	pageCtx, timeoutCancel := context.WithTimeout(pageCtx, c.TestTimeout)
	defer timeoutCancel()

	var consoleBuf = &consoleBuffer{}
	chromedp.ListenTarget(pageCtx, consoleBuf.listener())

	if err := chromedp.Run(pageCtx,
		c.Clock.InstallAction(),
		c.Animations.InstallAction(),
		emulateViewport(story.Resolved),
	); err != nil {
		return withReason(base, "failed to launch page"), runnererrors.New(runnererrors.KindNavigation, "failed to launch page", err)
	}

	if checkpoint() {
		return cancelledOutcome(base), runnererrors.Cancelled
	}

	if err := c.navigate(pageCtx, story.URL); err != nil {
		if isCrash(err) {
			c.dump(pageCtx, story.ID, "browser crashed", consoleBuf.snapshot())
			return withReason(base, "browser crashed"), runnererrors.New(runnererrors.KindPageCrash, "browser crashed", err)
		}
		c.dump(pageCtx, story.ID, "failed to load story", consoleBuf.snapshot())
		return withReason(base, "failed to load story"), runnererrors.New(runnererrors.KindNavigation, "failed to load story", err)
	}

	if checkpoint() {
		return cancelledOutcome(base), runnererrors.Cancelled
	}

	if err := waitDomReady(pageCtx); err != nil {
		c.dump(pageCtx, story.ID, "operation timed out", consoleBuf.snapshot())
		return withReason(base, "operation timed out"), runnererrors.New(runnererrors.KindContentReadyTimeout, "operation timed out", err)
	}

	if err := c.waitContentReady(pageCtx, c.TestTimeout); err != nil {
		if isCrash(err) {
			c.dump(pageCtx, story.ID, "browser crashed", consoleBuf.snapshot())
			return withReason(base, "browser crashed"), runnererrors.New(runnererrors.KindPageCrash, "browser crashed", err)
		}
		c.dump(pageCtx, story.ID, "operation timed out", consoleBuf.snapshot())
		return withReason(base, "operation timed out"), runnererrors.New(runnererrors.KindContentReadyTimeout, "operation timed out", err)
	}

	if err := c.settle(pageCtx); err != nil {
		c.Logger.Debug("settle wait did not fully complete", zap.String("storyId", story.ID), zap.Error(err))
	}

	if checkpoint() {
		return cancelledOutcome(base), runnererrors.Cancelled
	}

	paths := c.Artifacts.Resolve(story.SnapshotRelPath)
	writeTarget := paths.Actual
	if c.Update {
		writeTarget = paths.Expected
	}
	if err := artifact.EnsureDirectory(filepath.Dir(writeTarget)); err != nil {
		return withReason(base, "screenshot failed"), runnererrors.New(runnererrors.KindScreenshot, "failed to prepare output directory", err)
	}

	_, statErr := os.Stat(paths.Expected)
	baselineExisted := statErr == nil

	if err := c.screenshot(pageCtx, writeTarget); err != nil {
		return withReason(base, "screenshot failed"), runnererrors.New(runnererrors.KindScreenshot, c.screenshotDiagnostics(writeTarget, err), err)
	}

	// In update mode the screenshot already sits at Expected, so there is
	// nothing to compare or copy; the outcome only records whether the
	// baseline was created or replaced.
	var outcome compare.Outcome
	if c.Update {
		outcome = compare.Outcome{Action: model.ActionUpdatedBaseline, Status: model.StatusPassed}
		if !baselineExisted {
			outcome.Action = model.ActionCreatedBaseline
		}
	} else {
		outcome = c.Comparator.Evaluate(ctx, false, paths.Expected, paths.Actual, paths.Diff)
	}

	result := base
	result.Action = outcome.Action
	result.Status = outcome.Status
	result.Reason = outcome.Reason
	result.ExpectedPath = paths.Expected
	result.ActualPath = paths.Actual
	if outcome.Status == model.StatusFailed && outcome.Action == model.ActionFailed && outcome.Reason == "visual difference" {
		result.DiffPath = paths.Diff
	}

	switch outcome.Status {
	case model.StatusPassed:
		if outcome.Action == model.ActionPass {
			_ = c.Artifacts.OnPass(paths)
		} else {
			_ = c.Artifacts.CleanRetryArtifacts(paths)
		}
		return result, nil
	case model.StatusSkipped:
		return result, outcome.Err
	default:
		return result, outcome.Err
	}
}

func cancelledOutcome(base model.StoryOutcome) model.StoryOutcome {
	base.Status = model.StatusCancelled
	base.Action = model.ActionCancelled
	return base
}

// withReason marks base as a terminal failure with the given reason. Every
// call site is an early-return failure path, so Status/Action are set here
// rather than at each call site, mirroring cancelledOutcome's pattern.
func withReason(base model.StoryOutcome, reason string) model.StoryOutcome {
	base.Status = model.StatusFailed
	base.Action = model.ActionFailed
	base.Reason = reason
	return base
}

func emulateViewport(v *model.Viewport) chromedp.Action {
	width, height := 1280, 800
	if v != nil && v.Width > 0 && v.Height > 0 {
		width, height = v.Width, v.Height
	}
	return chromedp.EmulateViewport(int64(width), int64(height))
}

func isCrash(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "target crashed") || strings.Contains(s, "page crashed") || strings.Contains(s, "session closed")
}

func (c *Capturer) navigate(ctx context.Context, url string) error {
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		return nil
	}
	var ready string
	pollErr := pollUntil(ctx, 10*time.Second, 150*time.Millisecond, func() (bool, error) {
		if e := chromedp.Run(ctx, chromedp.Evaluate(`document.readyState`, &ready)); e != nil {
			return false, e
		}
		return ready == "interactive" || ready == "complete", nil
	})
	if pollErr != nil {
		return err
	}
	return nil
}

func waitDomReady(ctx context.Context) error {
	return pollUntil(ctx, domReadyBudget, 100*time.Millisecond, func() (bool, error) {
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes("#storybook-root", &nodes, chromedp.AtLeast(0))); err != nil {
			return false, err
		}
		return len(nodes) > 0, nil
	})
}

const contentReadyPredicate = `(() => {
  const root = document.querySelector('#storybook-root');
  if (!root) return false;
  const hasChildren = root.children && root.children.length > 0;
  const hasNonEmptyHTML = (root.innerHTML || '').trim().length > 0;
  const text = (root.textContent || '').trim();
  const rect = root.getBoundingClientRect();
  const rootHasDimensions = rect.width > 0 && rect.height > 0;
  const hasText = text.length > 0;
  const hasCanvasOrSvg = !!root.querySelector('canvas, svg');
  return hasChildren || hasNonEmptyHTML || (hasText && rootHasDimensions) || hasCanvasOrSvg;
})()`

// waitContentReady implements spec.md §4.6 state 4: a fast page-side
// predicate for up to 80% of the remaining budget, falling back to 200ms
// polling for the remainder.
func (c *Capturer) waitContentReady(ctx context.Context, budget time.Duration) error {
	fastBudget := time.Duration(float64(budget) * 0.8)
	fastCtx, cancel := context.WithTimeout(ctx, fastBudget)
	defer cancel()

	var ready bool
	err := chromedp.Run(fastCtx, chromedp.Poll(contentReadyPredicate, &ready, chromedp.WithPollingInterval(50*time.Millisecond)))
	if err == nil && ready {
		return nil
	}
	if err != nil && isCrash(err) {
		return err
	}

	remaining := budget - fastBudget
	if remaining <= 0 {
		remaining = contentReadyQuietPollMs * time.Millisecond
	}
	return pollUntil(ctx, remaining, contentReadyQuietPollMs*time.Millisecond, func() (bool, error) {
		var r bool
		if e := chromedp.Run(ctx, chromedp.Evaluate(contentReadyPredicate, &r)); e != nil {
			return false, e
		}
		return r, nil
	})
}

// settle implements spec.md §4.6 state 5: fonts.ready (capped), a DOM
// mutation-quiet wait, then a fixed post-load delay.
func (c *Capturer) settle(ctx context.Context) error {
	fontsCtx, cancel := context.WithTimeout(ctx, fontsReadyCap)
	defer cancel()
	_ = chromedp.Run(fontsCtx, chromedp.Evaluate(`document.fonts ? document.fonts.ready.then(() => true) : true`, nil))

	if err := c.waitDOMStable(ctx); err != nil {
		return err
	}

	if c.Animations != nil {
		if err := c.Animations.Reinforce(ctx); err != nil {
			c.Logger.Debug("animation reinforcement failed", zap.Error(err))
		}
	}

	if c.StoryLoadDelay > 0 {
		select {
		case <-time.After(c.StoryLoadDelay):
		case <-ctx.Done():
		}
	}
	return nil
}

const domStableScript = `(() => {
  return new Promise((resolve) => {
    let timer;
    const quiet = %d;
    const cap = %d;
    const start = Date.now();
    const done = () => { observer.disconnect(); resolve(true); };
    const observer = new MutationObserver(() => {
      clearTimeout(timer);
      if (Date.now() - start >= cap) { done(); return; }
      timer = setTimeout(done, quiet);
    });
    observer.observe(document.documentElement, { childList: true, subtree: true, attributes: true, characterData: true });
    timer = setTimeout(done, quiet);
    setTimeout(done, cap);
  });
})()`

func (c *Capturer) waitDOMStable(ctx context.Context) error {
	script := fmt.Sprintf(domStableScript, domStableQuietPeriod.Milliseconds(), domStableWaitCap.Milliseconds())
	stableCtx, cancel := context.WithTimeout(ctx, domStableWaitCap+500*time.Millisecond)
	defer cancel()
	var ok bool
	return chromedp.Run(stableCtx, chromedp.Evaluate(script, &ok, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

func (c *Capturer) screenshot(ctx context.Context, dest string) error {
	var buf []byte
	var err error
	if c.FullPage {
		err = chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90))
	} else {
		err = chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, buf, 0o644); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("screenshot write verification failed: %w", err)
	}
	return nil
}

// screenshotDiagnostics reports the filesystem facts spec.md §7 requires in
// a ScreenshotError's final message: whether the target directory exists,
// is writable, and whether its parent exists.
func (c *Capturer) screenshotDiagnostics(dest string, cause error) string {
	dir := filepath.Dir(dest)
	parent := filepath.Dir(dir)
	dirInfo, dirErr := os.Stat(dir)
	_, parentErr := os.Stat(parent)

	dirExists := dirErr == nil && dirInfo.IsDir()
	parentExists := parentErr == nil
	writable := false
	if dirExists {
		probe := filepath.Join(dir, ".write-probe")
		if f, err := os.Create(probe); err == nil {
			f.Close()
			_ = os.Remove(probe)
			writable = true
		}
	}
	return fmt.Sprintf("screenshot failed: %v (targetDirExists=%t writable=%t parentExists=%t)", cause, dirExists, writable, parentExists)
}

func (c *Capturer) dump(ctx context.Context, storyID, reason string, console []string) {
	if c.ResultsPath == "" {
		return
	}
	if err := timeoutdump.Write(ctx, c.ResultsPath, storyID, reason, console); err != nil {
		c.Logger.Debug("failed to write diagnostic dump", zap.String("storyId", storyID), zap.Error(err))
	}
}

// pollUntil calls check every interval until it returns true, the budget
// elapses, or ctx is done.
func pollUntil(ctx context.Context, budget, interval time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(budget)
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for condition")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// consoleBuffer accumulates console messages for a page so a timeout/crash
// dump can include them, per spec.md §4.6's retry diagnostics. chromedp
// invokes the listener from its own event-reading goroutine, so access is
// mutex-guarded against the worker goroutine reading a snapshot.
type consoleBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (c *consoleBuffer) listener() func(ev interface{}) {
	return func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			var parts []string
			for _, arg := range e.Args {
				if arg.Value != nil {
					parts = append(parts, string(arg.Value))
				} else if arg.Description != "" {
					parts = append(parts, arg.Description)
				}
			}
			c.mu.Lock()
			c.lines = append(c.lines, fmt.Sprintf("[%s] %s", e.Type, strings.Join(parts, " ")))
			c.mu.Unlock()
		}
	}
}

func (c *consoleBuffer) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}
