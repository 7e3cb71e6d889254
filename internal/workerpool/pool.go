// Package workerpool implements the adaptive concurrent scheduler of
// spec.md §4.9: dispatch from a shared queue, retry/cancel/max-failures
// semantics, CPU- and throughput-driven concurrency scaling, and progress
// snapshots. Per the Design Notes, all adaptive-scaling state (CPU ring
// buffer, throughput ring buffer) is owned here, not spread across
// workers.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/corestories/storyrunner/internal/model"
	"github.com/corestories/storyrunner/internal/runnererrors"
)

// RunFunc executes one capture attempt for a story. A nil error means the
// attempt reached a terminal state (passed/created-baseline/
// updated-baseline); a non-nil error is consulted via runnererrors.Kind to
// decide whether the pool retries (a skipped story comes with the
// non-retryable MissingBaseline kind). checkpoint reports whether the pool has
// been cancelled or hit max failures, for the state machine's cooperative
// cancellation checks.
type RunFunc func(ctx context.Context, story model.Story, attempt int, checkpoint func() bool) (model.StoryOutcome, error)

// Config is the subset of RunConfig the pool needs.
type Config struct {
	Retries         int
	MaxFailures     *int
	Workers         *int // fixed size; disables adaptive scaling when set
	MaxWorkersLimit int  // default 2*NumCPU
}

// Pool is the adaptive worker pool.
type Pool struct {
	cfg   Config
	runFn RunFunc

	mu                 sync.Mutex
	queue              []model.Story
	total              int
	maxWorkers         int
	activeWorkers      int
	cancelled          bool
	maxFailuresReached bool
	completed          int
	passed             int
	failed             int
	skipped            int
	cancelledCount     int
	startedAt          time.Time
	etaHistory         []float64
	adaptiveEnabled    bool
	adjustTicks        int
	perf               throughputLog
	cpu                *cpuSampler

	onProgress func(model.ProgressSnapshot)
	onResult   func(model.StoryOutcome)

	wg           sync.WaitGroup
	stopAdaptive chan struct{}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// New builds a pool. cfg.MaxWorkersLimit defaults to 2x CPU cores when 0.
func New(cfg Config, runFn RunFunc) *Pool {
	if cfg.MaxWorkersLimit <= 0 {
		cfg.MaxWorkersLimit = 2 * runtime.NumCPU()
		if cfg.MaxWorkersLimit < 1 {
			cfg.MaxWorkersLimit = 1
		}
	}
	return &Pool{cfg: cfg, runFn: runFn, cpu: newCPUSampler()}
}

// Run dispatches every story to a worker, blocks until all have produced an
// outcome (or been cancelled and drained), and returns the failed count.
func (p *Pool) Run(ctx context.Context, stories []model.Story, onProgress func(model.ProgressSnapshot), onResult func(model.StoryOutcome), onComplete func()) int {
	p.mu.Lock()
	p.queue = append([]model.Story(nil), stories...)
	p.total = len(stories)
	p.onProgress = onProgress
	p.onResult = onResult
	p.startedAt = time.Now()

	if p.cfg.Workers != nil {
		p.maxWorkers = clamp(*p.cfg.Workers, 1, p.cfg.MaxWorkersLimit)
		p.adaptiveEnabled = false
	} else {
		initial := clamp(runtime.NumCPU(), 1, p.cfg.MaxWorkersLimit)
		p.maxWorkers = initial
		p.adaptiveEnabled = true
	}
	p.wg.Add(p.total)
	p.mu.Unlock()

	if p.total == 0 {
		if onComplete != nil {
			onComplete()
		}
		return 0
	}

	if p.adaptiveEnabled {
		p.stopAdaptive = make(chan struct{})
		go p.runAdaptiveLoop(ctx)
	}

	p.mu.Lock()
	p.dispatchLocked(ctx)
	p.mu.Unlock()

	p.wg.Wait()

	if p.adaptiveEnabled {
		close(p.stopAdaptive)
	}

	if onComplete != nil {
		onComplete()
	}

	p.mu.Lock()
	failed := p.failed
	p.mu.Unlock()
	return failed
}

// Cancel marks the pool cancelled: any queued story is immediately turned
// into a cancelled outcome, and in-flight workers observe the flag at their
// next checkpoint.
func (p *Pool) Cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	drained := p.drainQueueLocked()
	p.mu.Unlock()

	for _, out := range drained {
		p.mu.Lock()
		p.completed++
		p.cancelledCount++
		p.perf.record(time.Now(), p.completed, p.activeWorkers)
		p.mu.Unlock()
		p.emit(out)
		p.wg.Done()
	}
}

// SetMaxWorkers clamps n to [1, MaxWorkersLimit]. Raising it dispatches
// immediately if work remains; lowering it lets current workers finish
// without spawning new ones until the count drops.
func (p *Pool) SetMaxWorkers(ctx context.Context, n int) {
	p.mu.Lock()
	p.maxWorkers = clamp(n, 1, p.cfg.MaxWorkersLimit)
	p.dispatchLocked(ctx)
	p.mu.Unlock()
}

func (p *Pool) checkpoint() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled || p.maxFailuresReached
}

// drainQueueLocked converts every still-queued story into a cancelled
// outcome and empties the queue. Caller must hold p.mu.
func (p *Pool) drainQueueLocked() []model.StoryOutcome {
	out := make([]model.StoryOutcome, 0, len(p.queue))
	for _, s := range p.queue {
		out = append(out, model.StoryOutcome{
			StoryID:     s.ID,
			DisplayName: s.DisplayName(),
			Status:      model.StatusCancelled,
			Action:      model.ActionCancelled,
		})
	}
	p.queue = nil
	return out
}

// dispatchLocked launches workers while capacity, queued work, and pool
// state allow it. Caller must hold p.mu. No busy loop: this is only called
// on state transitions (Run, SetMaxWorkers, and after every completion).
func (p *Pool) dispatchLocked(ctx context.Context) {
	for p.activeWorkers < p.maxWorkers && len(p.queue) > 0 && !p.cancelled && !p.maxFailuresReached {
		story := p.queue[0]
		p.queue = p.queue[1:]
		p.activeWorkers++
		go p.runWorker(ctx, story)
	}
}

func (p *Pool) runWorker(ctx context.Context, story model.Story) {
	maxAttempts := p.cfg.Retries + 1
	var outcome model.StoryOutcome
	started := time.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if p.checkpoint() {
			outcome = model.StoryOutcome{StoryID: story.ID, DisplayName: story.DisplayName(), Status: model.StatusCancelled, Action: model.ActionCancelled}
			break
		}

		res, err := p.runFn(ctx, story, attempt, p.checkpoint)
		res.Attempts = attempt + 1
		outcome = res

		if err == nil {
			break
		}

		var rerr *runnererrors.Error
		if errors.As(err, &rerr) {
			if rerr.Kind == runnererrors.KindCancelled || !runnererrors.Retryable(rerr.Kind) {
				break
			}
		}

		if attempt < maxAttempts-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	outcome.DurationMs = time.Since(started).Milliseconds()

	p.mu.Lock()
	p.activeWorkers--
	p.recordLocked(outcome)
	if p.adaptiveEnabled {
		p.applyThroughputSignalLocked(ctx)
	}
	p.dispatchLocked(ctx)
	p.mu.Unlock()

	p.emit(outcome)
	p.wg.Done()
}

// recordLocked updates counters and the max-failures transition. Caller
// must hold p.mu. It does not invoke callbacks — that happens in emit,
// outside the lock, to avoid reentrancy deadlocks if a callback calls back
// into the pool (e.g. Cancel from a SIGINT handler).
func (p *Pool) recordLocked(outcome model.StoryOutcome) {
	p.completed++
	switch outcome.Status {
	case model.StatusPassed:
		p.passed++
	case model.StatusFailed:
		p.failed++
	case model.StatusSkipped:
		p.skipped++
	case model.StatusCancelled:
		p.cancelledCount++
	}

	p.perf.record(time.Now(), p.completed, p.activeWorkers)

	if outcome.Status == model.StatusFailed && p.cfg.MaxFailures != nil && p.failed >= *p.cfg.MaxFailures && !p.maxFailuresReached {
		p.maxFailuresReached = true
		drained := p.drainQueueLocked()
		p.cancelled = true
		go func() {
			for _, d := range drained {
				p.mu.Lock()
				p.completed++
				p.cancelledCount++
				p.perf.record(time.Now(), p.completed, p.activeWorkers)
				p.mu.Unlock()
				p.emit(d)
				p.wg.Done()
			}
		}()
	}
}

// emit sends the outcome and a fresh progress snapshot to the registered
// callbacks. Must be called without p.mu held.
func (p *Pool) emit(outcome model.StoryOutcome) {
	if p.onResult != nil {
		p.onResult(outcome)
	}
	if p.onProgress != nil {
		p.onProgress(p.snapshot())
	}
}

func (p *Pool) snapshot() model.ProgressSnapshot {
	p.mu.Lock()
	elapsed := time.Since(p.startedAt)
	completed, total := p.completed, p.total
	passed, failed, skipped, cancelledCount := p.passed, p.failed, p.skipped, p.cancelledCount
	workers := p.maxWorkers

	spm := 0.0
	if elapsed.Minutes() > 0 {
		spm = float64(completed) / elapsed.Minutes()
	}

	if completed > 0 && completed < total {
		extrap := float64(total-completed) * (elapsed.Seconds() / float64(completed))
		p.etaHistory = append(p.etaHistory, extrap)
		if len(p.etaHistory) > 20 {
			p.etaHistory = p.etaHistory[len(p.etaHistory)-20:]
		}
	}
	eta := 0.0
	if len(p.etaHistory) > 0 {
		sum := 0.0
		for _, v := range p.etaHistory {
			sum += v
		}
		eta = sum / float64(len(p.etaHistory))
	}
	p.mu.Unlock()

	cpuPct := p.cpu.latest()
	if cpuPct < 0 {
		cpuPct = 0
	}

	return model.ProgressSnapshot{
		Completed:          completed,
		Total:              total,
		Passed:             passed,
		Failed:             failed,
		Skipped:            skipped,
		Cancelled:          cancelledCount,
		StoriesPerMinute:   spm,
		SmoothedETASeconds: eta,
		CurrentWorkers:     workers,
		CPUPercent:         cpuPct,
	}
}
