package workerpool

import (
	"time"

	"github.com/corestories/storyrunner/internal/model"
)

// throughputLog keeps the last two minutes of (timestamp, completedCount,
// workers) samples the throughput signal needs, per spec.md §4.9.2.
type throughputLog struct {
	samples []model.PerformanceSample
}

const throughputWindow = 2 * time.Minute

func (t *throughputLog) record(now time.Time, completed, workers int) {
	t.samples = append(t.samples, model.PerformanceSample{Timestamp: now, CompletedCount: completed, Workers: workers})
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

// throughputOver returns completions-per-second over the trailing window
// ending at now and starting `window` earlier, or (0, false) if there is
// not enough history to compute it.
func (t *throughputLog) throughputOver(now time.Time, window time.Duration) (float64, bool) {
	return t.throughputBetween(now.Add(-window), now)
}

// throughputBetween returns completions-per-second over [start, end], used
// by the throughput signal to compare a recent 10s window against the 10s
// preceding it.
func (t *throughputLog) throughputBetween(start, end time.Time) (float64, bool) {
	var first, last *model.PerformanceSample
	for i := range t.samples {
		ts := t.samples[i].Timestamp
		if !ts.Before(start) && !ts.After(end) {
			if first == nil {
				first = &t.samples[i]
			}
			last = &t.samples[i]
		}
	}
	if first == nil || last == nil || first == last {
		return 0, false
	}
	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	delta := last.CompletedCount - first.CompletedCount
	return float64(delta) / elapsed, true
}
