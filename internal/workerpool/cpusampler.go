package workerpool

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// cpuSampler maintains a rolling window of aggregate CPU utilization
// samples, used by the adaptive scaler's CPU signal (spec.md §4.9.1).
type cpuSampler struct {
	mu      sync.Mutex
	window  []float64 // percentages, most recent last
	maxLen  int
	lastRaw *cpu.TimesStat
}

func newCPUSampler() *cpuSampler {
	return &cpuSampler{maxLen: 5}
}

// sampleOnce reads aggregate CPU ticks, computes the delta-based percentage
// since the previous sample, and appends it to the rolling window. The
// first call only primes lastRaw and contributes no percentage.
func (s *cpuSampler) sampleOnce() {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}
	cur := times[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRaw == nil {
		s.lastRaw = &cur
		return
	}

	prev := s.lastRaw
	busyDelta := (cur.User + cur.Nice + cur.System + cur.Irq) - (prev.User + prev.Nice + prev.System + prev.Irq)
	idleDelta := cur.Idle - prev.Idle
	totalDelta := busyDelta + idleDelta
	s.lastRaw = &cur

	if totalDelta <= 0 {
		return
	}
	pct := (busyDelta / totalDelta) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	s.window = append(s.window, pct)
	if len(s.window) > s.maxLen {
		s.window = s.window[len(s.window)-s.maxLen:]
	}
}

// mean returns the mean of the rolling window, or -1 if no samples yet.
func (s *cpuSampler) mean() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return -1
	}
	sum := 0.0
	for _, v := range s.window {
		sum += v
	}
	return sum / float64(len(s.window))
}

// latest returns the most recent sample, or -1 if none yet (used for
// progress reporting's cpuPercent field).
func (s *cpuSampler) latest() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return -1
	}
	return s.window[len(s.window)-1]
}

const cpuSampleInterval = 500 * time.Millisecond
