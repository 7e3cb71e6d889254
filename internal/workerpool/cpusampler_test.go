package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCPUSamplerMeanAndLatestBeforeAnySampleIsNegativeOne(t *testing.T) {
	s := newCPUSampler()
	assert.Equal(t, -1.0, s.mean())
	assert.Equal(t, -1.0, s.latest())
}

func TestCPUSamplerFirstSampleOnlyPrimesLastRaw(t *testing.T) {
	s := newCPUSampler()
	s.sampleOnce()
	assert.Equal(t, -1.0, s.mean(), "first sample has no prior delta to compute a percentage from")
}

func TestCPUSamplerSecondSampleProducesAPercentageInRange(t *testing.T) {
	s := newCPUSampler()
	s.sampleOnce()
	time.Sleep(50 * time.Millisecond)
	s.sampleOnce()

	latest := s.latest()
	if latest == -1 {
		t.Skip("totalDelta was zero between samples on this host, nothing to assert")
	}
	assert.GreaterOrEqual(t, latest, 0.0)
	assert.LessOrEqual(t, latest, 100.0)
}

func TestCPUSamplerWindowTrimsToMaxLen(t *testing.T) {
	s := newCPUSampler()
	s.window = []float64{1, 2, 3, 4, 5}
	s.window = append(s.window, 6)
	if len(s.window) > s.maxLen {
		s.window = s.window[len(s.window)-s.maxLen:]
	}
	assert.Len(t, s.window, s.maxLen)
	assert.Equal(t, []float64{2, 3, 4, 5, 6}, s.window)
}

func TestCPUSamplerMeanAveragesWindow(t *testing.T) {
	s := newCPUSampler()
	s.window = []float64{10, 20, 30}
	assert.InDelta(t, 20.0, s.mean(), 0.0001)
}
