package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThroughputBetweenComputesRatePerSecond(t *testing.T) {
	var log throughputLog
	base := time.Now()
	log.record(base, 0, 1)
	log.record(base.Add(10*time.Second), 10, 1)

	rate, ok := log.throughputBetween(base, base.Add(10*time.Second))
	assert.True(t, ok)
	assert.InDelta(t, 1.0, rate, 0.01)
}

func TestThroughputBetweenInsufficientSamples(t *testing.T) {
	var log throughputLog
	log.record(time.Now(), 5, 1)
	_, ok := log.throughputBetween(time.Now().Add(-time.Minute), time.Now())
	assert.False(t, ok)
}

func TestThroughputRecordTrimsOldSamples(t *testing.T) {
	var log throughputLog
	now := time.Now()
	log.record(now.Add(-3*time.Minute), 1, 1)
	log.record(now, 2, 1)
	assert.Len(t, log.samples, 1)
}
