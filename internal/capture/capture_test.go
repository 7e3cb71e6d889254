package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corestories/storyrunner/internal/model"
)

func TestStaggerDelayIsDeterministicForSameStoryID(t *testing.T) {
	a := staggerDelay("button--primary")
	b := staggerDelay("button--primary")
	assert.Equal(t, a, b)
	assert.Less(t, a, 50*time.Millisecond)
	assert.GreaterOrEqual(t, a, time.Duration(0))
}

func TestStaggerDelayVariesAcrossDifferentStoryIDs(t *testing.T) {
	seen := map[time.Duration]bool{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		seen[staggerDelay(id)] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestIsCrashDetectsKnownSubstrings(t *testing.T) {
	assert.True(t, isCrash(errors.New("Target crashed while navigating")))
	assert.True(t, isCrash(errors.New("page crashed unexpectedly")))
	assert.True(t, isCrash(errors.New("session closed: context canceled")))
}

func TestIsCrashFalseForOrdinaryErrors(t *testing.T) {
	assert.False(t, isCrash(errors.New("connection refused")))
	assert.False(t, isCrash(nil))
}

func TestEmulateViewportDefaultsWhenNil(t *testing.T) {
	action := emulateViewport(nil)
	assert.NotNil(t, action)
}

func TestEmulateViewportUsesResolvedDimensionsWhenPresent(t *testing.T) {
	v := &model.Viewport{Name: "mobile", Width: 375, Height: 667}
	action := emulateViewport(v)
	assert.NotNil(t, action)
}

func TestEmulateViewportFallsBackToDefaultOnZeroDimensions(t *testing.T) {
	v := &model.Viewport{Name: "broken", Width: 0, Height: 0}
	action := emulateViewport(v)
	assert.NotNil(t, action)
}

func TestCancelledOutcomeSetsStatusAndAction(t *testing.T) {
	base := model.StoryOutcome{StoryID: "s1"}
	out := cancelledOutcome(base)
	assert.Equal(t, model.StatusCancelled, out.Status)
	assert.Equal(t, model.ActionCancelled, out.Action)
	assert.Equal(t, "s1", out.StoryID)
}

func TestWithReasonMarksOutcomeAsFailed(t *testing.T) {
	base := model.StoryOutcome{StoryID: "s1"}
	out := withReason(base, "operation timed out")
	assert.Equal(t, "operation timed out", out.Reason)
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.ActionFailed, out.Action)
	assert.Equal(t, "s1", out.StoryID)
}

func TestPollUntilReturnsNilAsSoonAsCheckSucceeds(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), time.Second, 5*time.Millisecond, func() (bool, error) {
		calls++
		return calls >= 3, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollUntilTimesOutWhenConditionNeverTrue(t *testing.T) {
	err := pollUntil(context.Background(), 20*time.Millisecond, 5*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.Error(t, err)
}

func TestPollUntilPropagatesCheckError(t *testing.T) {
	boom := errors.New("boom")
	err := pollUntil(context.Background(), time.Second, 5*time.Millisecond, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollUntilRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pollUntil(ctx, time.Second, 5*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.Error(t, err)
}

func TestConsoleBufferAccumulatesUnderConcurrentAccess(t *testing.T) {
	buf := &consoleBuffer{}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			buf.mu.Lock()
			buf.lines = append(buf.lines, "")
			buf.mu.Unlock()
			_ = buf.snapshot()
		}
		close(done)
	}()
	for i := 0; i < 50; i++ {
		_ = buf.snapshot()
	}
	<-done
	assert.Len(t, buf.snapshot(), 50)
}

func TestScreenshotDiagnosticsReportsDirExistence(t *testing.T) {
	c := &Capturer{}
	dir := t.TempDir()
	msg := c.screenshotDiagnostics(dir+"/snap.png", errors.New("disk full"))
	assert.Contains(t, msg, "targetDirExists=true")
	assert.Contains(t, msg, "disk full")
}

func TestScreenshotDiagnosticsReportsMissingDir(t *testing.T) {
	c := &Capturer{}
	msg := c.screenshotDiagnostics("/nonexistent-root-dir-xyz/nested/snap.png", errors.New("nope"))
	assert.Contains(t, msg, "targetDirExists=false")
}
