package progressui

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corestories/storyrunner/internal/model"
)

func TestStatusSymbolMapsEveryKnownStatus(t *testing.T) {
	assert.Equal(t, "PASS", statusSymbol(model.StatusPassed))
	assert.Equal(t, "FAIL", statusSymbol(model.StatusFailed))
	assert.Equal(t, "SKIP", statusSymbol(model.StatusSkipped))
	assert.Equal(t, "CXLD", statusSymbol(model.StatusCancelled))
	assert.Equal(t, "????", statusSymbol(model.Status("bogus")))
}

func TestTruncateLeavesShortStringsUntouched(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
}

func TestTruncateShortensAndAppendsEllipsis(t *testing.T) {
	got := truncate("a very long display name indeed", 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.Equal(t, "a very lo…", got)
}

func TestTruncateHandlesExactLength(t *testing.T) {
	assert.Equal(t, "exact", truncate("exact", 5))
}

func withCapturedStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestLogSinkOnStoryStartPrintsLineUnlessQuiet(t *testing.T) {
	s := NewLogSink(false, false)
	out := withCapturedStdout(t, func() { s.OnStoryStart("s1", "Button / Primary") })
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "Button / Primary")
}

func TestLogSinkOnStoryStartSuppressedWhenQuiet(t *testing.T) {
	s := NewLogSink(true, false)
	out := withCapturedStdout(t, func() { s.OnStoryStart("s1", "Button / Primary") })
	assert.Empty(t, out)
}

func TestLogSinkOnStoryCompletePrintsReasonOnFailure(t *testing.T) {
	s := NewLogSink(false, false)
	out := withCapturedStdout(t, func() {
		s.OnStoryComplete(model.StoryOutcome{
			DisplayName: "Button / Primary",
			Status:      model.StatusFailed,
			Reason:      "visual difference",
			DurationMs:  42,
		})
	})
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "Button / Primary")
	assert.Contains(t, out, "visual difference")
}

func TestLogSinkOnStoryCompleteOmitsReasonOnPass(t *testing.T) {
	s := NewLogSink(false, false)
	out := withCapturedStdout(t, func() {
		s.OnStoryComplete(model.StoryOutcome{
			DisplayName: "Button / Primary",
			Status:      model.StatusPassed,
			DurationMs:  10,
		})
	})
	assert.Contains(t, out, "PASS")
	assert.NotContains(t, out, "(")
}

func TestLogSinkOnProgressOnlyPrintsWhenSummaryAndNotQuiet(t *testing.T) {
	s := NewLogSink(false, true)
	out := withCapturedStdout(t, func() {
		s.OnProgress(model.ProgressSnapshot{Completed: 1, Total: 10})
	})
	assert.Contains(t, out, "progress")

	s2 := NewLogSink(false, false)
	out2 := withCapturedStdout(t, func() {
		s2.OnProgress(model.ProgressSnapshot{Completed: 1, Total: 10})
	})
	assert.Empty(t, out2)
}

func TestNewTUIModelInitializesEmptyState(t *testing.T) {
	m := newTUIModel(5)
	assert.Equal(t, 5, m.total)
	assert.Empty(t, m.active)
	assert.Empty(t, m.logs)
	assert.Equal(t, 12, m.maxLog)
}

func TestTUIModelUpdateTracksActiveAndCompletedStories(t *testing.T) {
	m := newTUIModel(2)
	updated, _ := m.Update(startMsg{storyID: "s1", name: "Story One"})
	m = updated.(tuiModel)
	assert.Len(t, m.active, 1)

	updated, _ = m.Update(completeMsg(model.StoryOutcome{StoryID: "s1", Status: model.StatusPassed}))
	m = updated.(tuiModel)
	assert.Empty(t, m.active)
	assert.Len(t, m.logs, 1)
}

func TestTUIModelUpdateCapsLogHistory(t *testing.T) {
	m := newTUIModel(20)
	for i := 0; i < 20; i++ {
		updated, _ := m.Update(startMsg{storyID: string(rune('a' + i)), name: "s"})
		m = updated.(tuiModel)
		updated, _ = m.Update(completeMsg(model.StoryOutcome{StoryID: string(rune('a' + i)), Status: model.StatusPassed}))
		m = updated.(tuiModel)
	}
	assert.LessOrEqual(t, len(m.logs), m.maxLog)
}

func TestTUIModelViewRendersWithoutPanicking(t *testing.T) {
	m := newTUIModel(3)
	updated, _ := m.Update(startMsg{storyID: "s1", name: "Story One"})
	m = updated.(tuiModel)
	assert.NotPanics(t, func() { _ = m.View() })
}
