package timeoutdump

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFilenameReplacesPathLikeCharacters(t *testing.T) {
	assert.Equal(t, "Button-Primary", safeFilename("Button/Primary"))
	assert.Equal(t, "a-b-c", safeFilename("a b:c"))
	assert.Equal(t, `a-b`, safeFilename(`a\b`))
}

func TestSafeFilenameLeavesPlainIDsUnchanged(t *testing.T) {
	assert.Equal(t, "button--primary", safeFilename("button--primary"))
}

func TestWriteTakesConsoleAndJSONArtifactsEvenWithoutALiveBrowserContext(t *testing.T) {
	dir := t.TempDir()
	// Write is handed a plain, non-chromedp context here to exercise the
	// "partial capture" tolerance: the HTML/JSON chromedp.Run calls fail
	// (no allocator attached) but the function must not error out, and the
	// console-log artifact must still be written.
	err := Write(context.Background(), dir, "stories/button--primary", "operation timed out", []string{"console.log hi", "console.error boom"})
	require.NoError(t, err)

	base := filepath.Join(dir, "timeout-dumps", "stories-button--primary")
	consoleBytes, err := os.ReadFile(base + ".console.txt")
	require.NoError(t, err)
	assert.Contains(t, string(consoleBytes), "console.log hi")
	assert.Contains(t, string(consoleBytes), "console.error boom")

	jsonBytes, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(jsonBytes), "operation timed out")
}

func TestWriteCreatesTimeoutDumpsDirectory(t *testing.T) {
	dir := t.TempDir()
	err := Write(context.Background(), dir, "story-1", "browser crashed", nil)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "timeout-dumps"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteEmptyConsoleMessagesProducesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	err := Write(context.Background(), dir, "story-empty", "reason", []string{})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "timeout-dumps", "story-empty.console.txt"))
	require.NoError(t, err)
	assert.Equal(t, "", string(b))
}
