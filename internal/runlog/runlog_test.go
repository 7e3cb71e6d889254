package runlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevelKnownNames(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zap.InfoLevel, parseLevel("info"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
}

func TestParseLevelUnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, parseLevel("trace"))
	assert.Equal(t, zap.InfoLevel, parseLevel(""))
}

func TestNewWithFilePathWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	logger, cleanup, err := New(Config{
		Level:    "info",
		FilePath: logPath,
		JSON:     true,
		Console:  false,
	})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", zap.String("storyId", "button--primary"))
	cleanup()

	b, err := readAllLines(logPath)
	require.NoError(t, err)
	assert.Contains(t, b, "hello")
	assert.Contains(t, b, "button--primary")
}

func TestNewQuietSuppressesConsoleCoreButKeepsFileCore(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	logger, cleanup, err := New(Config{
		Level:    "info",
		FilePath: logPath,
		JSON:     true,
		Console:  true,
		Quiet:    true,
	})
	os.Stdout = oldStdout
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, logger)
	logger.Info("quiet-line")
	cleanup()

	require.NoError(t, w.Close())
	consoleOut, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, consoleOut)

	b, err := readAllLines(logPath)
	require.NoError(t, err)
	assert.Contains(t, b, "quiet-line")
}

func TestForStoryAttachesRunAndStoryFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)
	child := ForStory(base, "run-1", "story-a")
	assert.NotNil(t, child)
	assert.NotSame(t, base, child)

	child.Info("hello")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["runId"])
	assert.Equal(t, "story-a", fields["storyId"])
}

func TestFileCoreAppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Config{FilePath: filepath.Join(t.TempDir(), "x.log")}
	core := fileCore(cfg, zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zap.InfoLevel)
	assert.NotNil(t, core)
}

func readAllLines(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
