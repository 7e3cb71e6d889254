package compare

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, fill color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestCompareMatchesIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	expected := filepath.Join(dir, "expected.png")
	actual := filepath.Join(dir, "actual.png")
	diff := filepath.Join(dir, "diff.png")
	writePNG(t, expected, color.White)
	writePNG(t, actual, color.White)

	res, err := Compare(t.Context(), expected, actual, diff, Options{Threshold: 0})
	require.NoError(t, err)
	assert.True(t, res.Match)
}

func TestCompareDetectsDifference(t *testing.T) {
	dir := t.TempDir()
	expected := filepath.Join(dir, "expected.png")
	actual := filepath.Join(dir, "actual.png")
	diff := filepath.Join(dir, "diff.png")
	writePNG(t, expected, color.White)
	writePNG(t, actual, color.Black)

	res, err := Compare(t.Context(), expected, actual, diff, Options{Threshold: 0, OutputDiffMask: true})
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Greater(t, res.DiffPercentage, 0.0)
	_, statErr := os.Stat(diff)
	assert.NoError(t, statErr)
}

func TestCompareToleratesThreshold(t *testing.T) {
	dir := t.TempDir()
	expected := filepath.Join(dir, "expected.png")
	actual := filepath.Join(dir, "actual.png")
	diff := filepath.Join(dir, "diff.png")
	writePNG(t, expected, color.White)
	writePNG(t, actual, color.Black)

	res, err := Compare(t.Context(), expected, actual, diff, Options{Threshold: 1})
	require.NoError(t, err)
	assert.True(t, res.Match)
}

func TestCompareReturnsErrBaseImageUnreadable(t *testing.T) {
	dir := t.TempDir()
	expected := filepath.Join(dir, "expected.png")
	actual := filepath.Join(dir, "actual.png")
	diff := filepath.Join(dir, "diff.png")
	require.NoError(t, os.WriteFile(expected, []byte("not a png"), 0o644))
	writePNG(t, actual, color.White)

	_, err := Compare(t.Context(), expected, actual, diff, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBaseImageUnreadable)
}
