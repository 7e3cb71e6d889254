package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveComputesExpectedActualDiff(t *testing.T) {
	m := New("/snap", "/res")
	paths := m.Resolve(filepath.Join("Button", "Primary.png"))
	assert.Equal(t, filepath.Join("/snap", "Button", "Primary.png"), paths.Expected)
	assert.Equal(t, filepath.Join("/res", "Button", "Primary.png"), paths.Actual)
	assert.Equal(t, filepath.Join("/res", "Button", "Primary.diff.png"), paths.Diff)
}

func TestContainsRequiresPrefixOrEquality(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "a", "b.png")
	ok, err := Contains(root, inside)
	require.NoError(t, err)
	assert.True(t, ok)

	sibling := root + "-sibling"
	ok, err = Contains(root, sibling)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Contains(root, root)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureDirectoryCreatesNestedPath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c")
	require.NoError(t, EnsureDirectory(target))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanRetryArtifactsRemovesOnlyNumberedRetries(t *testing.T) {
	root := t.TempDir()
	m := New(root, root)
	paths := m.Resolve("Button/Primary.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.Actual), 0o755))

	retryActual := filepath.Join(filepath.Dir(paths.Actual), "Primary-1-actual.png")
	authoritative := filepath.Join(filepath.Dir(paths.Actual), "Primary-diff.png")
	require.NoError(t, os.WriteFile(retryActual, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(authoritative, []byte("x"), 0o644))

	require.NoError(t, m.CleanRetryArtifacts(paths))

	_, err := os.Stat(retryActual)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(authoritative)
	assert.NoError(t, err)
}

func TestOnPassRemovesActualDiffAndErrorArtifacts(t *testing.T) {
	root := t.TempDir()
	m := New(root, root)
	paths := m.Resolve("Button/Primary.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(paths.Actual), 0o755))
	require.NoError(t, os.WriteFile(paths.Actual, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(paths.Diff, []byte("x"), 0o644))

	require.NoError(t, m.OnPass(paths))

	_, err := os.Stat(paths.Actual)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths.Diff)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeRemoveEmptyDirsUpStopsAtRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	require.NoError(t, SafeRemoveEmptyDirsUp(nested, root))

	_, err := os.Stat(nested)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemoveOrphansDeletesUnknownArtifacts(t *testing.T) {
	root := t.TempDir()
	m := New(root, root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "known.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "orphan.png"), []byte("x"), 0o644))

	require.NoError(t, m.RemoveOrphans(map[string]struct{}{"known.png": {}}))

	_, err := os.Stat(filepath.Join(root, "known.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "orphan.png"))
	assert.True(t, os.IsNotExist(err))
}
