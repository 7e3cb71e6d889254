// Package artifact computes baseline/actual/diff paths and manages their
// lifecycle on disk, per spec.md §4.8: directory creation under
// parallel-worker races, retry-artifact pruning, pass cleanup, and
// end-of-run empty-directory sweeps.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Manager computes and manages artifact paths rooted at snapshotPath and
// resultsPath.
type Manager struct {
	SnapshotPath string
	ResultsPath  string
}

func New(snapshotPath, resultsPath string) *Manager {
	return &Manager{SnapshotPath: snapshotPath, ResultsPath: resultsPath}
}

// Paths is the {expected, actual, diff} triple of spec.md §3, computed
// deterministically from a story's snapshotRelPath.
type Paths struct {
	Expected string
	Actual   string
	Diff     string
}

// Resolve computes Paths for a story. In update mode actual is not written
// at all (the capturer writes directly to Expected); Resolve still returns
// the path that would have been used so logging/reporting can reference it.
func (m *Manager) Resolve(snapshotRelPath string) Paths {
	expected := filepath.Join(m.SnapshotPath, snapshotRelPath)
	actual := filepath.Join(m.ResultsPath, snapshotRelPath)
	ext := filepath.Ext(actual)
	diff := strings.TrimSuffix(actual, ext) + ".diff.png"
	return Paths{Expected: expected, Actual: actual, Diff: diff}
}

// Contains reports whether candidate is root itself or a descendant of
// root, comparing normalized absolute paths as spec.md §4.8 requires.
func Contains(root, candidate string) (bool, error) {
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return false, err
	}
	candAbs, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return false, err
	}
	if candAbs == rootAbs {
		return true, nil
	}
	return strings.HasPrefix(candAbs, rootAbs+string(filepath.Separator)), nil
}

// EnsureDirectory creates dir and any missing parents, tolerating EEXIST/
// ENOENT/EINVAL races between parallel workers with exponential backoff up
// to 5 attempts, then probes writability.
func EnsureDirectory(dir string) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		err := os.MkdirAll(dir, 0o755)
		if err == nil {
			return probeWritable(dir)
		}
		if errors.Is(err, fs.ErrExist) || errors.Is(err, fs.ErrNotExist) || isEinval(err) {
			lastErr = err
			backoff := time.Duration(1<<attempt) * 5 * time.Millisecond
			backoff += time.Duration(rand.Intn(5)) * time.Millisecond
			time.Sleep(backoff)
			continue
		}
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	return fmt.Errorf("creating directory %q after retries: %w", dir, lastErr)
}

func isEinval(err error) bool {
	return strings.Contains(err.Error(), "invalid argument")
}

func probeWritable(dir string) error {
	probe := filepath.Join(dir, fmt.Sprintf(".write-probe-%d", rand.Int63()))
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("directory %q is not writable: %w", dir, err)
	}
	f.Close()
	return os.Remove(probe)
}

// isRetryArtifact matches spec.md §4.8's retry-artifact naming:
// <base>-<n>-(actual|diff|expected).png and test-failed-<n>.png.
func isRetryArtifact(name string) bool {
	if strings.HasPrefix(name, "test-failed-") {
		return true
	}
	for _, kind := range []string{"-actual.png", "-diff.png", "-expected.png"} {
		if strings.HasSuffix(name, kind) {
			trimmed := strings.TrimSuffix(name, kind)
			if idx := strings.LastIndex(trimmed, "-"); idx >= 0 {
				if _, err := parseUint(trimmed[idx+1:]); err == nil {
					return true
				}
			}
		}
	}
	return false
}

func parseUint(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// CleanRetryArtifacts deletes only numbered retry artifacts for a story
// between attempts, never the authoritative failure artifacts
// (<base>-diff.png, <base>-error.png, <base>.png) except via OnPass.
func (m *Manager) CleanRetryArtifacts(paths Paths) error {
	dir := filepath.Dir(paths.Actual)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(paths.Actual), filepath.Ext(paths.Actual))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		if isRetryArtifact(name) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// OnPass deletes actual, diff, and any stale -error.png artifact for a
// passing story, then prunes now-empty directories up to resultsPath.
func (m *Manager) OnPass(paths Paths) error {
	ext := filepath.Ext(paths.Actual)
	errorPath := strings.TrimSuffix(paths.Actual, ext) + "-error.png"

	for _, p := range []string{paths.Actual, paths.Diff, errorPath} {
		if ok, _ := Contains(m.ResultsPath, p); !ok {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %q: %w", p, err)
		}
	}

	return SafeRemoveEmptyDirsUp(filepath.Dir(paths.Actual), m.ResultsPath)
}

// SafeRemoveEmptyDirsUp removes dir and its ancestors while they are empty,
// stopping at (and never removing) stopAt.
func SafeRemoveEmptyDirsUp(dir, stopAt string) error {
	stopAbs, err := filepath.Abs(filepath.Clean(stopAt))
	if err != nil {
		return err
	}
	cur := dir
	for {
		curAbs, err := filepath.Abs(filepath.Clean(cur))
		if err != nil {
			return err
		}
		if curAbs == stopAbs {
			return nil
		}
		ok, err := Contains(stopAt, cur)
		if err != nil || !ok {
			return nil
		}

		entries, err := os.ReadDir(cur)
		if errors.Is(err, fs.ErrNotExist) {
			cur = filepath.Dir(cur)
			continue
		}
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(cur); err != nil {
			return nil
		}
		cur = filepath.Dir(cur)
	}
}

// SweepEmptyDirs walks resultsPath depth-first at run completion (non-update
// mode) and removes every directory that became empty, never removing
// resultsPath itself. A flock guards this against a concurrent run of the
// same results tree, since the sweep only runs after the pool has drained.
func (m *Manager) SweepEmptyDirs() error {
	lockPath := filepath.Join(m.ResultsPath, ".runner-sweep.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring results-tree lock: %w", err)
	}
	if !locked {
		return nil // another run's sweep owns the tree right now
	}
	defer fl.Unlock()
	defer os.Remove(lockPath)

	var dirs []string
	err = filepath.WalkDir(m.ResultsPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() && path != m.ResultsPath {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Remove deepest-first so a parent only empties out after its children
	// have already been judged empty or removed.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
	return nil
}

// RemoveOrphans deletes results/baseline artifacts whose snapshotRelPath no
// longer corresponds to any discovered story, run at start in update+clean
// mode per spec.md §4.8.
func (m *Manager) RemoveOrphans(knownRelPaths map[string]struct{}) error {
	roots := []string{m.SnapshotPath, m.ResultsPath}
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(path, ".png") {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			baseRel := baseRelPath(rel)
			if _, ok := knownRelPaths[baseRel]; !ok {
				_ = os.Remove(path)
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// baseRelPath strips diff/error/retry suffixes so an orphan check can match
// a derived artifact back to its story's canonical snapshotRelPath.
func baseRelPath(rel string) string {
	rel = strings.TrimSuffix(rel, ".diff.png")
	rel = strings.TrimSuffix(rel, "-error.png")
	if !strings.HasSuffix(rel, ".png") {
		rel += ".png"
	}
	return rel
}
