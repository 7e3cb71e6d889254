// Package storyfilter applies include/exclude/grep/missing-only/failed-only
// filtering to the discovered story set, per spec.md §4.2.
package storyfilter

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/corestories/storyrunner/internal/model"
)

// Filter is the resolved filter configuration for one run.
type Filter struct {
	Include      []string
	Exclude      []string
	Grep         string
	MissingOnly  bool
	FailedOnly   bool
	SnapshotPath string
	ResultsPath  string
}

const globSpecialChars = "*?[]{}"

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, globSpecialChars)
}

// simpleGlobMatch converts a simplified "*" glob into a regex
// the way spec.md §4.2 describes ("*" → ".*"), used for patterns that are
// not valid doublestar path globs (e.g. they target a display name rather
// than a path).
func simpleGlobMatch(pattern, subject string) bool {
	re := "(?i)^" + regexp.QuoteMeta(pattern) + "$"
	re = strings.ReplaceAll(re, regexp.QuoteMeta("*"), ".*")
	re = strings.ReplaceAll(re, regexp.QuoteMeta("?"), ".")
	matched, err := regexp.MatchString(re, subject)
	if err != nil {
		return false
	}
	return matched
}

func matchesPattern(pattern, storyID, displayName string) bool {
	lowerPattern := strings.ToLower(pattern)
	if !isGlob(pattern) {
		return strings.Contains(strings.ToLower(storyID), lowerPattern) ||
			strings.Contains(strings.ToLower(displayName), lowerPattern)
	}
	if ok, _ := doublestar.Match(lowerPattern, strings.ToLower(storyID)); ok {
		return true
	}
	if ok, _ := doublestar.Match(lowerPattern, strings.ToLower(displayName)); ok {
		return true
	}
	return simpleGlobMatch(pattern, storyID) || simpleGlobMatch(pattern, displayName)
}

// Apply filters stories in the order spec.md §4.2 defines: include (OR),
// exclude (AND-NOT), grep, missing-only, failed-only.
func (f *Filter) Apply(stories []model.Story) ([]model.Story, error) {
	result := stories

	if len(f.Include) > 0 {
		result = filterSlice(result, func(s model.Story) bool {
			for _, p := range f.Include {
				if matchesPattern(p, s.ID, s.DisplayName()) {
					return true
				}
			}
			return false
		})
	}

	if len(f.Exclude) > 0 {
		result = filterSlice(result, func(s model.Story) bool {
			for _, p := range f.Exclude {
				if matchesPattern(p, s.ID, s.DisplayName()) {
					return false
				}
			}
			return true
		})
	}

	if f.Grep != "" {
		re, err := regexp.Compile("(?i)" + f.Grep)
		if err != nil {
			return nil, err
		}
		result = filterSlice(result, func(s model.Story) bool {
			return re.MatchString(s.ID) || re.MatchString(s.DisplayName())
		})
	}

	if f.MissingOnly {
		result = filterSlice(result, func(s model.Story) bool {
			return !baselineExists(f.SnapshotPath, s.SnapshotRelPath)
		})
	}

	if f.FailedOnly {
		result = filterSlice(result, func(s model.Story) bool {
			return f.hasStaleFailureArtifact(s.SnapshotRelPath)
		})
	}

	return result, nil
}

func filterSlice(stories []model.Story, keep func(model.Story) bool) []model.Story {
	out := make([]model.Story, 0, len(stories))
	for _, s := range stories {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func baselineExists(snapshotPath, rel string) bool {
	_, err := os.Stat(filepath.Join(snapshotPath, rel))
	return err == nil
}

// hasStaleFailureArtifact implements the Open Question decision recorded in
// SPEC_FULL.md: a story is "failed" if its snapshot-relative path matches a
// diff artifact, an error artifact, or a kept actual screenshot already
// present under resultsPath.
func (f *Filter) hasStaleFailureArtifact(rel string) bool {
	ext := filepath.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	candidates := []string{
		base + ".diff.png",
		base + "-error.png",
		rel,
	}
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(f.ResultsPath, c)); err == nil {
			return true
		}
	}
	return false
}
