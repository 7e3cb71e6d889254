// Package storyindex loads the runnable set of stories from the component
// explorer server's index.json, falling back to a static export, per
// spec.md §4.1 and §6.
package storyindex

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/corestories/storyrunner/internal/model"
	"github.com/corestories/storyrunner/internal/runnererrors"
)

const fetchTimeout = 10 * time.Second

// entry mirrors one value of the index.json `entries` map.
type entry struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Name       string         `json:"name"`
	ImportPath string         `json:"importPath"`
	Parameters map[string]any `json:"parameters"`
}

type indexDocument struct {
	Entries map[string]entry `json:"entries"`
}

// Loader loads the story index either from baseURL/index.json or, on
// failure, from a static export directory.
type Loader struct {
	BaseURL          string
	StaticExportPath string // e.g. {projectRoot}/storybook-static/index.json
	HTTPClient       *http.Client
}

func New(baseURL, staticExportPath string) *Loader {
	return &Loader{
		BaseURL:          baseURL,
		StaticExportPath: staticExportPath,
		HTTPClient:       &http.Client{Timeout: fetchTimeout},
	}
}

// Load produces the ordered list of runnable stories.
func (l *Loader) Load(ctx context.Context) ([]model.Story, error) {
	doc, err := l.fetchRemote(ctx)
	if err != nil {
		doc, err = l.loadStatic()
		if err != nil {
			return nil, runnererrors.New(runnererrors.KindDiscovery, "story index unreachable", err)
		}
	}

	stories := make([]model.Story, 0, len(doc.Entries))
	ids := make([]string, 0, len(doc.Entries))
	for id := range doc.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := doc.Entries[id]
		if e.Type != "story" {
			continue
		}
		s := model.Story{
			ID:         id,
			Title:      e.Title,
			Name:       e.Name,
			URL:        storyURL(l.BaseURL, id),
			Parameters: e.Parameters,
		}
		s.SnapshotRelPath = DeriveSnapshotRelPath(s.Title, s.Name, s.ID)
		stories = append(stories, s)
	}

	if len(stories) == 0 {
		return nil, runnererrors.New(runnererrors.KindDiscovery, "story index contains zero stories", nil)
	}
	return stories, nil
}

func storyURL(baseURL, storyID string) string {
	return fmt.Sprintf("%s/iframe.html?id=%s&viewMode=story", strings.TrimRight(baseURL, "/"), storyID)
}

// AlternateStoryURL builds the secondary iframe URL form of spec.md §6.
// Stories are loaded from the primary form only: the capture pipeline does
// not check the response status and does not fall back to this form.
func AlternateStoryURL(baseURL, storyID string) string {
	return fmt.Sprintf("%s/iframe.html?path=/story/%s", strings.TrimRight(baseURL, "/"), storyID)
}

func (l *Loader) fetchRemote(ctx context.Context) (*indexDocument, error) {
	if l.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured")
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := strings.TrimRight(l.BaseURL, "/") + "/index.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("index.json returned status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return nil, fmt.Errorf("index.json returned unexpected content-type %q", ct)
	}

	var doc indexDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding index.json: %w", err)
	}
	return &doc, nil
}

func (l *Loader) loadStatic() (*indexDocument, error) {
	if l.StaticExportPath == "" {
		return nil, fmt.Errorf("no static export path configured")
	}
	b, err := os.ReadFile(l.StaticExportPath)
	if err != nil {
		return nil, fmt.Errorf("reading static index %q: %w", l.StaticExportPath, err)
	}
	var doc indexDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decoding static index %q: %w", l.StaticExportPath, err)
	}
	return &doc, nil
}

var invalidSegmentChars = strings.NewReplacer(
	"<", "-", ">", "-", ":", "-", `"`, "-", "|", "-", "?", "-", "*", "-", "/", "-", `\`, "-",
)

// DeriveSnapshotRelPath implements the deterministic derivation from
// spec.md §4.1: split on " / ", sanitize each segment, collapse ".." and
// repeated dashes, trim, and fall back to "{storyId}.png" if nothing
// usable remains.
func DeriveSnapshotRelPath(title, name, storyID string) string {
	display := title
	if name != "" {
		if display != "" {
			display += " / " + name
		} else {
			display = name
		}
	}

	rawSegments := strings.Split(display, " / ")
	segments := make([]string, 0, len(rawSegments))
	for _, seg := range rawSegments {
		s := sanitizeSegment(seg)
		if s != "" {
			segments = append(segments, s)
		}
	}

	if len(segments) == 0 {
		return storyID + ".png"
	}

	dir := filepath.Join(segments[:len(segments)-1]...)
	base := segments[len(segments)-1] + ".png"
	if dir == "" {
		return base
	}
	return path.Join(dir, base)
}

func sanitizeSegment(seg string) string {
	s := invalidSegmentChars.Replace(seg)
	s = whitespaceToDash(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, " .-")
	return s
}

func whitespaceToDash(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune('-')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
