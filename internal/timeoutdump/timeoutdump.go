// Package timeoutdump writes HTML/JSON/console diagnostics for
// ContentReadyTimeout and PageCrash failures, per spec.md §4.6 and §7.
package timeoutdump

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// PageState is the JSON snapshot of page state captured alongside a dump.
type PageState struct {
	CorrelationID string    `json:"correlationId"`
	CapturedAt    time.Time `json:"capturedAt"`
	URL           string    `json:"url"`
	ReadyState    string    `json:"readyState"`
	RootWidth     float64   `json:"rootWidth"`
	RootHeight    float64   `json:"rootHeight"`
	Reason        string    `json:"reason"`
}

const pageStateScript = `(() => {
  const root = document.querySelector('#storybook-root') || document.body;
  const rect = root ? root.getBoundingClientRect() : { width: 0, height: 0 };
  return {
    url: location.href,
    readyState: document.readyState,
    rootWidth: rect.width,
    rootHeight: rect.height,
  };
})()`

func safeFilename(storyID string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	return r.Replace(storyID)
}

// Write captures whatever is reachable (outer HTML, a JSON page-state
// snapshot, and buffered console messages) and writes the three dump files
// under resultsPath/timeout-dumps/. Partial capture is tolerated: each
// artifact is attempted independently so a crashed page still yields
// whatever could be read before it died.
func Write(ctx context.Context, resultsPath, storyID, reason string, consoleMessages []string) error {
	dir := filepath.Join(resultsPath, "timeout-dumps")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := safeFilename(storyID)

	var outerHTML string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery)); err == nil {
		_ = os.WriteFile(filepath.Join(dir, base+".html"), []byte(outerHTML), 0o644)
	}

	state := PageState{
		CorrelationID: uuid.NewString(),
		CapturedAt:    time.Now().UTC(),
		Reason:        reason,
	}
	var raw map[string]any
	if err := chromedp.Run(ctx, chromedp.Evaluate(pageStateScript, &raw)); err == nil {
		if v, ok := raw["url"].(string); ok {
			state.URL = v
		}
		if v, ok := raw["readyState"].(string); ok {
			state.ReadyState = v
		}
		if v, ok := raw["rootWidth"].(float64); ok {
			state.RootWidth = v
		}
		if v, ok := raw["rootHeight"].(float64); ok {
			state.RootHeight = v
		}
	}
	if b, err := json.MarshalIndent(state, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, base+".json"), b, 0o644)
	}

	_ = os.WriteFile(filepath.Join(dir, base+".console.txt"), []byte(strings.Join(consoleMessages, "\n")), 0o644)

	return nil
}
