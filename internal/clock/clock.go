// Package clock implements ClockFixer: an init script that pins the page's
// wall clock before any page script runs, per spec.md §4.4.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Fixer installs a Date-patching init script pinned to a fixed instant.
type Fixer struct {
	Pinned time.Time
}

func New(pinned time.Time) *Fixer {
	return &Fixer{Pinned: pinned}
}

// script returns the init-script payload that replaces the global Date
// constructor and Date.now so every invocation returns the pinned
// timestamp. Date.parse and the UTC helper are deliberately left untouched,
// as spec.md §4.4 requires.
func (f *Fixer) script() string {
	millis := f.Pinned.UnixMilli()
	return fmt.Sprintf(`(() => {
  const __pinnedMillis = %d;
  const __RealDate = Date;
  function PinnedDate(...args) {
    if (args.length === 0) {
      return new __RealDate(__pinnedMillis);
    }
    return new __RealDate(...args);
  }
  PinnedDate.prototype = __RealDate.prototype;
  PinnedDate.now = () => __pinnedMillis;
  PinnedDate.parse = __RealDate.parse;
  PinnedDate.UTC = __RealDate.UTC;
  globalThis.Date = PinnedDate;
})();`, millis)
}

// InstallAction returns the chromedp action that registers the init script
// on a browser context so it runs before any page script, on every future
// navigation in that context.
func (f *Fixer) InstallAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(f.script()).Do(ctx)
		return err
	})
}

// CheckDrift evaluates Date.now() once after navigation and logs a mismatch
// at debug level if it differs from the pinned timestamp, per spec.md §4.4.
func (f *Fixer) CheckDrift(ctx context.Context, logger *zap.Logger) {
	var observed int64
	if err := chromedp.Run(ctx, chromedp.Evaluate(`Date.now()`, &observed)); err != nil {
		return
	}
	if observed != f.Pinned.UnixMilli() {
		logger.Debug("clock drift detected after navigation",
			zap.Int64("expectedMillis", f.Pinned.UnixMilli()),
			zap.Int64("observedMillis", observed),
		)
	}
}
