// Package animation implements AnimationSuppressor: a pre-navigation init
// script plus a post-load reinforcement pass that disable animations,
// transitions, SMIL, and loader overlays, per spec.md §4.5.
package animation

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// loaderSelectors are the known component-explorer loading overlays that
// get force-hidden after the story is ready.
var loaderSelectors = []string{".sb-preparing-story", ".sb-preparing-docs", ".sb-loader"}

const preNavScript = `(() => {
  const style = document.createElement('style');
  style.setAttribute('data-runner-animation-suppressor', 'pre-nav');
  style.textContent = ` + "`" + `
    *, *::before, *::after {
      animation-duration: 0s !important;
      animation-delay: 0s !important;
      animation-play-state: paused !important;
      transition-duration: 0s !important;
      transition-delay: 0s !important;
      transition-property: none !important;
      scroll-behavior: auto !important;
    }
    [class*="animate"], [class*="spin"], [class*="fade"], [class*="slide"] {
      animation: none !important;
      transition: none !important;
      transform: none !important;
    }
  ` + "`" + `;
  const attach = () => {
    (document.head || document.documentElement).appendChild(style);
    const observer = new MutationObserver((mutations) => {
      for (const m of mutations) {
        for (const node of m.addedNodes) {
          if (node.nodeType === 1) {
            node.style && (node.style.animationPlayState = 'paused');
          }
        }
      }
    });
    observer.observe(document.documentElement, { childList: true, subtree: true });
  };
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', attach, { once: true });
  } else {
    attach();
  }
})();`

// reinforceQuietPeriodMs records that the post-load layer waits for no
// quiet period; the DOM quiet-period and wait-cap values used before
// capture live in internal/capture (domStableQuietPeriod, domStableWaitCap).
const (
	reinforceQuietPeriodMs = 0 // reinforcement is a one-shot sweep, not a wait
)

const postLoadScript = `(() => {
  const style = document.createElement('style');
  style.setAttribute('data-runner-animation-suppressor', 'post-load');
  style.textContent = ` + "`" + `
    *, *::before, *::after {
      animation-duration: 0s !important;
      transition-duration: 0s !important;
      animation-play-state: paused !important;
    }
  ` + "`" + `;
  (document.head || document.documentElement).appendChild(style);

  document.querySelectorAll('*').forEach((el) => {
    el.style && (el.style.animation = '');
    el.style && (el.style.transition = '');
  });

  document.querySelectorAll('svg').forEach((svg) => {
    if (typeof svg.pauseAnimations === 'function') {
      svg.pauseAnimations();
    }
  });

  const realGetComputedStyle = window.getComputedStyle;
  window.getComputedStyle = function(...args) {
    const result = realGetComputedStyle.apply(this, args);
    return new Proxy(result, {
      get(target, prop) {
        if (prop === 'animationDuration' || prop === 'transitionDuration') {
          return '0s';
        }
        return target[prop];
      },
    });
  };

  const loaderSelectors = ` + loaderSelectorsJS() + `;
  loaderSelectors.forEach((sel) => {
    document.querySelectorAll(sel).forEach((el) => {
      el.style.display = 'none';
      el.setAttribute('aria-hidden', 'true');
    });
  });
})();`

func loaderSelectorsJS() string {
	out := "["
	for i, s := range loaderSelectors {
		if i > 0 {
			out += ", "
		}
		out += "'" + s + "'"
	}
	return out + "]"
}

// Suppressor installs both layers of animation suppression.
type Suppressor struct {
	Enabled bool
}

func New(enabled bool) *Suppressor {
	return &Suppressor{Enabled: enabled}
}

// InstallAction registers the pre-navigation init script on a browser
// context, a no-op when disabled.
func (s *Suppressor) InstallAction() chromedp.Action {
	if !s.Enabled {
		return chromedp.ActionFunc(func(context.Context) error { return nil })
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(preNavScript).Do(ctx)
		return err
	})
}

// Reinforce re-injects the style and sweeps the DOM once the story is
// ready, the post-load layer of spec.md §4.5.
func (s *Suppressor) Reinforce(ctx context.Context) error {
	if !s.Enabled {
		return nil
	}
	return chromedp.Run(ctx, chromedp.Evaluate(postLoadScript, nil))
}
