// Package browserpool launches and tracks a small pool of warm headless
// browser processes that capture workers borrow pages from, adapted from
// the teacher's internal/browser package.
package browserpool

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Instance is one warm browser process with its own allocator context.
type Instance struct {
	AllocCancel context.CancelFunc
	Ctx         context.Context
	cancel      context.CancelFunc
	ID          int
}

type Instances []*Instance

// Pick returns a pseudo-randomly chosen instance; with a single instance it
// always returns it.
func (is Instances) Pick() *Instance {
	if len(is) == 1 {
		return is[0]
	}
	return is[rand.Intn(len(is))]
}

// roundRobinCounter backs PickRoundRobin across concurrent callers.
var roundRobinCounter uint64

// PickRoundRobin distributes story dispatch evenly across instances
// instead of relying purely on randomness, useful once the worker pool
// starts scaling concurrency up under the CPU signal.
func (is Instances) PickRoundRobin() *Instance {
	if len(is) == 1 {
		return is[0]
	}
	n := atomic.AddUint64(&roundRobinCounter, 1)
	return is[int(n)%len(is)]
}

// CloseAll tears down every browser process in the pool.
func (is Instances) CloseAll() {
	for _, it := range is {
		if it.cancel != nil {
			it.cancel()
		}
		if it.AllocCancel != nil {
			it.AllocCancel()
		}
	}
}

// LaunchPool starts n headless browser processes, with the given
// comma-separated-free list of additional Chrome flags applied to each.
func LaunchPool(root context.Context, n int, chromeArgs []string, logger *zap.Logger) (Instances, error) {
	if n < 1 {
		n = 1
	}
	instances := make([]*Instance, 0, n)
	for i := 0; i < n; i++ {
		inst, err := launchOne(root, chromeArgs)
		if err != nil {
			Instances(instances).CloseAll()
			logger.Error("failed to launch browser instance", zap.Int("index", i), zap.Error(err))
			return nil, err
		}
		inst.ID = i
		instances = append(instances, inst)
	}

	logger.Info("launched browser instances", zap.Int("count", len(instances)))
	return instances, nil
}

func launchOne(root context.Context, extraArgs []string) (*Instance, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("disable-features", "Translate,BackForwardCache"),
		chromedp.Flag("force-color-profile", "srgb"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-gpu", true),
	)

	for _, a := range extraArgs {
		if a == "" {
			continue
		}
		opts = append(opts, chromedp.CustomFlag(a, ""))
	}

	if bin := os.Getenv("CHROME_BIN"); bin != "" && fileExists(bin) {
		opts = append(opts, chromedp.ExecPath(bin))
	} else if p, _ := findChrome(); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(root, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}

	return &Instance{AllocCancel: allocCancel, Ctx: ctx, cancel: cancel}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func findChrome() (string, error) {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "linux":
		candidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "microsoft-edge"}
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		prog := os.Getenv("ProgramFiles")
		prog86 := os.Getenv("ProgramFiles(x86)")
		candidates = []string{
			filepath.Join(local, `Google\Chrome\Application\chrome.exe`),
			filepath.Join(prog, `Google\Chrome\Application\chrome.exe`),
			filepath.Join(prog86, `Google\Chrome\Application\chrome.exe`),
			filepath.Join(prog, `Microsoft\Edge\Application\msedge.exe`),
			filepath.Join(prog86, `Microsoft\Edge\Application\msedge.exe`),
		}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
		if fileExists(c) {
			return c, nil
		}
	}
	return "", errors.New("chrome not found")
}

// NewPageContext creates a fresh tab (target) under a browser instance, the
// unit of isolation one PageCapturer attempt owns; the caller sets its
// viewport.
func NewPageContext(inst *Instance) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(inst.Ctx)
}
