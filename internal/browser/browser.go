// Package browser launches the browser the CLI drives and hands out tabs whose
// pages satisfy dom.Queryable. Three backends are available: chromedp, rod and
// playwright.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/browser/stealth"
	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// ErrClosed is returned by NewTab once Shutdown has started.
var ErrClosed = errors.New("browser: backend is shut down")

// Tab is a single browser tab.
type Tab interface {
	// Page is the tab's top-level document.
	Page() dom.Queryable
	// Navigate loads url and waits for the load event, bounded by the
	// configured navigation timeout.
	Navigate(ctx context.Context, url string) error
	// Close closes the tab. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Backend owns a browser process.
type Backend interface {
	NewTab(ctx context.Context) (Tab, error)
	// Shutdown waits for open tabs to close, up to ctx's deadline, then stops
	// the browser.
	Shutdown(ctx context.Context) error
}

// New launches the backend selected by cfg.Backend.
func New(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendChromedp, "":
		return NewManager(ctx, logger, cfg)
	case config.BackendRod:
		return NewRodManager(ctx, logger, cfg)
	case config.BackendPlaywright:
		return NewPlaywrightManager(ctx, logger, cfg)
	default:
		return nil, fmt.Errorf("browser: unknown backend '%s'; supported backends are: %s",
			cfg.Backend, strings.Join(config.Backends(), ", "))
	}
}

// persona is the identity every backend presents.
var persona = stealth.DefaultPersona

// flag is a browser command line switch. A bool value toggles a bare switch.
type flag struct {
	name  string
	value any
}

// launchFlags assembles the switches shared by the chromium based backends.
// Custom args from the config come last so they can override the defaults.
func launchFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		// Hides navigator.webdriver at the Blink level.
		{"disable-blink-features", "AutomationControlled"},
		{"enable-automation", false},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
	}
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}
	for _, arg := range cfg.Args {
		flags = append(flags, parseArg(arg))
	}
	return flags
}

// parseArg turns "--name=value" or "--name" into a flag.
func parseArg(arg string) flag {
	name, value, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	if !ok {
		return flag{name, true}
	}
	return flag{name, value}
}

// cmdline renders flags for backends that take a plain argument list. Disabled
// switches are dropped and headless is left to the launcher.
func cmdline(flags []flag) []string {
	var args []string
	for _, f := range flags {
		if f.name == "headless" {
			continue
		}
		switch v := f.value.(type) {
		case bool:
			if v {
				args = append(args, "--"+f.name)
			}
		default:
			args = append(args, fmt.Sprintf("--%s=%v", f.name, v))
		}
	}
	return args
}

// tabs tracks open tabs so Shutdown can wait for them.
type tabs struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// add registers a tab, failing once shutdown has begun.
func (t *tabs) add() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.wg.Add(1)
	return nil
}

// drain stops new tabs and waits for open ones, giving up when ctx is done.
func (t *tabs) drain(ctx context.Context, logger *zap.Logger) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All tabs have closed.")
	case <-ctx.Done():
		logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}
}

// closer runs a tab's close function once and signals the tracker.
type closer struct {
	once sync.Once
	err  error
}

func (c *closer) close(t *tabs, fn func() error) error {
	c.once.Do(func() {
		c.err = fn()
		t.wg.Done()
	})
	return c.err
}

// navigationContext bounds ctx by the navigation timeout.
func navigationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
