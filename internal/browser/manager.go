// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/browser/stealth"
	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/pkg/browser/cdphost"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

const startupProbeTimeout = 30 * time.Second

// Manager handles the lifecycle of a chromedp driven browser process.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx owns the browser process. Every tab context derives from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	tabs tabs
}

// NewManager launches the browser and checks that it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser starts the process and runs a trivial navigation against it.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))

	// The allocator must outlive ctx, which may only cover startup.
	allocCtx, cancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), buildAllocatorOptions(m.cfg)...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	testCtx, cancelTest := context.WithTimeout(allocCtx, startupProbeTimeout)
	defer cancelTest()
	stop := context.AfterFunc(ctx, cancelTest)
	defer stop()
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for a configurable, less detectable
// browser instance.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	opts = append(opts, chromedp.UserAgent(persona.UserAgent))
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// NewTab opens a tab with the stealth persona installed.
func (m *Manager) NewTab(ctx context.Context) (Tab, error) {
	if err := m.tabs.add(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)
	fail := func(err error) (Tab, error) {
		cancel()
		m.tabs.wg.Done()
		return nil, fmt.Errorf("failed to initialize tab: %w", err)
	}
	// The first Run creates the target and must see the tab context itself.
	if err := chromedp.Run(tabCtx); err != nil {
		return fail(err)
	}

	setupCtx, cancelSetup := context.WithCancel(tabCtx)
	stop := context.AfterFunc(ctx, cancelSetup)
	err := chromedp.Run(setupCtx, stealth.Apply(persona, m.logger))
	stop()
	cancelSetup()
	if err != nil {
		return fail(err)
	}

	page := cdphost.NewPage(tabCtx, m.logger,
		cdphost.WithClickHold(m.cfg.Humanoid.ClickHold()),
		cdphost.WithMouse(m.cfg.Humanoid.Mouse()),
	)
	return &chromedpTab{
		ctx:     tabCtx,
		cancel:  cancel,
		page:    page,
		timeout: m.cfg.NavigationTimeout,
		logger:  m.logger,
		tabs:    &m.tabs,
	}, nil
}

// Shutdown waits for open tabs, then terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active tabs to complete...")
	m.tabs.drain(ctx, m.logger)

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

type chromedpTab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	page    *cdphost.Page
	timeout time.Duration
	logger  *zap.Logger
	tabs    *tabs
	closer  closer
}

func (t *chromedpTab) Page() dom.Queryable { return t.page }

func (t *chromedpTab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := navigationContext(t.ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (t *chromedpTab) Close(ctx context.Context) error {
	return t.closer.close(t.tabs, func() error {
		if err := t.page.Release(ctx); err != nil {
			t.logger.Debug("Failed to release tab object group.", zap.Error(err))
		}
		// Cancelling a tab context created by NewContext closes the target.
		t.cancel()
		return nil
	})
}
