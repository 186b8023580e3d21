package browser

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/browser/stealth"
	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
	"github.com/xkilldash9x/clearance/pkg/browser/pwhost"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	playwrightLaunchTimeout  = 60 * time.Second
)

// PlaywrightManager runs Chromium through playwright-go. Every tab gets its own
// browser context.
type PlaywrightManager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	tabs    tabs
}

// NewPlaywrightManager installs the driver if needed and launches Chromium.
func NewPlaywrightManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*PlaywrightManager, error) {
	m := &PlaywrightManager{
		logger: logger.Named("playwright_manager"),
		cfg:    cfg,
	}

	if err := m.ensureInstallation(ctx); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	m.pw = pw

	b, err := pw.Chromium.Launch(m.prepareLaunchOptions())
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	m.browser = b

	if cfg.UserDataDir != "" {
		m.logger.Warn("browser.user_data_dir is ignored by the playwright backend.")
	}
	m.logger.Info("Playwright manager initialized successfully.", zap.String("browser_version", b.Version()))
	return m, nil
}

func (m *PlaywrightManager) ensureInstallation(ctx context.Context) error {
	m.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks and takes no context.
	errc := make(chan error, 1)
	go func() {
		opts := &playwright.RunOptions{Browsers: []string{"chromium"}}
		if err := playwright.Install(opts); err != nil {
			errc <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (m *PlaywrightManager) prepareLaunchOptions() playwright.BrowserTypeLaunchOptions {
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.cfg.Headless),
		Args:     cmdline(launchFlags(m.cfg, runtime.GOOS)),
		// Playwright adds this switch itself unless told not to.
		IgnoreDefaultArgs: []string{"--enable-automation"},
		Timeout:           playwright.Float(float64(playwrightLaunchTimeout.Milliseconds())),
	}
}

func (m *PlaywrightManager) contextOptions() playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(persona.UserAgent),
		IgnoreHttpsErrors: playwright.Bool(m.cfg.IgnoreTLSErrors),
		Viewport:          &playwright.Size{Width: int(persona.Screen.Width), Height: int(persona.Screen.Height)},
	}
	if persona.Locale != "" {
		opts.Locale = playwright.String(persona.Locale)
	}
	if persona.TimezoneID != "" {
		opts.TimezoneId = playwright.String(persona.TimezoneID)
	}
	if header := stealth.AcceptLanguage(persona.Languages); header != "" {
		opts.ExtraHttpHeaders = map[string]string{"Accept-Language": header}
	}
	return opts
}

// NewTab opens a page in a fresh browser context with the evasion script
// installed.
func (m *PlaywrightManager) NewTab(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.tabs.add(); err != nil {
		return nil, err
	}
	fail := func(bctx playwright.BrowserContext, err error) (Tab, error) {
		if bctx != nil {
			_ = bctx.Close()
		}
		m.tabs.wg.Done()
		return nil, fmt.Errorf("failed to initialize tab: %w", err)
	}

	bctx, err := m.browser.NewContext(m.contextOptions())
	if err != nil {
		return fail(nil, err)
	}
	script, err := stealth.PersonaScript(persona)
	if err != nil {
		return fail(bctx, err)
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fail(bctx, err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		return fail(bctx, err)
	}

	return &playwrightTab{
		bctx:    bctx,
		page:    page,
		host:    pwhost.NewPage(page),
		timeout: m.cfg.NavigationTimeout,
		tabs:    &m.tabs,
	}, nil
}

// Shutdown waits for open tabs, then closes the browser and the driver.
func (m *PlaywrightManager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down playwright manager.")
	m.tabs.drain(ctx, m.logger)

	var shutdownErr error
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Error("Failed to close browser instance.", zap.Error(err))
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			m.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("failed to stop playwright driver: %w", err)
			}
		}
	}
	m.logger.Info("Playwright manager shutdown complete.")
	return shutdownErr
}

type playwrightTab struct {
	bctx    playwright.BrowserContext
	page    playwright.Page
	host    *pwhost.Frame
	timeout time.Duration
	tabs    *tabs
	closer  closer
}

func (t *playwrightTab) Page() dom.Queryable { return t.host }

func (t *playwrightTab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (t *playwrightTab) Close(context.Context) error {
	return t.closer.close(t.tabs, func() error {
		// Closing the context closes its pages.
		return t.bctx.Close()
	})
}
