package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/browser/stealth"
	"github.com/xkilldash9x/clearance/internal/config"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
	"github.com/xkilldash9x/clearance/pkg/browser/rodhost"
)

// RodManager runs the browser through go-rod.
type RodManager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	lnch    *launcher.Launcher
	browser *rod.Browser
	tabs    tabs
}

// NewRodManager launches a local browser and connects rod to it.
func NewRodManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*RodManager, error) {
	m := &RodManager{
		logger: logger.Named("rod_manager"),
		cfg:    cfg,
	}

	l := newLauncher(cfg, runtime.GOOS)
	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b

	if cfg.IgnoreTLSErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			m.logger.Warn("Failed to ignore certificate errors.", zap.Error(err))
		}
	}

	m.logger.Info("Launched local browser.", zap.String("control_url", u), zap.Bool("headless", cfg.Headless))
	return m, nil
}

// newLauncher translates the shared launch flags into launcher switches.
func newLauncher(cfg config.BrowserConfig, goos string) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless).Leakless(true)
	for _, f := range launchFlags(cfg, goos) {
		if f.name == "headless" {
			continue
		}
		name := flags.Flag(f.name)
		switch v := f.value.(type) {
		case bool:
			if v {
				l = l.Set(name)
			} else {
				l = l.Delete(name)
			}
		default:
			l = l.Set(name, fmt.Sprint(v))
		}
	}
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	return l
}

// NewTab opens a page with go-rod/stealth evasions and the shared persona.
func (m *RodManager) NewTab(ctx context.Context) (Tab, error) {
	if err := m.tabs.add(); err != nil {
		return nil, err
	}

	p, err := rodstealth.Page(m.browser.Context(ctx))
	if err != nil {
		m.tabs.wg.Done()
		return nil, fmt.Errorf("failed to open stealth page: %w", err)
	}
	// Drop the setup context so later calls are not bound to it.
	p = p.Context(context.Background())

	err = p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      persona.UserAgent,
		AcceptLanguage: stealth.AcceptLanguage(persona.Languages),
		Platform:       persona.Platform,
	})
	if err != nil {
		_ = p.Close()
		m.tabs.wg.Done()
		return nil, fmt.Errorf("failed to apply user agent: %w", err)
	}

	return &rodTab{
		page:    p,
		host:    rodhost.NewPage(p),
		timeout: m.cfg.NavigationTimeout,
		tabs:    &m.tabs,
	}, nil
}

// Shutdown waits for open tabs, then closes the browser and its process.
func (m *RodManager) Shutdown(ctx context.Context) error {
	m.logger.Info("Rod manager shutdown initiated.")
	m.tabs.drain(ctx, m.logger)
	return m.cleanup()
}

func (m *RodManager) cleanup() error {
	var err error
	if m.browser != nil {
		if cerr := m.browser.Close(); cerr != nil && !strings.Contains(cerr.Error(), "closed") {
			err = fmt.Errorf("failed to close browser: %w", cerr)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Kill()
		// Cleanup deletes the profile directory, so keep one the user asked for.
		if m.cfg.UserDataDir == "" {
			m.lnch.Cleanup()
		}
		m.lnch = nil
	}
	return err
}

type rodTab struct {
	page    *rod.Page
	host    *rodhost.Page
	timeout time.Duration
	tabs    *tabs
	closer  closer
}

func (t *rodTab) Page() dom.Queryable { return t.host }

func (t *rodTab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := navigationContext(ctx, t.timeout)
	defer cancel()

	if err := t.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for %s to load: %w", url, err)
	}
	return nil
}

func (t *rodTab) Close(context.Context) error {
	return t.closer.close(t.tabs, func() error {
		return t.page.Close()
	})
}
