// internal/browser/browser_test.go
package browser

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/clearance/internal/config"
)

func flagValue(flags []flag, name string) (any, bool) {
	var (
		value any
		found bool
	)
	// Later flags win, like on a real command line.
	for _, f := range flags {
		if f.name == name {
			value, found = f.value, true
		}
	}
	return value, found
}

func TestLaunchFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags := launchFlags(config.BrowserConfig{Headless: true}, "darwin")

		v, _ := flagValue(flags, "headless")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "disable-blink-features")
		assert.Equal(t, "AutomationControlled", v)
		v, _ = flagValue(flags, "enable-automation")
		assert.Equal(t, false, v)
		v, _ = flagValue(flags, "disable-gpu")
		assert.Equal(t, true, v)

		_, found := flagValue(flags, "no-sandbox")
		assert.False(t, found, "sandbox flags are linux only")
	})

	t.Run("headful keeps the gpu", func(t *testing.T) {
		v, _ := flagValue(launchFlags(config.BrowserConfig{}, "darwin"), "disable-gpu")
		assert.Equal(t, false, v)
	})

	t.Run("linux container flags", func(t *testing.T) {
		flags := launchFlags(config.BrowserConfig{}, "linux")
		for _, name := range []string{"no-sandbox", "disable-dev-shm-usage", "disable-setuid-sandbox"} {
			v, found := flagValue(flags, name)
			assert.True(t, found, name)
			assert.Equal(t, true, v, name)
		}
	})

	t.Run("ignore TLS errors", func(t *testing.T) {
		v, _ := flagValue(launchFlags(config.BrowserConfig{IgnoreTLSErrors: true}, "linux"), "ignore-certificate-errors")
		assert.Equal(t, true, v)
	})

	t.Run("custom args override defaults", func(t *testing.T) {
		flags := launchFlags(config.BrowserConfig{
			Args: []string{"--custom-arg1", "--lang=fr-FR", "disable-gpu=false"},
		}, "linux")

		v, _ := flagValue(flags, "custom-arg1")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "lang")
		assert.Equal(t, "fr-FR", v)
		v, _ = flagValue(flags, "disable-gpu")
		assert.Equal(t, "false", v)
	})
}

func TestParseArg(t *testing.T) {
	assert.Equal(t, flag{"mute-audio", true}, parseArg("--mute-audio"))
	assert.Equal(t, flag{"window-size", "1280,720"}, parseArg("--window-size=1280,720"))
	assert.Equal(t, flag{"proxy-server", "http://a=b"}, parseArg("--proxy-server=http://a=b"))
}

func TestCmdline(t *testing.T) {
	args := cmdline([]flag{
		{"headless", true},
		{"enable-automation", false},
		{"disable-extensions", true},
		{"lang", "en-US"},
	})
	assert.Equal(t, []string{"--disable-extensions", "--lang=en-US"}, args)
}

func TestBuildAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, Args: []string{"--mute-audio"}}
	base := len(buildAllocatorOptions(cfg))

	cfg.UserDataDir = t.TempDir()
	assert.Equal(t, base+1, len(buildAllocatorOptions(cfg)))
}

func TestNew_UnknownBackend(t *testing.T) {
	b, err := New(context.Background(), zap.NewNop(), config.BrowserConfig{Backend: "selenium"})
	require.Error(t, err)
	assert.Nil(t, b)
	assert.Contains(t, err.Error(), "unknown backend 'selenium'")
	assert.Contains(t, err.Error(), "chromedp, rod, playwright")
}

func TestTabs(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("drain waits for open tabs", func(t *testing.T) {
		var tr tabs
		require.NoError(t, tr.add())

		var c closer
		var calls atomic.Int32
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = c.close(&tr, func() error { calls.Add(1); return nil })
		}()

		tr.drain(context.Background(), zap.NewNop())
		assert.Equal(t, int32(1), calls.Load())

		// Closing twice neither runs fn again nor underflows the WaitGroup.
		assert.NoError(t, c.close(&tr, func() error { calls.Add(1); return nil }))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("no tabs after drain", func(t *testing.T) {
		var tr tabs
		tr.drain(context.Background(), zap.NewNop())
		assert.ErrorIs(t, tr.add(), ErrClosed)
	})

	t.Run("drain gives up at the deadline", func(t *testing.T) {
		var tr tabs
		require.NoError(t, tr.add())

		core, logs := observer.New(zap.WarnLevel)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		tr.drain(ctx, zap.New(core))

		assert.Equal(t, 1, logs.FilterMessage("Shutdown deadline exceeded. Forcing browser termination.").Len())
		// Release the waiter goroutine.
		tr.wg.Done()
	})
}

func TestNavigationContext(t *testing.T) {
	ctx, cancel := navigationContext(context.Background(), time.Minute)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)

	ctx, cancel = navigationContext(context.Background(), 0)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestNewLauncher(t *testing.T) {
	l := newLauncher(config.BrowserConfig{
		Headless:    true,
		UserDataDir: t.TempDir(),
		Args:        []string{"--lang=de-DE"},
	}, "linux")

	assert.True(t, l.Has("disable-blink-features"))
	assert.Equal(t, "AutomationControlled", l.Get("disable-blink-features"))
	assert.Equal(t, "de-DE", l.Get("lang"))
	assert.True(t, l.Has("no-sandbox"))
	assert.False(t, l.Has("enable-automation"))
	assert.NotEmpty(t, l.Get("user-data-dir"))
}

func TestPlaywrightOptions(t *testing.T) {
	m := &PlaywrightManager{
		logger: zap.NewNop(),
		cfg:    config.BrowserConfig{Headless: true, IgnoreTLSErrors: true, Args: []string{"--mute-audio"}},
	}

	launch := m.prepareLaunchOptions()
	require.NotNil(t, launch.Headless)
	assert.True(t, *launch.Headless)
	assert.Contains(t, launch.Args, "--mute-audio")
	assert.Contains(t, launch.Args, "--disable-blink-features=AutomationControlled")
	assert.NotContains(t, launch.Args, "--enable-automation")
	assert.Equal(t, []string{"--enable-automation"}, launch.IgnoreDefaultArgs)

	bctx := m.contextOptions()
	assert.Equal(t, persona.UserAgent, *bctx.UserAgent)
	assert.True(t, *bctx.IgnoreHttpsErrors)
	assert.Equal(t, "en-US,en;q=0.9", bctx.ExtraHttpHeaders["Accept-Language"])
	assert.Equal(t, persona.TimezoneID, *bctx.TimezoneId)
}
