package stealth

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		langs []string
		want  string
	}{
		{nil, ""},
		{[]string{"en-US"}, "en-US"},
		{[]string{"en-US", "en"}, "en-US,en;q=0.9"},
		{[]string{"fr-FR", "fr", "en-US", "en", "de"}, "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7,de;q=0.7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AcceptLanguage(tt.langs))
	}
}

func TestPersonaScript(t *testing.T) {
	script, err := PersonaScript(DefaultPersona)
	require.NoError(t, err)

	assert.Contains(t, script, "const CLEARANCE_PERSONA = {")
	assert.Contains(t, script, `"platform":"Win32"`)
	assert.Contains(t, script, `"languages":["en-US","en"]`)
	assert.Contains(t, script, "webdriver")
}

func TestApply(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, zap.New(core))

		// UA override, evasion script, network enable, headers, timezone, locale.
		assert.Len(t, tasks, 6)
		entries := logs.FilterMessage("Applying browser stealth persona").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "Win32", entries[0].ContextMap()["platform"])
	})

	t.Run("minimal persona", func(t *testing.T) {
		tasks := Apply(Persona{UserAgent: "test"}, zap.NewNop())
		assert.Len(t, tasks, 2)
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() { Apply(DefaultPersona, nil) })
	})
}

func TestApply_HidesWebdriver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancelAlloc()
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 30*time.Second)
	defer cancelTimeout()

	if err := chromedp.Run(ctx); err != nil {
		t.Skipf("browser unavailable: %v", err)
	}

	var (
		webdriver bool
		platform  string
		languages []string
	)
	err := chromedp.Run(ctx,
		Apply(DefaultPersona, zap.NewNop()),
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(`navigator.webdriver === true`, &webdriver),
		chromedp.Evaluate(`navigator.platform`, &platform),
		chromedp.Evaluate(`Array.from(navigator.languages)`, &languages),
	)
	require.NoError(t, err)
	assert.False(t, webdriver)
	assert.Equal(t, "Win32", platform)
	assert.Equal(t, []string{"en-US", "en"}, languages)
}
