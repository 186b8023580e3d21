package pwhost

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/clearance/internal/browser/shadowdom"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

func TestIndexKeys(t *testing.T) {
	props := map[string]int{"2": 0, "0": 0, "length": 0, "10": 0, "01": 0, "-1": 0, "1": 0}
	assert.Equal(t, []int{0, 1, 2, 10}, indexKeys(props))
	assert.Empty(t, indexKeys(map[string]int{}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "https://x", stringify("https://x"))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "3", stringify(float64(3)))
}

func TestTimeoutMillis(t *testing.T) {
	_, ok := timeoutMillis(context.Background())
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ms, ok := timeoutMillis(ctx)
	require.True(t, ok)
	assert.InDelta(t, 2000, ms, 200)

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	ms, ok = timeoutMillis(expired)
	require.True(t, ok)
	assert.Equal(t, float64(1), ms)
}

func TestCanceledContextShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A nil frame would panic if it were touched.
	f := &Frame{}
	_, err := f.QuerySelector(ctx, "iframe")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.EvaluateHandle(ctx, "() => 1", nil)
	assert.ErrorIs(t, err, context.Canceled)

	e := &Element{}
	assert.ErrorIs(t, e.Click(ctx), context.Canceled)
	_, err = e.IsVisible(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.ContentFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPage_ShadowIframeCheckbox(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	pw, err := playwright.Run()
	if err != nil {
		t.Skipf("playwright driver unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pw.Stop() })

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(true)})
	if err != nil {
		t.Skipf("chromium unavailable: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div id="host"></div><script>
document.getElementById('host').attachShadow({mode: 'open'}).innerHTML =
	'<iframe src="/challenge-frame" width="300" height="120"></iframe>';</script>`)
	})
	mux.HandleFunc("/challenge-frame", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<div id="w"></div><script>
document.getElementById('w').attachShadow({mode: 'open'}).innerHTML = '<input type="checkbox">';</script>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p, err := browser.NewPage()
	require.NoError(t, err)
	_, err = p.Goto(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page := NewPage(p)
	engine := shadowdom.NewEngine(zaptest.NewLogger(t))

	var frame dom.Frame
	require.Eventually(t, func() bool {
		found := engine.SearchIframes(ctx, page, "/challenge-frame")
		if len(found) == 1 {
			frame = found[0]
		}
		return frame != nil
	}, 10*time.Second, 100*time.Millisecond)

	var checkbox dom.Element
	require.Eventually(t, func() bool {
		els, err := engine.FindElements(ctx, frame, `input[type="checkbox"]`)
		if err != nil || len(els) != 1 {
			return false
		}
		checkbox = els[0]
		return true
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, checkbox.Click(ctx))
	checked, err := checkbox.Property(ctx, "checked")
	require.NoError(t, err)
	assert.Equal(t, "true", checked)
}
