package rodhost

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/clearance/internal/browser/shadowdom"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

func TestArgs(t *testing.T) {
	assert.Nil(t, args(nil))
	assert.Equal(t, []any{"iframe"}, args("iframe"))
}

const (
	hostPage = `<!doctype html><html><body><div id="host"></div>
<script>
document.getElementById('host').attachShadow({mode: 'open'}).innerHTML =
	'<iframe src="/challenge-frame" width="300" height="120"></iframe>';
</script></body></html>`

	framePage = `<!doctype html><html><body><div id="widget"></div>
<script>
document.getElementById('widget').attachShadow({mode: 'open'}).innerHTML =
	'<input type="checkbox" id="cb" style="width:24px;height:24px">';
</script></body></html>`
)

// openPage uses a locally installed browser; it never downloads one.
func openPage(t *testing.T) *Page {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local browser found")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, hostPage) })
	mux.HandleFunc("/challenge-frame", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, framePage) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	l := launcher.New().Bin(bin).Headless(true).NoSandbox(true)
	u, err := l.Launch()
	if err != nil {
		t.Skipf("browser unavailable: %v", err)
	}
	t.Cleanup(l.Kill)

	b := rod.New().ControlURL(u)
	require.NoError(t, b.Connect())
	t.Cleanup(func() { _ = b.Close() })

	p, err := b.Page(proto.TargetCreateTarget{URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, p.WaitLoad())
	return NewPage(p)
}

func TestPage_ShadowIframeCheckbox(t *testing.T) {
	page := openPage(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	engine := shadowdom.NewEngine(zaptest.NewLogger(t))

	var frame dom.Frame
	require.Eventually(t, func() bool {
		found := engine.SearchIframes(ctx, page, "/challenge-frame")
		if len(found) != 1 {
			return false
		}
		frame = found[0]
		return true
	}, 10*time.Second, 100*time.Millisecond)
	assert.False(t, frame.IsDetached(ctx))

	var checkbox dom.Element
	require.Eventually(t, func() bool {
		els, err := engine.FindElements(ctx, frame, `input[type="checkbox"]`)
		if err != nil || len(els) != 1 {
			return false
		}
		checkbox = els[0]
		visible, err := checkbox.IsVisible(ctx)
		return err == nil && visible
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, checkbox.Click(ctx))
	checked, err := checkbox.Property(ctx, "checked")
	require.NoError(t, err)
	assert.Equal(t, "true", checked)

	host, err := page.QuerySelector(ctx, "#host")
	require.NoError(t, err)
	require.NotNil(t, host)
	_, err = host.ContentFrame(ctx)
	assert.ErrorIs(t, err, dom.ErrNotFrame)
}

func TestPage_IsDetached(t *testing.T) {
	page := openPage(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Repeated probes on a live page answer well inside the probe timeout.
	for range 5 {
		start := time.Now()
		assert.False(t, page.IsDetached(ctx))
		assert.Less(t, time.Since(start), detachProbeTimeout)
	}

	require.NoError(t, page.p.Close())
	assert.True(t, page.IsDetached(ctx))
}
