package cdphost

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/clearance/internal/humanoid"
)

func TestEncodeArg(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want string
	}{
		{"nil is undefined", nil, "undefined"},
		{"selector is quoted", `input[type="checkbox"]`, `"input[type=\"checkbox\"]"`},
		{"number", 3, "3"},
		{"struct", struct {
			A string `json:"a"`
		}{"x"}, `{"a":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeArg(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := encodeArg(make(chan int))
	assert.Error(t, err)
}

func TestScripts(t *testing.T) {
	assert.Equal(t, "function() { return this[4]; }", indexFn(4))
	assert.Equal(t, `function() { return this.querySelector("iframe"); }`, elementQueryFn(`"iframe"`))
	assert.Equal(t, `function() { return ((el, a) => a)(this, undefined); }`, elementEvalFn("(el, a) => a", "undefined"))
	assert.Contains(t, propertyFn(`"src"`), `this["src"]`)
}

func TestQuadCenter(t *testing.T) {
	x, y, ok := quadCenter(cdpdom.Quad{10, 20, 30, 20, 30, 40, 10, 40})
	require.True(t, ok)
	assert.InDelta(t, 20, x, 1e-9)
	assert.InDelta(t, 30, y, 1e-9)

	_, _, ok = quadCenter(cdpdom.Quad{10, 20, 10, 20, 10, 20, 10, 20})
	assert.False(t, ok, "zero-area quad")

	_, _, ok = quadCenter(cdpdom.Quad{1, 2, 3})
	assert.False(t, ok, "malformed quad")
}

func TestContainsFrame(t *testing.T) {
	tree := &page.FrameTree{
		Frame: &cdp.Frame{ID: "main"},
		ChildFrames: []*page.FrameTree{
			{Frame: &cdp.Frame{ID: "a"}},
			{
				Frame:       &cdp.Frame{ID: "b"},
				ChildFrames: []*page.FrameTree{{Frame: &cdp.Frame{ID: "b1"}}},
			},
		},
	}
	assert.True(t, containsFrame(tree, "main"))
	assert.True(t, containsFrame(tree, "b1"))
	assert.False(t, containsFrame(tree, "gone"))
	assert.False(t, containsFrame(nil, "main"))
}

func TestClickHold(t *testing.T) {
	sh := &shared{}
	WithClickHold(10*time.Millisecond, 20*time.Millisecond)(sh)
	for i := 0; i < 100; i++ {
		d := sh.holdDuration()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}

	WithClickHold(-time.Second, -2*time.Second)(sh)
	assert.Equal(t, time.Duration(0), sh.holdDuration())

	WithClickHold(30*time.Millisecond, 5*time.Millisecond)(sh)
	assert.Equal(t, 30*time.Millisecond, sh.holdDuration())
}

func TestWithMouse(t *testing.T) {
	sh := &shared{}
	cfg := humanoid.DefaultConfig()
	cfg.MaxSteps = 3
	WithMouse(cfg)(sh)
	require.NotNil(t, sh.mouse)

	sh.mouse.MoveTo(humanoid.Vector2D{X: 10, Y: 10})
	steps := sh.mouse.MoveTo(humanoid.Vector2D{X: 900, Y: 700})
	assert.LessOrEqual(t, len(steps), 3)
	assert.Equal(t, humanoid.Vector2D{X: 900, Y: 700}, steps[len(steps)-1].Point)
}
