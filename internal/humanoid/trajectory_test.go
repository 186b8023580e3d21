// Filename: internal/humanoid/trajectory_test.go
package humanoid

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Config {
	cfg := DefaultConfig()
	cfg.PerlinAmplitude = 0
	cfg.GaussianStrength = 0
	return cfg
}

func TestComputeEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, computeEaseInOutCubic(0))
	assert.Equal(t, 0.5, computeEaseInOutCubic(0.5))
	assert.Equal(t, 1.0, computeEaseInOutCubic(1))
	// Slow at the ends, fast in the middle.
	assert.Less(t, computeEaseInOutCubic(0.1), 0.1)
	assert.Greater(t, computeEaseInOutCubic(0.9), 0.9)
}

func TestBezier(t *testing.T) {
	p0, p3 := Vector2D{0, 0}, Vector2D{90, 30}
	p1, p2 := Vector2D{30, 10}, Vector2D{60, 20}
	assert.Equal(t, p0, bezier(p0, p1, p2, p3, 0))
	assert.Equal(t, p3, bezier(p0, p1, p2, p3, 1))
	// Collinear control points keep the curve on the line.
	mid := bezier(p0, p1, p2, p3, 0.5)
	assert.InDelta(t, 45, mid.X, 1e-9)
	assert.InDelta(t, 15, mid.Y, 1e-9)
}

func TestCalculateFittsLaw(t *testing.T) {
	h := New(DefaultConfig(), 7)
	// A=100, B=150, W=30, D=210: ID=3, MT=550ms +/-15%.
	for range 50 {
		d := h.calculateFittsLaw(210)
		assert.GreaterOrEqual(t, d, time.Duration(467.5*float64(time.Millisecond)))
		assert.LessOrEqual(t, d, time.Duration(632.5*float64(time.Millisecond)))
	}
}

func TestMoveTo(t *testing.T) {
	t.Run("ends exactly on target with increasing timestamps", func(t *testing.T) {
		h := New(DefaultConfig(), 42)
		target := Vector2D{X: 640, Y: 360}

		steps := h.MoveTo(target)
		require.GreaterOrEqual(t, len(steps), 2)
		assert.Equal(t, target, steps[len(steps)-1].Point)
		assert.Equal(t, time.Duration(0), steps[0].At)
		for i := 1; i < len(steps); i++ {
			assert.Greater(t, steps[i].At, steps[i-1].At)
		}

		pos, ok := h.Position()
		assert.True(t, ok)
		assert.Equal(t, target, pos)
	})

	t.Run("first move starts off target", func(t *testing.T) {
		h := New(quiet(), 3)
		target := Vector2D{X: 500, Y: 500}
		start := h.MoveTo(target)[0].Point
		dist := start.Dist(target)
		assert.GreaterOrEqual(t, dist, 149.0)
		assert.LessOrEqual(t, dist, 401.0)
	})

	t.Run("continues from the previous position", func(t *testing.T) {
		h := New(quiet(), 5)
		first := Vector2D{X: 100, Y: 100}
		h.MoveTo(first)

		steps := h.MoveTo(Vector2D{X: 700, Y: 400})
		assert.Equal(t, first, steps[0].Point)
	})

	t.Run("path stays near the straight line", func(t *testing.T) {
		h := New(quiet(), 9)
		start, end := Vector2D{X: 0, Y: 0}, Vector2D{X: 800, Y: 0}
		h.MoveTo(start)

		for _, s := range h.MoveTo(end) {
			// Bow is capped at CurveStrength of the distance.
			assert.LessOrEqual(t, math.Abs(s.Point.Y), 0.15*800+1e-9)
		}
	})

	t.Run("tiny moves are a single step", func(t *testing.T) {
		h := New(quiet(), 11)
		h.MoveTo(Vector2D{X: 10, Y: 10})
		steps := h.MoveTo(Vector2D{X: 10.5, Y: 10})
		require.Len(t, steps, 1)
		assert.Equal(t, Vector2D{X: 10.5, Y: 10}, steps[0].Point)
	})

	t.Run("step count is bounded", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxSteps = 5
		h := New(cfg, 13)
		h.MoveTo(Vector2D{})
		assert.LessOrEqual(t, len(h.MoveTo(Vector2D{X: 5000, Y: 5000})), 5)
	})

	t.Run("same seed same path", func(t *testing.T) {
		a, b := New(DefaultConfig(), 99), New(DefaultConfig(), 99)
		target := Vector2D{X: 321, Y: 123}
		assert.Equal(t, a.MoveTo(target), b.MoveTo(target))
	})
}

func TestVector2D(t *testing.T) {
	v := Vector2D{X: 3, Y: 4}
	assert.Equal(t, 5.0, v.Mag())
	assert.Equal(t, Vector2D{X: -4, Y: 3}, v.Perp())
	assert.InDelta(t, 1.0, v.Normalize().Mag(), 1e-9)
	assert.Equal(t, Vector2D{}, Vector2D{}.Normalize())
	assert.Equal(t, 5.0, Vector2D{}.Dist(v))
}
