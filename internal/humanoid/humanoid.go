// Package humanoid plans mouse movements that look like a hand on a mouse: a
// curved path, Fitts's law timing, eased velocity and a little tremor.
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// Config shapes the generated movements.
type Config struct {
	// FittsA and FittsB are the intercept and slope, in milliseconds, of the
	// movement time model MT = A + B * log2(1 + D/W).
	FittsA float64
	FittsB float64
	// TargetWidth is the W of the model, in pixels.
	TargetWidth float64
	// CurveStrength scales how far the path bows away from the straight line,
	// as a fraction of the distance.
	CurveStrength float64
	// PerlinAmplitude is the peak low-frequency drift in pixels.
	PerlinAmplitude float64
	// GaussianStrength is the standard deviation of the per-step tremor in pixels.
	GaussianStrength float64
	// StepsPerSecond is the rate of intermediate mouse events.
	StepsPerSecond float64
	// MaxSteps bounds the events of one movement.
	MaxSteps int
}

// DefaultConfig returns a calm, accurate desktop user.
func DefaultConfig() Config {
	return Config{
		FittsA:           100,
		FittsB:           150,
		TargetWidth:      30,
		CurveStrength:    0.15,
		PerlinAmplitude:  1.5,
		GaussianStrength: 0.4,
		StepsPerSecond:   60,
		MaxSteps:         90,
	}
}

// Humanoid tracks the cursor of one page and plans its movements. It is safe
// for concurrent use.
type Humanoid struct {
	cfg Config

	mu     sync.Mutex
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	// noiseTime advances across movements so drift stays continuous.
	noiseTime float64
	pos       Vector2D
	placed    bool
}

// New creates a Humanoid. A zero seed picks one from the clock.
func New(cfg Config, seed int64) *Humanoid {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.StepsPerSecond <= 0 {
		cfg.StepsPerSecond = DefaultConfig().StepsPerSecond
	}
	if cfg.MaxSteps < 2 {
		cfg.MaxSteps = 2
	}
	if cfg.TargetWidth <= 0 {
		cfg.TargetWidth = DefaultConfig().TargetWidth
	}

	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// Position returns the last planned cursor position and whether one exists.
func (h *Humanoid) Position() (Vector2D, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos, h.placed
}
