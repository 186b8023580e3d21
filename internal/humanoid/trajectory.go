package humanoid

import (
	"math"
	"time"
)

// Step is one intermediate cursor position, At after the movement starts.
type Step struct {
	Point Vector2D
	At    time.Duration
}

// computeEaseInOutCubic gives a smooth acceleration and deceleration profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// MoveTo plans a movement from the current cursor position to target and
// records target as the new position. The last step is exactly target. The
// first movement of a page starts from a random point a short distance away.
func (h *Humanoid) MoveTo(target Vector2D) []Step {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := h.pos
	if !h.placed {
		start = h.entryPoint(target)
	}
	h.pos, h.placed = target, true

	dist := start.Dist(target)
	if dist < 1.0 {
		return []Step{{Point: target}}
	}

	duration := h.calculateFittsLaw(dist)
	numSteps := int(duration.Seconds() * h.cfg.StepsPerSecond)
	numSteps = min(max(numSteps, 2), h.cfg.MaxSteps)

	p1, p2 := h.controlPoints(start, target)
	steps := make([]Step, numSteps)
	for i := range numSteps {
		t := float64(i) / float64(numSteps-1)
		at := time.Duration(t * float64(duration))
		if i == numSteps-1 {
			steps[i] = Step{Point: target, At: at}
			break
		}
		// Uniform time with eased progress gives the bell shaped velocity.
		point := bezier(start, p1, p2, target, computeEaseInOutCubic(t))
		steps[i] = Step{Point: h.perturb(point, at), At: at}
	}
	h.noiseTime += duration.Seconds()
	return steps
}

// calculateFittsLaw estimates the movement time for a distance, with +/-15%
// jitter.
func (h *Humanoid) calculateFittsLaw(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/h.cfg.TargetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	return time.Duration(mt * float64(time.Millisecond))
}

// controlPoints bows the path to one side by up to CurveStrength of its length.
func (h *Humanoid) controlPoints(start, end Vector2D) (Vector2D, Vector2D) {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	dir := mainVec.Normalize()
	normal := dir.Perp()

	bow := (h.rng.Float64()*2 - 1) * h.cfg.CurveStrength * dist
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(normal.Mul(bow))
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(normal.Mul(bow * (0.3 + 0.5*h.rng.Float64())))
	return p1, p2
}

// perturb adds Perlin drift and Gaussian tremor.
func (h *Humanoid) perturb(p Vector2D, at time.Duration) Vector2D {
	const perlinFrequency = 0.8
	t := (h.noiseTime + at.Seconds()) * perlinFrequency
	drift := Vector2D{
		X: h.noiseX.Noise1D(t) * h.cfg.PerlinAmplitude,
		Y: h.noiseY.Noise1D(t) * h.cfg.PerlinAmplitude,
	}
	strength := h.cfg.GaussianStrength * (0.5 + h.rng.Float64())
	tremor := Vector2D{X: h.rng.NormFloat64() * strength, Y: h.rng.NormFloat64() * strength}
	return p.Add(drift).Add(tremor)
}

// entryPoint picks where the cursor is assumed to rest before its first move.
func (h *Humanoid) entryPoint(target Vector2D) Vector2D {
	angle := h.rng.Float64() * 2 * math.Pi
	dist := 150 + h.rng.Float64()*250
	p := target.Add(Vector2D{X: math.Cos(angle) * dist, Y: math.Sin(angle) * dist})
	// Stay on screen.
	return Vector2D{X: math.Max(p.X, 0), Y: math.Max(p.Y, 0)}
}

// bezier evaluates the cubic curve p0..p3 at t.
func bezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	omt2 := omt * omt
	t2 := t * t
	return p0.Mul(omt2 * omt).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t2 * t))
}
