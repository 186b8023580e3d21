package cloudflare

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/detect"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// State is a step of the click solver.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateLocatingFrames
	StateAwaitingCheckbox
	StateClicking
	StateVerifying
	StateRetrying
	StateSolved
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateChecking:         "checking",
	StateLocatingFrames:   "locating_frames",
	StateAwaitingCheckbox: "awaiting_checkbox",
	StateClicking:         "clicking",
	StateVerifying:        "verifying",
	StateRetrying:         "retrying",
	StateSolved:           "solved",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the solver stops in this state.
func (s State) Terminal() bool {
	return s == StateSolved || s == StateFailed
}

// Config tunes a Solver. Use DefaultConfig as the starting point.
type Config struct {
	ChallengeType           ChallengeType
	ExpectedContentSelector string

	// SolveAttempts bounds the outer loop.
	SolveAttempts int
	// SolveClickDelay is the settle time between a successful click and verification.
	SolveClickDelay time.Duration
	// WaitCheckboxAttempts and WaitCheckboxDelay drive the checkbox poller.
	WaitCheckboxAttempts int
	WaitCheckboxDelay    time.Duration
	// CheckboxClickAttempts bounds the clicks tried on one resolved checkbox.
	CheckboxClickAttempts int
	// AttemptDelay is the backoff slept before every outer attempt after the first.
	AttemptDelay time.Duration
}

// DefaultConfig returns the stock tuning for the interstitial challenge.
func DefaultConfig() Config {
	return Config{
		ChallengeType:         Interstitial,
		SolveAttempts:         3,
		SolveClickDelay:       6 * time.Second,
		WaitCheckboxAttempts:  10,
		WaitCheckboxDelay:     6 * time.Second,
		CheckboxClickAttempts: 3,
		AttemptDelay:          5 * time.Second,
	}
}

func (c Config) normalized() Config {
	c.SolveAttempts = max(c.SolveAttempts, 1)
	c.WaitCheckboxAttempts = max(c.WaitCheckboxAttempts, 1)
	c.CheckboxClickAttempts = max(c.CheckboxClickAttempts, 1)
	c.SolveClickDelay = max(c.SolveClickDelay, 0)
	c.WaitCheckboxDelay = max(c.WaitCheckboxDelay, 0)
	c.AttemptDelay = max(c.AttemptDelay, 0)
	return c
}

// Transition records one move of the state machine.
type Transition struct {
	From    State
	To      State
	Attempt int
}

// Outcome summarizes a Solve call.
type Outcome struct {
	Solved bool
	// Attempts is the number of outer attempts started.
	Attempts int
	// Clicks is the number of checkbox clicks that went through.
	Clicks      int
	Transitions []Transition
}

// SolverOption customizes a Solver.
type SolverOption func(*Solver)

// WithSleepFunc replaces the clock used for every delay.
func WithSleepFunc(fn SleepFunc) SolverOption {
	return func(s *Solver) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// Solver clears a Cloudflare checkbox challenge by clicking it.
// A Solver holds no per-call state and may be shared across goroutines.
type Solver struct {
	logger *zap.Logger
	search Searcher
	sleep  SleepFunc
	cfg    Config
}

// NewSolver creates a Solver for the configured challenge variant.
func NewSolver(logger *zap.Logger, search Searcher, cfg Config, opts ...SolverOption) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Solver{
		logger: logger.Named("cloudflare"),
		search: search,
		sleep:  Sleep,
		cfg:    cfg.normalized(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the per-call state threaded through the transitions.
type run struct {
	q        dom.Queryable
	attempt  int
	frames   []dom.Frame
	frame    dom.Frame
	checkbox dom.Element
	outcome  Outcome
}

type stateFn func(ctx context.Context, r *run) State

// Solve drives the state machine until it is solved or out of attempts.
// Runtime failures never surface as errors; they only push the machine toward
// another attempt.
func (s *Solver) Solve(ctx context.Context, q dom.Queryable) Outcome {
	s.logger.Info("Starting Cloudflare challenge solving by click...",
		zap.Stringer("challenge_type", s.cfg.ChallengeType))

	handlers := map[State]stateFn{
		StateIdle:             s.begin,
		StateChecking:         s.check,
		StateLocatingFrames:   s.locateFrames,
		StateAwaitingCheckbox: s.awaitCheckbox,
		StateClicking:         s.click,
		StateVerifying:        s.verify,
		StateRetrying:         s.retry,
	}

	r := &run{q: q}
	state := StateIdle
	for !state.Terminal() {
		next := handlers[state](ctx, r)
		s.logger.Debug("Solver transition",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
			zap.Int("attempt", r.attempt))
		r.outcome.Transitions = append(r.outcome.Transitions, Transition{From: state, To: next, Attempt: r.attempt})
		state = next
	}

	r.outcome.Solved = state == StateSolved
	return r.outcome
}

func (s *Solver) begin(_ context.Context, r *run) State {
	r.attempt = 1
	r.outcome.Attempts = 1
	return StateChecking
}

func (s *Solver) check(ctx context.Context, r *run) State {
	challenge := DetectChallenge(ctx, s.logger, r.q, s.cfg.ChallengeType)
	content := detect.ExpectedContent(ctx, s.logger, r.q, s.cfg.ExpectedContentSelector)
	if !challenge || content {
		s.logger.Info("No Cloudflare challenge detected", zap.Bool("expected_content", content))
		return StateSolved
	}
	return StateLocatingFrames
}

func (s *Solver) locateFrames(ctx context.Context, r *run) State {
	r.frames = s.search.SearchIframes(ctx, r.q, IframeURLFingerprint)
	if len(r.frames) == 0 {
		s.logger.Error("Cloudflare iframes not found", zap.Int("attempt", r.attempt))
		return StateRetrying
	}
	return StateAwaitingCheckbox
}

func (s *Solver) awaitCheckbox(ctx context.Context, r *run) State {
	poller := NewPoller(s.logger, s.search, s.sleep, s.cfg.WaitCheckboxDelay, s.cfg.WaitCheckboxAttempts)
	frame, checkbox, ok := poller.ReadyCheckbox(ctx, r.frames)
	if !ok {
		s.logger.Error("Cloudflare checkbox not found or not ready", zap.Int("attempt", r.attempt))
		return StateRetrying
	}
	r.frame, r.checkbox = frame, checkbox
	s.logger.Info("Found checkbox in Cloudflare iframe")
	return StateClicking
}

func (s *Solver) click(ctx context.Context, r *run) State {
	n := s.cfg.CheckboxClickAttempts
	for i := 1; i <= n; i++ {
		err := r.checkbox.Click(ctx)
		if err == nil {
			r.outcome.Clicks++
			s.logger.Info("Checkbox clicked successfully")
			return StateVerifying
		}
		s.logger.Error("Error clicking checkbox",
			zap.Int("click_attempt", i),
			zap.Int("max_click_attempts", n),
			zap.Error(err))
	}
	s.logger.Error("Failed to click checkbox after maximum attempts")
	return StateRetrying
}

func (s *Solver) verify(ctx context.Context, r *run) State {
	if err := s.sleep(ctx, s.cfg.SolveClickDelay); err != nil {
		s.logger.Debug("Click settle delay interrupted", zap.Error(err))
	}

	var cleared bool
	switch s.cfg.ChallengeType {
	case Widget:
		// The frame is the one that held the checkbox; it is not re-resolved even
		// if the widget re-rendered into a new frame after the click.
		cleared = len(s.search.SearchElements(ctx, r.frame, WidgetSuccessSelector)) > 0
	default:
		cleared = !DetectChallenge(ctx, s.logger, r.q, s.cfg.ChallengeType)
	}
	content := detect.ExpectedContent(ctx, s.logger, r.q, s.cfg.ExpectedContentSelector)

	if cleared || content {
		s.logger.Info("Solved successfully", zap.Int("attempt", r.attempt))
		return StateSolved
	}
	s.logger.Warn("Failed to solve Cloudflare challenge", zap.Int("attempt", r.attempt))
	return StateRetrying
}

func (s *Solver) retry(ctx context.Context, r *run) State {
	r.frames, r.frame, r.checkbox = nil, nil, nil

	if r.attempt >= s.cfg.SolveAttempts {
		s.logger.Error("Max solving attempts reached, giving up", zap.Int("attempts", r.attempt))
		return StateFailed
	}

	if err := s.sleep(ctx, s.cfg.AttemptDelay); err != nil {
		s.logger.Debug("Retry backoff interrupted", zap.Error(err))
	}
	r.attempt++
	r.outcome.Attempts = r.attempt
	s.logger.Warn("Retrying to solve...",
		zap.Int("attempt", r.attempt),
		zap.Int("max_attempts", s.cfg.SolveAttempts))
	return StateChecking
}
