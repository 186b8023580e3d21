// Package captcha is the public entry point for solving checkbox captchas in a
// page, frame or element driven by any of the dom host adapters.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/browser/shadowdom"
	"github.com/xkilldash9x/clearance/internal/captcha/cloudflare"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

const (
	// CaptchaCloudflare is the only supported captcha vendor.
	CaptchaCloudflare = "cloudflare"
	// MethodClick solves the challenge by clicking its checkbox.
	MethodClick = "click"
)

var (
	ErrUnsupportedCaptchaType   = errors.New("unsupported captcha type")
	ErrUnsupportedChallengeType = errors.New("unsupported Cloudflare challenge type")
	ErrUnsupportedMethod        = errors.New("unsupported method")
	ErrNilQueryable             = errors.New("captcha: nil queryable")
)

// Outcome is the trace of a single solve.
type Outcome = cloudflare.Outcome

// SleepFunc pauses for a duration or until the context is done.
type SleepFunc = cloudflare.SleepFunc

type options struct {
	captchaType   string
	challengeType string
	method        string
	logger        *zap.Logger
	sleep         SleepFunc
	solver        cloudflare.Config
}

// Option configures Solve.
type Option func(*options)

func WithCaptchaType(name string) Option   { return func(o *options) { o.captchaType = name } }
func WithChallengeType(name string) Option { return func(o *options) { o.challengeType = name } }
func WithMethod(name string) Option        { return func(o *options) { o.method = name } }
func WithLogger(l *zap.Logger) Option      { return func(o *options) { o.logger = l } }

// WithExpectedContent sets a selector whose presence counts as proof the page is through.
func WithExpectedContent(selector string) Option {
	return func(o *options) { o.solver.ExpectedContentSelector = selector }
}

func WithSolveAttempts(n int) Option {
	return func(o *options) { o.solver.SolveAttempts = n }
}

func WithSolveClickDelay(d time.Duration) Option {
	return func(o *options) { o.solver.SolveClickDelay = d }
}

func WithWaitCheckboxAttempts(n int) Option {
	return func(o *options) { o.solver.WaitCheckboxAttempts = n }
}

func WithWaitCheckboxDelay(d time.Duration) Option {
	return func(o *options) { o.solver.WaitCheckboxDelay = d }
}

func WithCheckboxClickAttempts(n int) Option {
	return func(o *options) { o.solver.CheckboxClickAttempts = n }
}

func WithAttemptDelay(d time.Duration) Option {
	return func(o *options) { o.solver.AttemptDelay = d }
}

// WithSleepFunc swaps the clock behind every delay. Mostly useful in tests.
func WithSleepFunc(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

func defaultOptions() options {
	return options{
		captchaType: CaptchaCloudflare,
		method:      MethodClick,
		solver:      cloudflare.DefaultConfig(),
	}
}

// Solve clears the captcha in q and reports whether the page is through. A false
// result means every attempt was used up. Errors are only returned for an invalid
// configuration, before q is touched.
func Solve(ctx context.Context, q dom.Queryable, opts ...Option) (bool, error) {
	outcome, err := SolveWithOutcome(ctx, q, opts...)
	if err != nil {
		return false, err
	}
	return outcome.Solved, nil
}

// SolveWithOutcome is Solve with the solver's full trace.
func SolveWithOutcome(ctx context.Context, q dom.Queryable, opts ...Option) (Outcome, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return Outcome{}, err
	}
	if q == nil {
		return Outcome{}, ErrNilQueryable
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var solverOpts []cloudflare.SolverOption
	if o.sleep != nil {
		solverOpts = append(solverOpts, cloudflare.WithSleepFunc(o.sleep))
	}
	solver := cloudflare.NewSolver(logger, shadowdom.NewEngine(logger), o.solver, solverOpts...)
	return solver.Solve(ctx, q), nil
}

// Detect returns the names of the Cloudflare challenge kinds present in q,
// without touching them.
func Detect(ctx context.Context, q dom.Queryable, logger *zap.Logger) []string {
	if q == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var found []string
	for _, name := range cloudflare.ChallengeTypeNames() {
		kind, _ := cloudflare.ParseChallengeType(name)
		if cloudflare.DetectChallenge(ctx, logger, q, kind) {
			found = append(found, name)
		}
	}
	return found
}

// validate checks the captcha, challenge and method triple and resolves the
// challenge name into the solver config.
func (o *options) validate() error {
	if o.captchaType != CaptchaCloudflare {
		return fmt.Errorf("%w: '%s'; currently only '%s' is supported",
			ErrUnsupportedCaptchaType, o.captchaType, CaptchaCloudflare)
	}

	kind, ok := cloudflare.ParseChallengeType(o.challengeType)
	if !ok {
		return fmt.Errorf("%w: '%s'; supported types are: %s",
			ErrUnsupportedChallengeType, o.challengeType, quoteAll(cloudflare.ChallengeTypeNames()))
	}
	o.solver.ChallengeType = kind

	if o.method != MethodClick {
		return fmt.Errorf("%w '%s' for Cloudflare captcha; currently only '%s' method is supported",
			ErrUnsupportedMethod, o.method, MethodClick)
	}
	return nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, ", ")
}
