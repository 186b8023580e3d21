package cloudflare

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// Searcher is the slice of the shadow DOM engine the solver depends on.
type Searcher interface {
	FindElements(ctx context.Context, q dom.Queryable, selector string) ([]dom.Element, error)
	SearchElements(ctx context.Context, q dom.Queryable, selector string) []dom.Element
	SearchIframes(ctx context.Context, q dom.Queryable, urlSubstring string) []dom.Frame
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller waits for a visible checkbox to appear in one of the challenge frames.
type Poller struct {
	logger   *zap.Logger
	search   Searcher
	sleep    SleepFunc
	delay    time.Duration
	attempts int
}

// NewPoller creates a checkbox poller. Non-positive attempts still scan once.
func NewPoller(logger *zap.Logger, search Searcher, sleep SleepFunc, delay time.Duration, attempts int) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Poller{
		logger:   logger,
		search:   search,
		sleep:    sleep,
		delay:    max(delay, 0),
		attempts: max(attempts, 1),
	}
}

// ReadyCheckbox scans frames in order, round after round, and returns the first
// visible checkbox together with the frame that holds it. No further frames or
// rounds are scanned once one is found.
func (p *Poller) ReadyCheckbox(ctx context.Context, frames []dom.Frame) (dom.Frame, dom.Element, bool) {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if frame, checkbox := p.scan(ctx, frames, attempt); checkbox != nil {
			return frame, checkbox, true
		}

		if attempt < p.attempts {
			if err := p.sleep(ctx, p.delay); err != nil {
				p.logger.Debug("Checkbox poll delay interrupted", zap.Error(err))
			}
		}
	}

	p.logger.Error("Max attempts reached while waiting for Cloudflare checkbox input",
		zap.Int("attempts", p.attempts),
		zap.Int("frames", len(frames)))
	return nil, nil, false
}

// scan runs one round over every frame.
func (p *Poller) scan(ctx context.Context, frames []dom.Frame, attempt int) (dom.Frame, dom.Element) {
	for i, frame := range frames {
		if frame == nil || frame.IsDetached(ctx) {
			continue
		}

		candidates, err := p.search.FindElements(ctx, frame, CheckboxSelector)
		if err != nil {
			p.logger.Error("Error searching for checkboxes in iframe",
				zap.Int("attempt", attempt),
				zap.Int("frame_index", i),
				zap.Error(err))
			continue
		}

		for _, candidate := range candidates {
			visible, err := candidate.IsVisible(ctx)
			if err != nil {
				p.logger.Error("Error while waiting for checkbox",
					zap.Int("attempt", attempt),
					zap.Int("frame_index", i),
					zap.Error(err))
				continue
			}
			if visible {
				return frame, candidate
			}
		}
	}
	return nil, nil
}
