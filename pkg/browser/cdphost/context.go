package cdphost

import (
	"context"
	"time"
)

// combine derives a context from target, which carries the chromedp executor,
// that is also canceled when op is. op's deadline is carried over so CDP calls
// see it.
func combine(target, op context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := op.Deadline(); ok {
		ctx, cancel = context.WithDeadline(target, deadline)
	} else {
		ctx, cancel = context.WithCancel(target)
	}

	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// detached keeps the values of its parent but none of its cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// detach returns a context that outlives ctx while keeping its CDP values.
func detach(ctx context.Context) context.Context {
	return detached{ctx}
}
