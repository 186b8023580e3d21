package cdphost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/clearance/internal/humanoid"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

var errNoBox = errors.New("element has no visible box")

// Element is a DOM node living in a CDP target.
type Element struct {
	s   *session
	obj *runtime.RemoteObject
}

func (e *Element) id() runtime.RemoteObjectID { return e.obj.ObjectID }

func (e *Element) AsElement() dom.Element { return e }

func (e *Element) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	return e.s.properties(ctx, e.obj)
}

func (e *Element) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	encoded, err := encodeArg(selector)
	if err != nil {
		return nil, err
	}
	obj, err := e.s.callOn(ctx, e.id(), elementQueryFn(encoded), false)
	if err != nil {
		return nil, err
	}
	return e.s.wrap(obj).AsElement(), nil
}

func (e *Element) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	encoded, err := encodeArg(arg)
	if err != nil {
		return nil, err
	}
	obj, err := e.s.callOn(ctx, e.id(), elementEvalFn(fn, encoded), false)
	if err != nil {
		return nil, err
	}
	return e.s.wrap(obj), nil
}

func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	res, err := e.s.callOn(ctx, e.id(), visibleFn, true)
	if err != nil {
		return false, err
	}
	var visible bool
	err = decode(res, &visible)
	return visible, err
}

func (e *Element) Property(ctx context.Context, name string) (string, error) {
	encoded, err := encodeArg(name)
	if err != nil {
		return "", err
	}
	res, err := e.s.callOn(ctx, e.id(), propertyFn(encoded), true)
	if err != nil {
		return "", err
	}
	var v string
	err = decode(res, &v)
	return v, err
}

// Click scrolls the element into view and presses the left button at the
// centre of its first content quad.
func (e *Element) Click(ctx context.Context) error {
	x, y, err := e.center(ctx)
	if err != nil {
		return err
	}
	if e.s.origin != nil {
		ox, oy, err := e.s.origin(ctx)
		if err != nil {
			return fmt.Errorf("locating owner frame: %w", err)
		}
		x, y = x+ox, y+oy
	}
	return e.s.inputSession().click(ctx, x, y, e.s.shared.holdDuration())
}

func (e *Element) center(ctx context.Context) (float64, float64, error) {
	var quads []cdpdom.Quad
	err := e.s.run(ctx, func(ctx context.Context) error {
		if err := cdpdom.ScrollIntoViewIfNeeded().WithObjectID(e.id()).Do(ctx); err != nil {
			return fmt.Errorf("scrolling into view: %w", err)
		}
		q, err := cdpdom.GetContentQuads().WithObjectID(e.id()).Do(ctx)
		quads = q
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	for _, q := range quads {
		if x, y, ok := quadCenter(q); ok {
			return x, y, nil
		}
	}
	return 0, 0, errNoBox
}

// contentOrigin is the top-left corner of the element's content box, in the
// coordinates of the input session.
func (e *Element) contentOrigin(ctx context.Context) (float64, float64, error) {
	var box *cdpdom.BoxModel
	err := e.s.run(ctx, func(ctx context.Context) error {
		if err := cdpdom.ScrollIntoViewIfNeeded().WithObjectID(e.id()).Do(ctx); err != nil {
			return err
		}
		b, err := cdpdom.GetBoxModel().WithObjectID(e.id()).Do(ctx)
		box = b
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	if box == nil || len(box.Content) < 2 {
		return 0, 0, errNoBox
	}
	x, y := box.Content[0], box.Content[1]
	if e.s.origin != nil {
		ox, oy, err := e.s.origin(ctx)
		if err != nil {
			return 0, 0, err
		}
		x, y = x+ox, y+oy
	}
	return x, y, nil
}

// quadCenter averages the four corners of a quad. Degenerate quads are rejected.
func quadCenter(q cdpdom.Quad) (float64, float64, bool) {
	if len(q) != 8 {
		return 0, 0, false
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	x, y = x/4, y/4
	minX, maxX := min(q[0], q[2], q[4], q[6]), max(q[0], q[2], q[4], q[6])
	minY, maxY := min(q[1], q[3], q[5], q[7]), max(q[1], q[3], q[5], q[7])
	if maxX-minX < 1 || maxY-minY < 1 {
		return 0, 0, false
	}
	return x, y, true
}

// click moves to (x, y), then presses and releases the left button.
func (s *session) click(ctx context.Context, x, y float64, hold time.Duration) error {
	return s.run(ctx, func(ctx context.Context) error {
		if err := s.glide(ctx, x, y); err != nil {
			return fmt.Errorf("mouse move: %w", err)
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1).
			Do(ctx); err != nil {
			return fmt.Errorf("mouse press: %w", err)
		}

		t := time.NewTimer(hold)
		defer t.Stop()
		select {
		case <-ctx.Done():
			// Never leave the button pressed.
			release, cancel := context.WithTimeout(detach(ctx), 2*time.Second)
			defer cancel()
			_ = input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1).Do(release)
			return ctx.Err()
		case <-t.C:
		}

		if err := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx); err != nil {
			return fmt.Errorf("mouse release: %w", err)
		}
		return nil
	})
}

// glide moves the cursor to (x, y) along a planned path, pacing the events
// by their timestamps. The last event lands exactly on (x, y).
func (s *session) glide(ctx context.Context, x, y float64) error {
	steps := s.shared.mouse.MoveTo(humanoid.Vector2D{X: x, Y: y})
	start := time.Now()
	for _, step := range steps {
		if wait := step.At - time.Since(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, step.Point.X, step.Point.Y).Do(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ContentFrame resolves the frame owned by an iframe element.
func (e *Element) ContentFrame(ctx context.Context) (dom.Frame, error) {
	var node *cdp.Node
	err := e.s.run(ctx, func(ctx context.Context) error {
		n, err := cdpdom.DescribeNode().WithObjectID(e.id()).Do(ctx)
		node = n
		return err
	})
	if err != nil {
		return nil, err
	}
	if node == nil || node.FrameID == "" {
		return nil, dom.ErrNotFrame
	}
	return e.openFrame(ctx, node.FrameID)
}
