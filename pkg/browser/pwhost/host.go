// Package pwhost implements the dom object model over playwright-go handles.
//
// Playwright calls are not context aware; each call checks ctx first, and
// actions that wait take their timeout from the ctx deadline.
package pwhost

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// Frame wraps a playwright frame. Pages are represented by their main frame.
type Frame struct {
	f playwright.Frame
}

// NewPage wraps the main frame of page.
func NewPage(page playwright.Page) *Frame {
	return &Frame{f: page.MainFrame()}
}

func (f *Frame) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	el, err := f.f.QuerySelector(selector)
	if err != nil || el == nil {
		return nil, err
	}
	return &Element{el: el}, nil
}

func (f *Frame) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := f.f.EvaluateHandle(fn, args(arg)...)
	if err != nil {
		return nil, err
	}
	return wrap(h), nil
}

func (f *Frame) IsDetached(context.Context) bool {
	return f.f.IsDetached()
}

// Element wraps a playwright element handle.
type Element struct {
	el playwright.ElementHandle
}

func (e *Element) AsElement() dom.Element { return e }

func (e *Element) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return properties(e.el)
}

func (e *Element) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	el, err := e.el.QuerySelector(selector)
	if err != nil || el == nil {
		return nil, err
	}
	return &Element{el: el}, nil
}

func (e *Element) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := e.el.EvaluateHandle(fn, args(arg)...)
	if err != nil {
		return nil, err
	}
	return wrap(h), nil
}

func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.el.IsVisible()
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var opts playwright.ElementHandleClickOptions
	if ms, ok := timeoutMillis(ctx); ok {
		opts.Timeout = playwright.Float(ms)
	}
	return e.el.Click(opts)
}

func (e *Element) Property(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, err := e.el.GetProperty(name)
	if err != nil {
		return "", err
	}
	defer h.Dispose()
	v, err := h.JSONValue()
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

func (e *Element) ContentFrame(ctx context.Context) (dom.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := e.el.ContentFrame()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, dom.ErrNotFrame
	}
	if f.IsDetached() {
		return nil, dom.ErrDetached
	}
	return &Frame{f: f}, nil
}

// handle is a non-node JS value.
type handle struct {
	h playwright.JSHandle
}

func (h *handle) AsElement() dom.Element { return nil }

func (h *handle) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return properties(h.h)
}

func wrap(h playwright.JSHandle) dom.JSHandle {
	if el := h.AsElement(); el != nil {
		return &Element{el: el}
	}
	return &handle{h: h}
}

type propertyGetter interface {
	GetProperties() (map[string]playwright.JSHandle, error)
}

func properties(h propertyGetter) ([]dom.JSHandle, error) {
	props, err := h.GetProperties()
	if err != nil {
		return nil, err
	}
	keys := indexKeys(props)
	out := make([]dom.JSHandle, 0, len(keys))
	for _, k := range keys {
		out = append(out, wrap(props[strconv.Itoa(k)]))
	}
	return out, nil
}

// indexKeys returns the array-index keys of props in ascending order.
func indexKeys[V any](props map[string]V) []int {
	keys := make([]int, 0, len(props))
	for name := range props {
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && strconv.Itoa(i) == name {
			keys = append(keys, i)
		}
	}
	slices.Sort(keys)
	return keys
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func timeoutMillis(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return float64(max(time.Until(deadline), time.Millisecond) / time.Millisecond), true
}

func args(arg any) []any {
	if arg == nil {
		return nil
	}
	return []any{arg}
}
