// Package rodhost implements the dom object model over go-rod pages.
package rodhost

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

const detachProbeTimeout = 2 * time.Second

// Page wraps a rod page, or the page rod returns for an iframe.
type Page struct {
	p *rod.Page
}

// NewPage wraps page.
func NewPage(page *rod.Page) *Page {
	return &Page{p: page}
}

func (p *Page) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	found, el, err := p.p.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Element{el: el}, nil
}

func (p *Page) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	page := p.p.Context(ctx)
	obj, err := page.Evaluate(rod.Eval(fn, args(arg)...).ByObject())
	if err != nil {
		return nil, err
	}
	return wrap(page, obj)
}

// IsDetached probes the frame's document. A frame that no longer answers
// within a short timeout counts as detached.
func (p *Page) IsDetached(ctx context.Context) bool {
	probe := p.p.Context(ctx).Timeout(detachProbeTimeout)
	defer probe.CancelTimeout()
	_, err := probe.Eval(`() => document.readyState`)
	return err != nil
}

// Element wraps a rod element. Shadow roots are elements too.
type Element struct {
	el *rod.Element
}

func (e *Element) AsElement() dom.Element { return e }

func (e *Element) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	return properties(e.el.Page().Context(ctx), e.el.Object)
}

func (e *Element) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	found, el, err := e.el.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &Element{el: el}, nil
}

func (e *Element) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	el := e.el.Context(ctx)
	js := fmt.Sprintf("function(...args) { return (%s)(this, ...args); }", fn)
	obj, err := el.Evaluate(rod.Eval(js, args(arg)...).ByObject())
	if err != nil {
		return nil, err
	}
	return wrap(el.Page(), obj)
}

func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *Element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *Element) Property(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Property(name)
	if err != nil {
		return "", err
	}
	if v.Nil() {
		return "", nil
	}
	return v.String(), nil
}

func (e *Element) ContentFrame(ctx context.Context) (dom.Frame, error) {
	el := e.el.Context(ctx)
	node, err := el.Describe(0, false)
	if err != nil {
		return nil, err
	}
	if node.FrameID == "" {
		return nil, dom.ErrNotFrame
	}
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	return &Page{p: frame}, nil
}

// handle is a non-node remote value.
type handle struct {
	page *rod.Page
	obj  *proto.RuntimeRemoteObject
}

func (h *handle) AsElement() dom.Element { return nil }

func (h *handle) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	return properties(h.page.Context(ctx), h.obj)
}

func wrap(page *rod.Page, obj *proto.RuntimeRemoteObject) (dom.JSHandle, error) {
	if obj != nil && obj.ObjectID != "" && obj.Subtype == proto.RuntimeRemoteObjectSubtypeNode {
		el, err := page.ElementFromObject(obj)
		if err != nil {
			return nil, err
		}
		return &Element{el: el}, nil
	}
	return &handle{page: page, obj: obj}, nil
}

// properties returns the indexed own properties of obj in index order.
func properties(page *rod.Page, obj *proto.RuntimeRemoteObject) ([]dom.JSHandle, error) {
	if obj == nil || obj.ObjectID == "" {
		return nil, nil
	}
	res, err := proto.RuntimeGetProperties{ObjectID: obj.ObjectID, OwnProperties: true}.Call(page)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		i   int
		obj *proto.RuntimeRemoteObject
	}
	var members []indexed
	for _, d := range res.Result {
		i, err := strconv.Atoi(d.Name)
		if err != nil || i < 0 || d.Value == nil {
			continue
		}
		members = append(members, indexed{i, d.Value})
	}
	slices.SortFunc(members, func(a, b indexed) int { return a.i - b.i })

	out := make([]dom.JSHandle, 0, len(members))
	for _, m := range members {
		h, err := wrap(page, m.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func args(arg any) []any {
	if arg == nil {
		return nil
	}
	return []any{arg}
}
