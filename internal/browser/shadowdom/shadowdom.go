// Package shadowdom finds elements and frames hidden inside open shadow roots.
// The walk, including roots nested inside other roots, happens in the page's own
// realm through a single script evaluation; the Go side only materializes the
// returned handles.
package shadowdom

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// collectShadowRootsJS gathers every open shadow root under the receiver, at any
// depth. Each root is pushed before the roots nested inside it. An element
// receiver is passed as the first argument; page and frame receivers get
// undefined and start from document.
const collectShadowRootsJS = `(root) => {
	const start = (root && root.nodeType === Node.ELEMENT_NODE) ? root : document;
	const roots = [];
	const walk = (node) => {
		for (const el of node.querySelectorAll('*')) {
			if (el.shadowRoot) {
				roots.push(el.shadowRoot);
				walk(el.shadowRoot);
			}
		}
	};
	if (start.shadowRoot) {
		roots.push(start.shadowRoot);
		walk(start.shadowRoot);
	}
	walk(start);
	return roots;
}`

// queryShadowRootJS runs querySelector inside one shadow root.
const queryShadowRootJS = `(root, selector) => root.querySelector(selector)`

const iframeSelector = "iframe"

// Engine searches the shadow forest reachable from a dom.Queryable.
// It holds no state between calls; every call re-walks the live DOM.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a shadow DOM search engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("shadowdom")}
}

// ShadowRoots returns the open shadow roots reachable from q in discovery order.
// Members of the result that are not element-capable are dropped.
func (e *Engine) ShadowRoots(ctx context.Context, q dom.Queryable) ([]dom.Element, error) {
	handle, err := q.EvaluateHandle(ctx, collectShadowRootsJS, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to collect shadow roots: %w", err)
	}
	if handle == nil {
		return nil, nil
	}

	props, err := handle.Properties(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read shadow root list: %w", err)
	}

	roots := make([]dom.Element, 0, len(props))
	for _, p := range props {
		if p == nil {
			continue
		}
		if el := p.AsElement(); el != nil {
			roots = append(roots, el)
		}
	}
	return roots, nil
}

// SearchElements runs selector inside every open shadow root reachable from q.
// Failures are logged and never returned: a root that fails is skipped and the
// matches from the others are kept.
func (e *Engine) SearchElements(ctx context.Context, q dom.Queryable, selector string) []dom.Element {
	found, err := e.FindElements(ctx, q, selector)
	if err != nil {
		e.logger.Error("Error searching for elements", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return found
}

// FindElements is SearchElements without the logging: per-root failures are still
// skipped, but a failure to enumerate the roots is returned to the caller.
func (e *Engine) FindElements(ctx context.Context, q dom.Queryable, selector string) ([]dom.Element, error) {
	roots, err := e.ShadowRoots(ctx, q)
	if err != nil {
		return nil, err
	}

	var found []dom.Element
	for i, root := range roots {
		handle, err := root.EvaluateHandle(ctx, queryShadowRootJS, selector)
		if err != nil {
			e.logger.Debug("Error searching shadow root",
				zap.Int("root_index", i),
				zap.String("selector", selector),
				zap.Error(err))
			continue
		}
		if handle == nil {
			continue
		}
		if el := handle.AsElement(); el != nil {
			found = append(found, el)
		}
	}
	return found, nil
}

// SearchIframes returns the frames of shadow-hosted iframes whose src contains
// urlSubstring. Unresolvable and detached frames are dropped.
func (e *Engine) SearchIframes(ctx context.Context, q dom.Queryable, urlSubstring string) []dom.Frame {
	iframes, err := e.FindElements(ctx, q, iframeSelector)
	if err != nil {
		e.logger.Error("Error searching for iframes", zap.String("url_substring", urlSubstring), zap.Error(err))
		return nil
	}

	var frames []dom.Frame
	for i, iframe := range iframes {
		frame, err := e.resolveFrame(ctx, iframe, urlSubstring)
		if err != nil {
			e.logger.Debug("Skipping iframe candidate", zap.Int("index", i), zap.Error(err))
			continue
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// resolveFrame returns (nil, nil) when the iframe is filtered out by src.
func (e *Engine) resolveFrame(ctx context.Context, iframe dom.Element, urlSubstring string) (dom.Frame, error) {
	src, err := iframe.Property(ctx, "src")
	if err != nil {
		return nil, fmt.Errorf("failed to read iframe src: %w", err)
	}
	if !strings.Contains(src, urlSubstring) {
		return nil, nil
	}

	frame, err := iframe.ContentFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve content frame: %w", err)
	}
	if frame == nil {
		return nil, dom.ErrNotFrame
	}
	if frame.IsDetached(ctx) {
		return nil, dom.ErrDetached
	}
	return frame, nil
}
