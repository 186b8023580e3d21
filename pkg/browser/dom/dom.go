// Package dom defines the host object model the solver drives: anything that can
// be queried (pages, frames, elements) and the handles that scripts return.
// Concrete hosts live in the sibling cdphost, rodhost and pwhost packages.
package dom

import (
	"context"
	"errors"
)

var (
	// ErrNotFrame is returned by ContentFrame when the element does not own a frame.
	ErrNotFrame = errors.New("dom: element has no content frame")
	// ErrDetached is returned when an operation targets a frame that left the tree.
	ErrDetached = errors.New("dom: frame is detached")
)

// JSHandle is a reference to a value living in the page's JS realm.
type JSHandle interface {
	// AsElement returns the handle as an element, or nil when it is not a DOM node.
	AsElement() Element
	// Properties returns the indexed members of an array-like handle, in index order.
	Properties(ctx context.Context) ([]JSHandle, error)
}

// Queryable is the capability shared by pages, frames and elements.
type Queryable interface {
	// QuerySelector returns the first match inside the receiver, or (nil, nil).
	QuerySelector(ctx context.Context, selector string) (Element, error)
	// EvaluateHandle runs fn in the receiver's realm and returns the result by reference.
	// Element receivers call fn(element, arg); page and frame receivers call fn(arg).
	EvaluateHandle(ctx context.Context, fn string, arg any) (JSHandle, error)
}

// Element is a DOM node handle. Shadow roots are exposed as elements too.
type Element interface {
	Queryable
	JSHandle

	IsVisible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	// Property reads a JS property of the node as a string. Missing properties read as "".
	Property(ctx context.Context, name string) (string, error)
	// ContentFrame resolves the frame owned by an iframe element.
	ContentFrame(ctx context.Context) (Frame, error)
}

// Frame is a browsing context nested in a page.
type Frame interface {
	Queryable
	IsDetached(ctx context.Context) bool
}
