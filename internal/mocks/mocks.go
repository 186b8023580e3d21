// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// -- Queryable Mock (pages) --

// MockQueryable mocks a top-level page: it can query and evaluate, nothing else.
type MockQueryable struct {
	mock.Mock
}

var _ dom.Queryable = (*MockQueryable)(nil)

func (m *MockQueryable) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	args := m.Called(ctx, selector)
	el, _ := args.Get(0).(dom.Element)
	return el, args.Error(1)
}

func (m *MockQueryable) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	args := m.Called(ctx, fn, arg)
	h, _ := args.Get(0).(dom.JSHandle)
	return h, args.Error(1)
}

// -- Frame Mock --

// MockFrame mocks dom.Frame.
type MockFrame struct {
	MockQueryable
}

var _ dom.Frame = (*MockFrame)(nil)

func (m *MockFrame) IsDetached(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

// -- JSHandle Mock --

// MockJSHandle mocks a non-element handle, typically an array returned by a script.
type MockJSHandle struct {
	mock.Mock
}

var _ dom.JSHandle = (*MockJSHandle)(nil)

func (m *MockJSHandle) AsElement() dom.Element {
	el, _ := m.Called().Get(0).(dom.Element)
	return el
}

func (m *MockJSHandle) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	args := m.Called(ctx)
	props, _ := args.Get(0).([]dom.JSHandle)
	return props, args.Error(1)
}

// -- Element Mock --

// MockElement mocks dom.Element. AsElement returns the mock itself unless
// NotElement is set, which mirrors a handle that resolved to null.
type MockElement struct {
	MockQueryable
	NotElement bool
}

var _ dom.Element = (*MockElement)(nil)

func (m *MockElement) AsElement() dom.Element {
	if m.NotElement {
		return nil
	}
	return m
}

func (m *MockElement) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	args := m.Called(ctx)
	props, _ := args.Get(0).([]dom.JSHandle)
	return props, args.Error(1)
}

func (m *MockElement) IsVisible(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) Click(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) Property(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *MockElement) ContentFrame(ctx context.Context) (dom.Frame, error) {
	args := m.Called(ctx)
	f, _ := args.Get(0).(dom.Frame)
	return f, args.Error(1)
}

// -- Helpers --

// NewHandleList builds a mocked array handle whose members are the given handles.
func NewHandleList(members ...dom.JSHandle) *MockJSHandle {
	h := new(MockJSHandle)
	h.On("Properties", mock.Anything).Return(members, nil)
	h.On("AsElement").Return(nil).Maybe()
	return h
}

// -- Searcher Mock --

// MockSearcher mocks the shadow DOM engine as seen by the solver.
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) FindElements(ctx context.Context, q dom.Queryable, selector string) ([]dom.Element, error) {
	args := m.Called(ctx, q, selector)
	els, _ := args.Get(0).([]dom.Element)
	return els, args.Error(1)
}

func (m *MockSearcher) SearchElements(ctx context.Context, q dom.Queryable, selector string) []dom.Element {
	els, _ := m.Called(ctx, q, selector).Get(0).([]dom.Element)
	return els
}

func (m *MockSearcher) SearchIframes(ctx context.Context, q dom.Queryable, urlSubstring string) []dom.Frame {
	frames, _ := m.Called(ctx, q, urlSubstring).Get(0).([]dom.Frame)
	return frames
}

// Is matches an argument by identity rather than deep equality, which keeps two
// identically configured mocks apart.
func Is(target dom.Queryable) any {
	return mock.MatchedBy(func(q dom.Queryable) bool { return q == target })
}
