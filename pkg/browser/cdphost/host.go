// Package cdphost implements the dom object model over a chromedp tab.
//
// Every handle is bound to a session: the chromedp context of the target that
// owns it plus, for same-process iframes, the isolated world created in that
// frame. Out-of-process iframes get their own chromedp context attached to the
// iframe target. Mouse input is always dispatched on the top-level target, with
// coordinates translated through the chain of owning iframes.
package cdphost

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/humanoid"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

const (
	objectGroup = "clearance"
	worldName   = "clearance"

	defaultHoldMin = 50 * time.Millisecond
	defaultHoldMax = 120 * time.Millisecond
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Option configures a Page.
type Option func(*shared)

// WithClickHold sets the range the press-to-release delay of a click is drawn from.
func WithClickHold(minHold, maxHold time.Duration) Option {
	return func(sh *shared) {
		if minHold < 0 {
			minHold = 0
		}
		if maxHold < minHold {
			maxHold = minHold
		}
		sh.holdMin, sh.holdMax = minHold, maxHold
	}
}

// WithMouse sets the model used to plan the cursor path before each click.
func WithMouse(cfg humanoid.Config) Option {
	return func(sh *shared) { sh.mouse = humanoid.New(cfg, 0) }
}

// shared is the state common to every session spawned from one Page.
type shared struct {
	logger  *zap.Logger
	holdMin time.Duration
	holdMax time.Duration
	// mouse tracks the cursor of the top-level viewport.
	mouse *humanoid.Humanoid

	mu      sync.Mutex
	targets map[target.ID]context.Context
}

func (sh *shared) holdDuration() time.Duration {
	span := sh.holdMax - sh.holdMin
	if span <= 0 {
		return sh.holdMin
	}
	return sh.holdMin + rand.N(span)
}

// session binds handles to a CDP target and, optionally, an execution context.
type session struct {
	ctx       context.Context
	contextID runtime.ExecutionContextID
	// input is the session that receives mouse events; nil means this one.
	input *session
	// origin reports where this session's viewport sits in input coordinates.
	origin func(ctx context.Context) (float64, float64, error)
	shared *shared
}

func (s *session) inputSession() *session {
	if s.input != nil {
		return s.input
	}
	return s
}

// run executes fn against the session's target, bounded by ctx.
func (s *session) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("target closed: %w", err)
	}
	runCtx, cancel := combine(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.ActionFunc(fn))
}

func (s *session) evaluate(ctx context.Context, expr string, byValue bool) (*runtime.RemoteObject, error) {
	var obj *runtime.RemoteObject
	err := s.run(ctx, func(ctx context.Context) error {
		params := runtime.Evaluate(expr).
			WithAwaitPromise(true).
			WithReturnByValue(byValue).
			WithObjectGroup(objectGroup)
		if s.contextID != 0 {
			params = params.WithContextID(s.contextID)
		}
		res, exp, err := params.Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return scriptError(exp)
		}
		obj = res
		return nil
	})
	return obj, err
}

func (s *session) callOn(ctx context.Context, id runtime.RemoteObjectID, decl string, byValue bool) (*runtime.RemoteObject, error) {
	var obj *runtime.RemoteObject
	err := s.run(ctx, func(ctx context.Context) error {
		res, exp, err := runtime.CallFunctionOn(decl).
			WithObjectID(id).
			WithAwaitPromise(true).
			WithReturnByValue(byValue).
			WithObjectGroup(objectGroup).
			Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return scriptError(exp)
		}
		obj = res
		return nil
	})
	return obj, err
}

// wrap turns a remote object into a handle. DOM nodes become Elements.
func (s *session) wrap(obj *runtime.RemoteObject) dom.JSHandle {
	if isNode(obj) {
		return &Element{s: s, obj: obj}
	}
	return &handle{s: s, obj: obj}
}

// properties walks an array-like remote object by index.
func (s *session) properties(ctx context.Context, obj *runtime.RemoteObject) ([]dom.JSHandle, error) {
	if obj == nil || obj.ObjectID == "" {
		return nil, nil
	}
	res, err := s.callOn(ctx, obj.ObjectID, lengthFn, true)
	if err != nil {
		return nil, fmt.Errorf("reading length: %w", err)
	}
	var n int
	if err := decode(res, &n); err != nil {
		return nil, err
	}

	out := make([]dom.JSHandle, 0, n)
	for i := 0; i < n; i++ {
		member, err := s.callOn(ctx, obj.ObjectID, indexFn(i), false)
		if err != nil {
			return nil, fmt.Errorf("reading member %d: %w", i, err)
		}
		out = append(out, s.wrap(member))
	}
	return out, nil
}

// realm is the document scope of a page or frame.
type realm struct {
	s *session
}

func (r realm) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	h, err := r.EvaluateHandle(ctx, documentQueryFn, selector)
	if err != nil {
		return nil, err
	}
	return h.AsElement(), nil
}

func (r realm) EvaluateHandle(ctx context.Context, fn string, arg any) (dom.JSHandle, error) {
	encoded, err := encodeArg(arg)
	if err != nil {
		return nil, err
	}
	obj, err := r.s.evaluate(ctx, fmt.Sprintf("(%s)(%s)", fn, encoded), false)
	if err != nil {
		return nil, err
	}
	return r.s.wrap(obj), nil
}

// Page is the top-level document of a chromedp tab.
type Page struct {
	realm
}

// NewPage binds a Page to tabCtx, a context created by chromedp.NewContext.
func NewPage(tabCtx context.Context, logger *zap.Logger, opts ...Option) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	sh := &shared{
		logger:  logger.Named("cdphost"),
		holdMin: defaultHoldMin,
		holdMax: defaultHoldMax,
		mouse:   humanoid.New(humanoid.DefaultConfig(), 0),
		targets: make(map[target.ID]context.Context),
	}
	for _, opt := range opts {
		opt(sh)
	}
	return &Page{realm{&session{ctx: tabCtx, shared: sh}}}
}

// Release frees every remote object handed out by this page's top-level target.
// It runs even when ctx is already canceled.
func (p *Page) Release(ctx context.Context) error {
	releaseCtx, cancel := context.WithTimeout(detach(ctx), 5*time.Second)
	defer cancel()
	return p.s.run(releaseCtx, func(ctx context.Context) error {
		return runtime.ReleaseObjectGroup(objectGroup).Do(ctx)
	})
}

// handle is a non-node remote value.
type handle struct {
	s   *session
	obj *runtime.RemoteObject
}

func (h *handle) AsElement() dom.Element { return nil }

func (h *handle) Properties(ctx context.Context) ([]dom.JSHandle, error) {
	return h.s.properties(ctx, h.obj)
}

func isNode(obj *runtime.RemoteObject) bool {
	return obj != nil && obj.ObjectID != "" && obj.Type == runtime.TypeObject && obj.Subtype == runtime.SubtypeNode
}

func decode(obj *runtime.RemoteObject, v any) error {
	if obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), v); err != nil {
		return fmt.Errorf("decoding remote value: %w", err)
	}
	return nil
}

func encodeArg(arg any) (string, error) {
	if arg == nil {
		return "undefined", nil
	}
	b, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encoding script argument: %w", err)
	}
	return string(b), nil
}

func scriptError(exp *runtime.ExceptionDetails) error {
	if exp.Exception != nil && exp.Exception.Description != "" {
		return fmt.Errorf("script exception: %s", exp.Exception.Description)
	}
	return fmt.Errorf("script exception: %s", exp.Text)
}
