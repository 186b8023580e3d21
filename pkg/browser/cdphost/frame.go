package cdphost

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

const detachCheckTimeout = 5 * time.Second

// Frame is the document of an iframe, either in its parent's process or in
// its own out-of-process target.
type Frame struct {
	realm
	id cdp.FrameID
	// tree is the session whose frame tree lists this frame.
	tree *session
	oop  bool
}

// IsDetached reports whether the frame has left the page. Probe failures
// count as detached.
func (f *Frame) IsDetached(ctx context.Context) bool {
	if f.s.ctx.Err() != nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, detachCheckTimeout)
	defer cancel()

	if f.oop {
		present, err := f.s.shared.hasFrameTarget(f.tree.ctx, ctx, f.id)
		if err != nil {
			f.s.shared.logger.Debug("Frame target probe failed", zap.String("frame_id", string(f.id)), zap.Error(err))
			return true
		}
		return !present
	}

	var tree *page.FrameTree
	err := f.tree.run(ctx, func(ctx context.Context) error {
		t, err := page.GetFrameTree().Do(ctx)
		tree = t
		return err
	})
	if err != nil {
		f.s.shared.logger.Debug("Frame tree probe failed", zap.String("frame_id", string(f.id)), zap.Error(err))
		return true
	}
	return !containsFrame(tree, f.id)
}

func containsFrame(tree *page.FrameTree, id cdp.FrameID) bool {
	if tree == nil {
		return false
	}
	if tree.Frame != nil && tree.Frame.ID == id {
		return true
	}
	for _, child := range tree.ChildFrames {
		if containsFrame(child, id) {
			return true
		}
	}
	return false
}

// openFrame builds a session for the frame owned by e.
func (e *Element) openFrame(ctx context.Context, id cdp.FrameID) (*Frame, error) {
	parent := e.s
	sh := parent.shared

	tctx, oop, err := sh.frameTarget(parent.ctx, ctx, id)
	if err != nil {
		return nil, fmt.Errorf("attaching frame target: %w", err)
	}
	if oop {
		fs := &session{
			ctx:    tctx,
			input:  parent.inputSession(),
			origin: e.contentOrigin,
			shared: sh,
		}
		return &Frame{realm: realm{fs}, id: id, tree: parent, oop: true}, nil
	}

	var worldID runtime.ExecutionContextID
	err = parent.run(ctx, func(ctx context.Context) error {
		w, err := page.CreateIsolatedWorld(id).WithWorldName(worldName).Do(ctx)
		worldID = w
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	fs := &session{
		ctx:       parent.ctx,
		contextID: worldID,
		input:     parent.inputSession(),
		origin:    parent.origin,
		shared:    sh,
	}
	return &Frame{realm: realm{fs}, id: id, tree: parent}, nil
}

// frameTarget returns a chromedp context attached to the iframe target with the
// given frame id, if the frame runs out of process.
func (sh *shared) frameTarget(parent, ctx context.Context, id cdp.FrameID) (context.Context, bool, error) {
	tid := target.ID(id)

	sh.mu.Lock()
	cached, ok := sh.targets[tid]
	sh.mu.Unlock()
	if ok && cached.Err() == nil {
		return cached, true, nil
	}

	present, err := sh.hasFrameTarget(parent, ctx, id)
	if err != nil || !present {
		return nil, false, err
	}

	// The attached context lives as long as the tab; canceling it would close the target.
	tctx, _ := chromedp.NewContext(parent, chromedp.WithTargetID(tid))
	if err := chromedp.Run(tctx); err != nil {
		return nil, false, err
	}
	sh.logger.Debug("Attached to out-of-process frame", zap.String("frame_id", string(id)))

	sh.mu.Lock()
	sh.targets[tid] = tctx
	sh.mu.Unlock()
	return tctx, true, nil
}

func (sh *shared) hasFrameTarget(parent, ctx context.Context, id cdp.FrameID) (bool, error) {
	probe, cancel := combine(parent, ctx)
	defer cancel()
	infos, err := chromedp.Targets(probe)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Type == "iframe" && info.TargetID == target.ID(id) {
			return true, nil
		}
	}
	return false, nil
}
