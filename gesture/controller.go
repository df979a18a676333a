// Package gesture turns mouse drags on a view into transforms on the pair.
package gesture

import (
	"errors"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/pair"
)

var ErrNotDragging = errors.New("no drag in progress")

// State of the controller.
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// session lives from press to release.
type session struct {
	side      pair.Side
	pivot     affine.Point
	start     affine.Point
	refWidth  float64
	baseLeft  affine.Transform
	baseRight affine.Transform
}

// Controller applies drags to a pair.Config. It is not safe for concurrent
// use; the editor goroutine owns it.
type Controller struct {
	cfg     *pair.Config
	current *session
}

func New(cfg *pair.Config) *Controller {
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State {
	if c.current != nil {
		return Dragging
	}
	return Idle
}

// Press starts a drag on side. rect is the grabbed view's active image
// rectangle; its centre is the pivot and its width the move reference.
// A press while dragging restarts the session.
func (c *Controller) Press(side pair.Side, rect affine.Rect, at affine.Point) {
	snap := c.cfg.Snapshot()
	c.current = &session{
		side:      side,
		pivot:     rect.Center(),
		start:     at,
		refWidth:  rect.Dx(),
		baseLeft:  snap.Left.Transform,
		baseRight: snap.Right.Transform,
	}
}

// Move recomputes the delta from the press point to at and sets the
// affected sides to base * delta. It returns the delta applied.
func (c *Controller) Move(at affine.Point) (affine.Transform, error) {
	s := c.current
	if s == nil {
		return affine.Identity(), ErrNotDragging
	}
	delta := Delta(c.cfg.Mode(), s.pivot, s.start, at, s.refWidth)
	linked := c.cfg.Linked()

	var left, right *affine.Transform
	if s.side == pair.Left || linked {
		t := affine.Compose(s.baseLeft, delta)
		left = &t
	}
	if s.side == pair.Right || linked {
		t := affine.Compose(s.baseRight, delta)
		right = &t
	}
	c.cfg.SetTransforms(left, right)
	return delta, nil
}

// Release ends the drag without touching the transforms.
func (c *Controller) Release() {
	c.current = nil
}
