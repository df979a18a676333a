// Package editor runs the interactive side of the application. One goroutine
// owns the pair and the gesture controller; every mutation is sent to it as a
// command, and every slot change it sees is forwarded to the depth worker and
// to the event publisher.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/gesture"
	"github.com/stevecastle/stereopair/pair"
)

var ErrClosed = errors.New("editor closed")

// Trigger is notified whenever either slot changes.
type Trigger interface {
	RequestUpdate()
}

// Event is published after state changes.
type Event struct {
	Type string `json:"type"`
	Side string `json:"side,omitempty"`
}

const (
	EventSlotChanged   = "slot-changed"
	EventConfigChanged = "config-changed"
)

// Publisher receives editor events. It must not block.
type Publisher func(Event)

type command struct {
	name  string
	run   func() error
	reply chan error
}

// Editor serialises all changes to a pair.Config.
type Editor struct {
	cfg      *pair.Config
	gestures *gesture.Controller
	trigger  Trigger
	publish  Publisher
	log      *logrus.Entry

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// New returns an editor for cfg. trigger and publish may be nil.
func New(cfg *pair.Config, trigger Trigger, publish Publisher) *Editor {
	if publish == nil {
		publish = func(Event) {}
	}
	return &Editor{
		cfg:      cfg,
		gestures: gesture.New(cfg),
		trigger:  trigger,
		publish:  publish,
		log:      logrus.WithField("component", "editor"),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Config returns the pair the editor owns. Callers outside the editor must
// only read it.
func (e *Editor) Config() *pair.Config { return e.cfg }

// Snapshot returns a consistent copy of the pair.
func (e *Editor) Snapshot() pair.Snapshot { return e.cfg.Snapshot() }

// Start launches the editor goroutine.
func (e *Editor) Start() {
	e.startOnce.Do(func() { go e.run() })
}

// Close stops the editor goroutine and waits for it.
func (e *Editor) Close(ctx context.Context) error {
	e.closeOnce.Do(func() { close(e.quit) })
	e.Start()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("editor did not stop: %w", ctx.Err())
	}
}

func (e *Editor) run() {
	defer close(e.done)

	leftCh, cancelLeft := e.cfg.Left.Subscribe()
	defer cancelLeft()
	rightCh, cancelRight := e.cfg.Right.Subscribe()
	defer cancelRight()

	for {
		select {
		case <-e.quit:
			e.log.Debug("editor stopped")
			return
		case cmd := <-e.cmds:
			err := cmd.run()
			if err != nil {
				e.log.WithError(err).WithField("command", cmd.name).Debug("command failed")
			}
			cmd.reply <- err
		case <-leftCh:
			e.slotChanged(pair.Left)
		case <-rightCh:
			e.slotChanged(pair.Right)
		}
	}
}

func (e *Editor) slotChanged(side pair.Side) {
	if e.trigger != nil {
		e.trigger.RequestUpdate()
	}
	e.publish(Event{Type: EventSlotChanged, Side: side.String()})
}

// do runs fn on the editor goroutine and waits for it.
func (e *Editor) do(name string, fn func() error) error {
	e.Start()
	cmd := command{name: name, run: fn, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.quit:
		return ErrClosed
	}
	return <-cmd.reply
}

// Load decodes path into side. A failed decode leaves the side empty and is
// returned so the caller can report it; it is not fatal.
func (e *Editor) Load(side pair.Side, path string) error {
	return e.do("load", func() error {
		if err := e.cfg.Slot(side).Load(path); err != nil {
			e.log.WithError(err).WithField("side", side).Warn("image load failed")
			return err
		}
		e.log.WithFields(logrus.Fields{"side": side, "path": path}).Info("loaded image")
		return nil
	})
}

// Rotate90 turns one side a quarter turn clockwise.
func (e *Editor) Rotate90(side pair.Side) error {
	return e.do("rotate", func() error {
		e.cfg.Slot(side).Rotate90()
		return nil
	})
}

// Reset puts one side back to the identity transform.
func (e *Editor) Reset(side pair.Side) error {
	return e.do("reset", func() error {
		id := affine.Identity()
		if side == pair.Right {
			e.cfg.SetTransforms(nil, &id)
		} else {
			e.cfg.SetTransforms(&id, nil)
		}
		return nil
	})
}

// SetMode changes the manipulation mode and returns the linked flag after
// the change.
func (e *Editor) SetMode(m pair.Mode) (linked bool, err error) {
	err = e.do("mode", func() error {
		linked = e.cfg.SetMode(m)
		e.publish(Event{Type: EventConfigChanged})
		return nil
	})
	return linked, err
}

func (e *Editor) SetLinked(linked bool) error {
	return e.do("linked", func() error {
		e.cfg.SetLinked(linked)
		e.publish(Event{Type: EventConfigChanged})
		return nil
	})
}

// SetTransforms replaces both transforms at once.
func (e *Editor) SetTransforms(left, right affine.Transform) error {
	return e.do("transforms", func() error {
		e.cfg.SetTransforms(&left, &right)
		return nil
	})
}

// Press starts a drag on side. rect is the view's image rectangle in the
// same coordinates as at.
func (e *Editor) Press(side pair.Side, rect affine.Rect, at affine.Point) error {
	return e.do("press", func() error {
		e.gestures.Press(side, rect, at)
		return nil
	})
}

// Move continues the current drag.
func (e *Editor) Move(at affine.Point) error {
	return e.do("move", func() error {
		_, err := e.gestures.Move(at)
		return err
	})
}

// Release ends the current drag.
func (e *Editor) Release() error {
	return e.do("release", func() error {
		e.gestures.Release()
		return nil
	})
}

// Dragging reports whether a drag is in progress.
func (e *Editor) Dragging() (bool, error) {
	var dragging bool
	err := e.do("state", func() error {
		dragging = e.gestures.State() == gesture.Dragging
		return nil
	})
	return dragging, err
}

// ErrNoHistory is returned by Restore when the pair was never exported.
var ErrNoHistory = errors.New("no earlier alignment for this pair")

// History remembers the transforms a pair of sources was last saved with.
type History interface {
	LastAlignment(left, right string) (l, r affine.Transform, ok bool)
}

// Restore applies the alignment last saved for the loaded sources.
func (e *Editor) Restore(h History) error {
	return e.do("restore", func() error {
		snap := e.cfg.Snapshot()
		if !snap.Left.Loaded() || !snap.Right.Loaded() {
			return ErrNoHistory
		}
		l, r, ok := h.LastAlignment(snap.Left.Source, snap.Right.Source)
		if !ok {
			return ErrNoHistory
		}
		e.cfg.SetTransforms(&l, &r)
		e.log.WithFields(logrus.Fields{"left": snap.Left.Source, "right": snap.Right.Source}).Info("restored alignment")
		return nil
	})
}
