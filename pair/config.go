// Package pair models the two sides of a stereo pair and the settings shared
// between them.
package pair

import (
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stevecastle/stereopair/affine"
)

// Side identifies one half of the pair.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	}
	return Left, fmt.Errorf("unknown side %q", s)
}

// Mode selects how a mouse drag turns into a transform.
type Mode int

const (
	ModeScale Mode = iota
	ModeMove
	ModeRotate
	ModeRotateScale
)

func (m Mode) String() string {
	switch m {
	case ModeScale:
		return "scale"
	case ModeMove:
		return "move"
	case ModeRotate:
		return "rotate"
	case ModeRotateScale:
		return "rotatescale"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "scale":
		return ModeScale, nil
	case "move":
		return ModeMove, nil
	case "rotate":
		return ModeRotate, nil
	case "rotatescale", "rotate-scale":
		return ModeRotateScale, nil
	}
	return ModeMove, fmt.Errorf("unknown mode %q", s)
}

// MarshalJSON serializes Mode as its lowercase name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON deserializes Mode from its name.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseMode(str)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Aspect is the width:height ratio of the whole side-by-side canvas.
type Aspect struct {
	W, H int
}

// DefaultAspect and DefaultSaveScale give a 1920x1080 output.
var DefaultAspect = Aspect{W: 16, H: 9}

const DefaultSaveScale = 120

// Size returns the canvas size for a scale factor.
func (a Aspect) Size(scale int) image.Point {
	return image.Pt(a.W*scale, a.H*scale)
}

// Options configure a Config at construction time.
type Options struct {
	Aspect    Aspect
	SaveScale int
	// ForceLinkedOnScale reproduces the old behaviour where choosing the
	// scale mode also links both sides.
	ForceLinkedOnScale bool
	PreviewEdge        uint
}

// Config owns both slots plus the linked flag and manipulation mode. It is
// the single source of truth the views render from.
type Config struct {
	Left  *Slot
	Right *Slot

	opts Options

	// mu orders multi-slot updates against Snapshot so readers never see
	// one side updated and the other not.
	mu     sync.RWMutex
	linked bool
	mode   Mode
}

// New returns a Config with two empty slots.
func New(opts Options) *Config {
	if opts.Aspect.W <= 0 || opts.Aspect.H <= 0 {
		opts.Aspect = DefaultAspect
	}
	if opts.SaveScale <= 0 {
		opts.SaveScale = DefaultSaveScale
	}
	if opts.PreviewEdge == 0 {
		opts.PreviewEdge = DefaultPreviewEdge
	}
	c := &Config{
		Left:  NewSlot(),
		Right: NewSlot(),
		opts:  opts,
		mode:  ModeMove,
	}
	c.Left.SetPreviewEdge(opts.PreviewEdge)
	c.Right.SetPreviewEdge(opts.PreviewEdge)
	return c
}

func (c *Config) Aspect() Aspect { return c.opts.Aspect }

// SaveSize is the output canvas size; each side gets half the width.
func (c *Config) SaveSize() image.Point {
	return c.opts.Aspect.Size(c.opts.SaveScale)
}

// Slot returns the slot for side.
func (c *Config) Slot(side Side) *Slot {
	if side == Right {
		return c.Right
	}
	return c.Left
}

func (c *Config) Linked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.linked
}

func (c *Config) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Config) SetLinked(linked bool) {
	c.mu.Lock()
	c.linked = linked
	c.mu.Unlock()
}

// SetMode changes the manipulation mode and returns the resulting linked flag.
func (c *Config) SetMode(m Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	if m == ModeScale && c.opts.ForceLinkedOnScale {
		c.linked = true
	}
	return c.linked
}

// SetTransforms replaces the transforms of the sides given as non-nil, as one
// step with respect to Snapshot.
func (c *Config) SetTransforms(left, right *affine.Transform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if left != nil {
		c.Left.SetTransform(*left)
	}
	if right != nil {
		c.Right.SetTransform(*right)
	}
}

// Snapshot is an immutable copy of the whole pair.
type Snapshot struct {
	Left     SlotSnapshot
	Right    SlotSnapshot
	Aspect   Aspect
	SaveSize image.Point
	Linked   bool
	Mode     Mode
}

// Side returns the snapshot of one side.
func (s Snapshot) Side(side Side) SlotSnapshot {
	if side == Right {
		return s.Right
	}
	return s.Left
}

// Snapshot captures both slots consistently.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Left:     c.Left.Snapshot(),
		Right:    c.Right.Snapshot(),
		Aspect:   c.opts.Aspect,
		SaveSize: c.SaveSize(),
		Linked:   c.linked,
		Mode:     c.mode,
	}
}

// ProposedOutputName returns "{leftStem}-{rightStem}.jpg" in the left image's
// directory. ok is false unless both sides are loaded.
func (s Snapshot) ProposedOutputName() (name string, ok bool) {
	if !s.Left.Loaded() || !s.Right.Loaded() {
		return "", false
	}
	return OutputName(s.Left.Source, s.Right.Source), true
}

// ProposedOutputName is a convenience wrapper over a fresh snapshot.
func (c *Config) ProposedOutputName() (string, bool) {
	return c.Snapshot().ProposedOutputName()
}

// OutputName joins the stems of two source paths next to the left one.
func OutputName(leftPath, rightPath string) string {
	return filepath.Join(filepath.Dir(leftPath), stem(leftPath)+"-"+stem(rightPath)+".jpg")
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
