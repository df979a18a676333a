package pair

import (
	"image"
	"sync"

	"github.com/disintegration/gift"
	"github.com/nfnt/resize"

	"github.com/stevecastle/stereopair/affine"
)

// DefaultPreviewEdge is the longest edge of the preview proxy kept next to the
// full resolution pixels.
const DefaultPreviewEdge = 1024

// Slot holds one side of the stereo pair: the decoded image, where it came
// from and the transform that places it in its half of the canvas.
//
// Slot is mutated only by the editor goroutine. Other goroutines read it via
// Snapshot.
type Slot struct {
	mu          sync.RWMutex
	source      string
	pixels      image.Image
	preview     image.Image
	transform   affine.Transform
	previewEdge uint

	changed notifier
}

// SlotSnapshot is an immutable copy of a slot's state. The images it points
// to are never modified after they are installed in a slot.
type SlotSnapshot struct {
	Source    string
	Pixels    image.Image
	Preview   image.Image
	Transform affine.Transform
}

// Loaded reports whether the snapshot has pixels to draw.
func (s SlotSnapshot) Loaded() bool {
	return s.Pixels != nil
}

// NewSlot returns an empty slot with an identity transform.
func NewSlot() *Slot {
	return &Slot{
		transform:   affine.Identity(),
		previewEdge: DefaultPreviewEdge,
	}
}

// SetPreviewEdge changes the preview proxy size for images installed later.
func (s *Slot) SetPreviewEdge(edge uint) {
	s.mu.Lock()
	s.previewEdge = edge
	s.mu.Unlock()
}

// Snapshot captures the current state.
func (s *Slot) Snapshot() SlotSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SlotSnapshot{
		Source:    s.source,
		Pixels:    s.pixels,
		Preview:   s.preview,
		Transform: s.transform,
	}
}

func (s *Slot) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *Slot) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pixels != nil
}

func (s *Slot) Transform() affine.Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transform
}

// SetTransform replaces the transform and notifies subscribers.
func (s *Slot) SetTransform(t affine.Transform) {
	s.mu.Lock()
	s.transform = t
	s.mu.Unlock()
	s.changed.publish()
}

// Load decodes path into the slot. On success the transform is reset to
// identity. On failure the slot is left empty, the source is still recorded
// and the decode error is returned for the caller to log.
func (s *Slot) Load(path string) error {
	img, err := LoadImage(path)
	if err != nil {
		s.install(path, nil, affine.Identity())
		return err
	}
	s.install(path, img, affine.Identity())
	return nil
}

// SetImage installs an already decoded image. A nil image empties the slot.
func (s *Slot) SetImage(source string, img image.Image) {
	s.install(source, img, affine.Identity())
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.install("", nil, affine.Identity())
}

// Rotate90 turns the image a quarter turn clockwise, keeping the transform.
func (s *Slot) Rotate90() {
	s.mu.RLock()
	src, img, t := s.source, s.pixels, s.transform
	s.mu.RUnlock()
	if img == nil {
		return
	}
	s.install(src, applyFilter(img, gift.Rotate270()), t)
}

// Subscribe returns a channel that receives a value after the slot changes.
// Call the returned func to unsubscribe.
func (s *Slot) Subscribe() (<-chan struct{}, func()) {
	return s.changed.subscribe()
}

func (s *Slot) install(source string, img image.Image, t affine.Transform) {
	var preview image.Image
	s.mu.RLock()
	edge := s.previewEdge
	s.mu.RUnlock()
	if img != nil {
		preview = makePreview(img, edge)
	}

	s.mu.Lock()
	s.source = source
	s.pixels = img
	s.preview = preview
	s.transform = t
	s.mu.Unlock()
	s.changed.publish()
}

// makePreview downsizes img so its longest edge is at most edge pixels. Images
// already small enough are used as is.
func makePreview(img image.Image, edge uint) image.Image {
	b := img.Bounds()
	if edge == 0 || (b.Dx() <= int(edge) && b.Dy() <= int(edge)) {
		return img
	}
	return resize.Thumbnail(edge, edge, img, resize.Bilinear)
}
