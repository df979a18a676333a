package depth

import (
	"image"
	"sync"
)

// Store holds the most recent depth image. Readers and the worker share it;
// every access takes the lock only long enough to swap or copy.
//
// An image handed to Replace is owned by the store and never written again,
// so the pointer returned by Current stays a complete, consistent image even
// after a later Replace.
type Store struct {
	mu         sync.Mutex
	img        *image.Gray
	generation uint64
}

func NewStore() *Store {
	return &Store{}
}

// Replace installs img as the current depth image and returns the new
// generation number.
func (s *Store) Replace(img *image.Gray) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.generation++
	return s.generation
}

// Current returns the current image, nil before the first Replace, and its
// generation. The caller must not modify the image.
func (s *Store) Current() (*image.Gray, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, s.generation
}

// Generation returns how many images have been published.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Clone returns a private copy of the current image the caller may modify.
func (s *Store) Clone() (*image.Gray, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil {
		return nil, s.generation
	}
	cp := &image.Gray{
		Pix:    make([]uint8, len(s.img.Pix)),
		Stride: s.img.Stride,
		Rect:   s.img.Rect,
	}
	copy(cp.Pix, s.img.Pix)
	return cp, s.generation
}
