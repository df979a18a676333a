// Package depth keeps a disparity preview of the current pair up to date.
//
// A Worker runs the expensive match on its own goroutine. Requests that
// arrive while a pass is running collapse into a single follow-up pass, and
// each pass works on a snapshot taken when it starts, so the published image
// always belongs to one consistent state of both sides.
package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/compositor"
	"github.com/stevecastle/stereopair/pair"
)

// ErrTeardown is returned by Shutdown when the worker goroutine does not exit
// before the context ends. Callers must treat it as a bug, not retry it.
var ErrTeardown = errors.New("depth worker did not stop")

// State of the worker loop.
type State int

const (
	StateIdle State = iota // not started yet
	StateComputing
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputing:
		return "computing"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source supplies the pair state a pass works on.
type Source interface {
	Snapshot() pair.Snapshot
}

// Result describes one published depth image.
type Result struct {
	Generation uint64        `json:"generation"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Elapsed    time.Duration `json:"elapsed"`
	Stats      Stats         `json:"stats"`
}

// Options configure a Worker.
type Options struct {
	// Size is the working resolution of the whole composite; each side is
	// matched at half its width.
	Size    image.Point
	Params  Params
	Divisor int
	Matcher Matcher
	// OnReady is called on the worker goroutine after each publish, unless
	// Shutdown has been requested by then.
	OnReady func(Result)
	Log     *logrus.Entry
}

// DefaultSize is the 16:9 working resolution used when none is configured.
var DefaultSize = image.Pt(320, 180)

// Counters report what the worker has done so far.
type Counters struct {
	Passes   uint64 `json:"passes"`
	Failures uint64 `json:"failures"`
	Requests uint64 `json:"requests"`
}

// Worker recomputes the depth image asynchronously.
type Worker struct {
	src   Source
	store *Store
	opts  Options
	log   *logrus.Entry

	mu               sync.Mutex
	cond             *sync.Cond
	state            State
	started          bool
	restartRequested bool
	stopRequested    bool
	counters         Counters

	done chan struct{}
}

// NewWorker returns a worker that reads from src and publishes into store.
// The goroutine starts on the first RequestUpdate.
func NewWorker(src Source, store *Store, opts Options) *Worker {
	opts = opts.withDefaults()
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "depth")
	}
	w := &Worker{
		src:   src,
		store: store,
		opts:  opts,
		log:   log,
		done:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (o Options) withDefaults() Options {
	if o.Size.X < 2 || o.Size.Y < 1 {
		o.Size = DefaultSize
	}
	if o.Params.NumDisparities == 0 && o.Params.BlockSize == 0 {
		workers := o.Params.Workers
		o.Params = DefaultParams()
		o.Params.Workers = workers
	}
	if o.Divisor <= 0 {
		o.Divisor = DefaultDivisor
	}
	if o.Matcher == nil {
		o.Matcher = BlockMatcher{}
	}
	return o
}

// Store returns the store the worker publishes into.
func (w *Worker) Store() *Store { return w.store }

// State returns the current loop state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Counters returns a copy of the worker's counters.
func (w *Worker) Counters() Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// RequestUpdate asks for a fresh depth image without blocking. The first call
// starts the worker. Later calls made while a pass runs mark exactly one
// follow-up pass, however many there are. Calls after Shutdown are ignored.
func (w *Worker) RequestUpdate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopRequested {
		return
	}
	w.counters.Requests++
	if !w.started {
		w.started = true
		w.state = StateComputing
		go w.loop()
		return
	}
	w.restartRequested = true
	w.cond.Signal()
}

// Shutdown stops the worker and waits for its goroutine to return. No store
// writes happen once Shutdown has been called. It returns an error wrapping
// ErrTeardown if ctx ends first.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.stopRequested = true
	started := w.started
	if !started {
		w.state = StateStopped
	}
	w.cond.Broadcast()
	w.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTeardown, ctx.Err())
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) loop() {
	defer close(w.done)
	for {
		w.pass()

		w.mu.Lock()
		w.state = StateWaiting
		for !w.restartRequested && !w.stopRequested {
			w.cond.Wait()
		}
		if w.stopRequested {
			w.state = StateStopped
			w.cond.Broadcast()
			w.mu.Unlock()
			w.log.Debug("depth worker stopped")
			return
		}
		w.restartRequested = false
		w.state = StateComputing
		w.mu.Unlock()
	}
}

// pass runs one rasterise, match, publish cycle. A failure leaves the store
// untouched.
func (w *Worker) pass() {
	start := time.Now()
	img, err := w.compute(w.src.Snapshot())

	w.mu.Lock()
	w.counters.Passes++
	if err != nil {
		w.counters.Failures++
		w.mu.Unlock()
		w.log.WithError(err).Warn("depth pass failed, keeping previous image")
		return
	}
	if w.stopRequested {
		w.mu.Unlock()
		return
	}
	gen := w.store.Replace(img)
	w.mu.Unlock()

	res := Result{
		Generation: gen,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		Elapsed:    time.Since(start),
		Stats:      ComputeStats(img),
	}
	w.log.WithFields(logrus.Fields{
		"generation": gen,
		"elapsed":    res.Elapsed,
	}).Debug("depth image published")

	w.mu.Lock()
	stopped := w.stopRequested
	w.mu.Unlock()
	if stopped || w.opts.OnReady == nil {
		return
	}
	w.opts.OnReady(res)
}

func (w *Worker) compute(snap pair.Snapshot) (*image.Gray, error) {
	return Compute(snap, w.opts)
}

// Compute runs one pass synchronously: both sides are rasterised to gray at
// half of opts.Size each, matched and normalised. A matcher panic is
// returned as an error. Zero fields of opts take the worker defaults.
func Compute(snap pair.Snapshot, opts Options) (img *image.Gray, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	opts = opts.withDefaults()

	half := opts.Size.X / 2
	h := opts.Size.Y
	left := compositor.RenderGray(snap.Left, half, h, compositor.Preview)
	right := compositor.RenderGray(snap.Right, half, h, compositor.Preview)

	disp, err := opts.Matcher.Match(left, right, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("stereo match: %w", err)
	}
	return Normalize(disp, half, h, opts.Divisor)
}
