// Package runners drains the export queue in the background.
package runners

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stevecastle/stereopair/compositor"
	"github.com/stevecastle/stereopair/exports"
)

// ExportFunc writes one job's output.
type ExportFunc func(ctx context.Context, job *exports.Job) error

// Runners manages a pool of concurrent export runners.
type Runners struct {
	queue   *exports.Queue
	export  ExportFunc
	max     int
	mu      sync.Mutex
	running int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
	log     *logrus.Entry
}

// New creates a new Runners instance. max bounds concurrent exports; zero
// means one at a time.
func New(queue *exports.Queue, export ExportFunc, max int) *Runners {
	if max <= 0 {
		max = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runners{
		queue:  queue,
		export: export,
		max:    max,
		ctx:    ctx,
		cancel: cancel,
		log:    logrus.WithField("component", "runners"),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.queue.Signal:
				r.CheckForJobs()
			}
		}
	}()

	return r
}

// Shutdown stops accepting new jobs and waits for running exports.
func (r *Runners) Shutdown() {
	r.cancel()
	r.wg.Wait()
	r.jobs.Wait()
}

// Running returns the number of exports in progress.
func (r *Runners) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// CheckForJobs claims and starts jobs while below capacity.
func (r *Runners) CheckForJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryFetchJobAndRun()
}

func (r *Runners) runJob(j *exports.Job) {
	r.running++
	r.jobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer func() {
			r.mu.Lock()
			r.running--
			r.tryFetchJobAndRun()
			r.mu.Unlock()
		}()

		start := time.Now()
		entry := r.log.WithFields(logrus.Fields{"job": j.ID, "output": j.Output})
		if err := r.safeExport(j); err != nil {
			entry.WithError(err).Warn("export failed")
			if qerr := r.queue.ErrorJob(j.ID, err); qerr != nil {
				entry.WithError(qerr).Error("failed to record export failure")
			}
			return
		}
		entry.WithField("elapsed", time.Since(start)).Info("export written")
		if err := r.queue.CompleteJob(j.ID); err != nil {
			entry.WithError(err).Error("failed to record export")
		}
	}()
}

func (r *Runners) safeExport(j *exports.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("export panicked: %v", p)
		}
	}()
	return r.export(r.ctx, j)
}

func (r *Runners) tryFetchJobAndRun() {
	for r.running < r.max {
		if r.ctx.Err() != nil {
			return
		}
		job, err := r.queue.ClaimJob()
		if err != nil || job == nil {
			return
		}
		r.runJob(job)
	}
}

// ErrNoSnapshot is returned for jobs whose pixels are not in memory.
var ErrNoSnapshot = errors.New("export has no pixels")

// CompositeExport renders the job's snapshot at its save size with the
// final quality and writes it as a JPEG.
func CompositeExport(quality int) ExportFunc {
	return func(ctx context.Context, job *exports.Job) error {
		if job.Snapshot == nil {
			return ErrNoSnapshot
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		img := compositor.Composite(*job.Snapshot, job.Snapshot.SaveSize, compositor.Final)
		return compositor.SaveJPEG(job.Output, img, quality)
	}
}
