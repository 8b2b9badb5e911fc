// Package scheduler bounds how many files of each media kind are processed
// concurrently on the client.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stockmeta/internal/logging"
)

// Default admission limits per media kind.
const (
	DefaultMaxPhotos = 5
	DefaultMaxVideos = 2
)

// Outcome is the terminal result of one scheduled file.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomeSkipped marks a file that never started because the scheduler
	// was stopped. Skipped files still count toward completion.
	OutcomeSkipped Outcome = "skipped"
)

// File is one unit of work.
type File struct {
	Path  string
	Video bool
}

// Result reports one file's completion.
type Result struct {
	File    File
	Outcome Outcome
	Err     error
}

// ProcessFunc performs the actual work for one file. The scheduler treats it
// as opaque: any non-nil error (or panic) is a failed outcome.
type ProcessFunc func(ctx context.Context, path string) error

// ProgressFunc receives each file's result plus the running completion count.
// Calls are serialized; completed is monotonically non-decreasing and reaches
// total exactly once every file has reported.
type ProgressFunc func(result Result, completed, total int)

// Scheduler admits files through two independent slot pools, one per media
// kind. A full photo pool never blocks video work.
type Scheduler struct {
	photoSlots chan struct{}
	videoSlots chan struct{}
	stopped    atomic.Bool
}

// New creates a scheduler with the given per-kind limits
func New(maxPhotos, maxVideos int) *Scheduler {
	if maxPhotos <= 0 {
		maxPhotos = DefaultMaxPhotos
	}
	if maxVideos <= 0 {
		maxVideos = DefaultMaxVideos
	}
	return &Scheduler{
		photoSlots: make(chan struct{}, maxPhotos),
		videoSlots: make(chan struct{}, maxVideos),
	}
}

// Stop makes not-yet-started files complete as skipped. In-flight files
// finish normally. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// Run schedules every file exactly once and blocks until all have reported,
// including skipped ones. onProgress may be nil.
func (s *Scheduler) Run(ctx context.Context, files []File, process ProcessFunc, onProgress ProgressFunc) []Result {
	total := len(files)
	results := make([]Result, total)

	var mu sync.Mutex
	completed := 0
	report := func(i int, result Result) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = result
		completed++
		if onProgress != nil {
			onProgress(result, completed, total)
		}
	}

	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file File) {
			defer wg.Done()
			report(i, s.runOne(ctx, file, process))
		}(i, file)
	}
	wg.Wait()

	return results
}

func (s *Scheduler) runOne(ctx context.Context, file File, process ProcessFunc) Result {
	slots := s.photoSlots
	if file.Video {
		slots = s.videoSlots
	}

	// Cooperative stop: files that have not taken a slot yet are skipped
	if s.stopped.Load() || ctx.Err() != nil {
		return Result{File: file, Outcome: OutcomeSkipped}
	}

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return Result{File: file, Outcome: OutcomeSkipped}
	}
	defer func() { <-slots }()

	// Re-check after the wait: a stop while queued skips the file
	if s.stopped.Load() {
		return Result{File: file, Outcome: OutcomeSkipped}
	}

	err := s.safeProcess(ctx, file.Path, process)
	if err != nil {
		return Result{File: file, Outcome: OutcomeFailed, Err: err}
	}
	return Result{File: file, Outcome: OutcomeSuccess}
}

// safeProcess converts a panic in the worker into a failed outcome, so the
// admission slot is always released.
func (s *Scheduler) safeProcess(ctx context.Context, path string, process ProcessFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"file":  path,
				"panic": fmt.Sprint(r),
			}).Error("File worker panicked")
		}
	}()
	return process(ctx, path)
}
