package compaction

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lsmkv/internal/version"
)

// Worker runs a long-lived background loop: pick a task, run it, sleep,
// repeat, until Stop is called. It also exposes MaybeCompact so a
// foreground caller (the engine, right after a flush) can drain pending
// compactions synchronously without waiting for the next loop tick.
type Worker struct {
	versions *version.Set
	picker   *Picker
	runner   *Runner
	log      *slog.Logger

	// runMu serializes MaybeCompact between the background loop and
	// foreground drains, so one task is never run twice.
	runMu    sync.Mutex
	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// NewWorker returns a Worker. A nil logger falls back to slog.Default.
func NewWorker(versions *version.Set, picker *Picker, runner *Runner, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{versions: versions, picker: picker, runner: runner, log: log}
}

// Start launches the background loop on its own goroutine.
func (w *Worker) Start(pollInterval time.Duration) {
	w.wg.Add(1)
	go w.loop(pollInterval)
}

func (w *Worker) loop(pollInterval time.Duration) {
	defer w.wg.Done()
	for !w.shutdown.Load() {
		if _, err := w.MaybeCompact(); err != nil {
			w.log.Error("background compaction failed", "err", err)
		}
		time.Sleep(pollInterval)
	}
}

// MaybeCompact picks and runs at most one compaction task, reporting
// whether any work was found. An error from reading the inputs or writing
// the output table leaves the input version intact, so the picker sees the
// same candidate again on the next call; a manifest append error is
// returned after the new version has already been installed.
func (w *Worker) MaybeCompact() (bool, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	task := w.picker.Pick(w.versions.Current())
	if task == nil {
		return false, nil
	}
	if err := w.runner.Run(task); err != nil {
		return false, err
	}
	return true, nil
}

// Stop signals the background loop to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.shutdown.Store(true)
	w.wg.Wait()
}
