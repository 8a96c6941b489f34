package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mzyy94/ledmscan/internal/imaging"
)

// Outcome is delivered once a scan job finishes.
type Outcome struct {
	Result *Result
	Err    error
}

// Worker runs scan jobs off the caller's goroutine, one at a time. The
// optional optimize pass starts after the outcome has been delivered and
// does not count as a running scan.
type Worker struct {
	sc        *Scanner
	optimizer *imaging.Optimizer
	status    *ScanJobStatus

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc // running scan
	cancelOptimize context.CancelFunc // running optimize pass
	wg             sync.WaitGroup
}

// NewWorker creates a Worker. A nil optimizer disables the optimize pass.
func NewWorker(sc *Scanner, optimizer *imaging.Optimizer) *Worker {
	return &Worker{sc: sc, optimizer: optimizer, status: &ScanJobStatus{}}
}

// Status returns a snapshot of the current or last scan.
func (w *Worker) Status() ScanJobStatus { return w.status.Snapshot() }

// Busy reports whether a scan is outstanding.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches a scan job. It returns ErrBusy while a previous job started
// through this Worker is still outstanding. The returned channel receives
// exactly one Outcome.
func (w *Worker) Start(ctx context.Context, opts JobOptions) (<-chan Outcome, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.mu.Unlock()

	w.status.SetScanning(true)
	progress := opts.Progress
	opts.Progress = func(step Step) {
		w.status.SetStep(step)
		if progress != nil {
			progress(step)
		}
	}

	done := make(chan Outcome, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		res, err := RunScanJob(ctx, w.sc, opts)
		if err != nil {
			slog.Error("scan failed", "err", err)
		}
		w.status.SetResult(err, res)

		optimize := err == nil && opts.Optimize && w.optimizer != nil
		w.mu.Lock()
		w.running = false
		w.cancel = nil
		if optimize {
			w.cancelOptimize = cancel
		}
		w.mu.Unlock()

		done <- Outcome{Result: res, Err: err}
		close(done)

		if optimize {
			w.optimize(ctx, cancel, res.FinalPath())
			return
		}
		cancel()
	}()
	return done, nil
}

func (w *Worker) optimize(ctx context.Context, cancel context.CancelFunc, path string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.cancelOptimize = nil
			w.mu.Unlock()
			cancel()
		}()
		w.status.SetOptimizing(true)
		defer w.status.SetOptimizing(false)
		if err := w.optimizer.Optimize(ctx, path); err != nil {
			switch {
			case errors.Is(err, imaging.ErrOptimizerMissing):
				slog.Warn("skipping optimize pass", "err", err)
			case ctx.Err() != nil:
				slog.Info("optimize pass cancelled", "path", path)
			default:
				slog.Warn("optimize pass failed", "path", path, "err", err)
			}
		}
	}()
}

// Cancel aborts the running scan and any optimize pass still in progress.
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.cancelOptimize != nil {
		w.cancelOptimize()
	}
}

// Wait blocks until all scans and optimize passes have finished.
func (w *Worker) Wait() { w.wg.Wait() }
