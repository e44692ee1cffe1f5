package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/telemetry"
)

// Writer is the single owner of SaveAll. Callers Request a save after mutating
// state; requests that arrive while a save is running coalesce into the next one.
// Flush requests a save and waits for it, for callers that must report durability.
type Writer struct {
	gw      Gateway
	src     Source
	timeout time.Duration

	kick chan struct{}

	mu        sync.Mutex
	requested uint64
	completed uint64
	lastErr   error
	waiters   []waiter
}

type waiter struct {
	gen uint64
	ch  chan error
}

// NewWriter returns a writer that snapshots src into gw. Run must be started for
// requests to be served.
func NewWriter(gw Gateway, src Source) *Writer {
	return &Writer{
		gw:      gw,
		src:     src,
		timeout: 15 * time.Second,
		kick:    make(chan struct{}, 1),
	}
}

// Request schedules a save without waiting and returns its generation.
func (w *Writer) Request() uint64 {
	w.mu.Lock()
	w.requested++
	gen := w.requested
	depth := w.requested - w.completed
	w.mu.Unlock()
	telemetry.SetSaveQueueDepth(int(depth))
	w.signal()
	return gen
}

// Flush schedules a save and blocks until it finished or ctx is done. The error is
// the save's outcome, classified as apperr.KindPersistence.
func (w *Writer) Flush(ctx context.Context) error {
	ch := make(chan error, 1)
	w.mu.Lock()
	w.requested++
	w.waiters = append(w.waiters, waiter{gen: w.requested, ch: ch})
	w.mu.Unlock()
	w.signal()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastErr returns the outcome of the most recent save.
func (w *Writer) LastErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Writer) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Writer) pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requested > w.completed
}

// Run serves save requests until ctx is done, then performs one final save if
// anything is still pending.
func (w *Writer) Run(ctx context.Context) error {
	slog.Info("state writer started", slog.String("component", "persist"))
	for {
		select {
		case <-ctx.Done():
			if w.pending() {
				// Parent is gone; give the final snapshot its own deadline.
				w.saveOnce(context.WithoutCancel(ctx))
			}
			slog.Info("state writer stopped", slog.String("component", "persist"))
			return nil
		case <-w.kick:
			for w.pending() && ctx.Err() == nil {
				w.saveOnce(ctx)
			}
		}
	}
}

func (w *Writer) saveOnce(ctx context.Context) {
	w.mu.Lock()
	target := w.requested
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "persist", "save-state")

	start := time.Now()
	err := w.save(ctx)
	telemetry.ObserveSave(err, time.Since(start))
	telemetry.Finish(span, err)
	if err != nil {
		err = apperr.Wrap(apperr.KindPersistence, "persist.save", err)
		// In-memory state stays authoritative; the next mutation retries.
		slog.Error("state save failed", slog.Any("err", err), slog.String("component", "persist"))
	}

	w.mu.Lock()
	w.completed = target
	w.lastErr = err
	keep := w.waiters[:0]
	for _, wt := range w.waiters {
		if wt.gen <= target {
			wt.ch <- err
			continue
		}
		keep = append(keep, wt)
	}
	w.waiters = keep
	depth := w.requested - w.completed
	w.mu.Unlock()
	telemetry.SetSaveQueueDepth(int(depth))
}

func (w *Writer) save(ctx context.Context) error {
	agg, err := w.src.Snapshot(ctx)
	if err != nil {
		return err
	}
	return w.gw.SaveAll(ctx, agg)
}

// Load restores src from gw.
func Load(ctx context.Context, gw Gateway, src Source) error {
	agg, err := gw.LoadAll(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, "persist.load", err)
	}
	return src.Restore(agg)
}
