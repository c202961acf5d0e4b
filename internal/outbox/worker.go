package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/storage"
)

// Remote performs the writes against the research API.
type Remote interface {
	Cancel(ctx context.Context, taskID, credential string) error
	ToggleShare(ctx context.Context, taskID string, isPublic bool, credential string) error
}

// Recorder receives delivery outcomes and the backlog size.
type Recorder interface {
	DeliveryFinished(kind string, err error)
	OutboxPending(n int)
}

// Worker delivers queued writes. Failures are retried with backoff by the
// store and are only ever logged.
type Worker struct {
	store      Store
	remote     Remote
	credential func() string
	wake       <-chan struct{}
	poll       time.Duration
	recorder   Recorder
	logger     *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithCredential sets the accessor read at delivery time.
func WithCredential(fn func() string) Option {
	return func(w *Worker) { w.credential = fn }
}

// WithWakeup lets a Queue trigger immediate delivery.
func WithWakeup(ch <-chan struct{}) Option {
	return func(w *Worker) { w.wake = ch }
}

// WithPollInterval sets how often Run looks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a Worker. The poll interval defaults to 1s.
func NewWorker(store Store, remote Remote, opts ...Option) *Worker {
	w := &Worker{
		store:      store,
		remote:     remote,
		credential: func() string { return "" },
		poll:       time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run delivers until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.reportPending()
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("outbox iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(w.poll):
		}
	}
}

// Drain delivers every due item once and returns. Items that fail are left
// for a later Run.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}
}

// RunOnce claims and delivers a single item. It returns true if an item was
// processed, successfully or not.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	d, err := w.store.ClaimNextDelivery(Kinds)
	if err != nil {
		return false, fmt.Errorf("claiming delivery: %w", err)
	}
	if d == nil {
		return false, nil
	}

	err = w.deliver(ctx, d)
	if w.recorder != nil {
		w.recorder.DeliveryFinished(d.Kind, err)
	}
	defer w.reportPending()
	if err != nil {
		w.logger.Warn("delivery failed", "id", d.ID, "kind", d.Kind, "task_id", d.TaskID, "attempt", d.Attempts+1, "error", err)
		w.fail(d, err)
		return true, nil
	}

	if err := w.store.CompleteDelivery(d.ID); err != nil {
		return true, fmt.Errorf("completing delivery %s: %w", d.ID, err)
	}
	w.logger.Info("delivered", "kind", d.Kind, "task_id", d.TaskID)
	return true, nil
}

// fail reschedules d with backoff, or gives up at once when the remote
// rejected it for good. Expired credentials are retried since the user may
// sign in again.
func (w *Worker) fail(d *storage.Delivery, cause error) {
	var err error
	if deepresearch.IsTransient(cause) || deepresearch.IsAuthExpired(cause) {
		err = w.store.FailDelivery(d.ID, cause.Error())
	} else {
		err = w.store.AbandonDelivery(d.ID, cause.Error())
	}
	if err != nil {
		w.logger.Error("failed to record delivery failure", "id", d.ID, "error", err)
		return
	}

	after, err := w.store.GetDelivery(d.ID)
	if err != nil {
		return
	}
	if after.Status == storage.DeliveryFailed {
		w.logger.Warn("delivery abandoned", "id", d.ID, "kind", d.Kind, "task_id", d.TaskID, "attempts", after.Attempts, "error", after.LastError)
		return
	}
	w.logger.Info("delivery rescheduled", "id", d.ID, "kind", d.Kind, "run_after", after.RunAfter)
}

func (w *Worker) reportPending() {
	if w.recorder == nil {
		return
	}
	n, err := w.store.PendingDeliveries()
	if err != nil {
		w.logger.Debug("counting pending deliveries failed", "error", err)
		return
	}
	w.recorder.OutboxPending(n)
}

func (w *Worker) deliver(ctx context.Context, d *storage.Delivery) error {
	cred := w.credential()
	switch d.Kind {
	case KindCancel:
		return w.remote.Cancel(ctx, d.TaskID, cred)
	case KindShare:
		var p sharePayload
		if err := json.Unmarshal([]byte(d.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		return w.remote.ToggleShare(ctx, d.TaskID, p.IsPublic, cred)
	default:
		return fmt.Errorf("unknown delivery kind %q", d.Kind)
	}
}
