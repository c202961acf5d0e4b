package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/deepdesk/internal/deepresearch"
)

const (
	// DefaultInterval applies when no mode is known.
	DefaultInterval = 10 * time.Second
	// ResumeInterval is used for tasks opened from a link, history or the
	// example catalog, whose original mode is not retained.
	ResumeInterval = 10 * time.Second
)

// IntervalFor returns the polling cadence for a research mode. Higher-effort
// modes poll less often.
func IntervalFor(mode deepresearch.Mode) time.Duration {
	switch mode {
	case deepresearch.ModeFast:
		return 5 * time.Second
	case deepresearch.ModeStandard:
		return 10 * time.Second
	case deepresearch.ModeHeavy:
		return 15 * time.Second
	case deepresearch.ModeMax:
		return 30 * time.Second
	default:
		return DefaultInterval
	}
}

// State of the scheduler.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateStopped State = "stopped"
)

// Tick performs one poll. It returns true once the task is terminal, which
// ends the loop. ctx is cancelled when the loop is stopped.
type Tick func(ctx context.Context) (done bool)

// AfterFunc waits for d. time.After is the default.
type AfterFunc func(d time.Duration) <-chan time.Time

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfter replaces the wait primitive, letting tests drive ticks.
func WithAfter(after AfterFunc) Option {
	return func(s *Scheduler) { s.after = after }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler owns the single recurring poll loop of a session. Starting a
// loop always stops the previous one first.
type Scheduler struct {
	after  AfterFunc
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	taskID string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		after:  time.After,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start stops any running loop, ticks once immediately, then repeats tick
// every interval measured from the end of the previous tick.
func (s *Scheduler) Start(taskID string, interval time.Duration, tick Tick) {
	s.start(taskID, interval, tick, true)
}

// StartDeferred is Start without the immediate tick, for callers that have
// just fetched the status themselves.
func (s *Scheduler) StartDeferred(taskID string, interval time.Duration, tick Tick) {
	s.start(taskID, interval, tick, false)
}

func (s *Scheduler) start(taskID string, interval time.Duration, tick Tick, immediate bool) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	s.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.gen++
	gen := s.gen
	s.state = StatePolling
	s.taskID = taskID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Debug("polling started", "task_id", taskID, "interval", interval)
	go s.loop(ctx, gen, interval, tick, immediate, done)
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, interval time.Duration, tick Tick, immediate bool, done chan struct{}) {
	defer close(done)

	if immediate && tick(ctx) {
		s.finish(gen)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.after(interval):
		}
		if ctx.Err() != nil {
			return
		}
		if tick(ctx) {
			s.finish(gen)
			return
		}
	}
}

// finish marks the loop of generation gen as stopped after a terminal tick.
func (s *Scheduler) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.logger.Debug("polling finished", "task_id", s.taskID)
	s.stopLocked()
}

// Stop cancels the running loop. It is idempotent and does not wait for an
// in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == StatePolling {
		s.state = StateStopped
	}
}

// Wait blocks until the most recently started loop has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
