package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/poller"
	"github.com/kalambet/deepdesk/internal/storage"
)

// ErrNoActiveTask is returned by operations that need a session-active task.
var ErrNoActiveTask = errors.New("no active research task")

// StatusClient is the subset of the research API the controller drives.
type StatusClient interface {
	FetchStatus(ctx context.Context, taskID, credential string) (deepresearch.Snapshot, error)
	FetchPublicStatus(ctx context.Context, taskID string) (deepresearch.Snapshot, error)
	SendFollowUp(ctx context.Context, taskID, instruction, credential string) (string, error)
	CreateTask(ctx context.Context, req deepresearch.CreateRequest, credential string) (string, error)
}

// HistoryStore records launched tasks and their observed status.
type HistoryStore interface {
	SaveHistory(item storage.HistoryItem) error
	UpdateHistoryStatus(id, status string) error
}

// Scheduler owns the recurring poll loop.
type Scheduler interface {
	Start(taskID string, interval time.Duration, tick poller.Tick)
	StartDeferred(taskID string, interval time.Duration, tick poller.Tick)
	Stop()
}

// Canceller delivers remote cancellation. The controller does not wait for
// the remote outcome.
type Canceller interface {
	RequestCancel(ctx context.Context, taskID string) error
}

// Notifier is told once when a task enters completed.
type Notifier interface {
	TaskCompleted(v View)
}

// Recorder receives controller metrics.
type Recorder interface {
	PollCompleted(source string, err error)
	PhaseEntered(phase string)
	NotificationSent()
}

// Options wires a Controller. Client, History and Scheduler are required.
type Options struct {
	Client     StatusClient
	History    HistoryStore
	Scheduler  Scheduler
	Canceller  Canceller
	Notifier   Notifier
	Recorder   Recorder
	Credential func() string
	Logger     *slog.Logger

	// AuthFailureLimit suspends polling after that many consecutive
	// authentication failures. Zero keeps retrying.
	AuthFailureLimit int
}

const (
	sourceAuthenticated = "authenticated"
	sourcePublic        = "public"
)

type task struct {
	id           string
	epoch        uint64
	title        string
	researchType string
	mode         deepresearch.Mode
	phase        Phase
	public       bool
	polling      bool
	interval     time.Duration
	snap         deepresearch.Snapshot
	authFailures int
	needsAuth    bool
	lastErr      string
	updatedAt    time.Time
}

// Controller owns the session-active research task. Every asynchronous
// result is applied only if its (task id, epoch) still matches the active
// task.
type Controller struct {
	client     StatusClient
	history    HistoryStore
	sched      Scheduler
	canceller  Canceller
	notifier   Notifier
	recorder   Recorder
	credential func() string
	logger     *slog.Logger
	authLimit  int

	mu        sync.Mutex
	epoch     uint64
	cur       *task
	subs      map[int]chan View
	nextSubID int
	closed    bool
}

// New creates a Controller with no active task.
func New(opts Options) *Controller {
	c := &Controller{
		client:     opts.Client,
		history:    opts.History,
		sched:      opts.Scheduler,
		canceller:  opts.Canceller,
		notifier:   opts.Notifier,
		recorder:   opts.Recorder,
		credential: opts.Credential,
		logger:     opts.Logger,
		authLimit:  opts.AuthFailureLimit,
		subs:       make(map[int]chan View),
	}
	if c.credential == nil {
		c.credential = func() string { return "" }
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Launch creates the remote task and starts tracking it. Creation errors are
// returned and leave the session untouched.
func (c *Controller) Launch(ctx context.Context, req deepresearch.CreateRequest) (string, error) {
	id, err := c.client.CreateTask(ctx, req, c.credential())
	if err != nil {
		return "", fmt.Errorf("starting research: %w", err)
	}
	if err := c.Create(id, strings.TrimSpace(req.Subject), string(req.ResearchType), req.Mode); err != nil {
		return "", err
	}
	return id, nil
}

// Create makes taskID the active task in phase queued, records it in
// history and polls it through the authenticated path at the mode's cadence.
func (c *Controller) Create(taskID, title, researchType string, mode deepresearch.Mode) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	interval := poller.IntervalFor(mode)

	// Record first so status updates from the immediate tick find the row.
	if err := c.history.SaveHistory(storage.HistoryItem{
		ID:           taskID,
		Title:        title,
		ResearchType: researchType,
		Status:       string(deepresearch.StatusQueued),
	}); err != nil {
		c.logger.Warn("saving history failed", "task_id", taskID, "error", err)
	}

	c.mu.Lock()
	t := c.activateLocked(taskID, PhaseQueued)
	t.title = title
	t.researchType = researchType
	t.mode = mode
	t.startPolling(interval)
	c.sched.Start(taskID, interval, c.tick(taskID, t.epoch, false))
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("research task created", "task_id", taskID, "type", researchType, "mode", mode, "interval", interval)
	c.observePhase(PhaseQueued)
	return nil
}

// ResumeFromLink opens a task from a shared reference. The public status is
// tried first; on failure the authenticated path is used when a credential
// is available, otherwise the task is left flagged as needing auth.
func (c *Controller) ResumeFromLink(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.New("task id is required")
	}

	c.mu.Lock()
	t := c.activateLocked(taskID, PhaseResuming)
	t.public = true
	epoch := t.epoch
	c.publishLocked()
	c.mu.Unlock()

	snap, err := c.client.FetchPublicStatus(ctx, taskID)
	c.observePoll(sourcePublic, err)
	if err == nil {
		if done := c.apply(taskID, epoch, snap, nil); done {
			return nil
		}
		c.mu.Lock()
		if c.activeLocked(taskID, epoch) {
			c.cur.startPolling(poller.ResumeInterval)
			c.sched.StartDeferred(taskID, poller.ResumeInterval, c.tick(taskID, epoch, true))
			c.publishLocked()
		}
		c.mu.Unlock()
		return nil
	}

	c.logger.Info("public status unavailable, trying authenticated path", "task_id", taskID, "error", err)
	cred := c.credential()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked(taskID, epoch) {
		return nil
	}
	t = c.cur
	t.public = false
	if cred == "" {
		t.needsAuth = true
		t.lastErr = err.Error()
		t.updatedAt = time.Now()
		c.publishLocked()
		return nil
	}
	t.startPolling(poller.ResumeInterval)
	c.sched.Start(taskID, poller.ResumeInterval, c.tick(taskID, epoch, false))
	c.publishLocked()
	return nil
}

// ResumeFromHistory reopens a recorded task with the history's title and
// status, re-fetches it through the authenticated path and keeps polling at
// the resume cadence while it is not terminal.
func (c *Controller) ResumeFromHistory(item storage.HistoryItem) error {
	if item.ID == "" {
		return errors.New("task id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.activateLocked(item.ID, phaseOf(deepresearch.ParseStatus(item.Status)))
	t.title = item.Title
	t.researchType = item.ResearchType
	t.startPolling(poller.ResumeInterval)
	c.sched.Start(item.ID, poller.ResumeInterval, c.tick(item.ID, t.epoch, false))
	c.publishLocked()
	return nil
}

// SelectPublic opens a curated or shared report through the public path
// only. It is fetched immediately and polled only while not terminal.
func (c *Controller) SelectPublic(taskID, title string) error {
	if taskID == "" {
		return errors.New("task id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.activateLocked(taskID, PhaseResuming)
	t.title = title
	t.public = true
	t.startPolling(poller.ResumeInterval)
	c.sched.Start(taskID, poller.ResumeInterval, c.tick(taskID, t.epoch, true))
	c.publishLocked()
	return nil
}

// Cancel marks the active task cancelled, stops polling, clears the session
// and hands remote cancellation to the Canceller without waiting for it.
// It returns the final view of the cancelled task. A task that already
// finished keeps its phase and history; the session is only cleared.
func (c *Controller) Cancel(ctx context.Context) (View, error) {
	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return View{Phase: PhaseNone}, ErrNoActiveTask
	}
	t := c.cur
	if t.phase.Terminal() {
		v := c.viewLocked()
		c.clearLocked()
		c.publishLocked()
		c.mu.Unlock()
		c.logger.Info("closed finished research task", "task_id", t.id, "phase", t.phase)
		return v, nil
	}
	t.phase = PhaseCancelled
	t.polling = false
	t.updatedAt = time.Now()
	v := c.viewLocked()
	c.publishLocked()
	c.clearLocked()
	c.mu.Unlock()

	c.logger.Info("research task cancelled", "task_id", t.id)
	c.observePhase(PhaseCancelled)
	c.updateHistory(t.id, PhaseCancelled)
	if c.canceller != nil {
		if err := c.canceller.RequestCancel(ctx, t.id); err != nil {
			c.logger.Warn("queueing remote cancel failed", "task_id", t.id, "error", err)
		}
	}
	return v, nil
}

// Reset stops polling and clears the session without contacting the server.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.publishLocked()
}

// FollowUp spawns a follow-up of the active task and switches to it. On
// failure the current task and its polling are left untouched.
func (c *Controller) FollowUp(ctx context.Context, instruction string) (string, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", errors.New("follow-up instruction is required")
	}

	c.mu.Lock()
	if c.cur == nil {
		c.mu.Unlock()
		return "", ErrNoActiveTask
	}
	prevID := c.cur.id
	c.mu.Unlock()

	newID, err := c.client.SendFollowUp(ctx, prevID, instruction, c.credential())
	if err != nil {
		return "", fmt.Errorf("sending follow-up for %s: %w", prevID, err)
	}

	c.logger.Info("follow-up created", "task_id", newID, "parent_task_id", prevID)
	if err := c.Create(newID, FollowUpTitle(instruction), string(deepresearch.TypeCustom), ""); err != nil {
		return "", err
	}
	return newID, nil
}

// Retry restarts polling of the active task, e.g. after the user signed in
// again. Terminal tasks are not polled.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.cur
	if t == nil {
		return ErrNoActiveTask
	}
	if t.phase.Terminal() {
		return nil
	}
	t.authFailures = 0
	t.needsAuth = false
	interval := t.interval
	if interval <= 0 {
		interval = poller.ResumeInterval
	}
	t.startPolling(interval)
	c.sched.Start(t.id, interval, c.tick(t.id, t.epoch, t.public))
	c.publishLocked()
	return nil
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Subscribe returns a channel receiving a view after every state change and
// a function that unsubscribes. Slow subscribers miss intermediate views.
func (c *Controller) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 16)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close stops polling and closes all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Stop()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// activateLocked stops the previous loop and installs a fresh task.
func (c *Controller) activateLocked(taskID string, phase Phase) *task {
	c.sched.Stop()
	c.epoch++
	c.cur = &task{id: taskID, epoch: c.epoch, phase: phase, updatedAt: time.Now()}
	return c.cur
}

func (c *Controller) clearLocked() {
	c.sched.Stop()
	c.epoch++
	c.cur = nil
}

func (c *Controller) activeLocked(taskID string, epoch uint64) bool {
	return c.cur != nil && c.cur.id == taskID && c.cur.epoch == epoch
}

func (t *task) startPolling(interval time.Duration) {
	t.polling = true
	t.interval = interval
}

func (c *Controller) tick(taskID string, epoch uint64, public bool) poller.Tick {
	return func(ctx context.Context) bool {
		var snap deepresearch.Snapshot
		var err error
		source := sourceAuthenticated
		if public {
			source = sourcePublic
			snap, err = c.client.FetchPublicStatus(ctx, taskID)
		} else {
			snap, err = c.client.FetchStatus(ctx, taskID, c.credential())
		}
		c.observePoll(source, err)
		return c.apply(taskID, epoch, snap, err)
	}
}

// apply reconciles one fetch result into the active task. It returns true
// when the loop that produced it should end: the result is stale, the task
// is terminal, or polling was suspended after repeated auth failures.
func (c *Controller) apply(taskID string, epoch uint64, snap deepresearch.Snapshot, fetchErr error) bool {
	c.mu.Lock()
	if !c.activeLocked(taskID, epoch) {
		c.mu.Unlock()
		c.logger.Debug("discarding stale status", "task_id", taskID)
		return true
	}
	t := c.cur
	t.updatedAt = time.Now()

	if fetchErr != nil {
		done := c.failLocked(t, fetchErr)
		c.publishLocked()
		c.mu.Unlock()
		return done
	}

	t.authFailures = 0
	t.needsAuth = false
	t.lastErr = ""

	prev := t.phase
	next := phaseOf(snap.Status)
	t.snap = snap
	t.phase = next
	if t.title == "" && snap.Output != "" {
		t.title = InferTitle(snap.Output)
	}
	if next.Terminal() {
		t.polling = false
	}
	changed := prev != next
	// Only a task seen in flight notifies; reopening a finished report does not.
	notify := changed && next == PhaseCompleted && (prev == PhaseQueued || prev == PhaseRunning)
	v := c.viewLocked()
	c.publishLocked()
	c.mu.Unlock()

	if changed {
		c.logger.Info("research status changed", "task_id", taskID, "from", prev, "to", next)
		c.observePhase(next)
		c.updateHistory(taskID, next)
	}
	if notify && c.notifier != nil {
		c.notifier.TaskCompleted(v)
		if c.recorder != nil {
			c.recorder.NotificationSent()
		}
	}
	return next.Terminal()
}

func (c *Controller) failLocked(t *task, err error) bool {
	t.lastErr = err.Error()
	if !deepresearch.IsAuthExpired(err) {
		c.logger.Warn("status fetch failed", "task_id", t.id, "error", err)
		return false
	}

	t.authFailures++
	t.needsAuth = true
	if c.authLimit > 0 && t.authFailures >= c.authLimit {
		t.polling = false
		c.logger.Warn("polling suspended after repeated auth failures", "task_id", t.id, "failures", t.authFailures)
		return true
	}
	c.logger.Warn("status fetch unauthorized", "task_id", t.id, "failures", t.authFailures)
	return false
}

func (c *Controller) updateHistory(taskID string, phase Phase) {
	err := c.history.UpdateHistoryStatus(taskID, string(phase))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("updating history failed", "task_id", taskID, "error", err)
	}
}

func (c *Controller) viewLocked() View {
	t := c.cur
	if t == nil {
		return View{Phase: PhaseNone, UpdatedAt: time.Now()}
	}
	v := View{
		TaskID:       t.id,
		Title:        t.title,
		ResearchType: t.researchType,
		Mode:         t.mode,
		Phase:        t.phase,
		Output:       t.snap.Output,
		Sources:      t.snap.Sources,
		Deliverables: t.snap.Deliverables,
		PDFURL:       t.snap.PDFURL,
		Usage:        t.snap.Usage,
		Messages:     t.snap.Messages,
		RemoteError:  t.snap.Error,
		Public:       t.public,
		Polling:      t.polling,
		NeedsAuth:    t.needsAuth,
		LastError:    t.lastErr,
		UpdatedAt:    t.updatedAt,
	}
	if t.polling {
		v.PollInterval = t.interval
	}
	if p := t.snap.Progress; p != nil {
		cp := *p
		v.Progress = &cp
		v.ProgressPercent = p.Percent()
	}
	if t.phase == PhaseCompleted {
		v.ProgressPercent = 100
	}
	return v
}

func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	v := c.viewLocked()
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (c *Controller) observePoll(source string, err error) {
	if c.recorder != nil {
		c.recorder.PollCompleted(source, err)
	}
}

func (c *Controller) observePhase(p Phase) {
	if c.recorder != nil {
		c.recorder.PhaseEntered(string(p))
	}
}
