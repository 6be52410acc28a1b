package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/registry"
)

var ErrQueueClosed = errors.New("run queue is closed")

var _ Enqueuer = (*Coordinator)(nil)

type CoordinatorOptions struct {
	QueueSize     int
	IdleTimeout   time.Duration
	HistorySize   int
	RetentionDays int
}

type request struct {
	runID  string
	taskID string
}

// Coordinator owns the run queue. A single worker executes run batches one
// at a time in FIFO order.
type Coordinator struct {
	tasks    TaskSource
	executor Executor
	purger   Purger
	opts     CoordinatorOptions
	now      func() time.Time
	backoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan request

	mu        sync.Mutex
	closed    bool
	busy      bool
	active    map[string]*RunState
	history   []RunState
	observers []Observer
	upcoming  func() []Upcoming
}

func NewCoordinator(tasks TaskSource, executor Executor, purger Purger, opts CoordinatorOptions) *Coordinator {
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		tasks:    tasks,
		executor: executor,
		purger:   purger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		backoff:  time.Second,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan request, opts.QueueSize),
		active:   make(map[string]*RunState),
	}
}

func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.worker()
	slog.Info("Run coordinator started", "queue_size", c.opts.QueueSize)
}

// Stop cancels the worker, waits for it to exit and cancels every run still
// waiting in the queue.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	for {
		select {
		case req := <-c.queue:
			c.UpdateRun(req.runID, WithStatus(StatusCanceled), WithMessage("Coordinator stopped"))
		default:
			metrics.QueueDepth.Set(0)
			slog.Info("Run coordinator stopped")
			return
		}
	}
}

// Subscribe registers an observer for run state changes.
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// SetUpcoming wires the source of upcoming trigger times into Status.
func (c *Coordinator) SetUpcoming(fn func() []Upcoming) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upcoming = fn
}

// Enqueue accepts a run request and returns its run id without blocking.
// An empty taskID runs all tasks.
func (c *Coordinator) Enqueue(taskID string) (string, error) {
	name := "All tasks"
	if taskID != "" {
		name = "Task " + taskID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrQueueClosed
	}

	run := c.createRunLocked(name, taskID)
	select {
	case c.queue <- request{runID: run.ID, taskID: taskID}:
	default:
		delete(c.active, run.ID)
		return "", fmt.Errorf("run queue is full")
	}
	metrics.QueueDepth.Set(float64(len(c.queue)))

	slog.Info("Run enqueued", "run", run.ID, "task", taskID, "queue", len(c.queue))
	return run.ID, nil
}

// CreateRun allocates a PENDING run without queueing it.
func (c *Coordinator) CreateRun(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createRunLocked(name, "").ID
}

func (c *Coordinator) createRunLocked(name, taskID string) *RunState {
	run := &RunState{
		ID:        uuid.NewString(),
		Name:      name,
		TaskID:    taskID,
		Status:    StatusPending,
		CreatedAt: c.now(),
	}
	c.active[run.ID] = run
	return run
}

// UpdateRun applies a partial update to an active run. Terminal runs leave
// the active index and move into the history ring.
func (c *Coordinator) UpdateRun(runID string, opts ...UpdateOption) error {
	var u runUpdate
	for _, opt := range opts {
		opt(&u)
	}

	c.mu.Lock()
	run, ok := c.active[runID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("run %s is not active", runID)
	}
	if err := run.apply(u, c.now()); err != nil {
		c.mu.Unlock()
		return err
	}

	snapshot := run.clone()
	if run.Status.IsTerminal() {
		delete(c.active, runID)
		c.history = append(c.history, snapshot)
		if over := len(c.history) - c.opts.HistorySize; over > 0 {
			c.history = slices.Delete(c.history, 0, over)
		}
	}
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	if snapshot.Status.IsTerminal() {
		slog.Info("Run finished",
			"run", snapshot.ID,
			"name", snapshot.Name,
			"status", snapshot.Status,
			"duration", snapshot.Duration(),
			"error", snapshot.Error)
	} else {
		slog.Debug("Run updated", "run", snapshot.ID, "status", snapshot.Status, "progress", snapshot.Progress, "message", snapshot.Message)
	}

	for _, o := range observers {
		o.OnRunUpdate(snapshot)
	}
	return nil
}

// Run returns the active or recent run with the given id.
func (c *Coordinator) Run(runID string) (RunState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if run, ok := c.active[runID]; ok {
		return run.clone(), true
	}
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == runID {
			return c.history[i].clone(), true
		}
	}
	return RunState{}, false
}

// Runs returns active runs oldest first, followed by finished runs newest
// first.
func (c *Coordinator) Runs() []RunState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RunState, 0, len(c.active)+len(c.history))
	for _, run := range c.active {
		out = append(out, run.clone())
	}
	slices.SortFunc(out, func(a, b RunState) int { return a.CreatedAt.Compare(b.CreatedAt) })

	for i := len(c.history) - 1; i >= 0; i-- {
		out = append(out, c.history[i].clone())
	}
	return out
}

type Snapshot struct {
	ActiveRuns int        `json:"active_runs"`
	QueueDepth int        `json:"queue_depth"`
	WorkerBusy bool       `json:"worker_busy"`
	Upcoming   []Upcoming `json:"upcoming"`
}

func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		ActiveRuns: len(c.active),
		QueueDepth: len(c.queue),
		WorkerBusy: c.busy,
	}
	upcoming := c.upcoming
	c.mu.Unlock()

	if upcoming != nil {
		s.Upcoming = upcoming()
	}
	return s
}

func (c *Coordinator) setBusy(busy bool) {
	c.mu.Lock()
	c.busy = busy
	c.mu.Unlock()

	if busy {
		metrics.WorkerBusy.Set(1)
	} else {
		metrics.WorkerBusy.Set(0)
	}
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	failures := 0
	for c.ctx.Err() == nil {
		if c.serve() {
			failures = 0
			continue
		}

		failures++
		delay := min(time.Duration(1<<uint(failures-1))*c.backoff, 30*time.Second)
		slog.Warn("Coordinator worker backing off", "failures", failures, "delay", delay)
		select {
		case <-c.ctx.Done():
		case <-time.After(delay):
		}
	}
}

// serve waits for one request and runs it. It reports false only when a
// panic escaped the batch guards.
func (c *Coordinator) serve() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Coordinator worker recovered from panic", "panic", r)
			c.setBusy(false)
			ok = false
		}
	}()

	idle := time.NewTimer(c.opts.IdleTimeout)
	defer idle.Stop()

	select {
	case <-c.ctx.Done():
	case req := <-c.queue:
		metrics.QueueDepth.Set(float64(len(c.queue)))
		c.runBatch(req)
	case <-idle.C:
		slog.Debug("Coordinator idle", "active", len(c.Runs()))
	}
	return true
}

func (c *Coordinator) runBatch(req request) {
	c.setBusy(true)
	defer c.setBusy(false)

	start := time.Now()
	status := StatusFailed
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Run batch panicked", "run", req.runID, "panic", r)
			c.UpdateRun(req.runID, WithStatus(StatusFailed), WithError(fmt.Sprint("panic: ", r)))
			status = StatusFailed
		}
		metrics.RunsTotal.WithLabelValues(strings.ToLower(string(status))).Inc()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	c.UpdateRun(req.runID, WithStatus(StatusRunning), WithProgress(0), WithMessage("Loading tasks"))

	tasks, err := c.selectTasks(req.taskID)
	if err != nil {
		c.UpdateRun(req.runID, WithStatus(StatusFailed), WithError(err.Error()))
		return
	}

	var failures []string
	for i, task := range tasks {
		if c.ctx.Err() != nil {
			status = StatusCanceled
			c.UpdateRun(req.runID, WithStatus(StatusCanceled), WithMessage("Canceled before "+task.Name))
			return
		}

		base, span := i*100/len(tasks), 100/len(tasks)
		progress := func(percent int, message string) {
			c.UpdateRun(req.runID, WithProgress(base+percent*span/100), WithMessage(task.Name+": "+message))
		}

		if err := c.runTask(task, progress); err != nil {
			slog.Error("Task failed", "run", req.runID, "task", task.ID, "name", task.Name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", task.Name, err))
			metrics.TaskRunsTotal.WithLabelValues(registry.StatusFail).Inc()
			continue
		}
		metrics.TaskRunsTotal.WithLabelValues(registry.StatusSuccess).Inc()
	}

	c.purge()

	switch {
	case len(tasks) == 0:
		status = StatusCompleted
		c.UpdateRun(req.runID, WithStatus(StatusCompleted), WithProgress(100), WithMessage("No tasks to run"))
	case len(failures) == len(tasks):
		c.UpdateRun(req.runID, WithStatus(StatusFailed), WithProgress(100), WithError(strings.Join(failures, "; ")))
	case len(failures) > 0:
		status = StatusCompleted
		c.UpdateRun(req.runID,
			WithStatus(StatusCompleted),
			WithProgress(100),
			WithMessage(fmt.Sprintf("%d of %d tasks completed", len(tasks)-len(failures), len(tasks))),
			WithError(strings.Join(failures, "; ")))
	default:
		status = StatusCompleted
		c.UpdateRun(req.runID, WithStatus(StatusCompleted), WithProgress(100), WithMessage(fmt.Sprintf("%d tasks completed", len(tasks))))
	}
}

func (c *Coordinator) runTask(task registry.Task, progress func(int, string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	_, err = c.executor.ExecuteTask(c.ctx, task, progress)
	return err
}

func (c *Coordinator) selectTasks(taskID string) ([]registry.Task, error) {
	tasks, err := c.tasks.GetTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	if taskID == "" {
		return tasks, nil
	}

	for _, task := range tasks {
		if task.ID == taskID {
			return []registry.Task{task}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrTaskNotFound, taskID)
}

func (c *Coordinator) purge() {
	if c.purger == nil || c.opts.RetentionDays <= 0 {
		return
	}

	removed, err := c.purger.PurgeOlderThan(c.opts.RetentionDays)
	if err != nil {
		slog.Warn("Failed to purge item history", "days", c.opts.RetentionDays, "error", err)
		return
	}
	if removed > 0 {
		metrics.ItemsPurged.Add(float64(removed))
		slog.Info("Purged item history", "days", c.opts.RetentionDays, "items", removed)
	}
}
