package tasks

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/registry"
)

// Trigger is one weekly firing point of a task: a weekday (0 = Monday) at a
// time of day.
type Trigger struct {
	TaskID   string
	TaskName string
	Weekday  int
	Time     string
	schedule cron.Schedule
}

type Upcoming struct {
	TaskID   string    `json:"task_id"`
	TaskName string    `json:"task_name"`
	At       time.Time `json:"at"`
	In       string    `json:"in"`
}

// Scheduler turns task schedules into run requests. It only enqueues; runs
// are executed by the Coordinator.
type Scheduler struct {
	tasks    TaskSource
	queue    Enqueuer
	interval time.Duration
	location *time.Location
	parser   cron.Parser
	now      func() time.Time

	mu        sync.Mutex
	triggers  []Trigger
	lastCheck time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(tasks TaskSource, queue Enqueuer, interval time.Duration, location *time.Location) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if location == nil {
		location = time.Local
	}
	return &Scheduler{
		tasks:    tasks,
		queue:    queue,
		interval: interval,
		location: location,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Rebuild discards every trigger and registers them again from the current
// task definitions.
func (s *Scheduler) Rebuild() error {
	tasks, err := s.tasks.GetTasks()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	var triggers []Trigger
	for _, task := range tasks {
		if len(task.Schedule.Days) == 0 {
			continue
		}
		at, err := time.Parse("15:04", task.Schedule.Time)
		if err != nil {
			slog.Warn("Invalid schedule time, skipping task", "task", task.ID, "time", task.Schedule.Time)
			continue
		}

		days := slices.Clone(task.Schedule.Days)
		slices.Sort(days)
		for _, day := range slices.Compact(days) {
			// cron counts weekdays from Sunday.
			expr := fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), (day+1)%7)
			schedule, err := s.parser.Parse(expr)
			if err != nil {
				slog.Warn("Failed to parse trigger", "task", task.ID, "expr", expr, "error", err)
				continue
			}
			triggers = append(triggers, Trigger{
				TaskID:   task.ID,
				TaskName: task.Name,
				Weekday:  day,
				Time:     task.Schedule.Time,
				schedule: schedule,
			})
		}
	}

	s.mu.Lock()
	s.triggers = triggers
	s.mu.Unlock()

	slog.Info("Schedule rebuilt", "tasks", len(tasks), "triggers", len(triggers))
	return nil
}

func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.triggers)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	s.lastCheck = s.now()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Check(s.now())
			}
		}
	}()

	slog.Info("Scheduler started", "interval", s.interval, "location", s.location)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Check enqueues every task with a trigger in (last check, now] that is not
// suppressed by its week interval, in task list order. It returns the ids
// of the enqueued tasks. The window only moves past now once the due tasks
// were loaded, so a failed load is retried on the next tick.
func (s *Scheduler) Check(now time.Time) []string {
	s.mu.Lock()
	since := s.lastCheck
	triggers := slices.Clone(s.triggers)
	s.mu.Unlock()

	if since.IsZero() || !now.After(since) {
		s.advance(now)
		return nil
	}

	due := make(map[string]bool)
	for _, trigger := range triggers {
		next := trigger.schedule.Next(since.In(s.location))
		if !next.After(now) {
			due[trigger.TaskID] = true
		}
	}
	if len(due) == 0 {
		s.advance(now)
		return nil
	}

	tasks, err := s.tasks.GetTasks()
	if err != nil {
		slog.Error("Failed to load tasks for due check", "error", err, "since", since)
		return nil
	}
	s.advance(now)

	var enqueued []string
	for _, task := range tasks {
		if !due[task.ID] {
			continue
		}

		if ShouldSuppress(task, now) {
			slog.Info("Trigger suppressed by week interval", "task", task.ID, "weeks", task.Schedule.Weeks, "last_run", task.LastRun)
			metrics.TriggersTotal.WithLabelValues("suppressed").Inc()
			continue
		}

		runID, err := s.queue.Enqueue(task.ID)
		if err != nil {
			slog.Error("Failed to enqueue scheduled run", "task", task.ID, "error", err)
			metrics.TriggersTotal.WithLabelValues("error").Inc()
			continue
		}

		slog.Info("Scheduled run enqueued", "task", task.ID, "name", task.Name, "run", runID)
		metrics.TriggersTotal.WithLabelValues("enqueued").Inc()
		enqueued = append(enqueued, task.ID)
	}

	return enqueued
}

func (s *Scheduler) advance(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastCheck) {
		s.lastCheck = now
	}
	s.mu.Unlock()
}

// ShouldSuppress reports whether a trigger must be skipped because the task
// runs every W > 1 weeks and its last run is less than W*7-1 days ago.
func ShouldSuppress(task registry.Task, now time.Time) bool {
	weeks := task.Schedule.Weeks
	if weeks <= 1 || task.LastRun == nil {
		return false
	}
	daysElapsed := int(now.Sub(*task.LastRun).Hours() / 24)
	return daysElapsed < weeks*7-1
}

// Upcoming returns the next firing time of every trigger, soonest first.
func (s *Scheduler) Upcoming() []Upcoming {
	now := s.now()
	triggers := s.Triggers()

	out := make([]Upcoming, 0, len(triggers))
	for _, trigger := range triggers {
		at := trigger.schedule.Next(now.In(s.location))
		out = append(out, Upcoming{
			TaskID:   trigger.TaskID,
			TaskName: trigger.TaskName,
			At:       at,
			In:       humanize.RelTime(at, now, "ago", "from now"),
		})
	}

	slices.SortStableFunc(out, func(a, b Upcoming) int { return a.At.Compare(b.At) })
	return out
}
