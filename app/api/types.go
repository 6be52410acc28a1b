package api

import (
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/registry"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

// RunQueue is the coordinator surface exposed over HTTP.
type RunQueue interface {
	Enqueue(taskID string) (string, error)
	Status() tasks.Snapshot
	Runs() []tasks.RunState
	Run(runID string) (tasks.RunState, bool)
}

type TaskRegistry interface {
	GetTasks() ([]registry.Task, error)
	GetTask(taskID string) (*registry.Task, error)
	SaveTask(task registry.Task) (string, error)
	DeleteTask(taskID string) error
}

type StatsSource interface {
	GetStats() (database.Stats, error)
}

// Rescheduler rebuilds schedule triggers after task changes.
type Rescheduler interface {
	Rebuild() error
}

var (
	_ RunQueue     = (*tasks.Coordinator)(nil)
	_ TaskRegistry = (*registry.Registry)(nil)
	_ StatsSource  = (*database.ItemRepository)(nil)
	_ Rescheduler  = (*tasks.Scheduler)(nil)
)

type Handler struct {
	runs      RunQueue
	tasks     TaskRegistry
	stats     StatsSource
	scheduler Rescheduler
	version   string
}

// taskSummary is the API view of a task definition and its last results.
type taskSummary struct {
	ID               string                              `json:"id"`
	Name             string                              `json:"name"`
	Feeds            int                                 `json:"feeds"`
	Recipients       []string                            `json:"recipients"`
	Schedule         registry.Schedule                   `json:"schedule"`
	FeedsStatus      map[string]registry.FeedStatus      `json:"feeds_status,omitempty"`
	RecipientsStatus map[string]registry.RecipientStatus `json:"recipients_status,omitempty"`
	LastRun          any                                 `json:"last_run"`
}
