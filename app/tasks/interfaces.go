package tasks

import (
	"context"

	"github.com/lysyi3m/rss-digest/app/pipeline"
	"github.com/lysyi3m/rss-digest/app/registry"
)

// TaskSource is the read side of the task registry.
type TaskSource interface {
	GetTasks() ([]registry.Task, error)
}

// Executor runs a single task. It is satisfied by *pipeline.Pipeline.
type Executor interface {
	ExecuteTask(ctx context.Context, task registry.Task, progress pipeline.Progress) (*pipeline.Report, error)
}

// Purger removes expired item history. It is satisfied by the item store.
type Purger interface {
	PurgeOlderThan(days int) (int, error)
}

// Observer is notified with a snapshot after every run state change.
// Observers are called on the worker goroutine and must not block.
type Observer interface {
	OnRunUpdate(run RunState)
}

// Enqueuer accepts run requests. An empty taskID selects all tasks.
type Enqueuer interface {
	Enqueue(taskID string) (string, error)
}
