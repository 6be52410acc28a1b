package pipeline

import (
	"context"

	"github.com/lysyi3m/rss-digest/app/ai"
	"github.com/lysyi3m/rss-digest/app/digest"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/mail"
	"github.com/lysyi3m/rss-digest/app/registry"
)

// TaskStore is the part of the task registry the pipeline reads back from
// and writes run results into.
type TaskStore interface {
	GetTask(taskID string) (*registry.Task, error)
	Update(taskID string, fn func(*registry.Task) error) error
}

type Collector interface {
	Collect(ctx context.Context, ref registry.FeedRef) feed.Result
}

// Evaluator scores all surviving items of one task in a single call. An
// error means the task cannot continue.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, articles []ai.Article) ([]ai.Decision, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, article ai.Article) (ai.Brief, error)
	Fallback(article ai.Article) ai.Brief
}

type Dispatcher interface {
	Send(ctx context.Context, taskName, taskID string, items []digest.Item, recipients []string) map[string]mail.DeliveryResult
}

// Progress receives coarse progress updates while a task executes.
type Progress func(percent int, message string)
