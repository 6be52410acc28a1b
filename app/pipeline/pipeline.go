package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/rss-digest/app/ai"
	"github.com/lysyi3m/rss-digest/app/canonical"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/digest"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/mail"
	"github.com/lysyi3m/rss-digest/app/metrics"
	"github.com/lysyi3m/rss-digest/app/registry"
)

type Options struct {
	// SkipProcessed excludes items already discarded for the task or already
	// delivered to every current recipient before evaluation.
	SkipProcessed   bool
	FeedDelay       time.Duration
	FeedConcurrency int
}

type Pipeline struct {
	tasks      TaskStore
	store      database.ItemStore
	collector  Collector
	evaluator  Evaluator
	summarizer Summarizer
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
}

func New(tasks TaskStore, store database.ItemStore, collector Collector, evaluator Evaluator, summarizer Summarizer, dispatcher Dispatcher, opts Options) *Pipeline {
	if opts.FeedConcurrency < 1 {
		opts.FeedConcurrency = 1
	}
	return &Pipeline{
		tasks:      tasks,
		store:      store,
		collector:  collector,
		evaluator:  evaluator,
		summarizer: summarizer,
		dispatcher: dispatcher,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Report summarizes one task execution.
type Report struct {
	TaskID    string
	Fetched   int
	Skipped   int
	Filtered  int
	Evaluated int
	Kept      int
	Delivered int
	Failed    int
}

// candidate is a collected item together with the feed it came from.
type candidate struct {
	id         string
	item       feed.Item
	ref        registry.FeedRef
	evaluation ai.Evaluation
}

// ExecuteTask runs one task end to end: collect, dedup, evaluate, summarize,
// rank, dispatch and record. Per-feed and per-recipient problems are recorded
// on the task; an error is returned only when the task itself had to stop.
func (p *Pipeline) ExecuteTask(ctx context.Context, task registry.Task, progress Progress) (*Report, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	start := time.Now()
	report := &Report{TaskID: task.ID}

	progress(10, "Fetching feeds")
	results := p.collect(ctx, task.Feeds)

	feedsStatus := make(map[string]registry.FeedStatus, len(results))
	fetchedAt := p.now()
	for i, result := range results {
		feedsStatus[task.Feeds[i].URL] = registry.FeedStatus{
			Status:    result.Status,
			LastFetch: fetchedAt,
			Error:     result.Error,
		}
		metrics.FeedFetchesTotal.WithLabelValues(result.Status).Inc()
	}

	progress(40, "Checking item history")
	candidates, err := p.admit(task, results, report)
	if err != nil {
		p.persist(task.ID, feedsStatus, nil, false)
		return report, err
	}

	kept, err := p.evaluate(ctx, task, candidates, report)
	if err != nil {
		p.persist(task.ID, feedsStatus, nil, false)
		return report, err
	}

	progress(60, "Summarizing items")
	items := p.summarize(ctx, kept)

	progress(80, "Sending digest")
	ranked := digest.Rank(items)
	recipients := p.currentRecipients(task)
	ranked = p.undelivered(ranked, recipients)

	var deliveries map[string]mail.DeliveryResult
	if len(ranked) > 0 && len(recipients) > 0 {
		deliveries = p.dispatcher.Send(ctx, task.Name, task.ID, ranked, recipients)
		p.recordDeliveries(task.ID, ranked, deliveries, report)
	} else {
		slog.Info("Nothing to send", "task", task.ID, "items", len(ranked), "recipients", len(recipients))
	}

	progress(95, "Saving task status")
	p.persist(task.ID, feedsStatus, deliveries, true)

	slog.Info("Task completed",
		"task", task.ID,
		"name", task.Name,
		"duration", time.Since(start),
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"filtered", report.Filtered,
		"evaluated", report.Evaluated,
		"kept", report.Kept,
		"delivered", report.Delivered,
		"failed", report.Failed)

	return report, nil
}

// collect fetches all feeds of a task, at most FeedConcurrency at a time and
// staggered by FeedDelay. Results keep the order of refs.
func (p *Pipeline) collect(ctx context.Context, refs []registry.FeedRef) []feed.Result {
	results := make([]feed.Result, len(refs))

	var g errgroup.Group
	g.SetLimit(p.opts.FeedConcurrency)

	for i, ref := range refs {
		if i > 0 && p.opts.FeedDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.FeedDelay):
			}
		}
		if ctx.Err() != nil {
			results[i] = feed.Result{Status: registry.StatusFail, Error: ctx.Err().Error()}
			continue
		}

		g.Go(func() error {
			results[i] = p.collector.Collect(ctx, ref)
			return nil
		})
	}
	g.Wait()

	return results
}

// admit canonicalizes collected items, drops those the task has already
// dealt with and registers the rest in the item store. Items rejected by the
// feed's own filters are recorded as discarded without evaluation.
func (p *Pipeline) admit(task registry.Task, results []feed.Result, report *Report) ([]candidate, error) {
	seen := make(map[string]bool)
	var candidates []candidate

	for i, result := range results {
		if result.Status != registry.StatusSuccess {
			continue
		}
		for _, item := range result.Items {
			id := canonical.Canonicalize(item.ID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			report.Fetched++

			if p.opts.SkipProcessed && p.alreadyHandled(id, task) {
				report.Skipped++
				metrics.ItemsTotal.WithLabelValues("skipped").Inc()
				continue
			}

			inserted, err := p.store.AddItem(database.NewItem{
				ID:          id,
				Title:       item.Title,
				Link:        item.Link,
				Source:      item.Source,
				PublishedAt: item.PublishedAt,
				ContentHash: item.ContentHash,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record item %s: %w", id, err)
			}
			if inserted {
				metrics.ItemsTotal.WithLabelValues("new").Inc()
			}

			if item.IsFiltered {
				report.Filtered++
				metrics.ItemsTotal.WithLabelValues("filtered").Inc()
				if err := p.store.MarkDiscardedForTask(id, task.ID); err != nil {
					slog.Warn("Failed to mark item discarded", "task", task.ID, "item", id, "error", err)
				}
				slog.Debug("Item filtered", "task", task.ID, "item", id, "reason", item.FilterReason)
				continue
			}

			candidates = append(candidates, candidate{id: id, item: item, ref: task.Feeds[i]})
		}
	}

	return candidates, nil
}

// alreadyHandled fails open: a store error counts as not handled.
func (p *Pipeline) alreadyHandled(id string, task registry.Task) bool {
	discarded, err := p.store.IsDiscardedForTask(id, task.ID)
	if err != nil {
		slog.Warn("Failed to check discard status", "task", task.ID, "item", id, "error", err)
		discarded = false
	}
	if discarded {
		return true
	}

	sent, err := p.store.IsSentToAllRecipients(id, task.Recipients)
	if err != nil {
		slog.Warn("Failed to check delivery status", "task", task.ID, "item", id, "error", err)
		return false
	}
	return sent
}

func (p *Pipeline) evaluate(ctx context.Context, task registry.Task, candidates []candidate, report *Report) ([]candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	articles := make([]ai.Article, len(candidates))
	for i, c := range candidates {
		articles[i] = article(c)
	}

	decisions, err := p.evaluator.EvaluateBatch(ctx, articles)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate items: %w", err)
	}
	if len(decisions) != len(candidates) {
		return nil, fmt.Errorf("evaluator returned %d decisions for %d items", len(decisions), len(candidates))
	}
	report.Evaluated = len(candidates)

	var kept []candidate
	for i, c := range candidates {
		if _, err := p.store.MarkProcessed(c.id); err != nil {
			slog.Warn("Failed to mark item processed", "item", c.id, "error", err)
		}

		if !decisions[i].Keep {
			metrics.ItemsTotal.WithLabelValues("discarded").Inc()
			if err := p.store.MarkDiscardedForTask(c.id, task.ID); err != nil {
				slog.Warn("Failed to mark item discarded", "task", task.ID, "item", c.id, "error", err)
			}
			continue
		}

		metrics.ItemsTotal.WithLabelValues("kept").Inc()
		c.evaluation = decisions[i].Evaluation
		kept = append(kept, c)
	}
	report.Kept = len(kept)

	return kept, nil
}

func (p *Pipeline) summarize(ctx context.Context, kept []candidate) []digest.Item {
	items := make([]digest.Item, 0, len(kept))
	retrievedAt := p.now()

	for _, c := range kept {
		a := article(c)
		brief, err := p.summarizer.Summarize(ctx, a)

		di := digest.Item{
			ID:          c.id,
			Title:       c.item.Title,
			Link:        c.item.Link,
			Source:      c.item.Source,
			Labels:      c.ref.Labels,
			PublishedAt: c.item.PublishedAt,
			RetrievedAt: retrievedAt,
			Evaluation:  c.evaluation,
		}
		if err != nil {
			slog.Warn("Failed to summarize item, using fallback", "item", c.id, "error", err)
			brief = p.summarizer.Fallback(a)
			di.SummaryError = err.Error()
		}
		di.Brief = brief.Text
		di.BriefMethod = brief.Method

		items = append(items, di)
	}

	return items
}

// currentRecipients re-reads the task so that recipients removed while the
// task was running are not sent to.
func (p *Pipeline) currentRecipients(task registry.Task) []string {
	fresh, err := p.tasks.GetTask(task.ID)
	if err != nil {
		slog.Warn("Failed to reload task recipients", "task", task.ID, "error", err)
		return task.Recipients
	}
	return fresh.Recipients
}

// undelivered drops items every recipient has already received. Store errors
// keep the item.
func (p *Pipeline) undelivered(items []digest.Item, recipients []string) []digest.Item {
	out := items[:0:0]
	for _, item := range items {
		sent, err := p.store.IsSentToAllRecipients(item.ID, recipients)
		if err != nil {
			slog.Warn("Failed to check delivery status", "item", item.ID, "error", err)
		}
		if sent {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (p *Pipeline) recordDeliveries(taskID string, items []digest.Item, deliveries map[string]mail.DeliveryResult, report *Report) {
	for recipient, result := range deliveries {
		if result.Status != registry.StatusSuccess {
			report.Failed++
			continue
		}
		report.Delivered++
		for _, item := range items {
			if err := p.store.MarkSentToRecipient(item.ID, recipient, taskID); err != nil {
				slog.Error("Failed to record delivery", "task", taskID, "item", item.ID, "recipient", recipient, "error", err)
			}
		}
	}
}

// persist merges run results into the stored task. last_run only moves when
// the task ran to completion.
func (p *Pipeline) persist(taskID string, feeds map[string]registry.FeedStatus, deliveries map[string]mail.DeliveryResult, completed bool) {
	now := p.now()
	err := p.tasks.Update(taskID, func(t *registry.Task) error {
		if t.FeedsStatus == nil {
			t.FeedsStatus = make(map[string]registry.FeedStatus, len(feeds))
		}
		for url, status := range feeds {
			t.FeedsStatus[url] = status
		}

		if len(deliveries) > 0 && t.RecipientsStatus == nil {
			t.RecipientsStatus = make(map[string]registry.RecipientStatus, len(deliveries))
		}
		for recipient, result := range deliveries {
			status := registry.RecipientStatus{Status: result.Status, Error: result.Error}
			if result.Status == registry.StatusSuccess {
				status.LastSent = now
			} else {
				status.LastSent = t.RecipientsStatus[recipient].LastSent
			}
			t.RecipientsStatus[recipient] = status
		}

		if completed {
			t.LastRun = &now
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to save task status", "task", taskID, "error", err)
	}
}

func article(c candidate) ai.Article {
	return ai.Article{
		Title:       c.item.Title,
		Summary:     c.item.Description,
		Content:     c.item.Body(),
		Source:      c.item.Source,
		Link:        c.item.Link,
		Labels:      c.ref.Labels,
		PublishedAt: c.item.PublishedAt,
	}
}
