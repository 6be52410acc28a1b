package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lysyi3m/rss-digest/app/ai"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/digest"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/mail"
	"github.com/lysyi3m/rss-digest/app/registry"
)

type fakeCollector struct {
	results map[string]feed.Result
}

func (f *fakeCollector) Collect(ctx context.Context, ref registry.FeedRef) feed.Result {
	result, ok := f.results[ref.URL]
	if !ok {
		return feed.Result{Status: registry.StatusFail, Error: "unknown feed"}
	}
	return result
}

// fakeEvaluator keeps articles whose title contains "keep".
type fakeEvaluator struct {
	err    error
	seen   []string
	before func()
}

func (f *fakeEvaluator) EvaluateBatch(ctx context.Context, articles []ai.Article) ([]ai.Decision, error) {
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return nil, f.err
	}
	decisions := make([]ai.Decision, len(articles))
	for i, a := range articles {
		f.seen = append(f.seen, a.Title)
		decisions[i] = ai.Decision{Keep: strings.Contains(a.Title, "keep"), Method: ai.MethodRules}
	}
	return decisions, nil
}

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, article ai.Article) (ai.Brief, error) {
	if f.err != nil {
		return ai.Brief{}, f.err
	}
	return ai.Brief{Text: "brief of " + article.Title, Method: ai.MethodAI}, nil
}

func (f *fakeSummarizer) Fallback(article ai.Article) ai.Brief {
	return ai.Brief{Text: article.Summary, Method: ai.MethodSimple}
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  int
	items  []digest.Item
	to     []string
	failed map[string]bool
}

func (f *fakeDispatcher) Send(ctx context.Context, taskName, taskID string, items []digest.Item, recipients []string) map[string]mail.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.items = items
	f.to = recipients

	results := make(map[string]mail.DeliveryResult, len(recipients))
	for _, r := range recipients {
		if f.failed[r] {
			results[r] = mail.DeliveryResult{Status: registry.StatusFail, Error: "mailbox full"}
			continue
		}
		results[r] = mail.DeliveryResult{Status: registry.StatusSuccess}
	}
	return results
}

type fixture struct {
	registry   *registry.Registry
	store      *database.ItemRepository
	collector  *fakeCollector
	evaluator  *fakeEvaluator
	summarizer *fakeSummarizer
	dispatcher *fakeDispatcher
	task       registry.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.NewConnection(filepath.Join(dir, "items.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	reg := registry.New(filepath.Join(dir, "tasks.yml"))
	task := registry.Task{
		ID:   "task-1",
		Name: "Morning",
		Feeds: []registry.FeedRef{
			{URL: "https://example.com/feed.xml", Labels: []string{"go"}},
			{URL: "https://broken.example.com/rss"},
		},
		Recipients: []string{"alice@example.com", "bob@example.com"},
	}
	if _, err := reg.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	return &fixture{
		registry: reg,
		store:    database.NewItemRepository(db),
		collector: &fakeCollector{results: map[string]feed.Result{
			"https://example.com/feed.xml": {
				Status: registry.StatusSuccess,
				Items: []feed.Item{
					{ID: "https://example.com/a?utm_source=rss", Title: "keep a", Link: "https://example.com/a", Source: "Example", Description: "about a"},
					{ID: "https://example.com/b", Title: "drop b", Source: "Example"},
					{ID: "https://example.com/c", Title: "keep c but filtered", IsFiltered: true, FilterReason: "excluded"},
					{ID: "https://example.com/a#comments", Title: "keep a again"},
				},
			},
		}},
		evaluator:  &fakeEvaluator{},
		summarizer: &fakeSummarizer{},
		dispatcher: &fakeDispatcher{},
		task:       task,
	}
}

func (f *fixture) pipeline(skipProcessed bool) *Pipeline {
	return New(f.registry, f.store, f.collector, f.evaluator, f.summarizer, f.dispatcher, Options{
		SkipProcessed:   skipProcessed,
		FeedConcurrency: 2,
	})
}

func (f *fixture) storedTask(t *testing.T) *registry.Task {
	t.Helper()
	task, err := f.registry.GetTask(f.task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	return task
}

func TestExecuteTask_DeliversAndRecords(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.failed = map[string]bool{"bob@example.com": true}

	var steps []int
	report, err := f.pipeline(true).ExecuteTask(context.Background(), f.task, func(percent int, message string) {
		steps = append(steps, percent)
	})
	if err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}

	if report.Fetched != 3 || report.Filtered != 1 || report.Evaluated != 2 || report.Kept != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
	if report.Delivered != 1 || report.Failed != 1 {
		t.Errorf("Expected 1 delivered and 1 failed, got %+v", report)
	}
	if len(steps) == 0 || steps[len(steps)-1] != 95 {
		t.Errorf("Expected progress to end at 95, got %v", steps)
	}

	if f.dispatcher.calls != 1 || len(f.dispatcher.items) != 1 {
		t.Fatalf("Expected one dispatch with one item, got %d calls", f.dispatcher.calls)
	}
	sent := f.dispatcher.items[0]
	if sent.ID != "https://example.com/a" || sent.Brief != "brief of keep a" || len(sent.Labels) != 1 {
		t.Errorf("Unexpected dispatched item %+v", sent)
	}

	if ok, _ := f.store.IsSentToRecipient("https://example.com/a", "alice@example.com"); !ok {
		t.Error("Expected item recorded as sent to alice")
	}
	if ok, _ := f.store.IsSentToRecipient("https://example.com/a", "bob@example.com"); ok {
		t.Error("Expected no sent record for failed recipient")
	}
	for _, id := range []string{"https://example.com/b", "https://example.com/c"} {
		if ok, _ := f.store.IsDiscardedForTask(id, f.task.ID); !ok {
			t.Errorf("Expected %s discarded for task", id)
		}
	}
	if ok, _ := f.store.IsProcessed("https://example.com/b"); !ok {
		t.Error("Expected evaluated item to be marked processed")
	}

	stored := f.storedTask(t)
	if stored.LastRun == nil {
		t.Error("Expected last_run to be set")
	}
	if stored.FeedsStatus["https://example.com/feed.xml"].Status != registry.StatusSuccess {
		t.Errorf("Unexpected feed status %+v", stored.FeedsStatus)
	}
	if stored.FeedsStatus["https://broken.example.com/rss"].Status != registry.StatusFail {
		t.Errorf("Expected broken feed recorded as fail, got %+v", stored.FeedsStatus)
	}
	if stored.RecipientsStatus["alice@example.com"].Status != registry.StatusSuccess ||
		stored.RecipientsStatus["bob@example.com"].Error != "mailbox full" {
		t.Errorf("Unexpected recipient status %+v", stored.RecipientsStatus)
	}
}

func TestExecuteTask_SkipsHandledItems(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(true)

	if _, err := p.ExecuteTask(context.Background(), f.task, nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	f.evaluator.seen = nil
	report, err := p.ExecuteTask(context.Background(), f.task, nil)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if len(f.evaluator.seen) != 0 {
		t.Errorf("Expected nothing re-evaluated, got %v", f.evaluator.seen)
	}
	if report.Skipped != 3 {
		t.Errorf("Expected 3 skipped items, got %d", report.Skipped)
	}
	if f.dispatcher.calls != 1 {
		t.Errorf("Expected no second dispatch, got %d calls", f.dispatcher.calls)
	}
}

func TestExecuteTask_ReevaluatesWithoutSkipPolicy(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(false)

	p.ExecuteTask(context.Background(), f.task, nil)
	f.evaluator.seen = nil
	p.ExecuteTask(context.Background(), f.task, nil)

	if len(f.evaluator.seen) != 2 {
		t.Errorf("Expected both items re-evaluated, got %v", f.evaluator.seen)
	}
	// Everything kept was already delivered to all recipients.
	if f.dispatcher.calls != 1 {
		t.Errorf("Expected no second dispatch, got %d calls", f.dispatcher.calls)
	}
}

func TestExecuteTask_EvaluatorFailureAbortsTask(t *testing.T) {
	f := newFixture(t)
	f.evaluator.err = ai.ErrUnavailable

	_, err := f.pipeline(true).ExecuteTask(context.Background(), f.task, nil)
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if f.dispatcher.calls != 0 {
		t.Error("Expected no dispatch after evaluator failure")
	}

	stored := f.storedTask(t)
	if stored.LastRun != nil {
		t.Error("Expected last_run untouched after failure")
	}
	if len(stored.FeedsStatus) != 2 {
		t.Errorf("Expected feed status recorded even on failure, got %+v", stored.FeedsStatus)
	}
}

func TestExecuteTask_SummaryFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.summarizer.err = errors.New("model overloaded")

	if _, err := f.pipeline(true).ExecuteTask(context.Background(), f.task, nil); err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}

	if len(f.dispatcher.items) != 1 {
		t.Fatalf("Expected degraded item to be delivered, got %d items", len(f.dispatcher.items))
	}
	item := f.dispatcher.items[0]
	if item.BriefMethod != ai.MethodSimple || item.Brief != "about a" || item.SummaryError == "" {
		t.Errorf("Expected fallback brief with error annotation, got %+v", item)
	}
}

func TestExecuteTask_RevalidatesRecipients(t *testing.T) {
	f := newFixture(t)
	f.evaluator.before = func() {
		f.registry.RemoveRecipient(f.task.ID, "bob@example.com")
	}

	if _, err := f.pipeline(true).ExecuteTask(context.Background(), f.task, nil); err != nil {
		t.Fatalf("ExecuteTask failed: %v", err)
	}

	if len(f.dispatcher.to) != 1 || f.dispatcher.to[0] != "alice@example.com" {
		t.Errorf("Expected dispatch to remaining recipient only, got %v", f.dispatcher.to)
	}
}

func TestExecuteTask_AddItemFailureAbortsTask(t *testing.T) {
	f := newFixture(t)
	f.collector.results["https://example.com/feed.xml"] = feed.Result{
		Status: registry.StatusSuccess,
		Items:  []feed.Item{{ID: "keep", Title: "keep"}},
	}
	db, _ := database.NewConnection(filepath.Join(t.TempDir(), "empty.db"))
	defer db.Close()
	f.store = database.NewItemRepository(db)

	_, err := f.pipeline(true).ExecuteTask(context.Background(), f.task, nil)
	if err == nil {
		t.Fatal("Expected error when the item cannot be recorded")
	}
	if len(f.evaluator.seen) != 0 {
		t.Error("Expected evaluator not to run")
	}
}
