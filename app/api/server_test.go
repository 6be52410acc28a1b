package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/registry"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

type fakeQueue struct {
	enqueued []string
	err      error
	runs     []tasks.RunState
}

func (f *fakeQueue) Enqueue(taskID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, taskID)
	return fmt.Sprintf("run-%d", len(f.enqueued)), nil
}

func (f *fakeQueue) Status() tasks.Snapshot {
	return tasks.Snapshot{QueueDepth: len(f.enqueued)}
}

func (f *fakeQueue) Runs() []tasks.RunState {
	return f.runs
}

func (f *fakeQueue) Run(runID string) (tasks.RunState, bool) {
	for _, run := range f.runs {
		if run.ID == runID {
			return run, true
		}
	}
	return tasks.RunState{}, false
}

type fakeRegistry struct {
	tasks []registry.Task
}

func (f *fakeRegistry) GetTasks() ([]registry.Task, error) {
	return f.tasks, nil
}

func (f *fakeRegistry) GetTask(taskID string) (*registry.Task, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			return &f.tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrTaskNotFound, taskID)
}

func (f *fakeRegistry) SaveTask(task registry.Task) (string, error) {
	if task.Name == "" {
		return "", fmt.Errorf("%w %s: name is required", registry.ErrInvalidTask, task.ID)
	}
	for i := range f.tasks {
		if f.tasks[i].ID == task.ID {
			f.tasks[i] = task
			return task.ID, nil
		}
	}
	f.tasks = append(f.tasks, task)
	return task.ID, nil
}

func (f *fakeRegistry) DeleteTask(taskID string) error {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", registry.ErrTaskNotFound, taskID)
}

type fakeStats struct{}

func (fakeStats) GetStats() (database.Stats, error) {
	return database.Stats{Items: 7}, nil
}

type fakeRescheduler struct {
	rebuilds int
}

func (f *fakeRescheduler) Rebuild() error {
	f.rebuilds++
	return nil
}

const testKey = "secret"

type testServer struct {
	queue     *fakeQueue
	registry  *fakeRegistry
	scheduler *fakeRescheduler
	handler   http.Handler
}

func newTestServer() *testServer {
	s := &testServer{
		queue: &fakeQueue{runs: []tasks.RunState{{ID: "r1", Name: "All tasks", Status: tasks.StatusCompleted}}},
		registry: &fakeRegistry{tasks: []registry.Task{
			{ID: "t1", Name: "Morning", Recipients: []string{"a@example.com"}},
			{ID: "t2", Name: "Evening"},
		}},
		scheduler: &fakeRescheduler{},
	}
	h := NewHandler(s.queue, s.registry, fakeStats{}, s.scheduler, "test")
	s.handler = NewServer(h, testKey)
	return s
}

func (s *testServer) do(method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set("X-API-Key", testKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) put(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_PublicEndpoints(t *testing.T) {
	s := newTestServer()

	for _, path := range []string{"/health", "/status", "/runs", "/runs/r1", "/metrics"} {
		if rec := s.do(http.MethodGet, path, false); rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}

	if rec := s.do(http.MethodGet, "/runs/nope", false); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/status", false)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["tasks"] != float64(2) {
		t.Errorf("Expected task count in status, got %v", body["tasks"])
	}
}

func TestServer_APIRequiresKey(t *testing.T) {
	s := newTestServer()

	if rec := s.do(http.MethodGet, "/api/tasks", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer key, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"Morning"`) {
		t.Errorf("Expected task list in body, got %s", rec.Body.String())
	}
}

func TestServer_RunTask(t *testing.T) {
	s := newTestServer()

	rec := s.do(http.MethodPost, "/api/tasks/t1/run", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	if len(s.queue.enqueued) != 1 || s.queue.enqueued[0] != "t1" {
		t.Errorf("Expected t1 enqueued, got %v", s.queue.enqueued)
	}

	if rec := s.do(http.MethodPost, "/api/tasks/missing/run", true); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", rec.Code)
	}

	if rec := s.do(http.MethodPost, "/api/run", true); rec.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for run all, got %d", rec.Code)
	}
	if s.queue.enqueued[1] != "" {
		t.Errorf("Expected empty selector for run all, got %q", s.queue.enqueued[1])
	}
}

func TestServer_RunWhenQueueClosed(t *testing.T) {
	s := newTestServer()
	s.queue.err = fmt.Errorf("shutting down: %w", tasks.ErrQueueClosed)

	if rec := s.do(http.MethodPost, "/api/run", true); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}

	s.queue.err = errors.New("run queue is full")
	if rec := s.do(http.MethodPost, "/api/run", true); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestServer_DeleteTask(t *testing.T) {
	s := newTestServer()

	if rec := s.do(http.MethodDelete, "/api/tasks/t2", true); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(s.registry.tasks) != 1 || s.scheduler.rebuilds != 1 {
		t.Errorf("Expected task removed and schedule rebuilt, got %d tasks, %d rebuilds", len(s.registry.tasks), s.scheduler.rebuilds)
	}

	if rec := s.do(http.MethodDelete, "/api/tasks/t2", true); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestServer_SaveTask(t *testing.T) {
	s := newTestServer()
	lastRun := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	s.registry.tasks[0].LastRun = &lastRun
	s.registry.tasks[0].RecipientsStatus = map[string]registry.RecipientStatus{
		"a@example.com": {Status: registry.StatusSuccess, LastSent: lastRun},
	}

	body := `{"name": "Morning brief", "feeds": [{"url": "https://example.com/feed.xml"}],
		"schedule": {"weeks": 1, "time": "07:30", "days": [0, 2]}, "recipients": ["a@example.com"],
		"last_run": "2020-01-01T00:00:00Z"}`
	rec := s.put("/api/tasks/t1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	saved := s.registry.tasks[0]
	if saved.ID != "t1" || saved.Name != "Morning brief" || saved.Schedule.Time != "07:30" {
		t.Errorf("Expected task replaced from body, got %+v", saved)
	}
	if saved.LastRun == nil || !saved.LastRun.Equal(lastRun) {
		t.Errorf("Expected stored last run to be kept, got %v", saved.LastRun)
	}
	if saved.RecipientsStatus["a@example.com"].Status != registry.StatusSuccess {
		t.Errorf("Expected recipient status to be kept, got %v", saved.RecipientsStatus)
	}
	if s.scheduler.rebuilds != 1 {
		t.Errorf("Expected schedule rebuilt once, got %d", s.scheduler.rebuilds)
	}

	rec = s.put("/api/tasks/t3", `{"name": "Weekend", "schedule": {"weeks": 2, "time": "10:00", "days": [5]}}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("Expected 201 for new task, got %d", rec.Code)
	}
	if len(s.registry.tasks) != 3 || s.registry.tasks[2].ID != "t3" || s.registry.tasks[2].LastRun != nil {
		t.Errorf("Expected t3 appended without run status, got %+v", s.registry.tasks)
	}

	if rec := s.put("/api/tasks/t4", `{"name": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid task, got %d", rec.Code)
	}
	if rec := s.put("/api/tasks/t4", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}
	if s.scheduler.rebuilds != 2 {
		t.Errorf("Expected no rebuild after rejected saves, got %d", s.scheduler.rebuilds)
	}
}
