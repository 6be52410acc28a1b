package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

// Registry owns the task definitions document. Every write is a full
// read-modify-write of the file under a lock, replaced atomically by rename.
type Registry struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Registry {
	return &Registry{path: path}
}

func (r *Registry) Path() string {
	return r.path
}

// GetTasks returns the tasks in document order.
func (r *Registry) GetTasks() ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}

func (r *Registry) GetTask(taskID string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	for i := range doc.Tasks {
		if doc.Tasks[i].ID == taskID {
			return &doc.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// SaveTask inserts or replaces a task by id. A task without an id gets a
// new one, which is returned.
func (r *Registry) SaveTask(task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if err := validateTask(&task); err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrInvalidTask, task.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return "", err
	}

	replaced := false
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == task.ID {
			doc.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Tasks = append(doc.Tasks, task)
	}

	if err := r.store(doc); err != nil {
		return "", err
	}

	slog.Debug("Task saved", "task", task.ID, "name", task.Name, "created", !replaced)
	return task.ID, nil
}

func (r *Registry) DeleteTask(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	for i := range doc.Tasks {
		if doc.Tasks[i].ID == taskID {
			doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
			return r.store(doc)
		}
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// Update re-reads the task, applies fn to it and persists the result in one
// locked step, so concurrent writers merge instead of overwriting each other.
func (r *Registry) Update(taskID string, fn func(*Task) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	for i := range doc.Tasks {
		if doc.Tasks[i].ID != taskID {
			continue
		}
		if err := fn(&doc.Tasks[i]); err != nil {
			return err
		}
		doc.Tasks[i].ID = taskID
		return r.store(doc)
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// RemoveRecipient drops an address (case-insensitive) from a task's
// recipients and recipients_status. It reports whether anything changed.
func (r *Registry) RemoveRecipient(taskID, email string) (bool, error) {
	removed := false
	err := r.Update(taskID, func(t *Task) error {
		kept := t.Recipients[:0]
		for _, rcpt := range t.Recipients {
			if strings.EqualFold(strings.TrimSpace(rcpt), strings.TrimSpace(email)) {
				removed = true
				continue
			}
			kept = append(kept, rcpt)
		}
		t.Recipients = kept
		for key := range t.RecipientsStatus {
			if strings.EqualFold(key, strings.TrimSpace(email)) {
				delete(t.RecipientsStatus, key)
			}
		}
		return nil
	})
	return removed, err
}

func (r *Registry) load() (*Document, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}

	for i := range doc.Tasks {
		if err := validateTask(&doc.Tasks[i]); err != nil {
			return nil, fmt.Errorf("invalid task %q in %s: %w", doc.Tasks[i].ID, r.path, err)
		}
	}

	return &doc, nil
}

func (r *Registry) store(doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode tasks file: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace tasks file: %w", err)
	}
	return nil
}

func validateTask(t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Schedule.Weeks < 1 {
		t.Schedule.Weeks = 1
	}
	if len(t.Schedule.Days) > 0 {
		if _, err := time.Parse("15:04", t.Schedule.Time); err != nil {
			return fmt.Errorf("schedule time %q must be HH:MM", t.Schedule.Time)
		}
	}
	for _, d := range t.Schedule.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("schedule day %d out of range 0-6", d)
		}
	}
	for i, f := range t.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("feed %d has no url", i)
		}
		switch f.Type {
		case "", FeedTypeRSS, FeedTypeWeChat:
		default:
			return fmt.Errorf("feed %s has unknown type %q", f.URL, f.Type)
		}
	}
	return nil
}
