package tasks

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

func isAllowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCanceled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCanceled
	default:
		return false
	}
}

// RunState tracks one accepted run request. TaskID is empty for runs that
// cover all tasks.
type RunState struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	TaskID    string     `json:"task_id,omitempty"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (r RunState) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.EndedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

func (r RunState) clone() RunState {
	c := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return c
}

type runUpdate struct {
	status   *Status
	progress *int
	message  *string
	err      *string
}

type UpdateOption func(*runUpdate)

func WithStatus(s Status) UpdateOption {
	return func(u *runUpdate) { u.status = &s }
}

func WithProgress(p int) UpdateOption {
	return func(u *runUpdate) { u.progress = &p }
}

func WithMessage(m string) UpdateOption {
	return func(u *runUpdate) { u.message = &m }
}

func WithError(e string) UpdateOption {
	return func(u *runUpdate) { u.err = &e }
}

// apply mutates the run in place. Re-applying the current status is a no-op;
// any other transition out of a terminal status is rejected.
func (r *RunState) apply(u runUpdate, now time.Time) error {
	if u.status != nil && *u.status != r.Status {
		if !isAllowedTransition(r.Status, *u.status) {
			return fmt.Errorf("invalid run transition %s -> %s", r.Status, *u.status)
		}
		r.Status = *u.status
		if r.Status == StatusRunning && r.StartedAt == nil {
			r.StartedAt = &now
		}
		if r.Status.IsTerminal() {
			r.EndedAt = &now
		}
	}
	if u.progress != nil {
		r.Progress = min(max(*u.progress, 0), 100)
	}
	if u.message != nil {
		r.Message = *u.message
	}
	if u.err != nil {
		r.Error = *u.err
	}
	return nil
}
