package status

import (
	"context"
	"fmt"

	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/task"
)

// Poller is the part of task.Executor the tracker reads.
type Poller interface {
	Poll(ctx context.Context, id string) (task.Result, error)
}

// TaskStatus is the view of one task.
type TaskStatus struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	State Phase  `json:"state" yaml:"state"`
	// Result holds the error text of a failed task.
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
	Kind   string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Tracker resolves task references to their status.
type Tracker struct {
	poller Poller
}

// NewTracker returns a Tracker polling p.
func NewTracker(p Poller) *Tracker {
	return &Tracker{poller: p}
}

// LastTask reports the task in ref. It returns nil when no task was recorded
// or the task succeeded, so callers only see work that needs attention.
func (t *Tracker) LastTask(ctx context.Context, ref model.TaskRef) (*TaskStatus, error) {
	if ref.Empty() {
		return nil, nil
	}
	st, err := t.Lookup(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if st.State == PhaseSucceeded {
		return nil, nil
	}
	st.Name = ref.Name
	return st, nil
}

// Lookup reports any task by id, including finished ones.
func (t *Tracker) Lookup(ctx context.Context, id string) (*TaskStatus, error) {
	r, err := t.poller.Poll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to poll task %s: %w", id, err)
	}
	st := &TaskStatus{
		ID:    id,
		Name:  string(r.Op),
		State: PhaseFor(r.State),
	}
	if r.State == task.StateFailure {
		st.Result = r.Error
		st.Kind = r.Kind
	}
	return st, nil
}
