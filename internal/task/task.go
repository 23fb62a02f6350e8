// Package task runs hearth's long operations in the background.
//
// A Request names an Op, a serialization Key and JSON arguments. Submit
// returns a task id immediately; Poll reports the task's State. Requests
// with the same Key never run concurrently.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Op names a background operation.
type Op string

const (
	OpCreateHost     Op = "create_host"
	OpDefineHost     Op = "define_host"
	OpHostAction     Op = "host_action"
	OpAttachDisk     Op = "attach_disk"
	OpDetachDisk     Op = "detach_disk"
	OpSaveDiskToBase Op = "save_disk_to_base"
	OpSnapshotCreate Op = "snapshot_create"
	OpSnapshotRevert Op = "snapshot_revert"
	OpSnapshotDelete Op = "snapshot_delete"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateRetry   State = "RETRY"
	StateFailure State = "FAILURE"
	StateSuccess State = "SUCCESS"
)

// Done reports whether s is terminal.
func (s State) Done() bool {
	return s == StateSuccess || s == StateFailure
}

// Request describes one unit of background work.
type Request struct {
	// ID, when set, becomes the task id. It lets a caller record the id
	// before the task is queued.
	ID string
	Op Op
	// Key serializes work: requests sharing a key run one at a time.
	Key  string
	Args json.RawMessage
}

// NewRequest encodes args as the request arguments.
func NewRequest(op Op, key string, args any) (Request, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode %s arguments: %w", op, err)
	}
	return Request{Op: op, Key: key, Args: raw}, nil
}

// Result is the recorded outcome of a task.
type Result struct {
	ID    string `json:"id"`
	Op    Op     `json:"op,omitempty"`
	Key   string `json:"key,omitempty"`
	State State  `json:"state"`
	// Error is the failure text when State is FAILURE.
	Error string `json:"error,omitempty"`
	// Kind is the errdefs kind of the failure, if any.
	Kind    string    `json:"kind,omitempty"`
	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// Handler executes one operation.
type Handler func(ctx context.Context, args json.RawMessage) error

// Executor accepts work and reports its progress.
type Executor interface {
	Submit(ctx context.Context, req Request) (string, error)
	// Poll reports the result of id. Unknown ids report StatePending.
	Poll(ctx context.Context, id string) (Result, error)
}

// Backend stores task results.
type Backend interface {
	Put(ctx context.Context, r Result) error
	// Get returns the result of id and whether it was found.
	Get(ctx context.Context, id string) (Result, bool, error)
}

// Decode unmarshals handler arguments into T.
func Decode[T any](args json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("failed to decode task arguments: %w", err)
	}
	return v, nil
}
