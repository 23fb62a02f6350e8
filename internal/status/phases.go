// Package status reports the progress of the last task dispatched for a VM
// or snapshot in caller vocabulary.
package status

import "github.com/jbweber/hearth/internal/task"

// Phase is the caller-facing state of a task.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseStarted   Phase = "started"
	PhaseRetrying  Phase = "retrying"
	PhaseFailed    Phase = "failed"
	PhaseSucceeded Phase = "succeeded"
)

// PhaseFor maps an executor state to a Phase. Unknown states are pending.
func PhaseFor(s task.State) Phase {
	switch s {
	case task.StateStarted:
		return PhaseStarted
	case task.StateRetry:
		return PhaseRetrying
	case task.StateFailure:
		return PhaseFailed
	case task.StateSuccess:
		return PhaseSucceeded
	default:
		return PhasePending
	}
}

// IsTerminal returns true if the phase will not change again.
func IsTerminal(p Phase) bool {
	return p == PhaseFailed || p == PhaseSucceeded
}

// Task labels stored in the last task slot.
const (
	LabelCreate         = "create"
	LabelReconfigure    = "reconfigure"
	LabelDelete         = "delete VM"
	LabelStart          = "start"
	LabelShutdown       = "shutdown"
	LabelDestroy        = "destroy"
	LabelReboot         = "reboot"
	LabelSync           = "sync"
	LabelAttachDisk     = "attach disk"
	LabelDetachDisk     = "detach disk"
	LabelSaveDiskToBase = "save disk to base"
	LabelSnapshotCreate = "create snapshot"
	LabelSnapshotRevert = "revert snapshot"
	LabelSnapshotDelete = "delete snapshot"
	LabelXMLUpdate      = "update XML"
)
