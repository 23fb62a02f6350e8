package manager

import (
	"context"
	"strings"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/store"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

// CreateSnapshotRequest describes a new snapshot.
type CreateSnapshotRequest struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CreateSnapshot saves the snapshot row and dispatches the hypervisor
// snapshot. The task is recorded on both the snapshot and its VM.
func (m *Manager) CreateSnapshot(ctx context.Context, vmID string, req CreateSnapshotRequest) (*SnapshotView, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errdefs.InvalidArgument("snapshot name is required")
	}
	if _, err := m.store.GetVM(ctx, vmID); err != nil {
		return nil, err
	}

	snap := &model.Snapshot{VMID: vmID, Name: req.Name, Description: req.Description}
	snap.EnsureID()
	snap.InstanceName = naming.SnapshotName(snap.ID)

	_, err := m.dispatch(ctx, dispatch{
		op:         task.OpSnapshotCreate,
		label:      status.LabelSnapshotCreate,
		vmID:       vmID,
		snapshotID: snap.ID,
		args:       vm.SnapshotArgs{SnapshotID: snap.ID},
		prepare: func(tx store.Store) error {
			return tx.SaveSnapshot(ctx, snap)
		},
		undo: func(ctx context.Context) error {
			return m.store.SoftDeleteSnapshot(ctx, snap)
		},
	})
	if err != nil {
		return nil, err
	}
	return m.GetSnapshot(ctx, snap.ID)
}

// RevertSnapshot dispatches a revert to the snapshot.
func (m *Manager) RevertSnapshot(ctx context.Context, snapshotID string) (string, error) {
	return m.snapshotTask(ctx, snapshotID, task.OpSnapshotRevert, status.LabelSnapshotRevert)
}

// DeleteSnapshot dispatches deletion of the snapshot.
func (m *Manager) DeleteSnapshot(ctx context.Context, snapshotID string) (string, error) {
	return m.snapshotTask(ctx, snapshotID, task.OpSnapshotDelete, status.LabelSnapshotDelete)
}

func (m *Manager) snapshotTask(ctx context.Context, snapshotID string, op task.Op, label string) (string, error) {
	snap, err := m.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return "", err
	}
	return m.dispatch(ctx, dispatch{
		op:         op,
		label:      label,
		vmID:       snap.VMID,
		snapshotID: snap.ID,
		args:       vm.SnapshotArgs{SnapshotID: snap.ID},
	})
}
