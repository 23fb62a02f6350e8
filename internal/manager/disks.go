package manager

import (
	"context"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

// AttachDisk dispatches creation of a new empty disk of sizeGB.
func (m *Manager) AttachDisk(ctx context.Context, vmID string, sizeGB int) (string, error) {
	if sizeGB <= 0 {
		return "", errdefs.InvalidArgument("disk size must be positive, got %d", sizeGB)
	}
	if _, err := m.store.GetVM(ctx, vmID); err != nil {
		return "", err
	}
	return m.dispatch(ctx, dispatch{
		op:    task.OpAttachDisk,
		label: status.LabelAttachDisk,
		vmID:  vmID,
		args:  vm.AttachDiskArgs{VMID: vmID, SizeGB: sizeGB},
	})
}

// DetachDisk dispatches removal of a volume.
func (m *Manager) DetachDisk(ctx context.Context, vmID, volumeID string) (string, error) {
	if _, err := m.volumeOf(ctx, vmID, volumeID); err != nil {
		return "", err
	}
	return m.dispatch(ctx, dispatch{
		op:    task.OpDetachDisk,
		label: status.LabelDetachDisk,
		vmID:  vmID,
		args:  vm.DetachDiskArgs{VMID: vmID, VolumeID: volumeID},
	})
}

// SaveDiskToBase dispatches copying a disk into the base image store.
func (m *Manager) SaveDiskToBase(ctx context.Context, vmID, volumeID, name string) (string, error) {
	vol, err := m.volumeOf(ctx, vmID, volumeID)
	if err != nil {
		return "", err
	}
	if vol.IsCDROM() {
		return "", errdefs.Conflict("cdrom %s cannot be saved as a base image", vol.Device)
	}
	if _, err := naming.BaseImageName(name); err != nil {
		return "", err
	}
	return m.dispatch(ctx, dispatch{
		op:    task.OpSaveDiskToBase,
		label: status.LabelSaveDiskToBase,
		vmID:  vmID,
		args:  vm.SaveDiskArgs{VMID: vmID, VolumeID: volumeID, Name: name},
	})
}

func (m *Manager) volumeOf(ctx context.Context, vmID, volumeID string) (*model.Volume, error) {
	if _, err := m.store.GetVM(ctx, vmID); err != nil {
		return nil, err
	}
	vol, err := m.store.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if vol.VMID != vmID {
		return nil, errdefs.NotFound("volume %s not found on VM %s", volumeID, vmID)
	}
	return vol, nil
}
