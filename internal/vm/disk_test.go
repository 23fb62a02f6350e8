package vm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
)

func TestAttachDisk_NextDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	vm := env.newVM(t)
	env.addVolume(t, vm, model.VolumeDisk, "vda", filepath.Join("/data", vm.InstanceName, "base.qcow2"))

	require.NoError(t, env.svc.AttachDisk(ctx, AttachDiskArgs{VMID: vm.ID, SizeGB: 10}))

	wantPath := filepath.Join("/data", vm.InstanceName, "disk0.qcow2")
	assert.Equal(t, 10, env.disks.images[wantPath])

	vols, err := env.store.ListVolumes(ctx, vm.ID)
	require.NoError(t, err)
	require.Len(t, vols, 2)
	var added model.Volume
	for _, v := range vols {
		if v.Path == wantPath {
			added = v
		}
	}
	assert.Equal(t, "vdb", added.Device)
	assert.Equal(t, model.BusVirtio, added.Bus)

	assert.Empty(t, env.lv.domainAttachDeviceCalls, "stopped domains are not hot-plugged")
	assert.Len(t, env.lv.domainDefineXMLCalls, 1)
}

func TestAttachDisk_HotPlugWhenRunning(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	env.lv.state = StateRunning

	require.NoError(t, env.svc.AttachDisk(context.Background(), AttachDiskArgs{VMID: vm.ID, SizeGB: 1}))

	require.Len(t, env.lv.domainAttachDeviceCalls, 1)
	var disk libvirtxml.DomainDisk
	require.NoError(t, disk.Unmarshal(env.lv.domainAttachDeviceCalls[0]))
	assert.Equal(t, "vda", disk.Target.Dev)
}

func TestAttachDisk_HotPlugFailureRemovesFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	vm := env.newVM(t)
	env.lv.state = StateRunning
	env.lv.domainAttachDeviceFunc = func(libvirt.Domain, string) error {
		return errors.New("bus full")
	}

	err := env.svc.AttachDisk(ctx, AttachDiskArgs{VMID: vm.ID, SizeGB: 1})
	assert.ErrorIs(t, err, errdefs.ErrHypervisor)

	wantPath := filepath.Join("/data", vm.InstanceName, "disk0.qcow2")
	assert.Equal(t, []string{wantPath}, env.disks.removeCalls)
	vols, err := env.store.ListVolumes(ctx, vm.ID)
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func TestAttachDisk_Validation(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)

	err := env.svc.AttachDisk(context.Background(), AttachDiskArgs{VMID: vm.ID, SizeGB: 0})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	assert.Empty(t, env.disks.images)
}

func TestAttachDisk_DevicesExhausted(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	for c := 'a'; c <= 'z'; c++ {
		dev := "vd" + string(c)
		env.addVolume(t, vm, model.VolumeDisk, dev, "/data/"+dev)
	}

	err := env.svc.AttachDisk(context.Background(), AttachDiskArgs{VMID: vm.ID, SizeGB: 1})
	assert.ErrorIs(t, err, errdefs.ErrResourceExhausted)
	assert.Empty(t, env.disks.images)
}

func TestDetachDisk(t *testing.T) {
	tests := []struct {
		name      string
		kind      model.VolumeKind
		state     DomainState
		wantErr   error
		hotDetach bool
		removed   bool
	}{
		{name: "disk from stopped VM", kind: model.VolumeDisk, state: StateShutOff, removed: true},
		{name: "disk from running VM", kind: model.VolumeDisk, state: StateRunning, hotDetach: true, removed: true},
		{name: "cdrom from stopped VM", kind: model.VolumeCDROM, state: StateShutOff},
		{name: "cdrom from running VM", kind: model.VolumeCDROM, state: StateRunning, wantErr: errdefs.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			vm := env.newVM(t)
			env.lv.state = tt.state

			dev, path := "vdb", filepath.Join("/data", vm.InstanceName, "disk0.qcow2")
			if tt.kind == model.VolumeCDROM {
				dev, path = "hda", "/isos/install.iso"
			}
			vol := env.addVolume(t, vm, tt.kind, dev, path)

			err := env.svc.DetachDisk(ctx, DetachDiskArgs{VMID: vm.ID, VolumeID: vol.ID})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, env.lv.domainDetachDeviceCalls)
				assert.Empty(t, env.lv.domainDefineXMLCalls)
				_, err := env.store.GetVolume(ctx, vol.ID)
				assert.NoError(t, err, "volume row survives a refused detach")
				return
			}
			require.NoError(t, err)

			if tt.hotDetach {
				assert.Len(t, env.lv.domainDetachDeviceCalls, 1)
			} else {
				assert.Empty(t, env.lv.domainDetachDeviceCalls)
			}
			if tt.removed {
				assert.Equal(t, []string{path}, env.disks.removeCalls)
			} else {
				assert.Empty(t, env.disks.removeCalls)
			}
			_, err = env.store.GetVolume(ctx, vol.ID)
			assert.ErrorIs(t, err, errdefs.ErrNotFound)
			assert.Len(t, env.lv.domainDefineXMLCalls, 1)
		})
	}
}

func TestDetachDisk_OtherVMsVolume(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	other := env.newVM(t)
	vol := env.addVolume(t, other, model.VolumeDisk, "vda", "/data/other/base.qcow2")

	err := env.svc.DetachDisk(context.Background(), DetachDiskArgs{VMID: vm.ID, VolumeID: vol.ID})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Empty(t, env.disks.removeCalls)
}

func TestSaveDiskToBase(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	env.lv.state = StateRunning
	vol := env.addVolume(t, vm, model.VolumeDisk, "vda", "/data/x/base.qcow2")

	env.disks.copyFileFunc = func(src, dst string) error {
		assert.Equal(t, StatePaused, env.lv.state, "domain is paused during the copy")
		return nil
	}

	err := env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: vol.ID, Name: "golden.img"})
	require.NoError(t, err)

	require.Len(t, env.disks.copies, 1)
	assert.Equal(t, [2]string{"/data/x/base.qcow2", "/base/golden.qcow2"}, env.disks.copies[0])
	assert.Equal(t, 1, env.lv.domainSuspendCalls)
	assert.Equal(t, 1, env.lv.domainResumeCalls)
	assert.Equal(t, StateRunning, env.lv.state)
}

func TestSaveDiskToBase_ResumesOnCopyFailure(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	env.lv.state = StateRunning
	vol := env.addVolume(t, vm, model.VolumeDisk, "vda", "/data/x/base.qcow2")
	env.disks.copyFileFunc = func(string, string) error { return errors.New("disk full") }

	err := env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: vol.ID, Name: "golden"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, env.lv.domainResumeCalls)
	assert.Equal(t, StateRunning, env.lv.state)
}

func TestSaveDiskToBase_ResumeFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	env.lv.state = StateRunning
	vol := env.addVolume(t, vm, model.VolumeDisk, "vda", "/data/x/base.qcow2")
	env.lv.domainResumeFunc = func(libvirt.Domain) error { return errors.New("qemu crashed") }

	err := env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: vol.ID, Name: "golden"})
	assert.ErrorIs(t, err, errdefs.ErrHypervisor)
	assert.Contains(t, err.Error(), "resume")
}

func TestSaveDiskToBase_StoppedVMNotSuspended(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	vol := env.addVolume(t, vm, model.VolumeDisk, "vda", "/data/x/base.qcow2")

	require.NoError(t, env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: vol.ID, Name: "golden"}))
	assert.Zero(t, env.lv.domainSuspendCalls)
	assert.Zero(t, env.lv.domainResumeCalls)
}

func TestSaveDiskToBase_Refusals(t *testing.T) {
	env := newTestEnv(t)
	vm := env.newVM(t)
	disk := env.addVolume(t, vm, model.VolumeDisk, "vda", "/data/x/base.qcow2")
	cdrom := env.addVolume(t, vm, model.VolumeCDROM, "hda", "/isos/install.iso")

	err := env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: disk.ID, Name: "base.img"})
	assert.ErrorIs(t, err, errdefs.ErrConflict, "base.qcow2 already exists")

	err = env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: cdrom.ID, Name: "fresh"})
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	err = env.svc.SaveDiskToBase(context.Background(), SaveDiskArgs{VMID: vm.ID, VolumeID: disk.ID, Name: "../etc"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	assert.Empty(t, env.disks.copies)
	assert.Zero(t, env.lv.domainSuspendCalls)
}
