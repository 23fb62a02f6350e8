package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/alloc"
	"github.com/jbweber/hearth/internal/errdefs"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
)

// AttachDiskArgs are the inputs of AttachDisk.
type AttachDiskArgs struct {
	VMID   string `json:"vm_id"`
	SizeGB int    `json:"size_gb"`
}

// AttachDisk creates an empty disk image and attaches it to the VM on the
// next free disk device. The device is hot-plugged only when the domain is
// running; the domain is redefined either way.
func (s *Service) AttachDisk(ctx context.Context, args AttachDiskArgs) error {
	if args.SizeGB <= 0 {
		return errdefs.InvalidArgument("disk size must be positive, got %d", args.SizeGB)
	}
	vm, vols, _, err := s.loadVM(ctx, args.VMID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("vm_id", vm.ID))

	dev, err := alloc.DiskDevices().Next(devices(vols))
	if err != nil {
		return err
	}
	if _, err := s.disks.EnsureVMDir(vm.InstanceName); err != nil {
		return err
	}
	file, err := alloc.DataDiskFiles().NextFunc(func(c string) (bool, error) {
		return s.disks.Exists(s.disks.Path(vm.InstanceName, c))
	})
	if err != nil {
		return fmt.Errorf("failed to pick disk file: %w", err)
	}
	path := s.disks.Path(vm.InstanceName, file)

	log.Info("creating disk", zap.String("path", path), zap.String("device", dev), zap.Int("size_gb", args.SizeGB))
	if err := s.disks.CreateImage(ctx, path, args.SizeGB); err != nil {
		return err
	}

	vol := model.Volume{VMID: vm.ID, Kind: model.VolumeDisk, Device: dev, Bus: model.BusVirtio, Path: path}
	err = s.withOptionalDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain, found bool) error {
		if !found {
			return nil
		}
		state, err := domainState(lv, dom)
		if err != nil || state != StateRunning {
			return err
		}
		xml, err := hvlibvirt.RenderDisk(&vol)
		if err != nil {
			return err
		}
		log.Info("hot-attaching disk", zap.String("device", dev))
		return hvlibvirt.Wrap(lv.DomainAttachDevice(dom, xml), "failed to attach %s to %s", dev, vm.InstanceName)
	})
	if err != nil {
		if rmErr := s.disks.Remove(path); rmErr != nil {
			log.Warn("failed to remove disk after failed attach", zap.String("path", path), zap.Error(rmErr))
		}
		return err
	}

	if err := s.store.SaveVolume(ctx, &vol); err != nil {
		return fmt.Errorf("failed to save volume: %w", err)
	}
	return s.DefineHost(ctx, vm.ID)
}

// DetachDiskArgs are the inputs of DetachDisk.
type DetachDiskArgs struct {
	VMID     string `json:"vm_id"`
	VolumeID string `json:"volume_id"`
}

// DetachDisk removes a volume from the VM. Optical media cannot be removed
// from a running domain: that is a Conflict raised before any hypervisor
// change. Disk files are deleted; ISO files are left alone.
func (s *Service) DetachDisk(ctx context.Context, args DetachDiskArgs) error {
	vm, err := s.store.GetVM(ctx, args.VMID)
	if err != nil {
		return err
	}
	vol, err := s.volumeOf(ctx, vm, args.VolumeID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("vm_id", vm.ID), zap.String("device", vol.Device))

	err = s.withOptionalDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain, found bool) error {
		if !found {
			return nil
		}
		state, err := domainState(lv, dom)
		if err != nil || state != StateRunning {
			return err
		}
		if vol.IsCDROM() {
			return errdefs.Conflict("cdrom %s cannot be detached while VM %s is running", vol.Device, vm.ID)
		}
		xml, err := hvlibvirt.RenderDisk(vol)
		if err != nil {
			return err
		}
		log.Info("hot-detaching disk")
		return hvlibvirt.Wrap(lv.DomainDetachDevice(dom, xml), "failed to detach %s from %s", vol.Device, vm.InstanceName)
	})
	if err != nil {
		return err
	}

	if !vol.IsCDROM() {
		if err := s.disks.Remove(vol.Path); err != nil {
			return err
		}
	}
	if err := s.store.SoftDeleteVolume(ctx, vol); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}
	return s.DefineHost(ctx, vm.ID)
}

// SaveDiskArgs are the inputs of SaveDiskToBase.
type SaveDiskArgs struct {
	VMID     string `json:"vm_id"`
	VolumeID string `json:"volume_id"`
	Name     string `json:"name"`
}

// SaveDiskToBase copies a disk into the base image store as
// "<stem>.qcow2". A running domain is suspended for the copy and resumed on
// every exit path; a resume failure is joined into the returned error.
func (s *Service) SaveDiskToBase(ctx context.Context, args SaveDiskArgs) error {
	vm, err := s.store.GetVM(ctx, args.VMID)
	if err != nil {
		return err
	}
	vol, err := s.volumeOf(ctx, vm, args.VolumeID)
	if err != nil {
		return err
	}
	if vol.IsCDROM() {
		return errdefs.Conflict("cdrom %s cannot be saved as a base image", vol.Device)
	}

	dst, err := s.catalog.BaseImagePath(args.Name)
	if err != nil {
		return err
	}
	exists, err := s.catalog.BaseImageExists(args.Name)
	if err != nil {
		return err
	}
	if exists {
		return errdefs.Conflict("base image %s already exists", args.Name)
	}

	return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) (err error) {
		resume, err := pauseIfRunning(lv, dom)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, resume())
		}()

		s.log.Info("saving disk to base", zap.String("vm_id", vm.ID), zap.String("src", vol.Path), zap.String("dst", dst))
		return s.disks.CopyFile(ctx, vol.Path, dst)
	})
}
