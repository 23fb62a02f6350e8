package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
)

// SnapshotArgs identify the snapshot row a snapshot operation works on.
type SnapshotArgs struct {
	SnapshotID string `json:"snapshot_id"`
}

// SnapshotCreate takes a hypervisor snapshot of every active disk, with
// memory when the domain is running, and records the parent and state the
// hypervisor reports. On any failure the snapshot row is soft-deleted
// before the error is returned.
func (s *Service) SnapshotCreate(ctx context.Context, args SnapshotArgs) (err error) {
	snap, err := s.store.GetSnapshot(ctx, args.SnapshotID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("vm_id", snap.VMID), zap.String("snapshot_id", snap.ID))

	defer func() {
		if err == nil {
			return
		}
		if derr := s.store.SoftDeleteSnapshot(cleanupCtx(ctx), snap); derr != nil {
			log.Warn("failed to remove snapshot row after failed create", zap.Error(derr))
		}
	}()

	vm, err := s.store.GetVM(ctx, snap.VMID)
	if err != nil {
		return err
	}
	vols, err := s.store.ListVolumes(ctx, vm.ID)
	if err != nil {
		return err
	}
	if snap.InstanceName == "" {
		snap.InstanceName = naming.SnapshotName(snap.ID)
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to name snapshot: %w", err)
		}
	}

	var info *hvlibvirt.SnapshotInfo
	err = s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
		state, err := domainState(lv, dom)
		if err != nil {
			return err
		}
		xml, err := hvlibvirt.RenderSnapshot(snap, state == StateRunning, vols)
		if err != nil {
			return err
		}

		log.Info("creating snapshot", zap.String("name", snap.InstanceName), zap.Bool("memory", state == StateRunning))
		ds, err := lv.DomainSnapshotCreateXML(dom, xml, 0)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to create snapshot %s", snap.InstanceName)
		}
		desc, err := lv.DomainSnapshotGetXMLDesc(ds, 0)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to read snapshot %s", snap.InstanceName)
		}
		info, err = hvlibvirt.ParseSnapshot(desc)
		return err
	})
	if err != nil {
		return err
	}

	// the parent is immutable once recorded
	var parent *string
	if info.Parent != "" && snap.Parent == nil {
		parent = &info.Parent
	}
	if err := s.store.RecordSnapshotState(ctx, snap.ID, parent, info.State); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// SnapshotRevert reverts the domain to a snapshot.
func (s *Service) SnapshotRevert(ctx context.Context, args SnapshotArgs) error {
	snap, vm, err := s.loadSnapshot(ctx, args.SnapshotID)
	if err != nil {
		return err
	}
	return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
		ds, err := lv.DomainSnapshotLookupByName(dom, snap.InstanceName, 0)
		if err != nil {
			if hvlibvirt.IsSnapshotNotFound(err) {
				return errNotOwned("snapshot", snap.InstanceName, vm.ID)
			}
			return hvlibvirt.Wrap(err, "failed to look up snapshot %s", snap.InstanceName)
		}
		s.log.Info("reverting to snapshot", zap.String("vm_id", vm.ID), zap.String("name", snap.InstanceName))
		return hvlibvirt.Wrap(lv.DomainRevertToSnapshot(ds, 0), "failed to revert to %s", snap.InstanceName)
	})
}

// SnapshotDelete deletes the hypervisor snapshot and soft-deletes its row.
// A snapshot already missing on the hypervisor only loses its row.
func (s *Service) SnapshotDelete(ctx context.Context, args SnapshotArgs) error {
	snap, vm, err := s.loadSnapshot(ctx, args.SnapshotID)
	if err != nil {
		return err
	}
	err = s.withOptionalDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain, found bool) error {
		if !found {
			return nil
		}
		ds, err := lv.DomainSnapshotLookupByName(dom, snap.InstanceName, 0)
		if hvlibvirt.IsSnapshotNotFound(err) {
			s.log.Info("snapshot already gone", zap.String("name", snap.InstanceName))
			return nil
		}
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to look up snapshot %s", snap.InstanceName)
		}
		return hvlibvirt.Wrap(lv.DomainSnapshotDelete(ds, 0), "failed to delete snapshot %s", snap.InstanceName)
	})
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to delete snapshot row: %w", err)
	}
	return nil
}

func (s *Service) loadSnapshot(ctx context.Context, id string) (*model.Snapshot, *model.VM, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	vm, err := s.store.GetVM(ctx, snap.VMID)
	if err != nil {
		return nil, nil, err
	}
	return snap, vm, nil
}
