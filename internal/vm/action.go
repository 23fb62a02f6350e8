package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/store"
)

// HostActionArgs are the inputs of HostAction.
type HostActionArgs struct {
	VMID   string `json:"vm_id"`
	Action Action `json:"action"`
}

// HostAction applies a power or lifecycle action:
//   - start: always starts the domain
//   - shutdown: graceful shutdown, only when running
//   - destroy: force stop unless already shut off
//   - reboot: always
//   - sync: redefine the domain from the rows
//   - delete: tear everything down (see deleteHost)
func (s *Service) HostAction(ctx context.Context, args HostActionArgs) error {
	if args.Action == ActionSync {
		return s.DefineHost(ctx, args.VMID)
	}

	vm, err := s.store.GetVM(ctx, args.VMID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("vm_id", vm.ID), zap.String("action", args.Action.String()))

	switch args.Action {
	case ActionStart:
		return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
			log.Info("starting domain")
			return hvlibvirt.Wrap(lv.DomainCreate(dom), "failed to start %s", vm.InstanceName)
		})
	case ActionShutdown:
		return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
			state, err := domainState(lv, dom)
			if err != nil {
				return err
			}
			if state != StateRunning {
				log.Info("domain not running, skipping shutdown", zap.Stringer("state", state))
				return nil
			}
			log.Info("shutting down domain")
			return hvlibvirt.Wrap(lv.DomainShutdown(dom), "failed to shut down %s", vm.InstanceName)
		})
	case ActionDestroy:
		return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
			state, err := domainState(lv, dom)
			if err != nil {
				return err
			}
			if state == StateShutOff {
				log.Info("domain already shut off")
				return nil
			}
			log.Info("destroying domain")
			return hvlibvirt.Wrap(lv.DomainDestroy(dom), "failed to destroy %s", vm.InstanceName)
		})
	case ActionReboot:
		return s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
			log.Info("rebooting domain")
			return hvlibvirt.Wrap(lv.DomainReboot(dom, libvirt.DomainRebootDefault), "failed to reboot %s", vm.InstanceName)
		})
	case ActionDelete:
		return s.deleteHost(ctx, vm, log)
	default:
		return errdefs.InvalidArgument("unknown action %d", int(args.Action))
	}
}

// deleteHost tears a VM down. The order is:
//  1. Delete every snapshot, force stop if running, undefine (a missing
//     domain counts as already gone)
//  2. Remove the disk files and the data directory
//  3. Soft-delete the VM and its child rows and release the display port
//     in one transaction
//
// File removal is best-effort; failures are logged and the delete goes on.
func (s *Service) deleteHost(ctx context.Context, vm *model.VM, log *zap.Logger) error {
	err := s.withOptionalDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain, found bool) error {
		if !found {
			log.Info("domain already gone")
			return nil
		}

		snaps, _, err := lv.DomainListAllSnapshots(dom, 1, 0)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to list snapshots of %s", vm.InstanceName)
		}
		for _, snap := range snaps {
			log.Info("deleting snapshot", zap.String("snapshot", snap.Name))
			if err := lv.DomainSnapshotDelete(snap, 0); err != nil {
				return hvlibvirt.Wrap(err, "failed to delete snapshot %s", snap.Name)
			}
		}

		state, err := domainState(lv, dom)
		if err != nil {
			return err
		}
		if state.Live() {
			log.Info("force stopping domain", zap.Stringer("state", state))
			if err := lv.DomainDestroy(dom); err != nil {
				return hvlibvirt.Wrap(err, "failed to destroy %s", vm.InstanceName)
			}
		}

		log.Info("undefining domain")
		if err := lv.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
			return hvlibvirt.Wrap(err, "failed to undefine %s", vm.InstanceName)
		}
		return nil
	})
	if err != nil {
		return err
	}

	vols, err := s.store.ListVolumes(ctx, vm.ID)
	if err != nil {
		return err
	}
	for _, v := range vols {
		if v.IsCDROM() {
			continue
		}
		if err := s.disks.Remove(v.Path); err != nil {
			log.Warn("failed to remove disk file", zap.String("path", v.Path), zap.Error(err))
		}
	}
	if err := s.disks.RemoveVMDir(vm.InstanceName); err != nil {
		log.Warn("failed to remove data directory", zap.Error(err))
	}

	err = s.store.Tx(ctx, func(tx store.Store) error {
		return softDeleteVM(ctx, tx, vm)
	})
	if err != nil {
		return fmt.Errorf("failed to delete VM rows: %w", err)
	}
	log.Info("VM deleted", zap.Int("vnc_port", vm.VNCPort))
	return nil
}

func softDeleteVM(ctx context.Context, tx store.Store, vm *model.VM) error {
	snaps, err := tx.ListSnapshots(ctx, vm.ID)
	if err != nil {
		return err
	}
	for i := range snaps {
		if err := tx.SoftDeleteSnapshot(ctx, &snaps[i]); err != nil {
			return err
		}
	}
	vols, err := tx.ListVolumes(ctx, vm.ID)
	if err != nil {
		return err
	}
	for i := range vols {
		if err := tx.SoftDeleteVolume(ctx, &vols[i]); err != nil {
			return err
		}
	}
	ifaces, err := tx.ListInterfaces(ctx, vm.ID)
	if err != nil {
		return err
	}
	for i := range ifaces {
		if err := tx.SoftDeleteInterface(ctx, &ifaces[i]); err != nil {
			return err
		}
	}
	if err := tx.SoftDeleteVM(ctx, vm); err != nil {
		return err
	}
	if vm.VNCPort > 0 {
		return tx.ReleasePort(ctx, vm.VNCPort)
	}
	return nil
}

// DomainState reports the live state of a VM's domain. A missing domain is
// StateNoState.
func (s *Service) DomainState(ctx context.Context, vmID string) (DomainState, error) {
	vm, err := s.store.GetVM(ctx, vmID)
	if err != nil {
		return StateNoState, err
	}
	state := StateNoState
	err = s.withOptionalDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain, found bool) error {
		if !found {
			return nil
		}
		var err error
		state, err = domainState(lv, dom)
		return err
	})
	return state, err
}
