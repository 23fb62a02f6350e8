package vm

import (
	"context"
	"io"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/store"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Connector *hvlibvirt.Connector
	Disks     diskManager
	Catalog   imageCatalog
	Log       *zap.Logger
	// Rand feeds MAC generation. Nil means crypto/rand.
	Rand io.Reader
}

// Service runs the VM operations. Every hypervisor call goes through a
// connection opened for that operation alone.
type Service struct {
	store   store.Store
	do      func(ctx context.Context, fn func(lv libvirtClient) error) error
	disks   diskManager
	catalog imageCatalog
	log     *zap.Logger
	rand    io.Reader
}

// New builds a Service from deps.
func New(deps Deps) *Service {
	cn := deps.Connector
	do := func(ctx context.Context, fn func(lv libvirtClient) error) error {
		return cn.Do(ctx, func(l *libvirt.Libvirt) error { return fn(l) })
	}
	return newWithDeps(deps.Store, do, deps.Disks, deps.Catalog, deps.Rand, deps.Log)
}

// newWithDeps builds a Service with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func newWithDeps(st store.Store, do func(context.Context, func(libvirtClient) error) error, dm diskManager, cat imageCatalog, r io.Reader, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   st,
		do:      do,
		disks:   dm,
		catalog: cat,
		log:     log,
		rand:    r,
	}
}

// withDomain runs fn with the VM's domain. A missing domain is NotFound.
func (s *Service) withDomain(ctx context.Context, vm *model.VM, fn func(lv libvirtClient, dom libvirt.Domain) error) error {
	return s.do(ctx, func(lv libvirtClient) error {
		dom, err := hvlibvirt.LookupDomain(lv, vm.InstanceUUID)
		if err != nil {
			return err
		}
		return fn(lv, dom)
	})
}

// withOptionalDomain is withDomain for operations that tolerate a missing
// domain; fn then receives found == false.
func (s *Service) withOptionalDomain(ctx context.Context, vm *model.VM, fn func(lv libvirtClient, dom libvirt.Domain, found bool) error) error {
	return s.do(ctx, func(lv libvirtClient) error {
		dom, err := hvlibvirt.LookupDomain(lv, vm.InstanceUUID)
		if hvlibvirt.IsDomainNotFound(err) {
			return fn(lv, libvirt.Domain{}, false)
		}
		if err != nil {
			return err
		}
		return fn(lv, dom, true)
	})
}

func domainState(lv libvirtClient, dom libvirt.Domain) (DomainState, error) {
	state, _, err := lv.DomainGetState(dom, 0)
	if err != nil {
		return StateNoState, hvlibvirt.Wrap(err, "failed to get state of %s", dom.Name)
	}
	return DomainState(state), nil
}

// pauseIfRunning suspends a running domain and returns the func that
// resumes it. For any other state the returned func does nothing.
func pauseIfRunning(lv libvirtClient, dom libvirt.Domain) (func() error, error) {
	state, err := domainState(lv, dom)
	if err != nil {
		return nil, err
	}
	if state != StateRunning {
		return func() error { return nil }, nil
	}
	if err := lv.DomainSuspend(dom); err != nil {
		return nil, hvlibvirt.Wrap(err, "failed to suspend %s", dom.Name)
	}
	return func() error {
		return hvlibvirt.Wrap(lv.DomainResume(dom), "failed to resume %s", dom.Name)
	}, nil
}

func (s *Service) loadVM(ctx context.Context, vmID string) (*model.VM, []model.Volume, []model.Interface, error) {
	vm, err := s.store.GetVM(ctx, vmID)
	if err != nil {
		return nil, nil, nil, err
	}
	vols, err := s.store.ListVolumes(ctx, vm.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	ifaces, err := s.store.ListInterfaces(ctx, vm.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return vm, vols, ifaces, nil
}

// volumeOf loads a volume and checks it belongs to vm.
func (s *Service) volumeOf(ctx context.Context, vm *model.VM, volumeID string) (*model.Volume, error) {
	vol, err := s.store.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if vol.VMID != vm.ID {
		return nil, errNotOwned("volume", volumeID, vm.ID)
	}
	return vol, nil
}

func devices(vols []model.Volume) []string {
	out := make([]string, 0, len(vols))
	for _, v := range vols {
		out = append(out, v.Device)
	}
	return out
}

func macs(ifaces []model.Interface) []string {
	out := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, i.MAC)
	}
	return out
}

// cleanupCtx outlives cancellation of ctx for best-effort cleanup.
func cleanupCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func errNotOwned(kind, id, vmID string) error {
	return errdefs.NotFound("%s %s not found on VM %s", kind, id, vmID)
}
