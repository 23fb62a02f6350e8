package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
)

// Memory is an in-process Store. Rows are stored by value, so callers never
// share memory with the store. Transactions are serialized with each other;
// a failed transaction undoes its own writes and nothing else.
type Memory struct {
	txMu sync.Mutex

	mu      sync.Mutex
	vms     map[string]model.VM
	volumes map[string]model.Volume
	ifaces  map[string]model.Interface
	snaps   map[string]model.Snapshot
	ports   map[int]struct{}

	now func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		vms:     map[string]model.VM{},
		volumes: map[string]model.Volume{},
		ifaces:  map[string]model.Interface{},
		snaps:   map[string]model.Snapshot{},
		ports:   map[int]struct{}{},
		now:     time.Now,
	}
}

func (m *Memory) touch(b *model.Base) {
	now := m.now()
	b.EnsureID()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func (m *Memory) GetVM(_ context.Context, id string) (*model.VM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.vms[id]
	if !ok || vm.Deleted() {
		return nil, errdefs.NotFound("vm %s not found", id)
	}
	return &vm, nil
}

func (m *Memory) FindVMByName(_ context.Context, name string) (*model.VM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vm := range m.vms {
		if vm.Name == name && !vm.Deleted() {
			return &vm, nil
		}
	}
	return nil, errdefs.NotFound("vm named %s not found", name)
}

func (m *Memory) ListVMs(_ context.Context) ([]model.VM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.VM, 0, len(m.vms))
	for _, vm := range m.vms {
		if !vm.Deleted() {
			out = append(out, vm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveVM(_ context.Context, vm *model.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(&vm.Base)
	m.vms[vm.ID] = *vm
	return nil
}

func (m *Memory) SoftDeleteVM(_ context.Context, vm *model.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm.MarkDeleted(m.now())
	m.vms[vm.ID] = *vm
	return nil
}

func (m *Memory) RecordVMTask(_ context.Context, vmID string, ref model.TaskRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.vms[vmID]
	if !ok || vm.Deleted() {
		return errdefs.NotFound("vm %s not found", vmID)
	}
	vm.LastTask = ref
	vm.UpdatedAt = m.now()
	m.vms[vmID] = vm
	return nil
}

func (m *Memory) CacheDomainXML(_ context.Context, vmID, xml string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.vms[vmID]
	if !ok || vm.Deleted() {
		return errdefs.NotFound("vm %s not found", vmID)
	}
	vm.DomainXML = xml
	vm.UpdatedAt = m.now()
	m.vms[vmID] = vm
	return nil
}

func (m *Memory) GetVolume(_ context.Context, id string) (*model.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[id]
	if !ok || v.Deleted() {
		return nil, errdefs.NotFound("volume %s not found", id)
	}
	return &v, nil
}

func (m *Memory) ListVolumes(_ context.Context, vmID string) ([]model.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Volume
	for _, v := range m.volumes {
		if v.VMID == vmID && !v.Deleted() {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, nil
}

func (m *Memory) SaveVolume(_ context.Context, v *model.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(&v.Base)
	m.volumes[v.ID] = *v
	return nil
}

func (m *Memory) SoftDeleteVolume(_ context.Context, v *model.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.MarkDeleted(m.now())
	m.volumes[v.ID] = *v
	return nil
}

func (m *Memory) ListInterfaces(_ context.Context, vmID string) ([]model.Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Interface
	for _, i := range m.ifaces {
		if i.VMID == vmID && !i.Deleted() {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveInterface(_ context.Context, i *model.Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(&i.Base)
	m.ifaces[i.ID] = *i
	return nil
}

func (m *Memory) SoftDeleteInterface(_ context.Context, i *model.Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i.MarkDeleted(m.now())
	m.ifaces[i.ID] = *i
	return nil
}

func (m *Memory) RecordInterfaceIP(_ context.Context, interfaceID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.ifaces[interfaceID]
	if !ok || i.Deleted() {
		return errdefs.NotFound("interface %s not found", interfaceID)
	}
	i.IP = ip
	i.UpdatedAt = m.now()
	m.ifaces[interfaceID] = i
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, id string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok || s.Deleted() {
		return nil, errdefs.NotFound("snapshot %s not found", id)
	}
	return &s, nil
}

func (m *Memory) FindSnapshotByInstanceName(_ context.Context, vmID, instanceName string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snaps {
		if s.VMID == vmID && s.InstanceName == instanceName && !s.Deleted() {
			return &s, nil
		}
	}
	return nil, errdefs.NotFound("snapshot %s not found", instanceName)
}

func (m *Memory) ListSnapshots(_ context.Context, vmID string) ([]model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Snapshot
	for _, s := range m.snaps {
		if s.VMID == vmID && !s.Deleted() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(&s.Base)
	m.snaps[s.ID] = *s
	return nil
}

func (m *Memory) SoftDeleteSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.MarkDeleted(m.now())
	m.snaps[s.ID] = *s
	return nil
}

func (m *Memory) RecordSnapshotTask(_ context.Context, snapshotID string, ref model.TaskRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[snapshotID]
	if !ok || s.Deleted() {
		return errdefs.NotFound("snapshot %s not found", snapshotID)
	}
	s.LastTask = ref
	s.UpdatedAt = m.now()
	m.snaps[snapshotID] = s
	return nil
}

func (m *Memory) RecordSnapshotState(_ context.Context, snapshotID string, parent *string, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[snapshotID]
	if !ok || s.Deleted() {
		return errdefs.NotFound("snapshot %s not found", snapshotID)
	}
	if parent != nil {
		p := *parent
		s.Parent = &p
	}
	s.State = state
	s.UpdatedAt = m.now()
	m.snaps[snapshotID] = s
	return nil
}

func (m *Memory) MaxPort(_ context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest, ok := 0, false
	for p := range m.ports {
		if !ok || p > highest {
			highest, ok = p, true
		}
	}
	return highest, ok, nil
}

func (m *Memory) ClaimPort(_ context.Context, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.ports[port]; taken {
		return errdefs.Conflict("port %d already claimed", port)
	}
	m.ports[port] = struct{}{}
	return nil
}

func (m *Memory) ReleasePort(_ context.Context, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ports, port)
	return nil
}

func (m *Memory) Tx(ctx context.Context, fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memoryTx{Memory: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx is the Store handed to a Memory transaction. Each write records
// how to restore the row it touched, and a rollback replays those records in
// reverse. Rows written outside the transaction are left alone.
type memoryTx struct {
	*Memory
	undo []func()
}

var _ Store = (*memoryTx)(nil)

// remember captures the current value of tbl[key] and returns a func that
// puts it back.
func remember[K comparable, V any](mu *sync.Mutex, tbl map[K]V, key K) func() {
	mu.Lock()
	old, had := tbl[key]
	mu.Unlock()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if had {
			tbl[key] = old
		} else {
			delete(tbl, key)
		}
	}
}

func (t *memoryTx) record(restore func(), err error) error {
	if err == nil {
		t.undo = append(t.undo, restore)
	}
	return err
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) SaveVM(ctx context.Context, vm *model.VM) error {
	vm.EnsureID()
	restore := remember(&t.mu, t.vms, vm.ID)
	return t.record(restore, t.Memory.SaveVM(ctx, vm))
}

func (t *memoryTx) SoftDeleteVM(ctx context.Context, vm *model.VM) error {
	restore := remember(&t.mu, t.vms, vm.ID)
	return t.record(restore, t.Memory.SoftDeleteVM(ctx, vm))
}

func (t *memoryTx) RecordVMTask(ctx context.Context, vmID string, ref model.TaskRef) error {
	restore := remember(&t.mu, t.vms, vmID)
	return t.record(restore, t.Memory.RecordVMTask(ctx, vmID, ref))
}

func (t *memoryTx) CacheDomainXML(ctx context.Context, vmID, xml string) error {
	restore := remember(&t.mu, t.vms, vmID)
	return t.record(restore, t.Memory.CacheDomainXML(ctx, vmID, xml))
}

func (t *memoryTx) SaveVolume(ctx context.Context, v *model.Volume) error {
	v.EnsureID()
	restore := remember(&t.mu, t.volumes, v.ID)
	return t.record(restore, t.Memory.SaveVolume(ctx, v))
}

func (t *memoryTx) SoftDeleteVolume(ctx context.Context, v *model.Volume) error {
	restore := remember(&t.mu, t.volumes, v.ID)
	return t.record(restore, t.Memory.SoftDeleteVolume(ctx, v))
}

func (t *memoryTx) SaveInterface(ctx context.Context, i *model.Interface) error {
	i.EnsureID()
	restore := remember(&t.mu, t.ifaces, i.ID)
	return t.record(restore, t.Memory.SaveInterface(ctx, i))
}

func (t *memoryTx) SoftDeleteInterface(ctx context.Context, i *model.Interface) error {
	restore := remember(&t.mu, t.ifaces, i.ID)
	return t.record(restore, t.Memory.SoftDeleteInterface(ctx, i))
}

func (t *memoryTx) RecordInterfaceIP(ctx context.Context, interfaceID, ip string) error {
	restore := remember(&t.mu, t.ifaces, interfaceID)
	return t.record(restore, t.Memory.RecordInterfaceIP(ctx, interfaceID, ip))
}

func (t *memoryTx) SaveSnapshot(ctx context.Context, s *model.Snapshot) error {
	s.EnsureID()
	restore := remember(&t.mu, t.snaps, s.ID)
	return t.record(restore, t.Memory.SaveSnapshot(ctx, s))
}

func (t *memoryTx) SoftDeleteSnapshot(ctx context.Context, s *model.Snapshot) error {
	restore := remember(&t.mu, t.snaps, s.ID)
	return t.record(restore, t.Memory.SoftDeleteSnapshot(ctx, s))
}

func (t *memoryTx) RecordSnapshotTask(ctx context.Context, snapshotID string, ref model.TaskRef) error {
	restore := remember(&t.mu, t.snaps, snapshotID)
	return t.record(restore, t.Memory.RecordSnapshotTask(ctx, snapshotID, ref))
}

func (t *memoryTx) RecordSnapshotState(ctx context.Context, snapshotID string, parent *string, state string) error {
	restore := remember(&t.mu, t.snaps, snapshotID)
	return t.record(restore, t.Memory.RecordSnapshotState(ctx, snapshotID, parent, state))
}

func (t *memoryTx) ClaimPort(ctx context.Context, port int) error {
	restore := remember(&t.mu, t.ports, port)
	return t.record(restore, t.Memory.ClaimPort(ctx, port))
}

func (t *memoryTx) ReleasePort(ctx context.Context, port int) error {
	restore := remember(&t.mu, t.ports, port)
	return t.record(restore, t.Memory.ReleasePort(ctx, port))
}

// Tx nests into the enclosing transaction.
func (t *memoryTx) Tx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}
