package manager

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/vm"
)

// StateUnknown is shown when the hypervisor could not be asked.
const StateUnknown = "unknown"

// VMView is a VM as callers see it.
type VMView struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	InstanceUUID string             `json:"instance_uuid" yaml:"instance_uuid"`
	InstanceName string             `json:"instance_name" yaml:"instance_name"`
	CPU          int                `json:"cpu" yaml:"cpu"`
	MemoryKB     uint64             `json:"memory_kb" yaml:"memory_kb"`
	VNCPort      int                `json:"vnc_port" yaml:"vnc_port"`
	State        string             `json:"state" yaml:"state"`
	Volumes      []VolumeView       `json:"volumes" yaml:"volumes"`
	Interfaces   []InterfaceView    `json:"interfaces" yaml:"interfaces"`
	LastTask     *status.TaskStatus `json:"last_task" yaml:"last_task"`
	CreatedAt    time.Time          `json:"created_at" yaml:"created_at"`
}

// VolumeView is one volume of a VMView.
type VolumeView struct {
	ID     string `json:"id" yaml:"id"`
	Kind   string `json:"kind" yaml:"kind"`
	Device string `json:"device" yaml:"device"`
	Bus    string `json:"bus" yaml:"bus"`
	Path   string `json:"path" yaml:"path"`
}

// InterfaceView is one interface of a VMView.
type InterfaceView struct {
	ID      string `json:"id" yaml:"id"`
	MAC     string `json:"mac" yaml:"mac"`
	Network string `json:"network" yaml:"network"`
	IP      string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// SnapshotView is a snapshot as callers see it. Parent is the display name
// of the parent snapshot when hearth knows it.
type SnapshotView struct {
	ID           string             `json:"id" yaml:"id"`
	VMID         string             `json:"vm_id" yaml:"vm_id"`
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description,omitempty"`
	InstanceName string             `json:"instance_name" yaml:"instance_name"`
	Parent       string             `json:"parent,omitempty" yaml:"parent,omitempty"`
	State        string             `json:"state,omitempty" yaml:"state,omitempty"`
	LastTask     *status.TaskStatus `json:"last_task" yaml:"last_task"`
	CreatedAt    time.Time          `json:"created_at" yaml:"created_at"`
}

// Overview summarizes the host.
type Overview struct {
	VMs      int    `json:"vms" yaml:"vms"`
	Running  int    `json:"running" yaml:"running"`
	CPU      int    `json:"cpu" yaml:"cpu"`
	MemoryKB uint64 `json:"memory_kb" yaml:"memory_kb"`
}

// GetVM returns the view of one VM.
func (m *Manager) GetVM(ctx context.Context, vmID string) (*VMView, error) {
	row, err := m.store.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	return m.vmView(ctx, row)
}

// ResolveVM finds a VM by id, falling back to its name.
func (m *Manager) ResolveVM(ctx context.Context, ref string) (*VMView, error) {
	row, err := m.store.GetVM(ctx, ref)
	if errors.Is(err, errdefs.ErrNotFound) {
		row, err = m.store.FindVMByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return m.vmView(ctx, row)
}

// ListVMs returns the views of every active VM.
func (m *Manager) ListVMs(ctx context.Context) ([]VMView, error) {
	rows, err := m.store.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]VMView, 0, len(rows))
	for i := range rows {
		v, err := m.vmView(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (m *Manager) vmView(ctx context.Context, row *model.VM) (*VMView, error) {
	vols, err := m.store.ListVolumes(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	ifaces, err := m.store.ListInterfaces(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	last, err := m.tracker.LastTask(ctx, row.LastTask)
	if err != nil {
		return nil, err
	}

	v := &VMView{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		InstanceUUID: row.InstanceUUID,
		InstanceName: row.InstanceName,
		CPU:          row.CPU,
		MemoryKB:     row.MemoryKB,
		VNCPort:      row.VNCPort,
		State:        StateUnknown,
		LastTask:     last,
		CreatedAt:    row.CreatedAt,
		Volumes:      make([]VolumeView, 0, len(vols)),
		Interfaces:   make([]InterfaceView, 0, len(ifaces)),
	}
	if state, ok := m.stateOf(ctx, row.ID); ok {
		v.State = state.String()
	}
	for _, vol := range vols {
		v.Volumes = append(v.Volumes, VolumeView{ID: vol.ID, Kind: string(vol.Kind), Device: vol.Device, Bus: vol.Bus, Path: vol.Path})
	}
	for _, i := range ifaces {
		v.Interfaces = append(v.Interfaces, InterfaceView{ID: i.ID, MAC: i.MAC, Network: i.Network, IP: i.IP})
	}
	return v, nil
}

// stateOf asks the hypervisor for the domain state. Failures are logged and
// reported with ok == false so one unreachable domain does not break a
// listing.
func (m *Manager) stateOf(ctx context.Context, vmID string) (vm.DomainState, bool) {
	state, err := m.hv.DomainState(ctx, vmID)
	if err != nil {
		m.log.Warn("failed to read domain state", zap.String("vm_id", vmID), zap.Error(err))
		return vm.StateNoState, false
	}
	return state, true
}

// GetSnapshot returns the view of one snapshot.
func (m *Manager) GetSnapshot(ctx context.Context, snapshotID string) (*SnapshotView, error) {
	snap, err := m.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return m.snapshotView(ctx, snap)
}

// ListSnapshots returns the snapshot views of a VM.
func (m *Manager) ListSnapshots(ctx context.Context, vmID string) ([]SnapshotView, error) {
	if _, err := m.store.GetVM(ctx, vmID); err != nil {
		return nil, err
	}
	snaps, err := m.store.ListSnapshots(ctx, vmID)
	if err != nil {
		return nil, err
	}
	views := make([]SnapshotView, 0, len(snaps))
	for i := range snaps {
		v, err := m.snapshotView(ctx, &snaps[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (m *Manager) snapshotView(ctx context.Context, snap *model.Snapshot) (*SnapshotView, error) {
	last, err := m.tracker.LastTask(ctx, snap.LastTask)
	if err != nil {
		return nil, err
	}
	v := &SnapshotView{
		ID:           snap.ID,
		VMID:         snap.VMID,
		Name:         snap.Name,
		Description:  snap.Description,
		InstanceName: snap.InstanceName,
		State:        snap.State,
		LastTask:     last,
		CreatedAt:    snap.CreatedAt,
	}
	if snap.Parent != nil {
		v.Parent = *snap.Parent
		parent, err := m.store.FindSnapshotByInstanceName(ctx, snap.VMID, *snap.Parent)
		switch {
		case err == nil:
			v.Parent = parent.Name
		case !errors.Is(err, errdefs.ErrNotFound):
			return nil, err
		}
	}
	return v, nil
}

// Overview counts active VMs and running domains and totals their
// allocated cpu and memory.
func (m *Manager) Overview(ctx context.Context) (*Overview, error) {
	rows, err := m.store.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	o := &Overview{VMs: len(rows)}
	for _, row := range rows {
		o.CPU += row.CPU
		o.MemoryKB += row.MemoryKB
		if state, ok := m.stateOf(ctx, row.ID); ok && state == vm.StateRunning {
			o.Running++
		}
	}
	return o, nil
}

// TaskStatus reports any task by id. Unknown ids are pending.
func (m *Manager) TaskStatus(ctx context.Context, id string) (*status.TaskStatus, error) {
	return m.tracker.Lookup(ctx, id)
}

// ListBaseImages lists the base image store.
func (m *Manager) ListBaseImages() ([]storage.Image, error) {
	return m.images.ListBaseImages()
}

// ListISOs lists the ISO store.
func (m *Manager) ListISOs() ([]storage.Image, error) {
	return m.images.ListISOs()
}

// ListDomains lists every domain the hypervisor knows, managed or not.
func (m *Manager) ListDomains(ctx context.Context) ([]vm.DomainInfo, error) {
	return m.hv.ListDomains(ctx)
}
