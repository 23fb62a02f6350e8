// Package store persists the hearth domain model.
//
// Store is the row-store contract the orchestrator works against: per-entity
// get, filter, save and soft delete, plus the display-port claim table.
// Every read excludes soft-deleted rows. Rows saved without an id are
// created and receive one.
//
// Two implementations exist: Gorm (PostgreSQL through gorm) for real
// deployments and Memory for tests and throwaway runs.
package store

import (
	"context"

	"github.com/jbweber/hearth/internal/model"
)

// Store is the persistence contract used by hearth.
type Store interface {
	GetVM(ctx context.Context, id string) (*model.VM, error)
	FindVMByName(ctx context.Context, name string) (*model.VM, error)
	ListVMs(ctx context.Context) ([]model.VM, error)
	SaveVM(ctx context.Context, vm *model.VM) error
	SoftDeleteVM(ctx context.Context, vm *model.VM) error
	// RecordVMTask overwrites only the VM's last-task slot.
	RecordVMTask(ctx context.Context, vmID string, ref model.TaskRef) error
	// CacheDomainXML overwrites only the VM's cached domain XML.
	CacheDomainXML(ctx context.Context, vmID, xml string) error

	GetVolume(ctx context.Context, id string) (*model.Volume, error)
	ListVolumes(ctx context.Context, vmID string) ([]model.Volume, error)
	SaveVolume(ctx context.Context, v *model.Volume) error
	SoftDeleteVolume(ctx context.Context, v *model.Volume) error

	ListInterfaces(ctx context.Context, vmID string) ([]model.Interface, error)
	SaveInterface(ctx context.Context, i *model.Interface) error
	SoftDeleteInterface(ctx context.Context, i *model.Interface) error
	// RecordInterfaceIP overwrites only the observed address.
	RecordInterfaceIP(ctx context.Context, interfaceID, ip string) error

	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	FindSnapshotByInstanceName(ctx context.Context, vmID, instanceName string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, vmID string) ([]model.Snapshot, error)
	SaveSnapshot(ctx context.Context, s *model.Snapshot) error
	SoftDeleteSnapshot(ctx context.Context, s *model.Snapshot) error
	RecordSnapshotTask(ctx context.Context, snapshotID string, ref model.TaskRef) error
	// RecordSnapshotState stores what the hypervisor reported for a
	// snapshot. A nil parent leaves the stored parent unchanged.
	RecordSnapshotState(ctx context.Context, snapshotID string, parent *string, state string) error

	// MaxPort returns the highest claimed display port; ok is false when
	// nothing is claimed.
	MaxPort(ctx context.Context) (port int, ok bool, err error)
	// ClaimPort inserts a claim and fails with errdefs.ErrConflict when the
	// port is taken.
	ClaimPort(ctx context.Context, port int) error
	// ReleasePort deletes a claim; a missing claim is not an error.
	ReleasePort(ctx context.Context, port int) error

	// Tx runs fn against a transactional view of the store. Writes made by
	// fn are discarded when it returns an error.
	Tx(ctx context.Context, fn func(Store) error) error
}
