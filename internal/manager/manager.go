// Package manager is the caller-facing facade of hearth.
//
// A Manager validates requests, writes the rows a request needs in one
// store transaction, records the task reference on the affected entities,
// and only after commit hands the work to the task executor. Reads return
// views that combine the rows with live hypervisor state and the status of
// the last task.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/store"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

// DefaultNetwork is used when a VM is created without networks.
const DefaultNetwork = "default"

// portAllocator hands out display ports.
//
// In production, this is satisfied by *alloc.PortAllocator.
type portAllocator interface {
	Allocate(ctx context.Context) (int, error)
	Release(ctx context.Context, port int) error
}

// hypervisor is the synchronous part of the VM service.
//
// In production, this is satisfied by *vm.Service.
type hypervisor interface {
	DomainState(ctx context.Context, vmID string) (vm.DomainState, error)
	DomainXML(ctx context.Context, vmID string) (string, error)
	PutDomainXML(ctx context.Context, vmID, xml string) error
	ListDomains(ctx context.Context) ([]vm.DomainInfo, error)
}

// imageLister lists the image stores.
//
// In production, this is satisfied by *storage.Catalog.
type imageLister interface {
	ListBaseImages() ([]storage.Image, error)
	ListISOs() ([]storage.Image, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store      store.Store
	Ports      portAllocator
	Executor   task.Executor
	Hypervisor hypervisor
	Images     imageLister
	Log        *zap.Logger
	// Rand feeds MAC generation. Nil means crypto/rand.
	Rand io.Reader
}

// Manager is the entry point for every caller-facing operation.
type Manager struct {
	store   store.Store
	ports   portAllocator
	exec    task.Executor
	tracker *status.Tracker
	hv      hypervisor
	images  imageLister
	log     *zap.Logger
	rand    io.Reader
}

// New builds a Manager from deps.
func New(deps Deps) *Manager {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:   deps.Store,
		ports:   deps.Ports,
		exec:    deps.Executor,
		tracker: status.NewTracker(deps.Executor),
		hv:      deps.Hypervisor,
		images:  deps.Images,
		log:     log,
		rand:    deps.Rand,
	}
}

// dispatch describes one task hand-off.
type dispatch struct {
	op         task.Op
	label      string
	vmID       string
	snapshotID string
	args       any
	// prepare writes the rows the task needs. It runs in the transaction
	// that records the task reference.
	prepare func(tx store.Store) error
	// undo reverts prepare when the task cannot be submitted.
	undo func(ctx context.Context) error
}

// dispatch commits the rows and task reference of d, then submits the task.
// The task is keyed by its VM, so work on one VM never overlaps.
func (m *Manager) dispatch(ctx context.Context, d dispatch) (string, error) {
	req, err := m.request(d)
	if err != nil {
		return "", err
	}
	err = m.store.Tx(ctx, func(tx store.Store) error {
		if d.prepare != nil {
			if err := d.prepare(tx); err != nil {
				return err
			}
		}
		return recordTask(ctx, tx, d, req.ID)
	})
	if err != nil {
		return "", err
	}
	return m.submit(ctx, d, req)
}

func (m *Manager) request(d dispatch) (task.Request, error) {
	req, err := task.NewRequest(d.op, d.vmID, d.args)
	if err != nil {
		return task.Request{}, err
	}
	req.ID = uuid.NewString()
	return req, nil
}

func recordTask(ctx context.Context, tx store.Store, d dispatch, id string) error {
	ref := model.TaskRef{ID: id, Name: d.label}
	if err := tx.RecordVMTask(ctx, d.vmID, ref); err != nil {
		return err
	}
	if d.snapshotID != "" {
		return tx.RecordSnapshotTask(ctx, d.snapshotID, ref)
	}
	return nil
}

// submit hands a committed request to the executor. On failure every task
// reference written for it is cleared before the dispatch's undo runs.
func (m *Manager) submit(ctx context.Context, d dispatch, req task.Request) (string, error) {
	log := m.log.With(zap.String("op", string(d.op)), zap.String("vm_id", d.vmID), zap.String("task_id", req.ID))

	if _, err := m.exec.Submit(ctx, req); err != nil {
		cctx := context.WithoutCancel(ctx)
		if cerr := m.clearTask(cctx, d); cerr != nil {
			log.Warn("failed to clear task reference", zap.Error(cerr))
		}
		if d.undo != nil {
			if uerr := d.undo(cctx); uerr != nil {
				log.Warn("failed to undo after submit failure", zap.Error(uerr))
			}
		}
		return "", fmt.Errorf("failed to submit %s: %w", d.op, err)
	}
	log.Info("task dispatched", zap.String("label", d.label))
	return req.ID, nil
}

func (m *Manager) clearTask(ctx context.Context, d dispatch) error {
	err := m.store.RecordVMTask(ctx, d.vmID, model.TaskRef{})
	if d.snapshotID != "" {
		err = errors.Join(err, m.store.RecordSnapshotTask(ctx, d.snapshotID, model.TaskRef{}))
	}
	return err
}

// ensureUniqueName fails with Conflict when an active VM other than selfID
// is named name.
func ensureUniqueName(ctx context.Context, st store.Store, name, selfID string) error {
	other, err := st.FindVMByName(ctx, name)
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.ID != selfID:
		return errdefs.Conflict("a VM named %q already exists", name)
	}
	return nil
}
