package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/store"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

// CreateVMRequest describes a new VM.
type CreateVMRequest struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	CPU         int    `json:"cpu" yaml:"cpu"`
	MemoryKB    uint64 `json:"memory_kb" yaml:"memory_kb"`
	// FromImage copies BaseImage as the root disk; otherwise an empty disk
	// of DiskSizeGB is created and the ISOs are attached.
	FromImage  bool     `json:"from_image" yaml:"from_image"`
	BaseImage  string   `json:"base_image,omitempty" yaml:"base_image,omitempty"`
	ISOs       []string `json:"isos,omitempty" yaml:"isos,omitempty"`
	DiskSizeGB int      `json:"disk_size_gb,omitempty" yaml:"disk_size_gb,omitempty"`
	Networks   []string `json:"networks,omitempty" yaml:"networks,omitempty"`
	// CloudInit, when set, attaches a cloud-init seed image.
	CloudInit *vm.CloudInit `json:"cloud_init,omitempty" yaml:"cloud_init,omitempty"`
}

// Validate checks the request without touching any store.
func (r *CreateVMRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.CPU <= 0 {
		errs = append(errs, fmt.Errorf("cpu must be positive, got %d", r.CPU))
	}
	if r.MemoryKB == 0 {
		errs = append(errs, errors.New("memory_kb must be positive"))
	}
	if r.FromImage {
		if _, err := naming.BaseImageName(r.BaseImage); err != nil {
			errs = append(errs, err)
		}
	} else if r.DiskSizeGB <= 0 {
		errs = append(errs, fmt.Errorf("disk_size_gb must be positive when not creating from an image, got %d", r.DiskSizeGB))
	}
	for _, n := range r.Networks {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, errors.New("network names must not be empty"))
			break
		}
	}
	if r.CloudInit != nil && slices.ContainsFunc(r.CloudInit.SSHAuthorizedKeys, func(k string) bool { return strings.TrimSpace(k) == "" }) {
		errs = append(errs, errors.New("ssh authorized keys must not be empty"))
	}
	if len(errs) > 0 {
		return errdefs.InvalidArgument("invalid VM request: %v", errors.Join(errs...))
	}
	return nil
}

// CreateVM validates req, claims a display port, saves the VM row and
// dispatches its provisioning.
func (m *Manager) CreateVM(ctx context.Context, req CreateVMRequest) (*VMView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	networks := req.Networks
	if len(networks) == 0 {
		networks = []string{DefaultNetwork}
	}
	if err := ensureUniqueName(ctx, m.store, req.Name, ""); err != nil {
		return nil, err
	}

	port, err := m.ports.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	instanceUUID := uuid.NewString()
	row := &model.VM{
		Name:         req.Name,
		Description:  req.Description,
		InstanceUUID: instanceUUID,
		InstanceName: naming.InstanceName(instanceUUID),
		CPU:          req.CPU,
		MemoryKB:     req.MemoryKB,
		VNCPort:      port,
	}
	row.EnsureID()

	_, err = m.dispatch(ctx, dispatch{
		op:    task.OpCreateHost,
		label: status.LabelCreate,
		vmID:  row.ID,
		args: vm.CreateHostArgs{
			VMID:       row.ID,
			FromImage:  req.FromImage,
			BaseImage:  req.BaseImage,
			ISOs:       req.ISOs,
			DiskSizeGB: req.DiskSizeGB,
			Networks:   networks,
			CloudInit:  req.CloudInit,
		},
		prepare: func(tx store.Store) error {
			if err := ensureUniqueName(ctx, tx, row.Name, ""); err != nil {
				return err
			}
			return tx.SaveVM(ctx, row)
		},
		undo: func(ctx context.Context) error {
			return m.store.SoftDeleteVM(ctx, row)
		},
	})
	if err != nil {
		if rerr := m.ports.Release(context.WithoutCancel(ctx), port); rerr != nil {
			m.log.Warn("failed to release display port", zap.Int("port", port), zap.Error(rerr))
		}
		return nil, err
	}

	m.log.Info("VM created", zap.String("vm_id", row.ID), zap.String("name", row.Name), zap.Int("vnc_port", port))
	return m.GetVM(ctx, row.ID)
}

// UpdateVMRequest changes a VM. Nil fields are left alone.
type UpdateVMRequest struct {
	Name        *string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	CPU         *int      `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	MemoryKB    *uint64   `json:"memory_kb,omitempty" yaml:"memory_kb,omitempty"`
	Networks    *[]string `json:"networks,omitempty" yaml:"networks,omitempty"`
}

// Validate checks the fields that are set.
func (r *UpdateVMRequest) Validate() error {
	switch {
	case r.Name != nil && strings.TrimSpace(*r.Name) == "":
		return errdefs.InvalidArgument("name must not be empty")
	case r.CPU != nil && *r.CPU <= 0:
		return errdefs.InvalidArgument("cpu must be positive, got %d", *r.CPU)
	case r.MemoryKB != nil && *r.MemoryKB == 0:
		return errdefs.InvalidArgument("memory_kb must be positive")
	case r.Networks != nil && slices.Contains(*r.Networks, ""):
		return errdefs.InvalidArgument("network names must not be empty")
	}
	return nil
}

// UpdateVM applies req. Interfaces are re-synced to the requested networks
// in the same transaction. When cpu, memory or the interfaces changed the
// domain is redefined in the background.
func (m *Manager) UpdateVM(ctx context.Context, vmID string, req UpdateVMRequest) (*VMView, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	d := dispatch{op: task.OpDefineHost, label: status.LabelReconfigure, vmID: vmID, args: vm.DefineHostArgs{VMID: vmID}}
	taskReq, err := m.request(d)
	if err != nil {
		return nil, err
	}

	redefine := false
	err = m.store.Tx(ctx, func(tx store.Store) error {
		row, err := tx.GetVM(ctx, vmID)
		if err != nil {
			return err
		}
		if req.Name != nil && *req.Name != row.Name {
			if err := ensureUniqueName(ctx, tx, *req.Name, row.ID); err != nil {
				return err
			}
			row.Name = *req.Name
		}
		if req.Description != nil {
			row.Description = *req.Description
		}
		if req.CPU != nil && *req.CPU != row.CPU {
			row.CPU = *req.CPU
			redefine = true
		}
		if req.MemoryKB != nil && *req.MemoryKB != row.MemoryKB {
			row.MemoryKB = *req.MemoryKB
			redefine = true
		}
		if err := tx.SaveVM(ctx, row); err != nil {
			return err
		}
		if req.Networks != nil {
			changed, err := vm.SyncNetworks(ctx, tx, m.rand, row.ID, *req.Networks)
			if err != nil {
				return err
			}
			redefine = redefine || changed
		}
		if !redefine {
			return nil
		}
		return recordTask(ctx, tx, d, taskReq.ID)
	})
	if err != nil {
		return nil, err
	}

	if redefine {
		if _, err := m.submit(ctx, d, taskReq); err != nil {
			return nil, err
		}
	}
	return m.GetVM(ctx, vmID)
}

// VMAction dispatches a power or lifecycle action and returns the task id.
func (m *Manager) VMAction(ctx context.Context, vmID string, action vm.Action) (string, error) {
	if !slices.Contains(vm.Actions(), action) {
		return "", errdefs.InvalidArgument("unknown action %d", int(action))
	}
	if _, err := m.store.GetVM(ctx, vmID); err != nil {
		return "", err
	}
	return m.dispatch(ctx, dispatch{
		op:    task.OpHostAction,
		label: action.Label(),
		vmID:  vmID,
		args:  vm.HostActionArgs{VMID: vmID, Action: action},
	})
}

// DomainXML returns the live domain XML of a VM.
func (m *Manager) DomainXML(ctx context.Context, vmID string) (string, error) {
	return m.hv.DomainXML(ctx, vmID)
}

// PutDomainXML defines caller-edited domain XML. The instance uuid cannot
// change.
func (m *Manager) PutDomainXML(ctx context.Context, vmID, xml string) error {
	if strings.TrimSpace(xml) == "" {
		return errdefs.InvalidArgument("domain XML must not be empty")
	}
	return m.hv.PutDomainXML(ctx, vmID, xml)
}
