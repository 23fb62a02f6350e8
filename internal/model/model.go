// Package model defines the durable records hearth keeps for each virtual
// machine. The rows describe what should exist on the hypervisor; the
// hypervisor's own state is only cached (VM.DomainXML) or observed
// (Interface.IP).
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Volume kinds.
const (
	VolumeDisk  VolumeKind = "disk"
	VolumeCDROM VolumeKind = "cdrom"
)

// Bus types used for each volume kind.
const (
	BusVirtio = "virtio"
	BusIDE    = "ide"
)

// VolumeKind distinguishes writable disks from optical media.
type VolumeKind string

// Base carries identity, timestamps and the soft-delete tombstone shared by
// every row. DeletedAt lets gorm exclude tombstoned rows from normal reads.
type Base struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id" yaml:"id"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	IsDeleted bool           `gorm:"not null;default:false;index" json:"-" yaml:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-" yaml:"-"`
}

// EnsureID assigns a new uuid when the row has none.
func (b *Base) EnsureID() {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
}

// BeforeCreate is the gorm hook assigning the row id.
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	b.EnsureID()
	return nil
}

// MarkDeleted sets the tombstone fields in memory.
func (b *Base) MarkDeleted(at time.Time) {
	b.IsDeleted = true
	b.DeletedAt = gorm.DeletedAt{Time: at, Valid: true}
}

// Deleted reports whether the row is tombstoned.
func (b *Base) Deleted() bool {
	return b.IsDeleted || b.DeletedAt.Valid
}

// TaskRef is the single "most recent task" slot of an entity.
type TaskRef struct {
	ID   string `gorm:"column:id" json:"id,omitempty" yaml:"id,omitempty"`
	Name string `gorm:"column:name" json:"name,omitempty" yaml:"name,omitempty"`
}

// Set overwrites the slot.
func (r *TaskRef) Set(id, name string) {
	r.ID = id
	r.Name = name
}

// Empty reports whether no task was ever recorded.
func (r TaskRef) Empty() bool {
	return r.ID == ""
}

// VM is the intent record of one virtual machine.
type VM struct {
	Base
	Name         string  `gorm:"not null;index" json:"name" yaml:"name"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	InstanceUUID string  `gorm:"type:varchar(36);not null" json:"instance_uuid" yaml:"instance_uuid"`
	InstanceName string  `gorm:"not null" json:"instance_name" yaml:"instance_name"`
	CPU          int     `gorm:"not null" json:"cpu" yaml:"cpu"`
	MemoryKB     uint64  `gorm:"not null" json:"memory_kb" yaml:"memory_kb"`
	VNCPort      int     `gorm:"index" json:"vnc_port" yaml:"vnc_port"`
	DomainXML    string  `gorm:"type:text" json:"-" yaml:"-"`
	LastTask     TaskRef `gorm:"embedded;embeddedPrefix:last_task_" json:"-" yaml:"-"`
}

// TableName implements gorm's tabler.
func (VM) TableName() string { return "vms" }

// Volume is one storage device attached to a VM.
type Volume struct {
	Base
	VMID   string     `gorm:"type:varchar(36);not null;index" json:"vm_id" yaml:"vm_id"`
	Kind   VolumeKind `gorm:"type:varchar(16);not null" json:"kind" yaml:"kind"`
	Device string     `gorm:"type:varchar(16);not null" json:"device" yaml:"device"`
	Bus    string     `gorm:"type:varchar(16);not null" json:"bus" yaml:"bus"`
	Path   string     `gorm:"not null" json:"path" yaml:"path"`
}

// TableName implements gorm's tabler.
func (Volume) TableName() string { return "volumes" }

// IsCDROM reports whether the volume is optical media.
func (v *Volume) IsCDROM() bool { return v.Kind == VolumeCDROM }

// Interface is one network interface of a VM.
type Interface struct {
	Base
	VMID    string `gorm:"type:varchar(36);not null;index" json:"vm_id" yaml:"vm_id"`
	MAC     string `gorm:"type:varchar(17);not null" json:"mac" yaml:"mac"`
	Network string `gorm:"not null" json:"network" yaml:"network"`
	IP      string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// TableName implements gorm's tabler.
func (Interface) TableName() string { return "interfaces" }

// Snapshot is one hypervisor snapshot of a VM.
type Snapshot struct {
	Base
	VMID         string  `gorm:"type:varchar(36);not null;index" json:"vm_id" yaml:"vm_id"`
	InstanceName string  `gorm:"not null" json:"instance_name" yaml:"instance_name"`
	Name         string  `gorm:"not null" json:"name" yaml:"name"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	Parent       *string `json:"parent,omitempty" yaml:"parent,omitempty"`
	State        string  `json:"state,omitempty" yaml:"state,omitempty"`
	LastTask     TaskRef `gorm:"embedded;embeddedPrefix:last_task_" json:"-" yaml:"-"`
}

// TableName implements gorm's tabler.
func (Snapshot) TableName() string { return "snapshots" }

// PortClaim records one claimed VNC display port. The row is the claim.
type PortClaim struct {
	Port      int       `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// TableName implements gorm's tabler.
func (PortClaim) TableName() string { return "vnc_ports" }

// All lists every model for schema migration.
func All() []any {
	return []any{&VM{}, &Volume{}, &Interface{}, &Snapshot{}, &PortClaim{}}
}
