package libvirt

import (
	"fmt"
	"sort"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
)

// Memory snapshot modes.
const (
	SnapshotMemoryInternal = "internal"
	SnapshotMemoryNone     = "no"
)

// RenderSnapshot builds the snapshot XML for s. Memory is captured
// internally when the domain is running. Each active disk is referenced by
// its device name only; cdrom volumes are skipped.
func RenderSnapshot(s *model.Snapshot, running bool, volumes []model.Volume) (string, error) {
	if s == nil || s.InstanceName == "" {
		return "", errdefs.InvalidArgument("snapshot has no instance name")
	}

	mode := SnapshotMemoryNone
	if running {
		mode = SnapshotMemoryInternal
	}

	doc := libvirtxml.DomainSnapshot{
		Name:        s.InstanceName,
		Description: s.Description,
		Memory: &libvirtxml.DomainSnapshotMemory{
			Snapshot: mode,
		},
		Disks: &libvirtxml.DomainSnapshotDisks{},
	}

	devices := make([]string, 0, len(volumes))
	for _, v := range volumes {
		if v.Kind == model.VolumeDisk {
			devices = append(devices, v.Device)
		}
	}
	sort.Strings(devices)
	for _, dev := range devices {
		doc.Disks.Disks = append(doc.Disks.Disks, libvirtxml.DomainSnapshotDisk{Name: dev})
	}

	xml, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot XML: %w", err)
	}
	return xml, nil
}

// SnapshotInfo is what hearth keeps from the hypervisor's snapshot document.
type SnapshotInfo struct {
	Name         string
	Parent       string
	State        string
	CreationTime string
}

// ParseSnapshot reads the fields hearth records from snapshot XML.
func ParseSnapshot(xml string) (*SnapshotInfo, error) {
	var doc libvirtxml.DomainSnapshot
	if err := doc.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot XML: %w", err)
	}

	info := &SnapshotInfo{
		Name:         doc.Name,
		State:        doc.State,
		CreationTime: doc.CreationTime,
	}
	if doc.Parent != nil {
		info.Parent = doc.Parent.Name
	}
	return info, nil
}
