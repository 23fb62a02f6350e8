package libvirt

import (
	"errors"
	"fmt"
	"sort"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/metadata"
	"github.com/jbweber/hearth/internal/model"
)

const (
	// MemoryUnit is the unit of both memory elements; VM.MemoryKB is in KiB.
	MemoryUnit = "KiB"

	// VNCListen is the address the VNC server binds to.
	VNCListen = "0.0.0.0"
)

// RenderDomain builds the full domain XML for vm with its active volumes and
// interfaces. Devices are emitted in a stable order, so rendering the same
// rows twice yields the same document.
func RenderDomain(vm *model.VM, volumes []model.Volume, ifaces []model.Interface) (string, error) {
	domain, err := BuildDomain(vm, volumes, ifaces)
	if err != nil {
		return "", err
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}

// BuildDomain is RenderDomain without the final marshal.
func BuildDomain(vm *model.VM, volumes []model.Volume, ifaces []model.Interface) (*libvirtxml.Domain, error) {
	if vm == nil {
		return nil, errdefs.InvalidArgument("VM cannot be nil")
	}
	if vm.InstanceUUID == "" || vm.InstanceName == "" {
		return nil, errdefs.InvalidArgument("VM %s has no instance identity", vm.ID)
	}
	if vm.CPU <= 0 || vm.MemoryKB == 0 {
		return nil, errdefs.InvalidArgument("VM %s needs positive cpu and memory", vm.ID)
	}

	meta, err := metadata.Element(metadata.Info{VMID: vm.ID, Name: vm.Name})
	if err != nil {
		return nil, err
	}

	domain := &libvirtxml.Domain{
		Type:        "kvm",
		UUID:        vm.InstanceUUID,
		Name:        vm.InstanceName,
		Title:       vm.Name,
		Description: vm.Description,
		Metadata:    &libvirtxml.DomainMetadata{XML: meta},
		Memory: &libvirtxml.DomainMemory{
			Value: uint(vm.MemoryKB),
			Unit:  MemoryUnit,
		},
		CurrentMemory: &libvirtxml.DomainCurrentMemory{
			Value: uint(vm.MemoryKB),
			Unit:  MemoryUnit,
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(vm.CPU),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{
				{Dev: "hd"},
				{Dev: "cdrom"},
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Graphics: []libvirtxml.DomainGraphic{
				{
					VNC: &libvirtxml.DomainGraphicVNC{
						Port:     vm.VNCPort,
						AutoPort: "no",
						Listen:   VNCListen,
					},
				},
			},
			Inputs: []libvirtxml.DomainInput{
				{Type: "tablet", Bus: "usb"},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
		},
	}

	vols := append([]model.Volume(nil), volumes...)
	sort.SliceStable(vols, func(i, j int) bool { return vols[i].Device < vols[j].Device })
	seen := make(map[string]struct{}, len(vols))
	for i := range vols {
		if _, dup := seen[vols[i].Device]; dup {
			return nil, errdefs.Conflict("device %s is used twice on VM %s", vols[i].Device, vm.ID)
		}
		seen[vols[i].Device] = struct{}{}
		domain.Devices.Disks = append(domain.Devices.Disks, diskElement(&vols[i]))
	}

	nics := append([]model.Interface(nil), ifaces...)
	sort.SliceStable(nics, func(i, j int) bool { return nics[i].MAC < nics[j].MAC })
	for i := range nics {
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, interfaceElement(&nics[i]))
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	return domain, nil
}

// RenderDisk renders a single <disk> element for hot attach and detach.
func RenderDisk(v *model.Volume) (string, error) {
	disk := diskElement(v)
	xml, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal disk XML: %w", err)
	}
	return xml, nil
}

// RenderInterface renders a single <interface> element.
func RenderInterface(i *model.Interface) (string, error) {
	iface := interfaceElement(i)
	xml, err := iface.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal interface XML: %w", err)
	}
	return xml, nil
}

func diskElement(v *model.Volume) libvirtxml.DomainDisk {
	if v.IsCDROM() {
		return libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: v.Path},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: v.Device,
				Bus: v.Bus,
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		}
	}

	return libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: "qcow2",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: v.Path},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: v.Device,
			Bus: v.Bus,
		},
	}
}

func interfaceElement(i *model.Interface) libvirtxml.DomainInterface {
	return libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{
			Address: i.MAC,
		},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{
				Network: i.Network,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}
}

// DomainIdentity is the identity part of a domain document.
type DomainIdentity struct {
	UUID string
	Name string
	// Owner is the hearth metadata, nil when the document carries none.
	Owner *metadata.Info
}

// ParseDomainIdentity reads uuid, name and hearth metadata from domain XML.
func ParseDomainIdentity(xml string) (*DomainIdentity, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(xml); err != nil {
		return nil, errdefs.InvalidArgument("invalid domain XML: %v", err)
	}

	id := &DomainIdentity{UUID: domain.UUID, Name: domain.Name}
	if domain.Metadata != nil {
		owner, err := metadata.Parse(domain.Metadata.XML)
		switch {
		case err == nil:
			id.Owner = owner
		case !errors.Is(err, metadata.ErrAbsent):
			return nil, errdefs.InvalidArgument("invalid hearth metadata: %v", err)
		}
	}
	return id, nil
}
