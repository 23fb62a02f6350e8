package v1alpha1

const (
	// GroupName is the API group for hearth resources.
	GroupName = "hearth.jbweber.dev"

	// Version is the API version.
	Version = "v1alpha1"

	// APIVersion is the full apiVersion string of this package.
	APIVersion = GroupName + "/" + Version

	VirtualMachineKind         = "VirtualMachine"
	VirtualMachineSnapshotKind = "VirtualMachineSnapshot"
)

// NewVirtualMachine returns a VirtualMachine with TypeMeta set.
func NewVirtualMachine(name string) *VirtualMachine {
	return &VirtualMachine{
		TypeMeta:   TypeMeta{APIVersion: APIVersion, Kind: VirtualMachineKind},
		ObjectMeta: ObjectMeta{Name: name},
	}
}

// NewVirtualMachineSnapshot returns a VirtualMachineSnapshot of vm with
// TypeMeta set.
func NewVirtualMachineSnapshot(name, vm string) *VirtualMachineSnapshot {
	return &VirtualMachineSnapshot{
		TypeMeta:   TypeMeta{APIVersion: APIVersion, Kind: VirtualMachineSnapshotKind},
		ObjectMeta: ObjectMeta{Name: name},
		Spec:       VirtualMachineSnapshotSpec{VM: vm},
	}
}

// MemoryKiB converts the spec memory to the KiB the domain uses.
func (s *VirtualMachineSpec) MemoryKiB() uint64 {
	return s.MemoryMiB * 1024
}

// FromImage reports whether the root disk is copied from a base image.
func (b *BootDiskSpec) FromImage() bool {
	return b.Image != ""
}
