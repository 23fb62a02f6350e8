package v1alpha1

// VirtualMachine describes a VM to create.
//
// +kubebuilder:resource:shortName=vm;vms
type VirtualMachine struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec VirtualMachineSpec `json:"spec" yaml:"spec"`
}

// VirtualMachineSpec defines the resources of a VirtualMachine.
type VirtualMachineSpec struct {
	// CPU is the number of virtual CPUs.
	// +kubebuilder:validation:Minimum=1
	CPU int `json:"cpu" yaml:"cpu"`

	// MemoryMiB is the memory size in mebibytes.
	// +kubebuilder:validation:Minimum=1
	MemoryMiB uint64 `json:"memoryMiB" yaml:"memoryMiB"`

	// BootDisk selects how the root disk is provisioned.
	BootDisk BootDiskSpec `json:"bootDisk" yaml:"bootDisk"`

	// Networks are libvirt network names, one interface each. Defaults to
	// the "default" network.
	// +optional
	Networks []string `json:"networks,omitempty" yaml:"networks,omitempty"`

	// CloudInit attaches a NoCloud seed image configuring the guest.
	// +optional
	CloudInit *CloudInitSpec `json:"cloudInit,omitempty" yaml:"cloudInit,omitempty"`
}

// CloudInitSpec configures the guest on first boot.
type CloudInitSpec struct {
	// SSHAuthorizedKeys are installed for the image's default user.
	// +optional
	SSHAuthorizedKeys []string `json:"sshAuthorizedKeys,omitempty" yaml:"sshAuthorizedKeys,omitempty"`

	// PasswordHash is a crypt(3) hash set as the root password.
	// +optional
	PasswordHash string `json:"passwordHash,omitempty" yaml:"passwordHash,omitempty"`
}

// BootDiskSpec defines the root disk. Exactly one of Image or SizeGB is
// used: Image copies a base image, SizeGB creates an empty disk to install
// onto from ISOs.
type BootDiskSpec struct {
	// Image is a file name in the base image store, e.g. "fedora-43.qcow2".
	// +optional
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// SizeGB is the size of an empty root disk.
	// +optional
	SizeGB int `json:"sizeGB,omitempty" yaml:"sizeGB,omitempty"`

	// ISOs are file names in the ISO store, attached as cdroms.
	// +optional
	ISOs []string `json:"isos,omitempty" yaml:"isos,omitempty"`
}

// VirtualMachineSnapshot describes a snapshot to take of an existing VM.
type VirtualMachineSnapshot struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec VirtualMachineSnapshotSpec `json:"spec" yaml:"spec"`
}

// VirtualMachineSnapshotSpec names the VM to snapshot.
type VirtualMachineSnapshotSpec struct {
	// VM is the id or name of the VM.
	VM string `json:"vm" yaml:"vm"`
}
