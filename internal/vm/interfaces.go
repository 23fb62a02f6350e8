package vm

import (
	"context"

	"github.com/digitalocean/go-libvirt"
)

// libvirtClient defines the libvirt operations needed for VM management.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainGetInfo(Dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error)

	DomainCreate(Dom libvirt.Domain) error
	DomainShutdown(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainReboot(Dom libvirt.Domain, Flags libvirt.DomainRebootFlagValues) error
	DomainSuspend(Dom libvirt.Domain) error
	DomainResume(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error

	DomainAttachDevice(Dom libvirt.Domain, XML string) error
	DomainDetachDevice(Dom libvirt.Domain, XML string) error

	DomainListAllSnapshots(Dom libvirt.Domain, NeedResults int32, Flags uint32) ([]libvirt.DomainSnapshot, int32, error)
	DomainSnapshotCreateXML(Dom libvirt.Domain, XMLDesc string, Flags uint32) (libvirt.DomainSnapshot, error)
	DomainSnapshotGetXMLDesc(Snap libvirt.DomainSnapshot, Flags uint32) (string, error)
	DomainSnapshotLookupByName(Dom libvirt.Domain, Name string, Flags uint32) (libvirt.DomainSnapshot, error)
	DomainRevertToSnapshot(Snap libvirt.DomainSnapshot, Flags uint32) error
	DomainSnapshotDelete(Snap libvirt.DomainSnapshot, Flags libvirt.DomainSnapshotDeleteFlags) error

	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	ConnectListAllNetworks(NeedResults int32, Flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error)
	NetworkGetDhcpLeases(Net libvirt.Network, Mac libvirt.OptString, NeedResults int32, Flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error)
}

// diskManager defines the on-disk storage operations needed for VM management.
//
// In production, this is satisfied by *disk.Manager.
type diskManager interface {
	EnsureVMDir(instanceName string) (string, error)
	Path(instanceName, file string) string
	CreateImage(ctx context.Context, path string, sizeGB int) error
	CopyFile(ctx context.Context, src, dst string) error
	WriteFile(path string, data []byte) error
	Remove(path string) error
	RemoveVMDir(instanceName string) error
	Exists(path string) (bool, error)
}

// imageCatalog resolves base images and ISOs.
//
// In production, this is satisfied by *storage.Catalog.
type imageCatalog interface {
	OpenBaseImage(name string) (string, error)
	BaseImagePath(name string) (string, error)
	BaseImageExists(name string) (bool, error)
	ISOPath(name string) (string, error)
}
