package vm

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/store"
)

// mockLibvirtClient is a mock implementation of the libvirtClient interface for testing.
//
// By default it holds one domain (defined is true) whose state is state;
// every call succeeds.
type mockLibvirtClient struct {
	mu sync.Mutex

	defined bool
	state   DomainState

	// Configurable behavior
	domainDefineXMLFunc         func(xml string) (libvirt.Domain, error)
	domainCreateFunc            func(dom libvirt.Domain) error
	domainSuspendFunc           func(dom libvirt.Domain) error
	domainResumeFunc            func(dom libvirt.Domain) error
	domainAttachDeviceFunc      func(dom libvirt.Domain, xml string) error
	domainSnapshotCreateXMLFunc func(dom libvirt.Domain, xml string) (libvirt.DomainSnapshot, error)
	snapshotXMLFunc             func(snap libvirt.DomainSnapshot) (string, error)
	snapshotLookupFunc          func(dom libvirt.Domain, name string) (libvirt.DomainSnapshot, error)
	listAllSnapshotsFunc        func(dom libvirt.Domain) ([]libvirt.DomainSnapshot, error)
	listAllDomainsFunc          func() ([]libvirt.Domain, error)
	domainGetInfoFunc           func(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error)
	listAllNetworksFunc         func() ([]libvirt.Network, error)
	dhcpLeasesFunc              func(n libvirt.Network) ([]libvirt.NetworkDhcpLease, error)

	// Call tracking
	domainDefineXMLCalls      []string
	domainCreateCalls         int
	domainShutdownCalls       int
	domainDestroyCalls        int
	domainRebootCalls         int
	domainSuspendCalls        int
	domainResumeCalls         int
	domainUndefineFlagsCalls  int
	domainAttachDeviceCalls   []string
	domainDetachDeviceCalls   []string
	snapshotCreateXMLCalls    []string
	snapshotDeleteCalls       []string
	revertToSnapshotCalls     []string
	networkGetDhcpLeasesCalls []string
}

// newMockLibvirtClient creates a new mock libvirt client with a defined, shut off domain.
func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{defined: true, state: StateShutOff}
}

func (m *mockLibvirtClient) DomainLookupByUUID(id libvirt.UUID) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.defined {
		return libvirt.Domain{}, errdefs.NotFound("no domain with uuid %s", uuid.UUID(id))
	}
	return libvirt.Domain{Name: naming.InstanceName(uuid.UUID(id).String()), UUID: id}, nil
}

func (m *mockLibvirtClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	if m.domainDefineXMLFunc != nil {
		return m.domainDefineXMLFunc(xml)
	}
	m.defined = true
	return libvirt.Domain{Name: "defined"}, nil
}

func (m *mockLibvirtClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.domainDefineXMLCalls); n > 0 {
		return m.domainDefineXMLCalls[n-1], nil
	}
	return "<domain/>", nil
}

func (m *mockLibvirtClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int32(m.state), 0, nil
}

func (m *mockLibvirtClient) DomainGetInfo(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domainGetInfoFunc != nil {
		return m.domainGetInfoFunc(dom)
	}
	return uint8(m.state), 2097152, 2097152, 2, 0, nil
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls++
	if m.domainCreateFunc != nil {
		return m.domainCreateFunc(dom)
	}
	m.state = StateRunning
	return nil
}

func (m *mockLibvirtClient) DomainShutdown(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainShutdownCalls++
	return nil
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls++
	m.state = StateShutOff
	return nil
}

func (m *mockLibvirtClient) DomainReboot(dom libvirt.Domain, flags libvirt.DomainRebootFlagValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainRebootCalls++
	return nil
}

func (m *mockLibvirtClient) DomainSuspend(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainSuspendCalls++
	if m.domainSuspendFunc != nil {
		return m.domainSuspendFunc(dom)
	}
	m.state = StatePaused
	return nil
}

func (m *mockLibvirtClient) DomainResume(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainResumeCalls++
	if m.domainResumeFunc != nil {
		return m.domainResumeFunc(dom)
	}
	m.state = StateRunning
	return nil
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls++
	m.defined = false
	return nil
}

func (m *mockLibvirtClient) DomainAttachDevice(dom libvirt.Domain, xml string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainAttachDeviceCalls = append(m.domainAttachDeviceCalls, xml)
	if m.domainAttachDeviceFunc != nil {
		return m.domainAttachDeviceFunc(dom, xml)
	}
	return nil
}

func (m *mockLibvirtClient) DomainDetachDevice(dom libvirt.Domain, xml string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDetachDeviceCalls = append(m.domainDetachDeviceCalls, xml)
	return nil
}

func (m *mockLibvirtClient) DomainListAllSnapshots(dom libvirt.Domain, needResults int32, flags uint32) ([]libvirt.DomainSnapshot, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listAllSnapshotsFunc != nil {
		snaps, err := m.listAllSnapshotsFunc(dom)
		return snaps, int32(len(snaps)), err
	}
	return nil, 0, nil
}

func (m *mockLibvirtClient) DomainSnapshotCreateXML(dom libvirt.Domain, xml string, flags uint32) (libvirt.DomainSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotCreateXMLCalls = append(m.snapshotCreateXMLCalls, xml)
	if m.domainSnapshotCreateXMLFunc != nil {
		return m.domainSnapshotCreateXMLFunc(dom, xml)
	}
	return libvirt.DomainSnapshot{Name: "snap", Dom: dom}, nil
}

func (m *mockLibvirtClient) DomainSnapshotGetXMLDesc(snap libvirt.DomainSnapshot, flags uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotXMLFunc != nil {
		return m.snapshotXMLFunc(snap)
	}
	return "<domainsnapshot><name>" + snap.Name + "</name><state>shutoff</state></domainsnapshot>", nil
}

func (m *mockLibvirtClient) DomainSnapshotLookupByName(dom libvirt.Domain, name string, flags uint32) (libvirt.DomainSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotLookupFunc != nil {
		return m.snapshotLookupFunc(dom, name)
	}
	return libvirt.DomainSnapshot{Name: name, Dom: dom}, nil
}

func (m *mockLibvirtClient) DomainRevertToSnapshot(snap libvirt.DomainSnapshot, flags uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revertToSnapshotCalls = append(m.revertToSnapshotCalls, snap.Name)
	return nil
}

func (m *mockLibvirtClient) DomainSnapshotDelete(snap libvirt.DomainSnapshot, flags libvirt.DomainSnapshotDeleteFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotDeleteCalls = append(m.snapshotDeleteCalls, snap.Name)
	return nil
}

func (m *mockLibvirtClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listAllDomainsFunc != nil {
		doms, err := m.listAllDomainsFunc()
		return doms, uint32(len(doms)), err
	}
	return nil, 0, nil
}

func (m *mockLibvirtClient) ConnectListAllNetworks(needResults int32, flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listAllNetworksFunc != nil {
		nets, err := m.listAllNetworksFunc()
		return nets, uint32(len(nets)), err
	}
	return nil, 0, nil
}

func (m *mockLibvirtClient) NetworkGetDhcpLeases(n libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkGetDhcpLeasesCalls = append(m.networkGetDhcpLeasesCalls, n.Name)
	if m.dhcpLeasesFunc != nil {
		leases, err := m.dhcpLeasesFunc(n)
		return leases, uint32(len(leases)), err
	}
	return nil, 0, nil
}

// mockDiskManager is an in-memory diskManager. files holds every path that
// exists; images records the size of each created image.
type mockDiskManager struct {
	mu sync.Mutex

	root   string
	files  map[string]bool
	dirs   map[string]bool
	images map[string]int
	copies [][2]string
	writes map[string][]byte

	createImageFunc func(path string, sizeGB int) error
	copyFileFunc    func(src, dst string) error

	removeCalls []string
}

func newMockDiskManager() *mockDiskManager {
	return &mockDiskManager{
		root:   "/data",
		files:  map[string]bool{},
		dirs:   map[string]bool{},
		images: map[string]int{},
		writes: map[string][]byte{},
	}
}

func (d *mockDiskManager) EnsureVMDir(instanceName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := filepath.Join(d.root, instanceName)
	d.dirs[dir] = true
	return dir, nil
}

func (d *mockDiskManager) Path(instanceName, file string) string {
	return filepath.Join(d.root, instanceName, file)
}

func (d *mockDiskManager) CreateImage(ctx context.Context, path string, sizeGB int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createImageFunc != nil {
		if err := d.createImageFunc(path, sizeGB); err != nil {
			return err
		}
	}
	d.files[path] = true
	d.images[path] = sizeGB
	return nil
}

func (d *mockDiskManager) CopyFile(ctx context.Context, src, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.copies = append(d.copies, [2]string{src, dst})
	if d.files[dst] {
		return fmt.Errorf("failed to create %s: %w", dst, fs.ErrExist)
	}
	if d.copyFileFunc != nil {
		if err := d.copyFileFunc(src, dst); err != nil {
			return err
		}
	}
	d.files[dst] = true
	return nil
}

func (d *mockDiskManager) WriteFile(path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[path] = data
	d.files[path] = true
	return nil
}

func (d *mockDiskManager) Remove(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeCalls = append(d.removeCalls, path)
	delete(d.files, path)
	return nil
}

func (d *mockDiskManager) RemoveVMDir(instanceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dirs, filepath.Join(d.root, instanceName))
	return nil
}

func (d *mockDiskManager) Exists(path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[path], nil
}

// mockCatalog resolves names against fixed base image and ISO sets.
type mockCatalog struct {
	baseDir string
	bases   map[string]bool
	isos    map[string]bool
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		baseDir: "/base",
		bases:   map[string]bool{"base.qcow2": true},
		isos:    map[string]bool{"install.iso": true},
	}
}

func (c *mockCatalog) BaseImagePath(name string) (string, error) {
	file, err := naming.BaseImageName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.baseDir, file), nil
}

func (c *mockCatalog) BaseImageExists(name string) (bool, error) {
	file, err := naming.BaseImageName(name)
	if err != nil {
		return false, err
	}
	return c.bases[file], nil
}

func (c *mockCatalog) OpenBaseImage(name string) (string, error) {
	ok, err := c.BaseImageExists(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errdefs.NotFound("base image %s not found", name)
	}
	return c.BaseImagePath(name)
}

func (c *mockCatalog) ISOPath(name string) (string, error) {
	if !c.isos[name] {
		return "", errdefs.NotFound("iso %s not found", name)
	}
	return filepath.Join("/isos", name), nil
}

// testEnv wires a Service to in-memory collaborators.
type testEnv struct {
	svc   *Service
	store *store.Memory
	lv    *mockLibvirtClient
	disks *mockDiskManager
	cat   *mockCatalog

	// dials counts hypervisor connections opened.
	dials int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemory(),
		lv:    newMockLibvirtClient(),
		disks: newMockDiskManager(),
		cat:   newMockCatalog(),
	}
	do := func(ctx context.Context, fn func(libvirtClient) error) error {
		env.dials++
		return fn(env.lv)
	}
	env.svc = newWithDeps(env.store, do, env.disks, env.cat, nil, zaptest.NewLogger(t))
	return env
}

// newVM saves a VM row ready to be created.
func (e *testEnv) newVM(t *testing.T) *model.VM {
	t.Helper()
	id := uuid.NewString()
	vm := &model.VM{
		Name:         "web",
		InstanceUUID: id,
		InstanceName: naming.InstanceName(id),
		CPU:          2,
		MemoryKB:     2097152,
		VNCPort:      5900,
	}
	if err := e.store.SaveVM(context.Background(), vm); err != nil {
		t.Fatalf("failed to save VM: %v", err)
	}
	if err := e.store.ClaimPort(context.Background(), vm.VNCPort); err != nil {
		t.Fatalf("failed to claim port: %v", err)
	}
	return vm
}

// addVolume saves a volume row for vm.
func (e *testEnv) addVolume(t *testing.T, vm *model.VM, kind model.VolumeKind, dev, path string) *model.Volume {
	t.Helper()
	bus := model.BusVirtio
	if kind == model.VolumeCDROM {
		bus = model.BusIDE
	}
	v := &model.Volume{VMID: vm.ID, Kind: kind, Device: dev, Bus: bus, Path: path}
	if err := e.store.SaveVolume(context.Background(), v); err != nil {
		t.Fatalf("failed to save volume: %v", err)
	}
	if kind == model.VolumeDisk {
		e.disks.files[path] = true
	}
	return v
}
