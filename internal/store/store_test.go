package store

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
)

// testStore runs the behavior every Store implementation must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("vm round trip and soft delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		vm := &model.VM{Name: "web", InstanceUUID: "7d4f0ad2-9f4b-4a43-9a53-2ad0b3a1f4aa", InstanceName: "instance_7d4f", CPU: 2, MemoryKB: 2097152, VNCPort: 5900}
		require.NoError(t, s.SaveVM(ctx, vm))
		require.NotEmpty(t, vm.ID, "save assigns an id")

		got, err := s.GetVM(ctx, vm.ID)
		require.NoError(t, err)
		assert.Equal(t, "web", got.Name)
		assert.Equal(t, uint64(2097152), got.MemoryKB)

		byName, err := s.FindVMByName(ctx, "web")
		require.NoError(t, err)
		assert.Equal(t, vm.ID, byName.ID)

		got.LastTask.Set("task-1", "create")
		require.NoError(t, s.SaveVM(ctx, got))
		again, err := s.GetVM(ctx, vm.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskRef{ID: "task-1", Name: "create"}, again.LastTask)

		require.NoError(t, s.SoftDeleteVM(ctx, again))
		assert.True(t, again.Deleted())

		_, err = s.GetVM(ctx, vm.ID)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
		_, err = s.FindVMByName(ctx, "web")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)

		vms, err := s.ListVMs(ctx)
		require.NoError(t, err)
		for _, v := range vms {
			assert.NotEqual(t, vm.ID, v.ID, "deleted vm must not be listed")
		}
	})

	t.Run("targeted updates leave other columns alone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		vm := &model.VM{Name: "db", InstanceUUID: "0b3c9f1e-2d4a-4c6b-8e7f-1a2b3c4d5e6f", InstanceName: "instance_0b3c", CPU: 1, MemoryKB: 1024}
		require.NoError(t, s.SaveVM(ctx, vm))

		require.NoError(t, s.RecordVMTask(ctx, vm.ID, model.TaskRef{ID: "t-1", Name: "create"}))
		require.NoError(t, s.CacheDomainXML(ctx, vm.ID, "<domain/>"))

		got, err := s.GetVM(ctx, vm.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskRef{ID: "t-1", Name: "create"}, got.LastTask)
		assert.Equal(t, "<domain/>", got.DomainXML)
		assert.Equal(t, "db", got.Name)

		snap := &model.Snapshot{VMID: vm.ID, Name: "s", InstanceName: "snapshot_s"}
		require.NoError(t, s.SaveSnapshot(ctx, snap))
		require.NoError(t, s.RecordSnapshotTask(ctx, snap.ID, model.TaskRef{ID: "t-2", Name: "create snapshot"}))
		gotSnap, err := s.GetSnapshot(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, "t-2", gotSnap.LastTask.ID)

		parent := "snapshot_p"
		require.NoError(t, s.RecordSnapshotState(ctx, snap.ID, &parent, "running"))
		require.NoError(t, s.RecordSnapshotState(ctx, snap.ID, nil, "shutoff"))
		gotSnap, err = s.GetSnapshot(ctx, snap.ID)
		require.NoError(t, err)
		require.NotNil(t, gotSnap.Parent)
		assert.Equal(t, "snapshot_p", *gotSnap.Parent)
		assert.Equal(t, "shutoff", gotSnap.State)
		assert.Equal(t, "t-2", gotSnap.LastTask.ID)

		iface := &model.Interface{VMID: vm.ID, MAC: "de:be:59:00:00:01", Network: "default"}
		require.NoError(t, s.SaveInterface(ctx, iface))
		require.NoError(t, s.RecordInterfaceIP(ctx, iface.ID, "10.0.0.2"))
		require.NoError(t, s.SoftDeleteInterface(ctx, iface))
		err = s.RecordInterfaceIP(ctx, iface.ID, "10.0.0.3")
		assert.ErrorIs(t, err, errdefs.ErrNotFound, "a removed interface is not resurrected")

		require.NoError(t, s.SoftDeleteVM(ctx, got))
		err = s.RecordVMTask(ctx, vm.ID, model.TaskRef{ID: "t-3"})
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
		err = s.RecordSnapshotTask(ctx, "missing", model.TaskRef{ID: "t-4"})
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("volumes are filtered by vm and ordered by device", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		vm := &model.VM{Name: "db", InstanceUUID: "b5d1c1de-2f0e-4b4b-a5a1-55a6d1f0e0a1", InstanceName: "instance_b5d1"}
		require.NoError(t, s.SaveVM(ctx, vm))

		for _, dev := range []string{"vdb", "vda", "hda"} {
			kind := model.VolumeDisk
			if dev == "hda" {
				kind = model.VolumeCDROM
			}
			require.NoError(t, s.SaveVolume(ctx, &model.Volume{VMID: vm.ID, Kind: kind, Device: dev, Bus: model.BusVirtio, Path: "/data/" + dev}))
		}
		require.NoError(t, s.SaveVolume(ctx, &model.Volume{VMID: "other", Kind: model.VolumeDisk, Device: "vda", Bus: model.BusVirtio, Path: "/x"}))

		vols, err := s.ListVolumes(ctx, vm.ID)
		require.NoError(t, err)
		require.Len(t, vols, 3)
		assert.Equal(t, []string{"hda", "vda", "vdb"}, []string{vols[0].Device, vols[1].Device, vols[2].Device})

		require.NoError(t, s.SoftDeleteVolume(ctx, &vols[2]))
		vols, err = s.ListVolumes(ctx, vm.ID)
		require.NoError(t, err)
		assert.Len(t, vols, 2)

		_, err = s.GetVolume(ctx, "missing")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("interfaces and snapshots", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		vm := &model.VM{Name: "cache", InstanceUUID: "0f9e4c55-5c6a-4f5e-8e0e-3b7f1c2d9a10", InstanceName: "instance_0f9e"}
		require.NoError(t, s.SaveVM(ctx, vm))

		nic := &model.Interface{VMID: vm.ID, MAC: "de:be:59:00:00:01", Network: "default"}
		require.NoError(t, s.SaveInterface(ctx, nic))
		nic.IP = "192.168.122.10"
		require.NoError(t, s.SaveInterface(ctx, nic))

		nics, err := s.ListInterfaces(ctx, vm.ID)
		require.NoError(t, err)
		require.Len(t, nics, 1)
		assert.Equal(t, "192.168.122.10", nics[0].IP)

		require.NoError(t, s.SoftDeleteInterface(ctx, &nics[0]))
		nics, err = s.ListInterfaces(ctx, vm.ID)
		require.NoError(t, err)
		assert.Empty(t, nics)

		snap := &model.Snapshot{VMID: vm.ID, Name: "before-upgrade", InstanceName: "snapshot_1"}
		require.NoError(t, s.SaveSnapshot(ctx, snap))

		found, err := s.FindSnapshotByInstanceName(ctx, vm.ID, "snapshot_1")
		require.NoError(t, err)
		assert.Equal(t, snap.ID, found.ID)

		require.NoError(t, s.SoftDeleteSnapshot(ctx, found))
		_, err = s.GetSnapshot(ctx, snap.ID)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
		snaps, err := s.ListSnapshots(ctx, vm.ID)
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("port claims", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.MaxPort(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.ClaimPort(ctx, 5900))
		require.NoError(t, s.ClaimPort(ctx, 5903))
		err = s.ClaimPort(ctx, 5900)
		assert.ErrorIs(t, err, errdefs.ErrConflict)

		highest, ok, err := s.MaxPort(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 5903, highest)

		require.NoError(t, s.ReleasePort(ctx, 5903))
		require.NoError(t, s.ReleasePort(ctx, 5903))
		highest, _, err = s.MaxPort(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5900, highest)
	})

	t.Run("concurrent claims of one port", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.ClaimPort(ctx, 6000)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, errdefs.ErrConflict)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("failed transaction is discarded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		var id string
		err := s.Tx(ctx, func(tx Store) error {
			vm := &model.VM{Name: "ghost", InstanceUUID: "5a1c0f7e-6f54-4a0c-8d4e-7c0b9e2a1f33", InstanceName: "instance_5a1c"}
			if err := tx.SaveVM(ctx, vm); err != nil {
				return err
			}
			id = vm.ID
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = s.GetVM(ctx, id)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)

		err = s.Tx(ctx, func(tx Store) error {
			vm := &model.VM{Name: "real", InstanceUUID: "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b", InstanceName: "instance_9e8d"}
			if err := tx.SaveVM(ctx, vm); err != nil {
				return err
			}
			id = vm.ID
			return nil
		})
		require.NoError(t, err)
		_, err = s.GetVM(ctx, id)
		assert.NoError(t, err)
	})
}

func TestMemory(t *testing.T) {
	testStore(t, func(*testing.T) Store { return NewMemory() })
}

func TestMemoryListVMsOrder(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveVM(ctx, &model.VM{Name: name}))
	}
	vms, err := s.ListVMs(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(vms))
	for _, v := range vms {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	vm := &model.VM{Name: "web"}
	require.NoError(t, s.SaveVM(ctx, vm))

	got, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := s.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", again.Name)
}

func TestMemoryRollbackKeepsOutsideWrites(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	owner := &model.VM{Name: "owner", InstanceUUID: "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f", InstanceName: "instance_1c2d"}
	require.NoError(t, s.SaveVM(ctx, owner))

	inside := make(chan struct{})
	outsideDone := make(chan struct{})
	var ghostID string
	var txErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		txErr = s.Tx(ctx, func(tx Store) error {
			ghost := &model.VM{Name: "ghost", InstanceUUID: "2d3e4f5a-6b7c-4d8e-9f0a-1b2c3d4e5f6a", InstanceName: "instance_2d3e"}
			if err := tx.SaveVM(ctx, ghost); err != nil {
				return err
			}
			ghostID = ghost.ID
			if err := tx.ClaimPort(ctx, 5900); err != nil {
				return err
			}
			if err := tx.RecordVMTask(ctx, owner.ID, model.TaskRef{ID: "t-tx", Name: "create"}); err != nil {
				return err
			}
			close(inside)
			<-outsideDone
			return boom
		})
	}()

	<-inside
	require.NoError(t, s.ClaimPort(ctx, 5901))
	vol := &model.Volume{VMID: owner.ID, Kind: model.VolumeDisk, Device: "vda", Bus: model.BusVirtio, Path: "/data/root_disk0.qcow2"}
	require.NoError(t, s.SaveVolume(ctx, vol))
	close(outsideDone)
	wg.Wait()

	assert.ErrorIs(t, txErr, boom)

	_, err := s.GetVM(ctx, ghostID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound, "the transaction's own row is rolled back")
	got, err := s.GetVM(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, got.LastTask.Empty(), "the transaction's task record is rolled back")

	highest, ok, err := s.MaxPort(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5901, highest)
	assert.NoError(t, s.ClaimPort(ctx, 5900), "the transaction's claim is released")
	assert.ErrorIs(t, s.ClaimPort(ctx, 5901), errdefs.ErrConflict, "a claim made outside the transaction survives")

	vols, err := s.ListVolumes(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, vol.ID, vols[0].ID)
}

func TestMemoryNestedTx(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	var id string
	err := s.Tx(ctx, func(tx Store) error {
		return tx.Tx(ctx, func(inner Store) error {
			vm := &model.VM{Name: "nested"}
			if err := inner.SaveVM(ctx, vm); err != nil {
				return err
			}
			id = vm.ID
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	_, err = s.GetVM(ctx, id)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

// TestGorm runs the shared suite against PostgreSQL. It needs a scratch
// database in HEARTH_TEST_DSN; every table is truncated before each case.
func TestGorm(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}
	dsn := os.Getenv("HEARTH_TEST_DSN")
	if dsn == "" {
		t.Skip("HEARTH_TEST_DSN not set")
	}

	ctx := context.Background()
	g, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.Migrate(ctx))

	testStore(t, func(t *testing.T) Store {
		require.NoError(t, g.db.Exec("TRUNCATE vms, volumes, interfaces, snapshots, vnc_ports").Error)
		return g
	})
}
