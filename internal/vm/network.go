package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/store"
)

// SyncNetworks makes the VM's active interfaces match networks, counting
// duplicates. Interfaces on networks no longer wanted are soft-deleted; new
// ones get a random MAC unique within the VM. It reports whether anything
// changed. st may be a transactional view.
func SyncNetworks(ctx context.Context, st store.Store, r io.Reader, vmID string, networks []string) (bool, error) {
	current, err := st.ListInterfaces(ctx, vmID)
	if err != nil {
		return false, err
	}

	want := make(map[string]int, len(networks))
	for _, n := range networks {
		want[n]++
	}

	changed := false
	kept := make([]model.Interface, 0, len(current))
	for i := range current {
		iface := current[i]
		if want[iface.Network] > 0 {
			want[iface.Network]--
			kept = append(kept, iface)
			continue
		}
		if err := st.SoftDeleteInterface(ctx, &iface); err != nil {
			return false, fmt.Errorf("failed to remove interface %s: %w", iface.MAC, err)
		}
		changed = true
	}

	taken := macs(kept)
	for _, network := range networks {
		if want[network] == 0 {
			continue
		}
		want[network]--

		mac, err := naming.UniqueMAC(r, taken)
		if err != nil {
			return false, err
		}
		iface := model.Interface{VMID: vmID, MAC: mac, Network: network}
		if err := st.SaveInterface(ctx, &iface); err != nil {
			return false, fmt.Errorf("failed to save interface: %w", err)
		}
		taken = append(taken, mac)
		changed = true
	}
	return changed, nil
}

// RefreshAddresses updates Interface.IP from the DHCP leases of the VM's
// networks. Interfaces without a lease keep their last observed address.
func (s *Service) RefreshAddresses(ctx context.Context, vmID string) error {
	ifaces, err := s.store.ListInterfaces(ctx, vmID)
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return nil
	}

	wanted := make(map[string]bool, len(ifaces))
	for _, i := range ifaces {
		wanted[i.Network] = true
	}

	ipByMAC := make(map[string]string)
	err = s.do(ctx, func(lv libvirtClient) error {
		nets, _, err := lv.ConnectListAllNetworks(1, 0)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to list networks")
		}
		for _, n := range nets {
			if !wanted[n.Name] {
				continue
			}
			leases, _, err := lv.NetworkGetDhcpLeases(n, nil, 1, 0)
			if err != nil {
				s.log.Warn("failed to read DHCP leases", zap.String("network", n.Name), zap.Error(err))
				continue
			}
			for _, l := range leases {
				if len(l.Mac) == 0 || l.Ipaddr == "" {
					continue
				}
				ipByMAC[strings.ToLower(l.Mac[0])] = l.Ipaddr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range ifaces {
		ip, ok := ipByMAC[strings.ToLower(ifaces[i].MAC)]
		if !ok || ip == ifaces[i].IP {
			continue
		}
		err := s.store.RecordInterfaceIP(ctx, ifaces[i].ID, ip)
		if errors.Is(err, errdefs.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save address of %s: %w", ifaces[i].MAC, err)
		}
		s.log.Info("interface address changed", zap.String("vm_id", vmID), zap.String("mac", ifaces[i].MAC), zap.String("ip", ip))
	}
	return nil
}
