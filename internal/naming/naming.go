// Package naming provides the naming conventions hearth uses for libvirt
// resources: instance and snapshot names, MAC addresses, and the file names
// of disk images.
package naming

import (
	"crypto/rand"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jbweber/hearth/internal/errdefs"
)

const (
	// MACPrefix is the locally administered OUI used for every generated NIC.
	MACPrefix = "de:be:59"

	// RootDiskPattern names the primary disk image inside a VM data directory.
	RootDiskPattern = "root_disk%d.qcow2"

	// DataDiskPattern names attached disk images inside a VM data directory.
	DataDiskPattern = "disk%d.qcow2"

	// ImageExt is the extension of every image hearth writes.
	ImageExt = ".qcow2"

	// SeedISOFile names the cloud-init seed image inside a VM data directory.
	SeedISOFile = "cidata.iso"

	// macAttempts bounds regeneration when a MAC collides within one VM.
	macAttempts = 16
)

// InstanceName returns the libvirt domain name for an instance uuid.
//
// Example: 3f0c... → instance_3f0c...
func InstanceName(instanceUUID string) string {
	return "instance_" + instanceUUID
}

// SnapshotName returns the libvirt snapshot name for a snapshot row id.
func SnapshotName(snapshotID string) string {
	return "snapshot_" + snapshotID
}

// RandomMAC returns a MAC address under MACPrefix with three random octets
// read from r. A nil reader uses crypto/rand.
//
// Example: de:be:59:0a:7f:c3
func RandomMAC(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return fmt.Sprintf("%s:%02x:%02x:%02x", MACPrefix, b[0], b[1], b[2]), nil
}

// UniqueMAC returns a random MAC not present in taken. Comparison is case
// insensitive. Uniqueness is only guaranteed within taken.
func UniqueMAC(r io.Reader, taken []string) (string, error) {
	used := make(map[string]struct{}, len(taken))
	for _, mac := range taken {
		used[strings.ToLower(mac)] = struct{}{}
	}
	for i := 0; i < macAttempts; i++ {
		mac, err := RandomMAC(r)
		if err != nil {
			return "", err
		}
		if _, dup := used[mac]; !dup {
			return mac, nil
		}
	}
	return "", errdefs.Exhausted("no unique MAC address after %d attempts", macAttempts)
}

// BaseImageName normalizes a requested base image name to "<stem>.qcow2".
//
// Example: "ubuntu-22.04.img" → "ubuntu-22.04.qcow2", "centos" → "centos.qcow2"
func BaseImageName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errdefs.InvalidArgument("base image name must not be empty")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", errdefs.InvalidArgument("base image name %q must not contain a path", name)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return "", errdefs.InvalidArgument("base image name %q has no stem", name)
	}
	return stem + ImageExt, nil
}
