// Package alloc hands out scarce identifiers: VNC display ports shared by
// every VM, and the per-VM device names and image file names drawn from small
// bounded pools.
package alloc

import (
	"fmt"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/naming"
)

// ErrExhausted is returned when every candidate of a pool is taken.
var ErrExhausted = errdefs.ErrResourceExhausted

// Pool is an ordered, bounded set of candidate names.
type Pool struct {
	name       string
	candidates []string
}

// Letters returns a pool of prefix+"a", prefix+"b", ... with n candidates
// (at most 26).
//
// Example: Letters("vd", 3) → vda, vdb, vdc
func Letters(prefix string, n int) *Pool {
	if n > 26 {
		n = 26
	}
	c := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c = append(c, prefix+string(rune('a'+i)))
	}
	return &Pool{name: prefix + "[a-z]", candidates: c}
}

// Indexed returns a pool of fmt.Sprintf(format, i) for i in [0, n).
//
// Example: Indexed("disk%d.qcow2", 2) → disk0.qcow2, disk1.qcow2
func Indexed(format string, n int) *Pool {
	c := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c = append(c, fmt.Sprintf(format, i))
	}
	return &Pool{name: format, candidates: c}
}

// Cap returns the number of candidates.
func (p *Pool) Cap() int { return len(p.candidates) }

// First returns the first candidate.
func (p *Pool) First() string {
	if len(p.candidates) == 0 {
		return ""
	}
	return p.candidates[0]
}

// Next returns the first candidate not present in taken.
func (p *Pool) Next(taken []string) (string, error) {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	return p.NextFunc(func(c string) (bool, error) {
		_, ok := used[c]
		return ok, nil
	})
}

// NextFunc returns the first candidate for which inUse reports false.
func (p *Pool) NextFunc(inUse func(candidate string) (bool, error)) (string, error) {
	for _, c := range p.candidates {
		busy, err := inUse(c)
		if err != nil {
			return "", fmt.Errorf("failed to check candidate %s: %w", c, err)
		}
		if !busy {
			return c, nil
		}
	}
	return "", errdefs.Exhausted("all %d candidates of pool %s are taken", len(p.candidates), p.name)
}

// DiskDevices is the virtio disk device pool: vda..vdz.
func DiskDevices() *Pool { return Letters("vd", 26) }

// CDROMDevices is the IDE optical device pool: hda..hdz.
func CDROMDevices() *Pool { return Letters("hd", 26) }

// RootDiskFiles is the pool of primary disk image names.
func RootDiskFiles() *Pool { return Indexed(naming.RootDiskPattern, 100) }

// DataDiskFiles is the pool of attached disk image names.
func DataDiskFiles() *Pool { return Indexed(naming.DataDiskPattern, 100) }
