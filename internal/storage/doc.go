// Package storage catalogs the images VMs are built from.
//
// Two directories are served:
//   - the base directory holds qcow2 base images that root disks are copied
//     from and that disks can be saved back into;
//   - the ISO directory holds installation media attached as cdroms.
//
// Image formats are detected from magic bytes rather than file extensions:
//   - qcow2: "QFI\xfb" at offset 0
//   - raw: MBR signature 0x55aa at offset 510
//
// ISO files are validated by opening them with github.com/kdomanski/iso9660.
package storage
