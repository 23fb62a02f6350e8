package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format is a disk image format.
type Format string

const (
	FormatQCOW2 Format = "qcow2"
	FormatRaw   Format = "raw"
)

// ErrUnknownFormat is returned for files that are neither qcow2 nor a
// bootable raw image.
var ErrUnknownFormat = errors.New("unsupported or invalid image: not qcow2 and missing boot sector signature (0x55aa at offset 510)")

var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature sits at offset 510 of the first sector on MBR disks and
	// on the protective MBR of GPT disks.
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectImageFormat detects the format of the image at filePath from its
// magic bytes.
func DetectImageFormat(filePath string) (Format, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DetectFormat(f)
}

// DetectFormat reads magic bytes from r:
//   - qcow2: "QFI\xfb" at offset 0
//   - raw: MBR signature 0x55 0xaa at offset 510
func DetectFormat(r io.ReaderAt) (Format, error) {
	magic := make([]byte, len(qcow2Magic))
	if _, err := r.ReadAt(magic, 0); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	sig := make([]byte, len(mbrSignature))
	if _, err := r.ReadAt(sig, 510); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", ErrUnknownFormat
}
