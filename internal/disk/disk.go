package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// NOTE: disk images are created with qemu-img and plain filesystem operations
// rather than libvirt storage pools. Each VM owns one directory under the data
// dir named after its instance name.

const (
	// DefaultDataDir is the default base directory for VM storage.
	DefaultDataDir = "/var/lib/hearth/instances"

	// DefaultQemuImgTimeout bounds a single qemu-img invocation.
	DefaultQemuImgTimeout = 10 * time.Minute

	// QemuUser owns VM disk files when it exists on the host.
	QemuUser = "qemu"

	// DirPermissions are the permissions for VM directories.
	DirPermissions = 0755

	// FilePermissions are the permissions for VM disk files.
	FilePermissions = 0644
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Owner is the uid/gid applied to created files.
type Owner struct {
	UID int
	GID int
}

// LookupOwner resolves a local user name to an Owner.
func LookupOwner(name string) (*Owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup %s user: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("invalid UID for %s user: %w", name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("invalid GID for %s user: %w", name, err)
	}
	return &Owner{UID: uid, GID: gid}, nil
}

// Options configures a Manager.
type Options struct {
	DataDir        string
	QemuImgTimeout time.Duration
	// Owner, when set, is applied to every directory and file created.
	Owner *Owner
}

// Manager handles on-disk storage for VMs.
type Manager struct {
	dataDir string
	timeout time.Duration
	owner   *Owner
	run     Runner
	log     *zap.Logger
}

// NewManager creates a storage manager.
func NewManager(opts Options, log *zap.Logger) *Manager {
	return NewManagerWithRunner(opts, execRunner, log)
}

// NewManagerWithRunner creates a storage manager that runs external commands
// through run.
func NewManagerWithRunner(opts Options, run Runner, log *zap.Logger) *Manager {
	if opts.DataDir == "" {
		opts.DataDir = DefaultDataDir
	}
	if opts.QemuImgTimeout <= 0 {
		opts.QemuImgTimeout = DefaultQemuImgTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dataDir: opts.DataDir,
		timeout: opts.QemuImgTimeout,
		owner:   opts.Owner,
		run:     run,
		log:     log,
	}
}

// VMDir returns the storage directory of a VM.
func (m *Manager) VMDir(instanceName string) string {
	return filepath.Join(m.dataDir, instanceName)
}

// Path returns the full path of file inside a VM's directory.
func (m *Manager) Path(instanceName, file string) string {
	return filepath.Join(m.VMDir(instanceName), file)
}

// EnsureVMDir creates the VM directory if it does not exist.
func (m *Manager) EnsureVMDir(instanceName string) (string, error) {
	dir := m.VMDir(instanceName)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create VM directory %s: %w", dir, err)
	}
	if err := m.chown(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// CreateImage creates an empty sparse qcow2 image of sizeGB gigabytes.
// The qemu-img run is bounded by the configured timeout; expiry is an error.
func (m *Manager) CreateImage(ctx context.Context, path string, sizeGB int) error {
	if sizeGB <= 0 {
		return fmt.Errorf("disk size must be positive, got %d", sizeGB)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	output, err := m.run(ctx, "qemu-img", "create", "-f", "qcow2", path, fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("qemu-img create %s timed out after %s: %w", path, m.timeout, ctxErr)
		}
		return fmt.Errorf("failed to create disk %s: %w\nOutput: %s", path, err, string(output))
	}
	m.log.Info("created disk image", zap.String("path", path), zap.Int("size_gb", sizeGB), zap.Duration("took", time.Since(start)))

	return m.setFileOwnership(path)
}

// CopyFile copies src to dst. dst must not exist.
func (m *Manager) CopyFile(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", dst, err)
	}

	return m.setFileOwnership(dst)
}

// WriteFile writes data to path, replacing any existing file.
func (m *Manager) WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return m.setFileOwnership(path)
}

// Remove deletes a file. A missing file is not an error.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveVMDir removes the VM directory and everything in it.
func (m *Manager) RemoveVMDir(instanceName string) error {
	dir := m.VMDir(instanceName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete VM directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists.
func (m *Manager) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}

func (m *Manager) chown(path string) error {
	if m.owner == nil {
		return nil
	}
	if err := os.Chown(path, m.owner.UID, m.owner.GID); err != nil {
		return fmt.Errorf("failed to set ownership on %s: %w", path, err)
	}
	return nil
}

func (m *Manager) setFileOwnership(path string) error {
	if err := m.chown(path); err != nil {
		return err
	}
	if err := os.Chmod(path, FilePermissions); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
