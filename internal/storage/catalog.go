package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kdomanski/iso9660"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/naming"
)

// Image describes a file in one of the catalog directories.
type Image struct {
	Name     string    `json:"name" yaml:"name"`
	Path     string    `json:"path" yaml:"path"`
	Format   Format    `json:"format,omitempty" yaml:"format,omitempty"`
	Label    string    `json:"label,omitempty" yaml:"label,omitempty"`
	Size     int64     `json:"size" yaml:"size"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

// Catalog serves the base image and ISO directories.
type Catalog struct {
	baseDir string
	isoDir  string
	log     *zap.Logger
}

// NewCatalog returns a catalog over baseDir (qcow2 base images) and isoDir
// (installation media).
func NewCatalog(baseDir, isoDir string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{baseDir: baseDir, isoDir: isoDir, log: log}
}

// BaseDir returns the base image directory.
func (c *Catalog) BaseDir() string { return c.baseDir }

// BaseImagePath resolves a base image name to its path. The name is
// normalized to "<stem>.qcow2".
func (c *Catalog) BaseImagePath(name string) (string, error) {
	file, err := naming.BaseImageName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.baseDir, file), nil
}

// BaseImageExists reports whether a base image with name exists.
func (c *Catalog) BaseImageExists(name string) (bool, error) {
	path, err := c.BaseImagePath(name)
	if err != nil {
		return false, err
	}
	return fileExists(path)
}

// OpenBaseImage returns the path of an existing base image, or NotFound.
// Domains attach copied base images as qcow2, so a file holding any other
// format is rejected with InvalidArgument.
func (c *Catalog) OpenBaseImage(name string) (string, error) {
	path, err := c.BaseImagePath(name)
	if err != nil {
		return "", err
	}
	ok, err := fileExists(path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errdefs.NotFound("base image %s not found", name)
	}
	format, err := DetectImageFormat(path)
	if err != nil {
		return "", errdefs.InvalidArgument("base image %s is not a usable disk image: %v", name, err)
	}
	if format != FormatQCOW2 {
		return "", errdefs.InvalidArgument("base image %s is %s, want %s", name, format, FormatQCOW2)
	}
	return path, nil
}

// ListBaseImages lists the qcow2 files of the base directory with their
// detected format. Files whose format cannot be detected are skipped.
func (c *Catalog) ListBaseImages() ([]Image, error) {
	entries, err := readDir(c.baseDir)
	if err != nil {
		return nil, err
	}

	var images []Image
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), naming.ImageExt) {
			continue
		}
		img, err := statImage(c.baseDir, e)
		if err != nil {
			return nil, err
		}
		format, err := DetectImageFormat(img.Path)
		if err != nil {
			c.log.Warn("skipping unreadable base image", zap.String("path", img.Path), zap.Error(err))
			continue
		}
		img.Format = format
		images = append(images, img)
	}
	return images, nil
}

// ISOPath resolves an ISO file name to its path, or NotFound.
func (c *Catalog) ISOPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", errdefs.InvalidArgument("invalid ISO name %q", name)
	}
	path := filepath.Join(c.isoDir, name)
	ok, err := fileExists(path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errdefs.NotFound("ISO %s not found", name)
	}
	return path, nil
}

// ListISOs lists the ISO 9660 images of the ISO directory. Files that do not
// parse as ISO 9660 are skipped.
func (c *Catalog) ListISOs() ([]Image, error) {
	entries, err := readDir(c.isoDir)
	if err != nil {
		return nil, err
	}

	var images []Image
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Name()), ".iso") {
			continue
		}
		img, err := statImage(c.isoDir, e)
		if err != nil {
			return nil, err
		}
		label, err := ReadISOLabel(img.Path)
		if err != nil {
			c.log.Warn("skipping invalid ISO", zap.String("path", img.Path), zap.Error(err))
			continue
		}
		img.Label = label
		images = append(images, img)
	}
	return images, nil
}

// ReadISOLabel opens path as an ISO 9660 image, checks its root directory
// is readable and returns the volume label.
func ReadISOLabel(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return "", fmt.Errorf("failed to read ISO %s: %w", path, err)
	}
	if _, err := img.RootDir(); err != nil {
		return "", fmt.Errorf("failed to read ISO root of %s: %w", path, err)
	}
	label, err := img.Label()
	if err != nil {
		return "", fmt.Errorf("failed to read ISO label of %s: %w", path, err)
	}
	return label, nil
}

func readDir(dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	files := entries[:0]
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e)
		}
	}
	return files, nil
}

func statImage(dir string, e fs.DirEntry) (Image, error) {
	info, err := e.Info()
	if err != nil {
		return Image{}, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
	}
	return Image{
		Name:     e.Name(),
		Path:     filepath.Join(dir, e.Name()),
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}
