// Package loader reads hearth manifests from YAML files and turns them into
// manager requests.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/manager"
	hostvm "github.com/jbweber/hearth/internal/vm"
)

// Document is one manifest of a file. Exactly one field is set.
type Document struct {
	VirtualMachine *v1alpha1.VirtualMachine
	Snapshot       *v1alpha1.VirtualMachineSnapshot
}

// LoadFromFile loads every manifest in a YAML file.
func LoadFromFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	docs, err := LoadFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// LoadFromYAML loads a YAML stream of manifests separated by "---".
// Empty documents are skipped.
func LoadFromYAML(data []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var docs []Document
	for i := 0; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errdefs.InvalidArgument("document %d: failed to unmarshal YAML: %v", i, err)
		}
		if empty(&node) {
			continue
		}

		doc, err := decode(&node)
		if err != nil {
			return nil, errdefs.InvalidArgument("document %d: %v", i, err)
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, errdefs.InvalidArgument("no manifests found")
	}
	return docs, nil
}

func empty(doc *yaml.Node) bool {
	if len(doc.Content) == 0 {
		return true
	}
	root := doc.Content[0]
	return root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null"
}

func decode(node *yaml.Node) (Document, error) {
	var meta v1alpha1.TypeMeta
	if err := node.Decode(&meta); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if meta.APIVersion == "" {
		return Document{}, errors.New("missing required field: apiVersion")
	}
	if meta.Kind == "" {
		return Document{}, errors.New("missing required field: kind")
	}
	if meta.APIVersion != v1alpha1.APIVersion {
		return Document{}, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", meta.APIVersion, v1alpha1.APIVersion)
	}

	switch meta.Kind {
	case v1alpha1.VirtualMachineKind:
		var vm v1alpha1.VirtualMachine
		if err := node.Decode(&vm); err != nil {
			return Document{}, fmt.Errorf("failed to unmarshal %s: %w", meta.Kind, err)
		}
		normalize(&vm.ObjectMeta)
		if err := validateVM(&vm); err != nil {
			return Document{}, fmt.Errorf("validation failed: %w", err)
		}
		return Document{VirtualMachine: &vm}, nil

	case v1alpha1.VirtualMachineSnapshotKind:
		var snap v1alpha1.VirtualMachineSnapshot
		if err := node.Decode(&snap); err != nil {
			return Document{}, fmt.Errorf("failed to unmarshal %s: %w", meta.Kind, err)
		}
		normalize(&snap.ObjectMeta)
		snap.Spec.VM = strings.TrimSpace(snap.Spec.VM)
		if snap.Name == "" {
			return Document{}, errors.New("validation failed: metadata.name is required")
		}
		if snap.Spec.VM == "" {
			return Document{}, errors.New("validation failed: spec.vm is required")
		}
		return Document{Snapshot: &snap}, nil

	default:
		return Document{}, fmt.Errorf("unsupported kind: %s", meta.Kind)
	}
}

func normalize(meta *v1alpha1.ObjectMeta) {
	meta.Name = strings.TrimSpace(meta.Name)
}

// validateVM checks the manifest shape. Resource limits are left to
// manager.CreateVMRequest.Validate.
func validateVM(vm *v1alpha1.VirtualMachine) error {
	if vm.Name == "" {
		return errors.New("metadata.name is required")
	}
	boot := vm.Spec.BootDisk
	if boot.Image != "" && boot.SizeGB > 0 {
		return errors.New("spec.bootDisk cannot specify both 'image' and 'sizeGB'")
	}
	if boot.Image == "" && boot.SizeGB <= 0 {
		return errors.New("spec.bootDisk must specify either 'image' or 'sizeGB'")
	}
	return nil
}

// CreateVMRequest converts a VirtualMachine manifest.
func CreateVMRequest(vm *v1alpha1.VirtualMachine) manager.CreateVMRequest {
	return manager.CreateVMRequest{
		Name:        vm.Name,
		Description: vm.Description,
		CPU:         vm.Spec.CPU,
		MemoryKB:    vm.Spec.MemoryKiB(),
		FromImage:   vm.Spec.BootDisk.FromImage(),
		BaseImage:   vm.Spec.BootDisk.Image,
		ISOs:        vm.Spec.BootDisk.ISOs,
		DiskSizeGB:  vm.Spec.BootDisk.SizeGB,
		Networks:    vm.Spec.Networks,
		CloudInit:   cloudInit(vm.Spec.CloudInit),
	}
}

func cloudInit(spec *v1alpha1.CloudInitSpec) *hostvm.CloudInit {
	if spec == nil {
		return nil
	}
	return &hostvm.CloudInit{SSHAuthorizedKeys: spec.SSHAuthorizedKeys, PasswordHash: spec.PasswordHash}
}

// CreateSnapshotRequest converts a VirtualMachineSnapshot manifest.
func CreateSnapshotRequest(s *v1alpha1.VirtualMachineSnapshot) manager.CreateSnapshotRequest {
	return manager.CreateSnapshotRequest{Name: s.Name, Description: s.Description}
}

// Manifest converts a create request back into a VirtualMachine manifest.
func Manifest(req manager.CreateVMRequest) *v1alpha1.VirtualMachine {
	vm := v1alpha1.NewVirtualMachine(req.Name)
	vm.Description = req.Description
	vm.Spec = v1alpha1.VirtualMachineSpec{
		CPU:       req.CPU,
		MemoryMiB: req.MemoryKB / 1024,
		Networks:  req.Networks,
	}
	if req.FromImage {
		vm.Spec.BootDisk.Image = req.BaseImage
	} else {
		vm.Spec.BootDisk.SizeGB = req.DiskSizeGB
	}
	vm.Spec.BootDisk.ISOs = req.ISOs
	if req.CloudInit != nil {
		vm.Spec.CloudInit = &v1alpha1.CloudInitSpec{
			SSHAuthorizedKeys: req.CloudInit.SSHAuthorizedKeys,
			PasswordHash:      req.CloudInit.PasswordHash,
		}
	}
	return vm
}

// SaveToFile writes a VirtualMachine manifest as YAML.
func SaveToFile(vm *v1alpha1.VirtualMachine, path string) error {
	if vm.APIVersion == "" {
		vm.APIVersion = v1alpha1.APIVersion
	}
	if vm.Kind == "" {
		vm.Kind = v1alpha1.VirtualMachineKind
	}

	data, err := yaml.Marshal(vm)
	if err != nil {
		return fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
