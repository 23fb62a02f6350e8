package vm

import (
	"context"
	"fmt"
	"sort"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/alloc"
	"github.com/jbweber/hearth/internal/cloudinit"
	"github.com/jbweber/hearth/internal/errdefs"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/model"
	"github.com/jbweber/hearth/internal/naming"
)

// CreateHostArgs are the inputs of CreateHost.
type CreateHostArgs struct {
	VMID string `json:"vm_id"`
	// FromImage selects copying BaseImage over creating an empty disk and
	// booting from ISOs.
	FromImage  bool     `json:"from_image"`
	BaseImage  string   `json:"base_image,omitempty"`
	ISOs       []string `json:"isos,omitempty"`
	DiskSizeGB int      `json:"disk_size_gb,omitempty"`
	Networks   []string `json:"networks"`
	// CloudInit, when set, adds a NoCloud seed image as a cdrom.
	CloudInit *CloudInit `json:"cloud_init,omitempty"`
}

// CloudInit is the guest configuration written to a VM's seed image.
type CloudInit struct {
	SSHAuthorizedKeys []string `json:"ssh_authorized_keys,omitempty" yaml:"ssh_authorized_keys,omitempty"`
	PasswordHash      string   `json:"password_hash,omitempty" yaml:"password_hash,omitempty"`
}

// CreateHost provisions the storage and network rows of a new VM and
// defines its domain.
//
// This orchestrates the creation process:
//  1. Resolve the base image or ISOs (nothing is written if one is missing)
//  2. Ensure the VM data directory exists
//  3. Copy the base image or create an empty root disk
//  4. Save the root disk volume and any cdrom volumes
//  5. Save one interface per network with a MAC unique within the VM
//  6. Write the cloud-init seed image and save it as a cdrom, if requested
//  7. Define the domain
//
// Rows already present from an earlier attempt are kept, so a failed create
// can be re-run.
func (s *Service) CreateHost(ctx context.Context, args CreateHostArgs) error {
	vm, vols, ifaces, err := s.loadVM(ctx, args.VMID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.String("vm_id", vm.ID), zap.String("instance", vm.InstanceName))

	// Step 1: resolve inputs
	var basePath, baseFile string
	isoPaths := make([]string, 0, len(args.ISOs))
	if args.FromImage {
		if basePath, err = s.catalog.OpenBaseImage(args.BaseImage); err != nil {
			return err
		}
		if baseFile, err = naming.BaseImageName(args.BaseImage); err != nil {
			return err
		}
	} else {
		if args.DiskSizeGB <= 0 {
			return errdefs.InvalidArgument("disk size must be positive, got %d", args.DiskSizeGB)
		}
		for _, iso := range args.ISOs {
			p, err := s.catalog.ISOPath(iso)
			if err != nil {
				return err
			}
			isoPaths = append(isoPaths, p)
		}
	}

	// Step 2: data directory
	if _, err := s.disks.EnsureVMDir(vm.InstanceName); err != nil {
		return err
	}

	// Step 3 and 4: root disk
	if !hasDisk(vols) {
		file := baseFile
		if !args.FromImage {
			file, err = alloc.RootDiskFiles().NextFunc(func(c string) (bool, error) {
				return s.disks.Exists(s.disks.Path(vm.InstanceName, c))
			})
			if err != nil {
				return fmt.Errorf("failed to pick root disk file: %w", err)
			}
		}
		path := s.disks.Path(vm.InstanceName, file)

		if args.FromImage {
			// no row references path yet, so a file there is left over from a failed run
			if err := s.disks.Remove(path); err != nil {
				return err
			}
			log.Info("copying base image", zap.String("src", basePath), zap.String("dst", path))
			if err := s.disks.CopyFile(ctx, basePath, path); err != nil {
				return err
			}
		} else {
			log.Info("creating root disk", zap.String("path", path), zap.Int("size_gb", args.DiskSizeGB))
			if err := s.disks.CreateImage(ctx, path, args.DiskSizeGB); err != nil {
				return err
			}
		}

		dev, err := alloc.DiskDevices().Next(devices(vols))
		if err != nil {
			return err
		}
		root := model.Volume{VMID: vm.ID, Kind: model.VolumeDisk, Device: dev, Bus: model.BusVirtio, Path: path}
		if err := s.store.SaveVolume(ctx, &root); err != nil {
			return fmt.Errorf("failed to save root disk: %w", err)
		}
		vols = append(vols, root)
	}

	for _, p := range isoPaths {
		if hasPath(vols, p) {
			continue
		}
		dev, err := alloc.CDROMDevices().Next(devices(vols))
		if err != nil {
			return err
		}
		cd := model.Volume{VMID: vm.ID, Kind: model.VolumeCDROM, Device: dev, Bus: model.BusIDE, Path: p}
		if err := s.store.SaveVolume(ctx, &cd); err != nil {
			return fmt.Errorf("failed to save cdrom: %w", err)
		}
		vols = append(vols, cd)
	}

	// Step 5: interfaces
	if len(ifaces) == 0 {
		if _, err := SyncNetworks(ctx, s.store, s.rand, vm.ID, args.Networks); err != nil {
			return err
		}
		if ifaces, err = s.store.ListInterfaces(ctx, vm.ID); err != nil {
			return err
		}
	}

	// Step 6: seed image
	if args.CloudInit != nil {
		if err := s.writeSeed(ctx, vm, vols, ifaces, args.CloudInit, log); err != nil {
			return err
		}
	}

	// Step 7: define
	log.Info("defining domain")
	return s.DefineHost(ctx, vm.ID)
}

// writeSeed writes the cloud-init seed image into the VM directory and
// saves it as a cdrom. The image is rewritten on every attempt; the volume
// row is saved once.
func (s *Service) writeSeed(ctx context.Context, vm *model.VM, vols []model.Volume, ifaces []model.Interface, ci *CloudInit, log *zap.Logger) error {
	macs := make([]string, 0, len(ifaces))
	nics := append([]model.Interface(nil), ifaces...)
	sort.Slice(nics, func(i, j int) bool { return nics[i].MAC < nics[j].MAC })
	for _, i := range nics {
		macs = append(macs, i.MAC)
	}

	iso, err := cloudinit.GenerateISO(&cloudinit.Config{
		InstanceID:        vm.InstanceUUID,
		Hostname:          cloudinit.Hostname(vm.Name),
		SSHAuthorizedKeys: ci.SSHAuthorizedKeys,
		PasswordHash:      ci.PasswordHash,
		MACs:              macs,
	})
	if err != nil {
		return err
	}

	path := s.disks.Path(vm.InstanceName, naming.SeedISOFile)
	log.Info("writing cloud-init seed image", zap.String("path", path))
	if err := s.disks.WriteFile(path, iso); err != nil {
		return err
	}
	if hasPath(vols, path) {
		return nil
	}

	dev, err := alloc.CDROMDevices().Next(devices(vols))
	if err != nil {
		return err
	}
	cd := model.Volume{VMID: vm.ID, Kind: model.VolumeCDROM, Device: dev, Bus: model.BusIDE, Path: path}
	if err := s.store.SaveVolume(ctx, &cd); err != nil {
		return fmt.Errorf("failed to save seed cdrom: %w", err)
	}
	return nil
}

// DefineHost renders the domain from the VM's active rows, defines it and
// caches the XML the hypervisor reports back.
func (s *Service) DefineHost(ctx context.Context, vmID string) error {
	vm, vols, ifaces, err := s.loadVM(ctx, vmID)
	if err != nil {
		return err
	}

	xml, err := hvlibvirt.RenderDomain(vm, vols, ifaces)
	if err != nil {
		return err
	}
	return s.define(ctx, vm, xml)
}

func (s *Service) define(ctx context.Context, vm *model.VM, xml string) error {
	var live string
	err := s.do(ctx, func(lv libvirtClient) error {
		dom, err := lv.DomainDefineXML(xml)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to define domain %s", vm.InstanceName)
		}
		live, err = lv.DomainGetXMLDesc(dom, 0)
		if err != nil {
			return hvlibvirt.Wrap(err, "failed to read back domain %s", vm.InstanceName)
		}
		return nil
	})
	if err != nil {
		return err
	}

	vm.DomainXML = live
	if err := s.store.CacheDomainXML(ctx, vm.ID, live); err != nil {
		return fmt.Errorf("failed to cache domain XML: %w", err)
	}
	s.log.Info("domain defined", zap.String("vm_id", vm.ID), zap.String("instance", vm.InstanceName))
	return nil
}

// DomainXML returns the live domain XML of a VM.
func (s *Service) DomainXML(ctx context.Context, vmID string) (string, error) {
	vm, err := s.store.GetVM(ctx, vmID)
	if err != nil {
		return "", err
	}
	var xml string
	err = s.withDomain(ctx, vm, func(lv libvirtClient, dom libvirt.Domain) error {
		var err error
		xml, err = lv.DomainGetXMLDesc(dom, 0)
		return hvlibvirt.Wrap(err, "failed to read domain %s", vm.InstanceName)
	})
	return xml, err
}

// PutDomainXML defines a caller-edited domain document. The document must
// keep the VM's instance uuid.
func (s *Service) PutDomainXML(ctx context.Context, vmID, xml string) error {
	vm, err := s.store.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	id, err := hvlibvirt.ParseDomainIdentity(xml)
	if err != nil {
		return err
	}
	if id.UUID != vm.InstanceUUID {
		return errdefs.InvalidArgument("domain uuid %q does not match VM instance uuid %s", id.UUID, vm.InstanceUUID)
	}
	return s.define(ctx, vm, xml)
}

func hasDisk(vols []model.Volume) bool {
	for _, v := range vols {
		if v.Kind == model.VolumeDisk {
			return true
		}
	}
	return false
}

func hasPath(vols []model.Volume, path string) bool {
	for _, v := range vols {
		if v.Path == path {
			return true
		}
	}
	return false
}
