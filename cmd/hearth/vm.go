package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/internal/loader"
	"github.com/jbweber/hearth/internal/manager"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/vm"
)

func newVMCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vm",
		Aliases: []string{"vms"},
		Short:   "Manage virtual machines",
	}
	cmd.AddCommand(
		newVMCreateCmd(opts),
		newVMListCmd(opts),
		newVMGetCmd(opts),
		newVMUpdateCmd(opts),
		newVMXMLCmd(opts),
		newVMPutXMLCmd(opts),
	)
	for _, action := range vm.Actions() {
		cmd.AddCommand(newVMActionCmd(opts, action))
	}
	return cmd
}

func newVMCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		req       manager.CreateVMRequest
		memoryMiB uint64
		file      string
		save      string
		sshKeys   []string
		pwHash    string
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a VM",
		Long: `Create a VM from flags or from a VirtualMachine manifest.

The root disk is either a copy of a base image (--image) or an empty disk
of --disk-size GB with ISOs attached for installation (--iso). With
--ssh-key or --password-hash a cloud-init seed image is attached as well.

Examples:
  hearth vm create web --cpu 2 --memory 2048 --image fedora-43.qcow2
  hearth vm create web --cpu 2 --memory 2048 --image fedora-43.qcow2 --ssh-key "$(cat ~/.ssh/id_ed25519.pub)"
  hearth vm create installer --cpu 1 --memory 1024 --disk-size 20 --iso fedora-43.iso
  hearth vm create -f web.yaml
  hearth vm create web --cpu 2 --memory 2048 --image fedora-43.qcow2 --save web.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if len(args) > 0 {
					return fmt.Errorf("a name cannot be combined with --file")
				}
				docs, err := loader.LoadFromFile(file)
				if err != nil {
					return err
				}
				if len(docs) != 1 || docs[0].VirtualMachine == nil {
					return fmt.Errorf("%s must hold exactly one VirtualMachine; use hearth apply for streams", file)
				}
				req = loader.CreateVMRequest(docs[0].VirtualMachine)
			} else {
				if len(args) == 0 {
					return fmt.Errorf("a VM name or --file is required")
				}
				req.Name = args[0]
				req.MemoryKB = memoryMiB * 1024
				req.FromImage = req.BaseImage != ""
				if len(sshKeys) > 0 || pwHash != "" {
					req.CloudInit = &vm.CloudInit{SSHAuthorizedKeys: sshKeys, PasswordHash: pwHash}
				}
			}
			if save != "" {
				if err := req.Validate(); err != nil {
					return err
				}
				if err := loader.SaveToFile(loader.Manifest(req), save); err != nil {
					return err
				}
			}

			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				created, err := a.manager.CreateVM(ctx, req)
				if err != nil {
					return err
				}
				if _, err := a.await(ctx, created.LastTask.ID); err != nil {
					return err
				}
				view, err := a.manager.GetVM(ctx, created.ID)
				if err != nil {
					return err
				}
				return opts.print(cmd, view)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "VirtualMachine manifest to create")
	f.StringVar(&save, "save", "", "also write the VM as a manifest to this file")
	f.StringVar(&req.Description, "description", "", "free-form description")
	f.IntVar(&req.CPU, "cpu", 1, "number of virtual CPUs")
	f.Uint64Var(&memoryMiB, "memory", 1024, "memory in MiB")
	f.StringVar(&req.BaseImage, "image", "", "base image to copy as the root disk")
	f.IntVar(&req.DiskSizeGB, "disk-size", 0, "size in GB of an empty root disk")
	f.StringSliceVar(&req.ISOs, "iso", nil, "ISO image to attach (repeatable)")
	f.StringSliceVar(&req.Networks, "network", nil, "libvirt network to connect (repeatable, default \"default\")")
	f.StringArrayVar(&sshKeys, "ssh-key", nil, "SSH public key for a cloud-init seed image (repeatable)")
	f.StringVar(&pwHash, "password-hash", "", "crypt(3) root password hash for a cloud-init seed image")
	return cmd
}

func newVMListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List VMs",
		Long: `List every VM with its live state and the last task that did not
succeed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				views, err := a.manager.ListVMs(ctx)
				if err != nil {
					return fmt.Errorf("failed to list VMs: %w", err)
				}
				return opts.print(cmd, views)
			})
		},
	}
}

func newVMGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <vm>",
		Short: "Show a VM by id or name",
		Long: `Show a VM with its volumes and interfaces.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML view
  -o json   Full JSON view`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				view, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd, view)
			})
		},
	}
}

func newVMUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		name, description string
		cpu               int
		memoryMiB         uint64
		networks          []string
	)

	cmd := &cobra.Command{
		Use:   "update <vm>",
		Short: "Change a VM's name, description, resources or networks",
		Long: `Change a VM. Only the flags given are applied.

Changing cpu, memory or networks redefines the domain; the new values take
effect on the next boot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req manager.UpdateVMRequest
			f := cmd.Flags()
			if f.Changed("name") {
				req.Name = &name
			}
			if f.Changed("description") {
				req.Description = &description
			}
			if f.Changed("cpu") {
				req.CPU = &cpu
			}
			if f.Changed("memory") {
				kb := memoryMiB * 1024
				req.MemoryKB = &kb
			}
			if f.Changed("network") {
				req.Networks = &networks
			}

			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				view, err := a.manager.UpdateVM(ctx, target.ID, req)
				if err != nil {
					return err
				}
				if view.LastTask != nil && view.LastTask.Name == status.LabelReconfigure {
					if _, err := a.await(ctx, view.LastTask.ID); err != nil {
						return err
					}
					if view, err = a.manager.GetVM(ctx, target.ID); err != nil {
						return err
					}
				}
				return opts.print(cmd, view)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "new display name")
	f.StringVar(&description, "description", "", "new description")
	f.IntVar(&cpu, "cpu", 0, "number of virtual CPUs")
	f.Uint64Var(&memoryMiB, "memory", 0, "memory in MiB")
	f.StringSliceVar(&networks, "network", nil, "full list of networks (repeatable)")
	return cmd
}

func newVMActionCmd(opts *rootOptions, action vm.Action) *cobra.Command {
	short := map[vm.Action]string{
		vm.ActionStart:    "Start a VM",
		vm.ActionShutdown: "Ask a VM's guest to shut down",
		vm.ActionDestroy:  "Power a VM off",
		vm.ActionReboot:   "Reboot a VM",
		vm.ActionSync:     "Redefine a VM's domain from its rows",
		vm.ActionDelete:   "Delete a VM, its domain, snapshots and disks",
	}[action]

	return &cobra.Command{
		Use:   action.String() + " <vm>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				id, err := a.manager.VMAction(ctx, target.ID, action)
				if err != nil {
					return err
				}
				st, err := a.await(ctx, id)
				if err != nil {
					return err
				}
				st.Name = action.Label()
				return opts.print(cmd, st)
			})
		},
	}
}

func newVMXMLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "xml <vm>",
		Short: "Print a VM's live domain XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				xml, err := a.manager.DomainXML(ctx, target.ID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), xml)
				return err
			})
		},
	}
}

func newVMPutXMLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put-xml <vm> <file>",
		Short: "Define edited domain XML for a VM",
		Long: `Define domain XML edited by hand. The instance uuid must not change;
the redefined XML is cached on the VM.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.manager.PutDomainXML(ctx, target.ID, string(data)); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "✓ domain XML of %s updated\n", target.Name)
				return err
			})
		},
	}
}
