package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newDiskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disk",
		Short: "Manage VM data disks",
	}
	cmd.AddCommand(newDiskAttachCmd(opts), newDiskDetachCmd(opts), newDiskSaveCmd(opts))
	return cmd
}

// awaitVMTask resolves ref, dispatches through fn and prints how the task
// ended.
func awaitVMTask(cmd *cobra.Command, opts *rootOptions, ref string, fn func(ctx context.Context, a *app, vmID string) (string, error)) error {
	return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
		target, err := a.manager.ResolveVM(ctx, ref)
		if err != nil {
			return err
		}
		id, err := fn(ctx, a, target.ID)
		if err != nil {
			return err
		}
		st, err := a.await(ctx, id)
		if err != nil {
			return err
		}
		return opts.print(cmd, st)
	})
}

func newDiskAttachCmd(opts *rootOptions) *cobra.Command {
	var sizeGB int

	cmd := &cobra.Command{
		Use:   "attach <vm>",
		Short: "Create and attach an empty data disk",
		Long: `Create an empty qcow2 disk and attach it at the next free virtio
device. A running VM gets the disk hot-plugged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return awaitVMTask(cmd, opts, args[0], func(ctx context.Context, a *app, vmID string) (string, error) {
				return a.manager.AttachDisk(ctx, vmID, sizeGB)
			})
		},
	}
	cmd.Flags().IntVar(&sizeGB, "size", 10, "disk size in GB")
	return cmd
}

func newDiskDetachCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <vm> <volume-id>",
		Short: "Detach a volume and delete its file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return awaitVMTask(cmd, opts, args[0], func(ctx context.Context, a *app, vmID string) (string, error) {
				return a.manager.DetachDisk(ctx, vmID, args[1])
			})
		},
	}
}

func newDiskSaveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save <vm> <volume-id> <image-name>",
		Short: "Copy a volume into the base image directory",
		Long: `Copy a volume into the base image directory as <image-name>.qcow2.
A running VM is paused for the copy and resumed afterwards.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return awaitVMTask(cmd, opts, args[0], func(ctx context.Context, a *app, vmID string) (string, error) {
				return a.manager.SaveDiskToBase(ctx, vmID, args[1], args[2])
			})
		},
	}
}
