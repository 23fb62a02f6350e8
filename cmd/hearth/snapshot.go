package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/internal/manager"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Manage VM snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(opts),
		newSnapshotListCmd(opts),
		newSnapshotGetCmd(opts),
		newSnapshotTaskCmd(opts, "revert", "Revert a VM to a snapshot", (*manager.Manager).RevertSnapshot),
		newSnapshotTaskCmd(opts, "delete", "Delete a snapshot", (*manager.Manager).DeleteSnapshot),
	)
	return cmd
}

func newSnapshotCreateCmd(opts *rootOptions) *cobra.Command {
	var req manager.CreateSnapshotRequest

	cmd := &cobra.Command{
		Use:   "create <vm> <name>",
		Short: "Snapshot a VM",
		Long: `Snapshot every data disk of a VM. The memory of a running VM is
included. A snapshot that fails on the hypervisor is removed again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[1]
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				return createSnapshot(ctx, cmd, opts, a, target.ID, req)
			})
		},
	}
	cmd.Flags().StringVar(&req.Description, "description", "", "snapshot description")
	return cmd
}

func createSnapshot(ctx context.Context, cmd *cobra.Command, opts *rootOptions, a *app, vmID string, req manager.CreateSnapshotRequest) error {
	snap, err := a.manager.CreateSnapshot(ctx, vmID, req)
	if err != nil {
		return err
	}
	if _, err := a.await(ctx, snap.LastTask.ID); err != nil {
		return err
	}
	snap, err = a.manager.GetSnapshot(ctx, snap.ID)
	if err != nil {
		return err
	}
	return opts.print(cmd, snap)
}

func newSnapshotListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list <vm>",
		Aliases: []string{"ls"},
		Short:   "List the snapshots of a VM",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				target, err := a.manager.ResolveVM(ctx, args[0])
				if err != nil {
					return err
				}
				snaps, err := a.manager.ListSnapshots(ctx, target.ID)
				if err != nil {
					return err
				}
				return opts.print(cmd, snaps)
			})
		},
	}
}

func newSnapshotGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <snapshot-id>",
		Short: "Show a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				snap, err := a.manager.GetSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd, snap)
			})
		},
	}
}

func newSnapshotTaskCmd(opts *rootOptions, use, short string, dispatch func(*manager.Manager, context.Context, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <snapshot-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				id, err := dispatch(a.manager, ctx, args[0])
				if err != nil {
					return err
				}
				st, err := a.await(ctx, id)
				if err != nil {
					return err
				}
				return opts.print(cmd, st)
			})
		},
	}
}
