package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newImagesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List base images",
		Long:  `List the qcow2 base images VMs can be created from.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				images, err := a.manager.ListBaseImages()
				if err != nil {
					return err
				}
				return opts.print(cmd, images)
			})
		},
	}
}

func newISOsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "isos",
		Short: "List installation ISOs",
		Long:  `List the ISO images with their volume labels.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				isos, err := a.manager.ListISOs()
				if err != nil {
					return err
				}
				return opts.print(cmd, isos)
			})
		},
	}
}

func newDomainsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List every libvirt domain",
		Long: `List every domain the hypervisor knows, including domains hearth
does not manage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				domains, err := a.manager.ListDomains(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd, domains)
			})
		},
	}
}

func newOverviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Summarize VMs and allocated resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				o, err := a.manager.Overview(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd, o)
			})
		},
	}
}

func newTaskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Show the status of a task",
		Long: `Show the status of a task. Tasks of other processes are only visible
with the redis task backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				st, err := a.manager.TaskStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd, st)
			})
		},
	}
}

func newTestConnCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-conn",
		Short: "Test libvirt connection",
		Long:  `Test connectivity to the libvirt daemon and display version information.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Testing libvirt connection...")

				info, err := a.connector.Info(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ Connected to libvirt daemon")
				fmt.Fprintf(out, "✓ Libvirt version: %s\n", info.Version)
				fmt.Fprintf(out, "✓ Hypervisor hostname: %s\n", info.Hostname)
				fmt.Fprintf(out, "✓ Connection URI: %s\n", info.URI)
				fmt.Fprintln(out, "\nConnection test successful!")
				return nil
			})
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if a.gorm == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "The in-memory store has no schema to migrate")
					return nil
				}
				if err := a.gorm.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Schema migrated")
				return nil
			})
		},
	}
}
