package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if kind := errdefs.KindOf(err); kind != "" {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	output     string
	noHeaders  bool
}

// print renders v in the selected output format.
func (o *rootOptions) print(cmd *cobra.Command, v any) error {
	formatter, err := output.NewFormatter(output.Options{
		Format:    output.Format(o.output),
		NoHeaders: o.noHeaders,
	})
	if err != nil {
		return err
	}
	result, err := formatter.Format(v)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), result)
	return err
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth - libvirt VM lifecycle manager",
		Long: `Hearth manages libvirt virtual machines backed by a relational store.

VMs, volumes, interfaces and snapshots are rows; every change to the
hypervisor runs as a background task serialized per VM.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return output.ValidateFormat(opts.output)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("HEARTH_CONFIG"), "path to the hearth config file")
	flags.StringVarP(&opts.output, "output", "o", string(output.FormatTable), "output format: table, yaml or json")
	flags.BoolVar(&opts.noHeaders, "no-headers", false, "omit table headers")

	root.AddCommand(
		newVMCmd(opts),
		newDiskCmd(opts),
		newSnapshotCmd(opts),
		newApplyCmd(opts),
		newImagesCmd(opts),
		newISOsCmd(opts),
		newDomainsCmd(opts),
		newOverviewCmd(opts),
		newTaskCmd(opts),
		newTestConnCmd(opts),
		newMigrateCmd(opts),
		newServeCmd(opts),
	)
	return root
}
