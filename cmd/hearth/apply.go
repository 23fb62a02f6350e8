package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/loader"
	"github.com/jbweber/hearth/internal/manager"
	"github.com/jbweber/hearth/internal/status"
)

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply -f <file>",
		Short: "Create or update the resources of a manifest file",
		Long: `Apply a YAML stream of VirtualMachine and VirtualMachineSnapshot
manifests in order.

A VirtualMachine whose name already exists is updated: description, cpu,
memory and networks are applied and the boot disk is left alone. A
snapshot whose name already exists on its VM is skipped. Each resource's
task finishes before the next document is applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := loader.LoadFromFile(file)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				for _, doc := range docs {
					var err error
					switch {
					case doc.VirtualMachine != nil:
						err = applyVM(ctx, a, out, doc.VirtualMachine)
					case doc.Snapshot != nil:
						err = applySnapshot(ctx, a, out, doc.Snapshot)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func applyVM(ctx context.Context, a *app, out io.Writer, vm *v1alpha1.VirtualMachine) error {
	existing, err := a.manager.ResolveVM(ctx, vm.Name)
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		created, err := a.manager.CreateVM(ctx, loader.CreateVMRequest(vm))
		if err != nil {
			return fmt.Errorf("virtualmachine/%s: %w", vm.Name, err)
		}
		if _, err := a.wait(ctx, created.LastTask.ID); err != nil {
			return fmt.Errorf("virtualmachine/%s: %w", vm.Name, err)
		}
		_, err = fmt.Fprintf(out, "virtualmachine/%s created\n", vm.Name)
		return err
	case err != nil:
		return err
	}

	memoryKB := vm.Spec.MemoryKiB()
	req := manager.UpdateVMRequest{
		Description: &vm.Description,
		CPU:         &vm.Spec.CPU,
		MemoryKB:    &memoryKB,
	}
	if vm.Spec.Networks != nil {
		req.Networks = &vm.Spec.Networks
	}
	updated, err := a.manager.UpdateVM(ctx, existing.ID, req)
	if err != nil {
		return fmt.Errorf("virtualmachine/%s: %w", vm.Name, err)
	}
	verb := "unchanged"
	if updated.LastTask != nil && updated.LastTask.Name == status.LabelReconfigure && !status.IsTerminal(updated.LastTask.State) {
		if _, err := a.wait(ctx, updated.LastTask.ID); err != nil {
			return fmt.Errorf("virtualmachine/%s: %w", vm.Name, err)
		}
		verb = "configured"
	}
	_, err = fmt.Fprintf(out, "virtualmachine/%s %s\n", vm.Name, verb)
	return err
}

func applySnapshot(ctx context.Context, a *app, out io.Writer, snap *v1alpha1.VirtualMachineSnapshot) error {
	target, err := a.manager.ResolveVM(ctx, snap.Spec.VM)
	if err != nil {
		return fmt.Errorf("virtualmachinesnapshot/%s: %w", snap.Name, err)
	}
	existing, err := a.manager.ListSnapshots(ctx, target.ID)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.Name == snap.Name {
			_, err := fmt.Fprintf(out, "virtualmachinesnapshot/%s unchanged\n", snap.Name)
			return err
		}
	}

	created, err := a.manager.CreateSnapshot(ctx, target.ID, loader.CreateSnapshotRequest(snap))
	if err != nil {
		return fmt.Errorf("virtualmachinesnapshot/%s: %w", snap.Name, err)
	}
	if _, err := a.wait(ctx, created.LastTask.ID); err != nil {
		return fmt.Errorf("virtualmachinesnapshot/%s: %w", snap.Name, err)
	}
	_, err = fmt.Fprintf(out, "virtualmachinesnapshot/%s created\n", snap.Name)
	return err
}
