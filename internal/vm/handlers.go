package vm

import (
	"context"
	"encoding/json"

	"github.com/jbweber/hearth/internal/task"
)

// DefineHostArgs are the inputs of the define_host task.
type DefineHostArgs struct {
	VMID string `json:"vm_id"`
}

// Handlers maps every task operation to the Service method that runs it.
func (s *Service) Handlers() map[task.Op]task.Handler {
	return map[task.Op]task.Handler{
		task.OpCreateHost: handle(s.CreateHost),
		task.OpDefineHost: handle(func(ctx context.Context, a DefineHostArgs) error {
			return s.DefineHost(ctx, a.VMID)
		}),
		task.OpHostAction:     handle(s.HostAction),
		task.OpAttachDisk:     handle(s.AttachDisk),
		task.OpDetachDisk:     handle(s.DetachDisk),
		task.OpSaveDiskToBase: handle(s.SaveDiskToBase),
		task.OpSnapshotCreate: handle(s.SnapshotCreate),
		task.OpSnapshotRevert: handle(s.SnapshotRevert),
		task.OpSnapshotDelete: handle(s.SnapshotDelete),
	}
}

func handle[T any](fn func(context.Context, T) error) task.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		args, err := task.Decode[T](raw)
		if err != nil {
			return err
		}
		return fn(ctx, args)
	}
}
