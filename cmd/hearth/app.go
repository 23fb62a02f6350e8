package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jbweber/hearth/internal/alloc"
	"github.com/jbweber/hearth/internal/config"
	"github.com/jbweber/hearth/internal/disk"
	hvlibvirt "github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/manager"
	"github.com/jbweber/hearth/internal/status"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/store"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

const (
	// drainTimeout bounds waiting for dispatched tasks when a command exits.
	drainTimeout = 2 * time.Hour

	// pollInterval is how often wait looks at a task.
	pollInterval = 250 * time.Millisecond
)

// app holds the wired components for one command run.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     store.Store
	gorm      *store.Gorm
	connector *hvlibvirt.Connector
	catalog   *storage.Catalog
	service   *vm.Service
	pool      *task.Pool
	manager   *manager.Manager
	redis     *redis.Client
}

// appOptions tune newApp for the command at hand.
type appOptions struct {
	// metrics, when set, instruments the task pool.
	metrics *task.Metrics
}

// loadApp reads the config and wires every component. The task pool is
// started; close drains it.
func loadApp(ctx context.Context, opts *rootOptions, ao appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, log, ao)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, ao appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	switch cfg.Database.Driver {
	case config.DriverMemory:
		log.Warn("using the in-memory store; nothing is kept after exit")
		a.store = store.NewMemory()
	default:
		a.gorm, err = store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.store = a.gorm
	}

	var backend task.Backend = task.NewMemoryBackend()
	if cfg.Tasks.Backend == config.BackendRedis {
		a.redis, err = task.DialRedis(ctx, cfg.Tasks.RedisURL)
		if err != nil {
			return nil, err
		}
		backend = task.NewRedisBackend(a.redis, cfg.Tasks.ResultTTL)
	}

	diskOpts := disk.Options{DataDir: cfg.Storage.DataDir, QemuImgTimeout: cfg.Storage.QemuImgTimeout}
	if cfg.Storage.Owner != "" {
		diskOpts.Owner, err = disk.LookupOwner(cfg.Storage.Owner)
		if err != nil {
			return nil, err
		}
	}

	a.connector = hvlibvirt.NewConnector(hvlibvirt.Options{Socket: cfg.Libvirt.Socket, Timeout: cfg.Libvirt.Timeout}, log)
	a.catalog = storage.NewCatalog(cfg.Storage.BaseDir, cfg.Storage.ISODir, log)
	a.service = vm.New(vm.Deps{
		Store:     a.store,
		Connector: a.connector,
		Disks:     disk.NewManager(diskOpts, log),
		Catalog:   a.catalog,
		Log:       log,
	})

	a.pool = task.NewPool(a.service.Handlers(), backend, task.Options{
		Workers: cfg.Tasks.Workers,
		Timeout: cfg.Tasks.Timeout,
	}, ao.metrics, log)
	a.pool.Start(context.WithoutCancel(ctx))

	a.manager = manager.New(manager.Deps{
		Store:      a.store,
		Ports:      alloc.NewPortAllocator(a.store, cfg.Ports.Base, cfg.Ports.MaxAttempts, log),
		Executor:   a.pool,
		Hypervisor: a.service,
		Images:     a.catalog,
		Log:        log,
	})
	return a, nil
}

// drain waits for every dispatched task to finish.
func (a *app) drain(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	return a.pool.Close(ctx)
}

// close drains the pool and releases every connection.
func (a *app) close(ctx context.Context) error {
	err := a.drain(context.WithoutCancel(ctx))
	return errors.Join(err, a.release())
}

func (a *app) release() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.gorm != nil {
		errs = append(errs, a.gorm.Close())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

// await drains the pool and reports how task id ended. A failed task is
// returned as an error.
func (a *app) await(ctx context.Context, id string) (*status.TaskStatus, error) {
	if err := a.drain(ctx); err != nil {
		return nil, err
	}
	st, err := a.manager.TaskStatus(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	if st.State == status.PhaseFailed {
		return st, taskError(st)
	}
	return st, nil
}

// wait polls task id until it ends, leaving the pool open for more work.
func (a *app) wait(ctx context.Context, id string) (*status.TaskStatus, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st, err := a.manager.TaskStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if status.IsTerminal(st.State) {
			if st.State == status.PhaseFailed {
				return st, taskError(st)
			}
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func taskError(st *status.TaskStatus) error {
	if st.Kind != "" {
		return fmt.Errorf("task %s failed (%s): %s", st.ID, st.Kind, st.Result)
	}
	return fmt.Errorf("task %s failed: %s", st.ID, st.Result)
}

// run loads the app, calls fn and closes the app whatever fn returns.
func run(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := loadApp(ctx, opts, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(ctx))
	}()
	return fn(ctx, a)
}
