package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/model"
)

// Gorm is a Store backed by gorm. Open configures PostgreSQL.
type Gorm struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Gorm{db: db}, nil
}

// NewGorm wraps an existing gorm handle. The handle should be opened with
// TranslateError so duplicate keys surface as conflicts.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Migrate creates or updates the schema.
func (g *Gorm) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

func first[T any](ctx context.Context, db *gorm.DB, what string, query string, args ...any) (*T, error) {
	var row T
	err := db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errdefs.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", what, err)
	}
	return &row, nil
}

func list[T any](ctx context.Context, db *gorm.DB, order string, query string, args ...any) ([]T, error) {
	var rows []T
	q := db.WithContext(ctx)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Order(order).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	return rows, nil
}

func (g *Gorm) save(ctx context.Context, row any, id string) error {
	db := g.db.WithContext(ctx)
	var err error
	if id == "" {
		err = db.Create(row).Error
	} else {
		err = db.Save(row).Error
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errdefs.Conflict("duplicate row: %v", err)
	}
	return err
}

func (g *Gorm) softDelete(ctx context.Context, row any, base *model.Base) error {
	now := time.Now()
	err := g.db.WithContext(ctx).Model(row).Updates(map[string]any{
		"is_deleted": true,
		"deleted_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to soft delete row %s: %w", base.ID, err)
	}
	base.MarkDeleted(now)
	return nil
}

// update writes fields of one active row and reports a missing row as
// NotFound.
func (g *Gorm) update(ctx context.Context, row any, what, id string, fields map[string]any) error {
	res := g.db.WithContext(ctx).Model(row).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s: %w", what, res.Error)
	}
	if res.RowsAffected == 0 {
		return errdefs.NotFound("%s not found", what)
	}
	return nil
}

func taskFields(ref model.TaskRef) map[string]any {
	return map[string]any{"last_task_id": ref.ID, "last_task_name": ref.Name}
}

func (g *Gorm) GetVM(ctx context.Context, id string) (*model.VM, error) {
	return first[model.VM](ctx, g.db, "vm "+id, "id = ?", id)
}

func (g *Gorm) FindVMByName(ctx context.Context, name string) (*model.VM, error) {
	return first[model.VM](ctx, g.db, "vm named "+name, "name = ?", name)
}

func (g *Gorm) ListVMs(ctx context.Context) ([]model.VM, error) {
	return list[model.VM](ctx, g.db, "created_at", "")
}

func (g *Gorm) SaveVM(ctx context.Context, vm *model.VM) error {
	return g.save(ctx, vm, vm.ID)
}

func (g *Gorm) SoftDeleteVM(ctx context.Context, vm *model.VM) error {
	return g.softDelete(ctx, vm, &vm.Base)
}

func (g *Gorm) RecordVMTask(ctx context.Context, vmID string, ref model.TaskRef) error {
	return g.update(ctx, &model.VM{}, "vm "+vmID, vmID, taskFields(ref))
}

func (g *Gorm) CacheDomainXML(ctx context.Context, vmID, xml string) error {
	return g.update(ctx, &model.VM{}, "vm "+vmID, vmID, map[string]any{"domain_xml": xml})
}

func (g *Gorm) GetVolume(ctx context.Context, id string) (*model.Volume, error) {
	return first[model.Volume](ctx, g.db, "volume "+id, "id = ?", id)
}

func (g *Gorm) ListVolumes(ctx context.Context, vmID string) ([]model.Volume, error) {
	return list[model.Volume](ctx, g.db, "device", "vm_id = ?", vmID)
}

func (g *Gorm) SaveVolume(ctx context.Context, v *model.Volume) error {
	return g.save(ctx, v, v.ID)
}

func (g *Gorm) SoftDeleteVolume(ctx context.Context, v *model.Volume) error {
	return g.softDelete(ctx, v, &v.Base)
}

func (g *Gorm) ListInterfaces(ctx context.Context, vmID string) ([]model.Interface, error) {
	return list[model.Interface](ctx, g.db, "created_at", "vm_id = ?", vmID)
}

func (g *Gorm) SaveInterface(ctx context.Context, i *model.Interface) error {
	return g.save(ctx, i, i.ID)
}

func (g *Gorm) SoftDeleteInterface(ctx context.Context, i *model.Interface) error {
	return g.softDelete(ctx, i, &i.Base)
}

func (g *Gorm) RecordInterfaceIP(ctx context.Context, interfaceID, ip string) error {
	return g.update(ctx, &model.Interface{}, "interface "+interfaceID, interfaceID, map[string]any{"ip": ip})
}

func (g *Gorm) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return first[model.Snapshot](ctx, g.db, "snapshot "+id, "id = ?", id)
}

func (g *Gorm) FindSnapshotByInstanceName(ctx context.Context, vmID, instanceName string) (*model.Snapshot, error) {
	return first[model.Snapshot](ctx, g.db, "snapshot "+instanceName, "vm_id = ? AND instance_name = ?", vmID, instanceName)
}

func (g *Gorm) ListSnapshots(ctx context.Context, vmID string) ([]model.Snapshot, error) {
	return list[model.Snapshot](ctx, g.db, "created_at", "vm_id = ?", vmID)
}

func (g *Gorm) SaveSnapshot(ctx context.Context, s *model.Snapshot) error {
	return g.save(ctx, s, s.ID)
}

func (g *Gorm) SoftDeleteSnapshot(ctx context.Context, s *model.Snapshot) error {
	return g.softDelete(ctx, s, &s.Base)
}

func (g *Gorm) RecordSnapshotTask(ctx context.Context, snapshotID string, ref model.TaskRef) error {
	return g.update(ctx, &model.Snapshot{}, "snapshot "+snapshotID, snapshotID, taskFields(ref))
}

func (g *Gorm) RecordSnapshotState(ctx context.Context, snapshotID string, parent *string, state string) error {
	fields := map[string]any{"state": state}
	if parent != nil {
		fields["parent"] = *parent
	}
	return g.update(ctx, &model.Snapshot{}, "snapshot "+snapshotID, snapshotID, fields)
}

func (g *Gorm) MaxPort(ctx context.Context) (int, bool, error) {
	var highest sql.NullInt64
	row := g.db.WithContext(ctx).Model(&model.PortClaim{}).Select("MAX(port)").Row()
	if err := row.Scan(&highest); err != nil {
		return 0, false, fmt.Errorf("failed to read highest port: %w", err)
	}
	if !highest.Valid {
		return 0, false, nil
	}
	return int(highest.Int64), true, nil
}

func (g *Gorm) ClaimPort(ctx context.Context, port int) error {
	err := g.db.WithContext(ctx).Create(&model.PortClaim{Port: port}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errdefs.Conflict("port %d already claimed", port)
	}
	if err != nil {
		return fmt.Errorf("failed to claim port %d: %w", port, err)
	}
	return nil
}

func (g *Gorm) ReleasePort(ctx context.Context, port int) error {
	if err := g.db.WithContext(ctx).Delete(&model.PortClaim{}, "port = ?", port).Error; err != nil {
		return fmt.Errorf("failed to release port %d: %w", port, err)
	}
	return nil
}

func (g *Gorm) Tx(ctx context.Context, fn func(Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}
