package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuqie6/ModuBot/internal/eventbus"
	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
)

// SchemaEngine 运行期结构演进：确保列存在、维护定义文件、登记默认值、按批次安排重启
type SchemaEngine struct {
	store    SchemaStore
	ddl      TableCreator
	gen      DefinitionWriter
	catalog  RecordCatalog
	defaults *schema.DefaultRegistry
	restart  *RestartCoordinator
	hub      *eventbus.Hub
}

// NewSchemaEngine 创建结构引擎；restart、hub 可以为 nil
func NewSchemaEngine(
	store SchemaStore,
	ddl TableCreator,
	gen DefinitionWriter,
	catalog RecordCatalog,
	defaults *schema.DefaultRegistry,
	restart *RestartCoordinator,
	hub *eventbus.Hub,
) *SchemaEngine {
	if defaults == nil {
		defaults = schema.NewDefaultRegistry()
	}
	e := &SchemaEngine{
		store:    store,
		ddl:      ddl,
		gen:      gen,
		catalog:  catalog,
		defaults: defaults,
		restart:  restart,
		hub:      hub,
	}
	if restart != nil {
		restart.fallback = e.reload
	}
	return e
}

// Defaults 默认值注册表（功能模块在启动时登记函数默认值）
func (e *SchemaEngine) Defaults() *schema.DefaultRegistry {
	return e.defaults
}

// Catalog 当前记录目录
func (e *SchemaEngine) Catalog() RecordCatalog {
	return e.catalog
}

// Restart 重启协调器（可能为 nil）
func (e *SchemaEngine) Restart() *RestartCoordinator {
	return e.restart
}

type ensureOptions struct {
	final bool
	batch string
}

// EnsureOption EnsureColumn 的可选参数
type EnsureOption func(*ensureOptions)

// Final 标记为批次的最后一列
func Final() EnsureOption {
	return func(o *ensureOptions) { o.final = true }
}

// InBatch 关联批次 ID（仅用于日志）
func InBatch(id string) EnsureOption {
	return func(o *ensureOptions) { o.batch = id }
}

// EnsureOutcome 一次 EnsureColumn 的完整结果
type EnsureOutcome struct {
	Result  repository.EnsureResult
	Applied bool // 本次调用实际执行了 DDL（含最后一列触发的整表创建）
	Patched bool // 定义文件已包含该列
	Restart bool // 已安排重启
}

// EnsureColumn 确保列存在，并同步定义文件与默认值
// 表不存在时只排队；若这是批次最后一列，则立即创建整张表
func (e *SchemaEngine) EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec, opts ...EnsureOption) (EnsureOutcome, error) {
	var o ensureOptions
	for _, opt := range opts {
		opt(&o)
	}
	table = schema.CanonicalName(table)
	col = col.Canonical()
	log := slog.With("table", table, "column", col.Name)
	if o.batch != "" {
		log = log.With("batch", o.batch)
	}

	res, err := e.store.EnsureColumn(ctx, table, col)
	out := EnsureOutcome{Result: res}
	if err != nil {
		log.Error("确保列失败", "error", err)
		return out, err
	}
	e.defaults.Register(table, col.Name, col.Default)

	written := []schema.ColumnSpec{col}
	switch res {
	case repository.Queued:
		if !o.final {
			log.Debug("列已排队，等待建表")
			return out, nil
		}
		created, err := e.ddl.CreateTableSpec(ctx, table)
		if err != nil {
			log.Error("批次最后一列触发建表失败", "error", err)
			return out, err
		}
		// 并发创建者已建好全部列时本次没有变更
		out.Applied = len(created.Applied) > 0
		written = created.Spec.Columns
		if out.Applied {
			e.hub.Emit(eventbus.TypeTableCreated, map[string]any{"table": table, "columns": len(created.Applied)})
		}
	case repository.Applied:
		out.Applied = true
		e.hub.Emit(eventbus.TypeColumnAdded, map[string]any{"table": table, "column": col.Name})
	}

	changed, err := e.patch(table, written)
	if err != nil {
		// 列已经在库里，但定义文件没跟上：显式失败，不触发重启
		log.Error("更新定义文件失败", "error", err)
		return out, err
	}
	out.Patched = true

	if o.final {
		out.Restart = e.restart.MarkFinal(out.Applied, out.Patched)
	}
	if changed && !out.Restart {
		if err := e.reload(); err != nil {
			return out, err
		}
	}
	log.Debug("列已确保", "result", res.String(), "applied", out.Applied, "restart", out.Restart)
	return out, nil
}

// FlushPending 创建所有待建表并写入定义文件，返回成功创建的表
func (e *SchemaEngine) FlushPending(ctx context.Context) ([]string, error) {
	var created []string
	var errs []error
	for _, name := range e.store.PendingTables() {
		res, err := e.ddl.CreateTableSpec(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(res.Applied) > 0 {
			e.hub.Emit(eventbus.TypeTableCreated, map[string]any{"table": name, "columns": len(res.Applied)})
		}
		if _, err := e.patch(name, res.Spec.Columns); err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, name)
	}
	if len(created) > 0 {
		if err := e.reload(); err != nil {
			errs = append(errs, err)
		}
	}
	return created, errors.Join(errs...)
}

// Reconcile 把新增列日志与实时快照中定义文件缺少的列补进定义文件，返回补上的列数
func (e *SchemaEngine) Reconcile(ctx context.Context) (int, error) {
	patched := 0
	for _, table := range e.store.AddedTables() {
		for _, added := range e.store.AddedColumns(table) {
			changed, err := e.gen.Patch(table, added.Column)
			if err != nil {
				return patched, err
			}
			if changed {
				patched++
			}
		}
	}

	snap := e.store.Snapshot()
	for _, table := range snap.TableNames() {
		info, _ := snap.Table(table)
		for _, c := range info.Columns {
			changed, err := e.gen.Patch(table, c.Spec())
			if err != nil {
				return patched, err
			}
			if changed {
				patched++
			}
		}
	}

	if patched > 0 {
		slog.Info("定义文件已与实时结构对齐", "columns", patched)
		e.hub.Emit(eventbus.TypeDefinitionPatch, map[string]any{"columns": patched, "reason": "reconcile"})
		if err := e.reload(); err != nil {
			return patched, err
		}
	}
	return patched, nil
}

// Bootstrap 启动时初始化：反射、必要时完整生成定义文件、加载目录、建缺失的表、对齐定义、绑定默认值
func (e *SchemaEngine) Bootstrap(ctx context.Context) error {
	if err := e.store.Refresh(ctx); err != nil {
		return fmt.Errorf("反射数据库结构失败: %w", err)
	}
	schema.RegisterBuiltinDefaults(e.defaults)

	if !e.gen.Exists() {
		if _, err := e.gen.RegenerateFull(e.store.Snapshot(), schema.BuiltinTables()); err != nil {
			return fmt.Errorf("生成定义文件失败: %w", err)
		}
	}
	if err := e.catalog.Reload(); err != nil {
		return fmt.Errorf("加载定义文件失败: %w", err)
	}

	// 定义中有、库中没有的表整表创建；缺少的列逐列补齐
	// 手写的定义文件可能缺少内置表，同样补建
	defs := e.catalog.Tables()
	for _, b := range schema.BuiltinTables() {
		if _, ok := e.catalog.Table(b.Name); !ok {
			defs = append(defs, b)
		}
	}
	snap := e.store.Snapshot()
	for _, def := range defs {
		info, ok := snap.Table(def.Name)
		if !ok {
			if err := e.store.QueueTable(def.Spec()); err != nil {
				return fmt.Errorf("登记待建表 %s 失败: %w", def.Name, err)
			}
			continue
		}
		for _, c := range def.Columns {
			if _, ok := info.Column(c.Name); ok {
				continue
			}
			if _, err := e.store.EnsureColumn(ctx, def.Name, c); err != nil {
				slog.Warn("补齐定义中的列失败", "table", def.Name, "column", c.Name, "error", err)
			}
		}
	}
	if _, err := e.FlushPending(ctx); err != nil {
		slog.Warn("部分待建表创建失败", "error", err)
	}

	if _, err := e.Reconcile(ctx); err != nil {
		return fmt.Errorf("对齐定义文件失败: %w", err)
	}
	e.bindDefaults()

	slog.Info("结构引擎初始化完成", "tables", len(e.store.Snapshot().Tables), "definitions", len(e.catalog.Tables()))
	return nil
}

// bindDefaults 登记定义文件中的字面量默认值，并把函数标记绑定到已注册的实现
func (e *SchemaEngine) bindDefaults() {
	for _, def := range e.catalog.Tables() {
		for _, c := range def.Columns {
			switch c.Default.Kind() {
			case schema.DefaultLiteral:
				e.defaults.Register(def.Name, c.Name, c.Default)
			case schema.DefaultFunc, schema.DefaultFromRecord:
				if !e.defaults.BindMarker(def.Name, c.Name, c.Default.Name()) {
					slog.Debug("函数默认值尚无实现，等待模块注册", "table", def.Name, "column", c.Name, "func", c.Default.Name())
				}
			}
		}
	}
}

func (e *SchemaEngine) patch(table string, cols []schema.ColumnSpec) (bool, error) {
	changed := false
	for _, c := range cols {
		ok, err := e.gen.Patch(table, c)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = true
			e.hub.Emit(eventbus.TypeDefinitionPatch, map[string]any{"table": table, "column": c.Name})
		}
	}
	return changed, nil
}

func (e *SchemaEngine) reload() error {
	if err := e.catalog.Reload(); err != nil {
		return err
	}
	e.hub.Emit(eventbus.TypeCatalogReloaded, nil)
	return nil
}
