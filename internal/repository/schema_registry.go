package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuqie6/ModuBot/internal/schema"
	"gorm.io/gorm"
)

// EnsureResult EnsureColumn 的结果
type EnsureResult int

const (
	AlreadyExists EnsureResult = iota
	Queued
	Applied
)

func (r EnsureResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Applied:
		return "applied"
	default:
		return "already_exists"
	}
}

// SchemaRegistry 实时库结构的内存反射 + 待建表 + 新增列日志
type SchemaRegistry struct {
	db       *gorm.DB
	ddl      *DDLApplier
	snapshot atomic.Pointer[schema.Snapshot]

	mu      sync.Mutex
	pending map[string]*schema.TableSpec
	added   map[string][]schema.AddedColumn
}

// NewSchemaRegistry 创建注册表（需调用 Refresh 加载首个快照）
func NewSchemaRegistry(db *gorm.DB) *SchemaRegistry {
	r := &SchemaRegistry{
		db:      db,
		pending: make(map[string]*schema.TableSpec),
		added:   make(map[string][]schema.AddedColumn),
	}
	r.snapshot.Store(schema.EmptySnapshot())
	r.ddl = &DDLApplier{db: db, reg: r}
	return r
}

// DDL 返回绑定的 DDL 执行器
func (r *SchemaRegistry) DDL() *DDLApplier {
	return r.ddl
}

// Snapshot 当前快照（只读）
func (r *SchemaRegistry) Snapshot() *schema.Snapshot {
	return r.snapshot.Load()
}

// EnsureColumn 确保列存在：表不存在则排队，列已存在则仅记账，缺列则 ALTER
func (r *SchemaRegistry) EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) (EnsureResult, error) {
	if err := col.Validate(); err != nil {
		return AlreadyExists, err
	}
	table = schema.CanonicalName(table)
	col = col.Canonical()
	if table == "" {
		return AlreadyExists, fmt.Errorf("表名不能为空")
	}

	snap := r.Snapshot()
	info, ok := snap.Table(table)
	if !ok {
		if err := r.queue(table, col); err != nil {
			return Queued, err
		}
		slog.Debug("表不存在，列已排队", "table", table, "column", col.Name)
		return Queued, nil
	}

	if existing, ok := info.Column(col.Name); ok {
		if !liveShapeMatches(existing, col) {
			return AlreadyExists, fmt.Errorf("%w: %s.%s 已存在 (类型 %s, 可空 %t, 主键 %t)，请求 (类型 %s, 可空 %t, 主键 %t)",
				schema.ErrColumnConflict, table, col.Name,
				existing.Type, existing.Nullable, existing.PrimaryKey,
				col.Type, col.Nullable, col.PrimaryKey)
		}
		r.logAdded(table, col)
		return AlreadyExists, nil
	}

	outcome, err := r.ddl.addColumn(ctx, table, col)
	if err != nil {
		return AlreadyExists, err
	}
	if outcome == columnReplayed {
		return AlreadyExists, nil
	}
	return Applied, nil
}

// liveShapeMatches 比较已存在的物理列与请求的声明
// 主键列在反射中总是非空，请求中主键的可空标记不参与比较
func liveShapeMatches(existing schema.ColumnInfo, col schema.ColumnSpec) bool {
	want := col
	if want.PrimaryKey {
		want.Nullable = false
	}
	return existing.Spec().SameShape(want)
}

// Refresh 重新反射整个库结构并整体替换快照
func (r *SchemaRegistry) Refresh(ctx context.Context) error {
	snap, err := reflectSchema(ctx, r.db)
	if err != nil {
		return err
	}
	r.snapshot.Store(snap)
	return nil
}

// Pending 查看待建表
func (r *SchemaRegistry) Pending(table string) (schema.TableSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.pending[schema.CanonicalName(table)]
	if !ok {
		return schema.TableSpec{}, false
	}
	return schema.TableSpec{Name: spec.Name, Columns: append([]schema.ColumnSpec(nil), spec.Columns...)}, true
}

// PendingTables 所有待建表名（排序）
func (r *SchemaRegistry) PendingTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for name := range r.pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// QueueTable 将完整表声明并入待建表
func (r *SchemaRegistry) QueueTable(spec schema.TableSpec) error {
	table := schema.CanonicalName(spec.Name)
	for _, c := range spec.Columns {
		if err := r.queue(table, c.Canonical()); err != nil {
			return err
		}
	}
	return nil
}

// AddedColumns 某表的新增列日志
func (r *SchemaRegistry) AddedColumns(table string) []schema.AddedColumn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.AddedColumn(nil), r.added[schema.CanonicalName(table)]...)
}

// AddedTables 有新增列日志的表（排序）
func (r *SchemaRegistry) AddedTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.added))
	for name := range r.added {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *SchemaRegistry) queue(table string, col schema.ColumnSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.pending[table]
	if !ok {
		spec = &schema.TableSpec{Name: table}
		r.pending[table] = spec
	}
	_, err := spec.Merge(col)
	return err
}

// drainPending 取出并移除待建表
func (r *SchemaRegistry) drainPending(table string) (schema.TableSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.pending[table]
	if !ok || len(spec.Columns) == 0 {
		return schema.TableSpec{}, false
	}
	delete(r.pending, table)
	return *spec, true
}

// restorePending 建表失败时放回待建表，便于重试
func (r *SchemaRegistry) restorePending(spec schema.TableSpec) {
	for _, c := range spec.Columns {
		_ = r.queue(spec.Name, c)
	}
}

func (r *SchemaRegistry) logAdded(table string, col schema.ColumnSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[table] = append(r.added[table], schema.AddedColumn{
		Table:   table,
		Column:  col,
		AddedAt: time.Now(),
	})
}

// pragmaColumn PRAGMA table_info 的一行
type pragmaColumn struct {
	Cid       int     `gorm:"column:cid"`
	Name      string  `gorm:"column:name"`
	Type      string  `gorm:"column:type"`
	NotNull   int     `gorm:"column:notnull"`
	DfltValue *string `gorm:"column:dflt_value"`
	Pk        int     `gorm:"column:pk"`
}

// reflectSchema 读取 sqlite_master 与 PRAGMA table_info
func reflectSchema(ctx context.Context, db *gorm.DB) (*schema.Snapshot, error) {
	var names []string
	err := db.WithContext(ctx).
		Raw("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name").
		Scan(&names).Error
	if err != nil {
		return nil, fmt.Errorf("读取表列表失败: %w", err)
	}

	snap := &schema.Snapshot{Tables: make(map[string]schema.TableInfo, len(names)), TakenAt: time.Now()}
	for _, name := range names {
		var rows []pragmaColumn
		if err := db.WithContext(ctx).Raw(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name))).Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("读取表结构失败 %s: %w", name, err)
		}

		info := schema.TableInfo{Name: schema.CanonicalName(name), Columns: make([]schema.ColumnInfo, 0, len(rows))}
		for _, row := range rows {
			typ, size := schema.ParseSQLType(row.Type)
			col := schema.ColumnInfo{
				Name:         schema.CanonicalName(row.Name),
				DeclaredType: row.Type,
				Type:         typ,
				Size:         size,
				Nullable:     row.NotNull == 0 && row.Pk == 0,
				PrimaryKey:   row.Pk > 0,
			}
			if row.DfltValue != nil {
				col.DefaultSQL = *row.DfltValue
			}
			info.Columns = append(info.Columns, col)
		}
		snap.Tables[info.Name] = info
	}
	return snap, nil
}
