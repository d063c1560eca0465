package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yuqie6/ModuBot/internal/schema"
	"gorm.io/gorm"
)

type columnOutcome int

const (
	columnFailed columnOutcome = iota
	columnAdded
	columnReplayed // 重复列（竞争或重放），按成功处理
)

// DDLApplier 对实时库执行 CREATE TABLE / ALTER TABLE ADD COLUMN，成功后重新反射
type DDLApplier struct {
	db  *gorm.DB
	reg *SchemaRegistry
}

// CreateTable 取出待建表并整体创建；失败只记录日志并返回 false
func (a *DDLApplier) CreateTable(ctx context.Context, name string) bool {
	_, err := a.CreateTableSpec(ctx, name)
	return err == nil
}

// TableResult 一次建表的结果
type TableResult struct {
	Spec    schema.TableSpec
	Applied []string // 本次实际执行了 DDL 的列；并发创建者已建好全部列时为空
}

// CreateTableSpec 同 CreateTable，返回表声明与实际执行 DDL 的列
func (a *DDLApplier) CreateTableSpec(ctx context.Context, name string) (TableResult, error) {
	name = schema.CanonicalName(name)
	spec, ok := a.reg.drainPending(name)
	if !ok {
		slog.Warn("没有待创建的列，跳过建表", "table", name)
		return TableResult{}, fmt.Errorf("%w: %s", schema.ErrNoPendingColumns, name)
	}

	stmt, err := buildCreateTableSQL(spec)
	if err != nil {
		a.reg.restorePending(spec)
		slog.Error("生成建表语句失败", "table", name, "error", err)
		return TableResult{}, fmt.Errorf("%w: %v", schema.ErrDDLFailed, err)
	}

	slog.Info("创建表", "table", name, "columns", len(spec.Columns), "sql", stmt)
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec(stmt).Error
	})
	if err != nil {
		if !schema.IsTableExistsError(err) {
			a.reg.restorePending(spec)
			slog.Error("创建表失败", "table", name, "sql", stmt, "error", err)
			return TableResult{}, fmt.Errorf("%w: 创建表 %s: %v", schema.ErrDDLFailed, name, err)
		}
		// 并发创建者已建表：补齐缺失的列
		slog.Warn("表已存在，补齐缺失列", "table", name)
		if err := a.refresh(ctx); err != nil {
			return TableResult{}, err
		}
		res := TableResult{Spec: spec}
		for _, c := range spec.Columns {
			if a.reg.Snapshot().HasColumn(name, c.Name) {
				a.reg.logAdded(name, c)
				continue
			}
			outcome, err := a.addColumn(ctx, name, c)
			if err != nil {
				return TableResult{}, err
			}
			if outcome == columnAdded {
				res.Applied = append(res.Applied, c.Name)
			}
		}
		return res, nil
	}

	if err := a.refresh(ctx); err != nil {
		return TableResult{}, err
	}
	res := TableResult{Spec: spec, Applied: make([]string, 0, len(spec.Columns))}
	for _, c := range spec.Columns {
		a.reg.logAdded(name, c)
		res.Applied = append(res.Applied, c.Name)
	}
	return res, nil
}

// AddColumn 执行一次 ALTER TABLE ADD COLUMN；重复列视为成功
func (a *DDLApplier) AddColumn(ctx context.Context, table string, col schema.ColumnSpec) bool {
	_, err := a.addColumn(ctx, schema.CanonicalName(table), col.Canonical())
	return err == nil
}

func (a *DDLApplier) addColumn(ctx context.Context, table string, col schema.ColumnSpec) (columnOutcome, error) {
	stmt, err := buildAddColumnSQL(table, col)
	if err != nil {
		slog.Error("生成加列语句失败", "table", table, "column", col.Name, "error", err)
		return columnFailed, fmt.Errorf("%w: %v", schema.ErrDDLFailed, err)
	}

	slog.Info("添加列", "table", table, "column", col.Name, "sql", stmt)
	if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		if schema.IsDuplicateColumnError(err) {
			slog.Warn("列已存在（并发或重放），按成功处理", "table", table, "column", col.Name)
			a.reg.logAdded(table, col)
			if err := a.refresh(ctx); err != nil {
				return columnFailed, err
			}
			return columnReplayed, nil
		}
		slog.Error("添加列失败", "table", table, "column", col.Name, "type", col.SQLType(),
			"nullable", col.Nullable, "primary_key", col.PrimaryKey, "sql", stmt, "error", err)
		return columnFailed, fmt.Errorf("%w: %s.%s: %v", schema.ErrDDLFailed, table, col.Name, err)
	}

	if err := a.refresh(ctx); err != nil {
		return columnFailed, err
	}
	a.reg.logAdded(table, col)
	return columnAdded, nil
}

// CreatePendingTables 创建所有待建表，返回成功创建的表名
func (a *DDLApplier) CreatePendingTables(ctx context.Context) []string {
	var created []string
	for _, name := range a.reg.PendingTables() {
		if a.CreateTable(ctx, name) {
			created = append(created, name)
		}
	}
	return created
}

func (a *DDLApplier) refresh(ctx context.Context) error {
	if err := a.reg.Refresh(ctx); err != nil {
		slog.Error("DDL 后重新反射失败", "error", err)
		return fmt.Errorf("%w: 重新反射: %v", schema.ErrDDLFailed, err)
	}
	return nil
}
