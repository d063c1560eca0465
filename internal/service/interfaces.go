package service

import (
	"context"

	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
)

// 仓储/外部依赖的最小接口集合（ISP）

type SchemaStore interface {
	EnsureColumn(ctx context.Context, table string, col schema.ColumnSpec) (repository.EnsureResult, error)
	Snapshot() *schema.Snapshot
	Refresh(ctx context.Context) error
	QueueTable(spec schema.TableSpec) error
	PendingTables() []string
	AddedTables() []string
	AddedColumns(table string) []schema.AddedColumn
}

type TableCreator interface {
	CreateTableSpec(ctx context.Context, name string) (repository.TableResult, error)
}

type DefinitionWriter interface {
	Exists() bool
	RegenerateFull(snap *schema.Snapshot, builtins []schema.TableDef) ([]schema.TableDef, error)
	Patch(table string, col schema.ColumnSpec) (bool, error)
}

type RecordCatalog interface {
	Reload() error
	Table(name string) (schema.TableDef, bool)
	Tables() []schema.TableDef
}
