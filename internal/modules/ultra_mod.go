package modules

import (
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/service"
)

const UltraModName = "ultra_mod"

// UltraMod 管理功能：成员的警告数与处罚状态
type UltraMod struct{}

func (UltraMod) Name() string { return UltraModName }

func (UltraMod) Batches() []service.Batch {
	return []service.Batch{{
		Table: schema.TableServerUser,
		Columns: []schema.ColumnSpec{
			{Name: "warnings", Type: schema.TypeInteger, Default: schema.Literal(0)},
			{Name: "automod", Type: schema.TypeBoolean, Default: schema.Literal(true)},
			{Name: "banned", Type: schema.TypeBoolean, Default: schema.Literal(false)},
			{Name: "muted", Type: schema.TypeBoolean, Default: schema.Literal(false)},
			{Name: "locked_out", Type: schema.TypeBoolean, Default: schema.Literal(false)},
			{Name: "notes", Type: schema.TypeString, Default: schema.Literal(""), Nullable: true},
		},
	}}
}
