package modules

import (
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/service"
)

const (
	PokedexName  = "pokedex"
	TablePokedex = "pokedexentry"
)

// Pokedex 图鉴：独立的 pokedexentry 表，首次启动时整表创建
type Pokedex struct{}

func (Pokedex) Name() string { return PokedexName }

func (Pokedex) Batches() []service.Batch {
	return []service.Batch{{
		Table: TablePokedex,
		Columns: []schema.ColumnSpec{
			{Name: "pokemon_id", Type: schema.TypeInteger, PrimaryKey: true},
			{Name: "name", Type: schema.TypeString},
			{Name: "type", Type: schema.TypeString},
			{Name: "description", Type: schema.TypeText, Nullable: true},
		},
	}}
}
