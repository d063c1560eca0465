package definition

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/yuqie6/ModuBot/internal/schema"
)

// Catalog 从定义文件加载的记录描述，重载时整体替换
type Catalog struct {
	gen    *Generator
	tables atomic.Pointer[map[string]schema.TableDef]
}

// NewCatalog 创建目录（需调用 Reload 加载）
func NewCatalog(gen *Generator) *Catalog {
	c := &Catalog{gen: gen}
	empty := map[string]schema.TableDef{}
	c.tables.Store(&empty)
	return c
}

// Reload 重新读取定义文件；失败时保留旧目录
func (c *Catalog) Reload() error {
	defs, err := c.gen.Load()
	if err != nil {
		slog.Warn("重新加载定义目录失败，沿用旧目录", "path", c.gen.Path(), "error", err)
		return err
	}
	c.Replace(defs)
	slog.Debug("定义目录已重新加载", "tables", len(defs))
	return nil
}

// Replace 用给定描述整体替换目录
func (c *Catalog) Replace(defs []schema.TableDef) {
	next := make(map[string]schema.TableDef, len(defs))
	for _, def := range defs {
		next[schema.CanonicalName(def.Name)] = def
	}
	c.tables.Store(&next)
}

// Table 按表名查找记录描述
func (c *Catalog) Table(name string) (schema.TableDef, bool) {
	def, ok := (*c.tables.Load())[schema.CanonicalName(name)]
	return def, ok
}

// Tables 全部记录描述（按表名排序）
func (c *Catalog) Tables() []schema.TableDef {
	m := *c.tables.Load()
	out := make([]schema.TableDef, 0, len(m))
	for _, def := range m {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
