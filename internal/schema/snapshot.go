package schema

import (
	"sort"
	"time"
)

// ColumnInfo 反射得到的物理列
type ColumnInfo struct {
	Name         string
	DeclaredType string
	Type         LogicalType
	Size         int
	Nullable     bool
	PrimaryKey   bool
	DefaultSQL   string
}

// Spec 转换为列声明（默认值按字面量还原）
func (c ColumnInfo) Spec() ColumnSpec {
	return ColumnSpec{
		Name:       c.Name,
		Type:       c.Type,
		Size:       c.Size,
		Default:    ParseDefaultSQL(c.DefaultSQL, c.Type),
		Nullable:   c.Nullable,
		PrimaryKey: c.PrimaryKey,
	}
}

// TableInfo 反射得到的物理表
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Column 按名称查找列
func (t TableInfo) Column(name string) (ColumnInfo, bool) {
	name = CanonicalName(name)
	for _, c := range t.Columns {
		if CanonicalName(c.Name) == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// Snapshot 实时库结构的只读视图，整体替换，不做局部修改
type Snapshot struct {
	Tables  map[string]TableInfo
	TakenAt time.Time
}

// EmptySnapshot 空快照
func EmptySnapshot() *Snapshot {
	return &Snapshot{Tables: map[string]TableInfo{}}
}

// Table 按名称查找表
func (s *Snapshot) Table(name string) (TableInfo, bool) {
	if s == nil {
		return TableInfo{}, false
	}
	t, ok := s.Tables[CanonicalName(name)]
	return t, ok
}

// HasColumn 表与列是否都存在
func (s *Snapshot) HasColumn(table, column string) bool {
	t, ok := s.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

// TableNames 排序后的表名
func (s *Snapshot) TableNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddedColumn 运行期新增列的日志项（只追加）
type AddedColumn struct {
	Table   string
	Column  ColumnSpec
	AddedAt time.Time
}

// TableDef 定义文件中某张表的记录形状
type TableDef struct {
	Name    string
	Record  string
	Columns []ColumnSpec
}

// Column 按名称查找列
func (d TableDef) Column(name string) (ColumnSpec, bool) {
	name = CanonicalName(name)
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// PrimaryKeys 主键列名
func (d TableDef) PrimaryKeys() []string {
	spec := TableSpec{Name: d.Name, Columns: d.Columns}
	return spec.PrimaryKeys()
}

// Spec 转换为建表声明
func (d TableDef) Spec() TableSpec {
	cols := make([]ColumnSpec, len(d.Columns))
	copy(cols, d.Columns)
	return TableSpec{Name: d.Name, Columns: cols}
}
