package schema

import (
	"fmt"
	"strings"
)

// ColumnSpec 功能模块声明的列
// 身份为 (table, name)，一经应用不可变
type ColumnSpec struct {
	Name       string
	Type       LogicalType
	Size       int // 仅 string 类型使用
	Default    Default
	Nullable   bool
	PrimaryKey bool
}

// CanonicalName 表/列名统一转为小写，仅大小写不同的请求指向同一物理对象
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Canonical 返回名称规范化后的副本
func (c ColumnSpec) Canonical() ColumnSpec {
	c.Name = CanonicalName(c.Name)
	return c
}

// Validate 校验列声明
func (c ColumnSpec) Validate() error {
	if CanonicalName(c.Name) == "" {
		return fmt.Errorf("列名不能为空")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("列 %s 的类型无效: %q", c.Name, c.Type)
	}
	return nil
}

// SQLType 对应的 SQLite 声明类型
func (c ColumnSpec) SQLType() string {
	return c.Type.SQLType(c.Size)
}

// AutoIncrement 约定：名为 id 的整数单主键自增，其余主键由调用方提供
func (c ColumnSpec) AutoIncrement() bool {
	return c.PrimaryKey && CanonicalName(c.Name) == "id" && c.Type.integral()
}

// SameShape 判断两次声明是否一致（类型族、可空、主键）
func (c ColumnSpec) SameShape(other ColumnSpec) bool {
	return c.Type.Compatible(other.Type) &&
		c.Nullable == other.Nullable &&
		c.PrimaryKey == other.PrimaryKey
}

// TableSpec 有序的列声明集合
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Column 按名称查找列
func (t *TableSpec) Column(name string) (ColumnSpec, bool) {
	name = CanonicalName(name)
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// Merge 合并列声明：同名同形状为幂等，同名不同形状返回 ErrColumnConflict
func (t *TableSpec) Merge(col ColumnSpec) (bool, error) {
	col = col.Canonical()
	if existing, ok := t.Column(col.Name); ok {
		if !existing.SameShape(col) {
			return false, fmt.Errorf("%w: %s.%s", ErrColumnConflict, t.Name, col.Name)
		}
		return false, nil
	}
	t.Columns = append(t.Columns, col)
	return true, nil
}

// PrimaryKeys 主键列名（按声明顺序）
func (t *TableSpec) PrimaryKeys() []string {
	var out []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// RecordName 表对应的记录类型名：内置表沿用固定名称，其余首字母大写
func RecordName(table string) string {
	table = CanonicalName(table)
	if table == "" {
		return ""
	}
	for _, b := range BuiltinTables() {
		if b.Name == table {
			return b.Record
		}
	}
	return strings.ToUpper(table[:1]) + table[1:]
}
