package repository

import (
	"fmt"
	"strings"

	"github.com/yuqie6/ModuBot/internal/schema"
)

// buildColumnClause 渲染列子句，顺序固定：类型、默认值、可空、主键
//
//	"<name>" <TYPE> [DEFAULT <expr>] [NOT NULL] [PRIMARY KEY [AUTOINCREMENT]]
//
// inlinePK 为 false 时主键由表约束单独声明。
func buildColumnClause(c schema.ColumnSpec, inlinePK bool) string {
	var sb strings.Builder
	sb.WriteString(quoteIdent(c.Name))
	sb.WriteByte(' ')

	autoInc := inlinePK && c.AutoIncrement()
	if autoInc {
		// AUTOINCREMENT 只允许用在 INTEGER PRIMARY KEY 上
		sb.WriteString("INTEGER")
	} else {
		sb.WriteString(c.SQLType())
	}

	if def, ok := c.Default.SQL(); ok {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	if !c.Nullable && !autoInc {
		sb.WriteString(" NOT NULL")
	}
	if inlinePK && c.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
		if autoInc {
			sb.WriteString(" AUTOINCREMENT")
		}
	}
	return sb.String()
}

// buildCreateTableSQL 渲染 CREATE TABLE；单主键内联，组合主键作为表约束
func buildCreateTableSQL(t schema.TableSpec) (string, error) {
	name := schema.CanonicalName(t.Name)
	if name == "" {
		return "", fmt.Errorf("表名不能为空")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%w: %s", schema.ErrNoPendingColumns, name)
	}

	pks := t.PrimaryKeys()
	autoInc := 0
	cols := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		if err := c.Validate(); err != nil {
			return "", err
		}
		if len(pks) == 1 && c.AutoIncrement() {
			autoInc++
		}
		cols = append(cols, buildColumnClause(c, len(pks) == 1))
	}
	if autoInc > 1 {
		return "", fmt.Errorf("表 %s 存在多个自增主键", name)
	}
	if len(pks) > 1 {
		quoted := make([]string, 0, len(pks))
		for _, pk := range pks {
			quoted = append(quoted, quoteIdent(pk))
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quoteIdent(name), strings.Join(cols, ",\n  ")), nil
}

// buildAddColumnSQL 渲染 ALTER TABLE ... ADD COLUMN
func buildAddColumnSQL(table string, c schema.ColumnSpec) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		quoteIdent(schema.CanonicalName(table)),
		buildColumnClause(c.Canonical(), true),
	), nil
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
