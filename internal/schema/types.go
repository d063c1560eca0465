package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// LogicalType 列的逻辑类型（与具体数据库无关）
type LogicalType string

const (
	TypeInteger    LogicalType = "integer"
	TypeBigInteger LogicalType = "biginteger"
	TypeString     LogicalType = "string"
	TypeText       LogicalType = "text"
	TypeDateTime   LogicalType = "datetime"
	TypeBoolean    LogicalType = "boolean"
	TypeFloat      LogicalType = "float"
)

// DefaultStringSize VARCHAR 未指定长度时使用的长度
const DefaultStringSize = 255

// ParseLogicalType 解析逻辑类型名（大小写不敏感，兼容常见别名）
func ParseLogicalType(s string) (LogicalType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "smallinteger":
		return TypeInteger, nil
	case "biginteger", "bigint":
		return TypeBigInteger, nil
	case "string", "varchar":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "datetime", "timestamp":
		return TypeDateTime, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "float", "real", "double":
		return TypeFloat, nil
	default:
		return "", fmt.Errorf("未知的逻辑类型: %q", s)
	}
}

// Valid 是否为已知类型
func (t LogicalType) Valid() bool {
	_, err := ParseLogicalType(string(t))
	return err == nil && t != ""
}

// SQLType 映射为 SQLite 声明类型
func (t LogicalType) SQLType(size int) string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeBigInteger:
		return "BIGINT"
	case TypeString:
		if size <= 0 {
			size = DefaultStringSize
		}
		return fmt.Sprintf("VARCHAR(%d)", size)
	case TypeText:
		return "TEXT"
	case TypeDateTime:
		return "DATETIME"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ParseSQLType 将反射得到的声明类型还原为逻辑类型与长度
func ParseSQLType(declared string) (LogicalType, int) {
	d := strings.ToUpper(strings.TrimSpace(declared))
	size := 0
	if i := strings.Index(d, "("); i >= 0 {
		if j := strings.Index(d[i:], ")"); j > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(d[i+1 : i+j])); err == nil {
				size = n
			}
		}
		d = strings.TrimSpace(d[:i])
	}

	switch d {
	case "INTEGER", "INT", "SMALLINT", "TINYINT", "MEDIUMINT":
		return TypeInteger, 0
	case "BIGINT", "INT8", "UNSIGNED BIG INT":
		return TypeBigInteger, 0
	case "VARCHAR", "CHARACTER", "NVARCHAR", "NCHAR", "CHAR", "VARYING CHARACTER":
		return TypeString, size
	case "DATETIME", "TIMESTAMP", "DATE":
		return TypeDateTime, 0
	case "BOOLEAN", "BOOL":
		return TypeBoolean, 0
	case "REAL", "FLOAT", "DOUBLE", "DOUBLE PRECISION", "NUMERIC", "DECIMAL":
		return TypeFloat, 0
	default:
		return TypeText, 0
	}
}

// integral 整数族（INTEGER 与 BIGINT 在 SQLite 中亲和性相同）
func (t LogicalType) integral() bool {
	return t == TypeInteger || t == TypeBigInteger
}

// textual 字符串族
func (t LogicalType) textual() bool {
	return t == TypeString || t == TypeText
}

// Compatible 判断两个类型是否视为同一形状
func (t LogicalType) Compatible(other LogicalType) bool {
	if t == other {
		return true
	}
	if t.integral() && other.integral() {
		return true
	}
	return t.textual() && other.textual()
}
