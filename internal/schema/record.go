package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record 动态记录：列名 → 值
type Record map[string]any

// Clone 浅拷贝，键名规范化
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[CanonicalName(k)] = v
	}
	return out
}

// Has 字段是否已设置（nil 视为未设置）
func (r Record) Has(column string) bool {
	if r == nil {
		return false
	}
	v, ok := r[CanonicalName(column)]
	return ok && v != nil
}

// Columns 已设置的列名
func (r Record) Columns() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}

func (r Record) GetString(column string) string {
	v, ok := r[CanonicalName(column)]
	if !ok || v == nil {
		return ""
	}
	s, _ := coerceString(v)
	return s
}

func (r Record) GetInt64(column string) int64 {
	v, ok := r[CanonicalName(column)]
	if !ok || v == nil {
		return 0
	}
	n, _ := coerceInt(v)
	return n
}

func (r Record) GetBool(column string) bool {
	v, ok := r[CanonicalName(column)]
	if !ok || v == nil {
		return false
	}
	b, _ := coerceBool(v)
	return b
}

func (r Record) GetTime(column string) time.Time {
	v, ok := r[CanonicalName(column)]
	if !ok || v == nil {
		return time.Time{}
	}
	t, _ := coerceTime(v)
	return t
}

// Coerce 按逻辑类型规整值（数据库读出的值与调用方传入的值统一形态）
func Coerce(t LogicalType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInteger, TypeBigInteger:
		return coerceInt(v)
	case TypeBoolean:
		return coerceBool(v)
	case TypeDateTime:
		return coerceTime(v)
	case TypeFloat:
		return coerceFloat(v)
	default:
		return coerceString(v)
	}
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("无法转换为整数: %T", v)
	}
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(b)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	default:
		n, err := coerceInt(v)
		if err != nil {
			return false, fmt.Errorf("无法转换为布尔值: %T", v)
		}
		return n != 0, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("无法转换为时间: %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间: %q", s)
}

func coerceFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	default:
		n, err := coerceInt(v)
		if err != nil {
			return 0, fmt.Errorf("无法转换为浮点数: %T", v)
		}
		return float64(n), nil
	}
}

func coerceString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
