package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultKind 默认值种类
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	DefaultLiteral
	DefaultFunc       // 无参函数，创建时求值
	DefaultFromRecord // 依赖尚未持久化的记录（如组合键）
)

// Default 列默认值：字面量、无参函数或记录函数
type Default struct {
	kind  DefaultKind
	value any
	name  string
	fn    func() any
	recFn func(Record) any
}

// Literal 字面量默认值
func Literal(v any) Default {
	return Default{kind: DefaultLiteral, value: v}
}

// Func 无参函数默认值，name 写入定义文件作为标记
func Func(name string, fn func() any) Default {
	return Default{kind: DefaultFunc, name: name, fn: fn}
}

// FromRecord 依赖记录其余字段的默认值
func FromRecord(name string, fn func(Record) any) Default {
	return Default{kind: DefaultFromRecord, name: name, recFn: fn}
}

// FuncMarker 定义文件中的函数标记（逻辑需由代码重新注册）
func FuncMarker(name string) Default {
	return Default{kind: DefaultFunc, name: name}
}

// Now 创建时取当前 UTC 时间
func Now() Default {
	return Func("now", func() any { return time.Now().UTC() })
}

func (d Default) Kind() DefaultKind { return d.kind }
func (d Default) IsZero() bool      { return d.kind == DefaultNone }
func (d Default) Name() string      { return d.name }
func (d Default) Value() any        { return d.value }

// IsFunc 是否为函数默认值（含标记）
func (d Default) IsFunc() bool {
	return d.kind == DefaultFunc || d.kind == DefaultFromRecord
}

// Bound 函数默认值是否已绑定实现
func (d Default) Bound() bool {
	switch d.kind {
	case DefaultFunc:
		return d.fn != nil
	case DefaultFromRecord:
		return d.recFn != nil
	default:
		return d.kind == DefaultLiteral
	}
}

// Eval 求值；未绑定的函数标记返回 nil
func (d Default) Eval(rec Record) any {
	switch d.kind {
	case DefaultLiteral:
		return d.value
	case DefaultFunc:
		if d.fn != nil {
			return d.fn()
		}
	case DefaultFromRecord:
		if d.recFn != nil {
			return d.recFn(rec)
		}
	}
	return nil
}

// SQL 渲染为 DDL 中的 DEFAULT 表达式；函数默认值不进入 DDL
func (d Default) SQL() (string, bool) {
	if d.kind != DefaultLiteral || d.value == nil {
		return "", false
	}
	switch v := d.value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case time.Time:
		return "'" + v.UTC().Format(time.RFC3339) + "'", true
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'", true
	}
}

// ParseDefaultSQL 将反射得到的 dflt_value 还原为字面量默认值
func ParseDefaultSQL(raw string, t LogicalType) Default {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "NULL") {
		return Default{}
	}
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return Literal(strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"))
	}
	switch t {
	case TypeBoolean:
		switch strings.ToUpper(raw) {
		case "1", "TRUE":
			return Literal(true)
		case "0", "FALSE":
			return Literal(false)
		}
	case TypeInteger, TypeBigInteger:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return Literal(n)
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return Literal(f)
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Literal(n)
	}
	return Literal(raw)
}

// DefaultRegistry (table, column) → 默认值，进程生命周期内有效，不持久化
type DefaultRegistry struct {
	mu     sync.RWMutex
	tables map[string]map[string]Default
	named  map[string]Default
}

// NewDefaultRegistry 创建默认值注册表
func NewDefaultRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		tables: make(map[string]map[string]Default),
		named:  make(map[string]Default),
	}
}

// Register 登记列默认值；零值忽略
func (r *DefaultRegistry) Register(table, column string, d Default) {
	if d.IsZero() {
		return
	}
	table, column = CanonicalName(table), CanonicalName(column)

	r.mu.Lock()
	defer r.mu.Unlock()
	cols, ok := r.tables[table]
	if !ok {
		cols = make(map[string]Default)
		r.tables[table] = cols
	}
	// 已绑定的函数实现不被标记覆盖
	if existing, ok := cols[column]; ok && existing.Bound() && !d.Bound() {
		return
	}
	cols[column] = d
	if d.IsFunc() && d.Bound() && d.name != "" {
		r.named[d.name] = d
	}
}

// RegisterNamed 登记具名函数，供定义文件中的标记重新绑定
func (r *DefaultRegistry) RegisterNamed(d Default) {
	if !d.IsFunc() || !d.Bound() || d.name == "" {
		return
	}
	r.mu.Lock()
	r.named[d.name] = d
	r.mu.Unlock()
}

// BindMarker 用具名实现绑定定义文件中的函数标记
func (r *DefaultRegistry) BindMarker(table, column, name string) bool {
	r.mu.RLock()
	d, ok := r.named[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.Register(table, column, d)
	return true
}

// Lookup 查找列默认值
func (r *DefaultRegistry) Lookup(table, column string) (Default, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tables[CanonicalName(table)][CanonicalName(column)]
	return d, ok
}

// Resolve 仅在调用方未提供该字段时求值，显式值（包括零值）永不覆盖
func (r *DefaultRegistry) Resolve(table, column string, rec Record) (any, bool) {
	if rec.Has(column) {
		return nil, false
	}
	d, ok := r.Lookup(table, column)
	if !ok {
		return nil, false
	}
	v := d.Eval(rec)
	if v == nil {
		return nil, false
	}
	return v, true
}

// Apply 为记录中未设置的字段填充默认值；记录函数最后求值，以便读取其他字段
func (r *DefaultRegistry) Apply(table string, rec Record) []string {
	r.mu.RLock()
	cols := make(map[string]Default, len(r.tables[CanonicalName(table)]))
	for k, v := range r.tables[CanonicalName(table)] {
		cols[k] = v
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var filled []string
	for _, pass := range []bool{false, true} {
		for _, name := range names {
			if (cols[name].Kind() == DefaultFromRecord) != pass {
				continue
			}
			if v, ok := r.Resolve(table, name, rec); ok {
				rec[name] = v
				filled = append(filled, name)
			}
		}
	}
	return filled
}
