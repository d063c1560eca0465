package definition

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot 定义文件顶层；手写的其他顶层内容落入 Remain，不参与解码
type fileRoot struct {
	Types  []string      `hcl:"types,optional"`
	Tables []*tableBlock `hcl:"table,block"`
	Remain hcl.Body      `hcl:",remain"`
}

// tableBlock 一张表的记录形状
type tableBlock struct {
	Name    string         `hcl:"name,label"`
	Record  string         `hcl:"record,optional"`
	Columns []*columnBlock `hcl:"column,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

// columnBlock 一列；default 为字面量，default_func 为函数默认值标记
type columnBlock struct {
	Name        string     `hcl:"name,label"`
	Type        string     `hcl:"type"`
	Size        int        `hcl:"size,optional"`
	Nullable    bool       `hcl:"nullable,optional"`
	PrimaryKey  bool       `hcl:"primary_key,optional"`
	Default     *cty.Value `hcl:"default,optional"`
	DefaultFunc string     `hcl:"default_func,optional"`
	Remain      hcl.Body   `hcl:",remain"`
}

// parsed 一次解析的结果：语法树用于定位字节偏移，root 用于读取内容
type parsed struct {
	body *hclsyntax.Body
	root fileRoot
}

// parse 解析并解码定义文件；任何诊断错误都视为文件损坏
func parse(src []byte, filename string) (*parsed, error) {
	// Parser 按文件名缓存结果，每次解析都要用新的实例
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: 解析 %s: %w", schema.ErrDefinitionCorrupt, filename, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("%w: %s 不是原生 HCL 语法", schema.ErrDefinitionCorrupt, filename)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("%w: 解码 %s: %w", schema.ErrDefinitionCorrupt, filename, diags)
	}
	return &parsed{body: body, root: root}, nil
}

// tables 将解码结果转换为记录描述；同名表块合并
func (p *parsed) tables() ([]schema.TableDef, error) {
	var out []schema.TableDef
	index := make(map[string]int)
	for _, tb := range p.root.Tables {
		name := schema.CanonicalName(tb.Name)
		spec := schema.TableSpec{Name: name}
		if i, ok := index[name]; ok {
			spec.Columns = out[i].Columns
		}
		for _, cb := range tb.Columns {
			col, err := cb.spec()
			if err != nil {
				return nil, fmt.Errorf("%w: 表 %s: %v", schema.ErrDefinitionCorrupt, name, err)
			}
			if _, err := spec.Merge(col); err != nil {
				return nil, fmt.Errorf("%w: %v", schema.ErrDefinitionCorrupt, err)
			}
		}

		record := tb.Record
		if record == "" {
			record = schema.RecordName(name)
		}
		if i, ok := index[name]; ok {
			out[i].Columns = spec.Columns
			continue
		}
		index[name] = len(out)
		out = append(out, schema.TableDef{Name: name, Record: record, Columns: spec.Columns})
	}
	return out, nil
}

func (cb *columnBlock) spec() (schema.ColumnSpec, error) {
	typ, err := schema.ParseLogicalType(cb.Type)
	if err != nil {
		return schema.ColumnSpec{}, fmt.Errorf("列 %s: %w", cb.Name, err)
	}
	col := schema.ColumnSpec{
		Name:       schema.CanonicalName(cb.Name),
		Type:       typ,
		Size:       cb.Size,
		Nullable:   cb.Nullable,
		PrimaryKey: cb.PrimaryKey,
	}
	switch {
	case cb.DefaultFunc != "" && cb.Default != nil && !cb.Default.IsNull():
		return schema.ColumnSpec{}, fmt.Errorf("列 %s 同时声明了 default 与 default_func", cb.Name)
	case cb.DefaultFunc != "":
		col.Default = schema.FuncMarker(cb.DefaultFunc)
	case cb.Default != nil:
		v, err := fromCty(*cb.Default, typ)
		if err != nil {
			return schema.ColumnSpec{}, fmt.Errorf("列 %s: %w", cb.Name, err)
		}
		if v != nil {
			col.Default = schema.Literal(v)
		}
	}
	return col, nil
}

// fromCty 把字面量默认值转换为 Go 值
func fromCty(v cty.Value, t schema.LogicalType) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("默认值必须是字面量")
	}
	switch {
	case v.Type().Equals(cty.String):
		return v.AsString(), nil
	case v.Type().Equals(cty.Bool):
		return v.True(), nil
	case v.Type().Equals(cty.Number):
		bf := v.AsBigFloat()
		if bf.IsInt() && t != schema.TypeFloat {
			n, _ := bf.Int64()
			return n, nil
		}
		f, _ := bf.Float64()
		return f, nil
	default:
		return nil, fmt.Errorf("不支持的默认值类型: %s", v.Type().FriendlyName())
	}
}

// toCty 把字面量默认值转换为 cty 值
func toCty(v any) cty.Value {
	switch x := v.(type) {
	case string:
		return cty.StringVal(x)
	case bool:
		return cty.BoolVal(x)
	case int:
		return cty.NumberIntVal(int64(x))
	case int32:
		return cty.NumberIntVal(int64(x))
	case int64:
		return cty.NumberIntVal(x)
	case float32:
		return cty.NumberFloatVal(float64(x))
	case float64:
		return cty.NumberFloatVal(x)
	case time.Time:
		return cty.StringVal(x.UTC().Format(time.RFC3339))
	default:
		return cty.StringVal(fmt.Sprint(v))
	}
}
