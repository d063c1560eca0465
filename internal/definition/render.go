package definition

import (
	"bytes"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/zclconf/go-cty/cty"
)

const fileHeader = "# 由 modubot 生成。增量更新只追加列或表块，块内手写内容保持不变。\n\n"

// renderFile 渲染完整定义文件
func renderFile(defs []schema.TableDef) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	body.SetAttributeValue("types", typesValue(collectTypes(defs)))
	for _, def := range defs {
		body.AppendNewline()
		appendTable(body, def)
	}
	return append([]byte(fileHeader), hclwrite.Format(f.Bytes())...)
}

// renderTable 渲染单个表块（顶层缩进）
func renderTable(def schema.TableDef) []byte {
	f := hclwrite.NewEmptyFile()
	appendTable(f.Body(), def)
	return hclwrite.Format(f.Bytes())
}

// renderColumn 渲染单个列块，indent 为每行前缀
func renderColumn(col schema.ColumnSpec, indent string) []byte {
	f := hclwrite.NewEmptyFile()
	appendColumn(f.Body(), col)
	return indentLines(hclwrite.Format(f.Bytes()), indent)
}

// renderTypes 渲染 types 头部属性（不带换行）
func renderTypes(types []string) []byte {
	f := hclwrite.NewEmptyFile()
	f.Body().SetAttributeValue("types", typesValue(types))
	return bytes.TrimRight(hclwrite.Format(f.Bytes()), "\n")
}

func appendTable(body *hclwrite.Body, def schema.TableDef) {
	name := schema.CanonicalName(def.Name)
	record := def.Record
	if record == "" {
		record = schema.RecordName(name)
	}
	tb := body.AppendNewBlock("table", []string{name}).Body()
	tb.SetAttributeValue("record", cty.StringVal(record))
	for _, col := range def.Columns {
		tb.AppendNewline()
		appendColumn(tb, col)
	}
}

func appendColumn(body *hclwrite.Body, col schema.ColumnSpec) {
	col = col.Canonical()
	cb := body.AppendNewBlock("column", []string{col.Name}).Body()
	cb.SetAttributeValue("type", cty.StringVal(string(col.Type)))
	if col.Type == schema.TypeString && col.Size > 0 {
		cb.SetAttributeValue("size", cty.NumberIntVal(int64(col.Size)))
	}
	if col.Nullable {
		cb.SetAttributeValue("nullable", cty.True)
	}
	if col.PrimaryKey {
		cb.SetAttributeValue("primary_key", cty.True)
	}
	switch col.Default.Kind() {
	case schema.DefaultLiteral:
		if col.Default.Value() != nil {
			cb.SetAttributeValue("default", toCty(col.Default.Value()))
		}
	case schema.DefaultFunc, schema.DefaultFromRecord:
		if col.Default.Name() != "" {
			cb.SetAttributeValue("default_func", cty.StringVal(col.Default.Name()))
		}
	}
}

func typesValue(types []string) cty.Value {
	if len(types) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, 0, len(types))
	for _, t := range types {
		vals = append(vals, cty.StringVal(t))
	}
	return cty.ListVal(vals)
}

// collectTypes 所有列用到的逻辑类型（去重、排序）
func collectTypes(defs []schema.TableDef) []string {
	var types []string
	for _, def := range defs {
		for _, col := range def.Columns {
			types = mergeTypes(types, string(col.Type))
		}
	}
	return types
}

// mergeTypes 并入类型并去重排序
func mergeTypes(types []string, add ...string) []string {
	seen := make(map[string]struct{}, len(types)+len(add))
	out := make([]string, 0, len(types)+len(add))
	for _, t := range append(append([]string(nil), types...), add...) {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func indentLines(src []byte, indent string) []byte {
	if indent == "" {
		return src
	}
	lines := strings.SplitAfter(string(src), "\n")
	var sb strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			sb.WriteString(indent)
		}
		sb.WriteString(line)
	}
	return []byte(sb.String())
}
