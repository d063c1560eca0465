package definition

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/yuqie6/ModuBot/internal/schema"
)

// Generator 维护持久化的定义文件：首次完整生成，之后只做增量补丁
type Generator struct {
	path string
	mu   sync.Mutex // 串行化读-改-写
}

// NewGenerator 创建定义文件生成器
func NewGenerator(path string) *Generator {
	return &Generator{path: path}
}

// Path 定义文件路径
func (g *Generator) Path() string {
	return g.path
}

// Exists 定义文件是否存在
func (g *Generator) Exists() bool {
	_, err := os.Stat(g.path)
	return err == nil
}

// Load 读取并解码定义文件
func (g *Generator) Load() ([]schema.TableDef, error) {
	src, err := os.ReadFile(g.path)
	if err != nil {
		return nil, fmt.Errorf("读取定义文件失败: %w", err)
	}
	p, err := parse(src, g.path)
	if err != nil {
		return nil, err
	}
	return p.tables()
}

// RegenerateFull 按实时快照与内置表完整重写定义文件，返回写入的表
func (g *Generator) RegenerateFull(snap *schema.Snapshot, builtins []schema.TableDef) ([]schema.TableDef, error) {
	defs := mergeSnapshot(snap, builtins)
	out := renderFile(defs)
	if _, err := parse(out, g.path); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := writeFileAtomic(g.path, out); err != nil {
		return nil, err
	}
	slog.Info("定义文件已完整生成", "path", g.path, "tables", len(defs))
	return defs, nil
}

// Patch 把一列补进目标表块：列已存在为 no-op，表块不存在则在文件末尾追加
// 其他表块逐字节保留；结果无法解析时不写入并返回 ErrDefinitionCorrupt
func (g *Generator) Patch(table string, col schema.ColumnSpec) (bool, error) {
	if err := col.Validate(); err != nil {
		return false, err
	}
	table = schema.CanonicalName(table)
	col = col.Canonical()

	g.mu.Lock()
	defer g.mu.Unlock()

	src, err := os.ReadFile(g.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("读取定义文件失败: %w", err)
		}
		src = []byte(fileHeader)
	}

	p, err := parse(src, g.path)
	if err != nil {
		slog.Error("定义文件无法解析，放弃补丁", "path", g.path, "table", table, "column", col.Name, "error", err)
		return false, err
	}

	blocks := tableBlocks(p.body, table)
	for _, b := range blocks {
		if hasColumn(b, col.Name) {
			return false, nil
		}
	}

	var edits []edit
	if len(blocks) > 0 {
		edits = append(edits, insertColumn(src, blocks[0], col))
	} else {
		edits = append(edits, appendTableBlock(src, schema.TableDef{
			Name:    table,
			Record:  schema.RecordName(table),
			Columns: []schema.ColumnSpec{col},
		}))
	}
	if e, ok := typesEdit(src, p, string(col.Type)); ok {
		edits = append(edits, e)
	}

	out := applyEdits(src, edits)
	if _, err := parse(out, g.path); err != nil {
		slog.Error("补丁结果无法解析，保留原文件", "path", g.path, "table", table, "column", col.Name, "error", err)
		return false, err
	}
	if err := writeFileAtomic(g.path, out); err != nil {
		return false, err
	}

	slog.Info("定义文件已更新", "table", table, "column", col.Name, "new_table", len(blocks) == 0)
	return true, nil
}

// edit 在 [start, end) 处替换为 text
type edit struct {
	start, end int
	text       []byte
}

// applyEdits 从后往前应用，保证偏移不失效；同一位置先列出的内容排在后面
func applyEdits(src []byte, edits []edit) []byte {
	sorted := append([]edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start > sorted[j].start })

	out := append([]byte(nil), src...)
	for _, e := range sorted {
		var buf bytes.Buffer
		buf.Grow(len(out) + len(e.text))
		buf.Write(out[:e.start])
		buf.Write(e.text)
		buf.Write(out[e.end:])
		out = buf.Bytes()
	}
	return out
}

func tableBlocks(body *hclsyntax.Body, table string) []*hclsyntax.Block {
	var out []*hclsyntax.Block
	for _, b := range body.Blocks {
		if b.Type == "table" && len(b.Labels) > 0 && schema.CanonicalName(b.Labels[0]) == table {
			out = append(out, b)
		}
	}
	return out
}

func hasColumn(block *hclsyntax.Block, column string) bool {
	for _, b := range block.Body.Blocks {
		if b.Type == "column" && len(b.Labels) > 0 && schema.CanonicalName(b.Labels[0]) == column {
			return true
		}
	}
	return false
}

// insertColumn 在表块闭合括号所在行之前插入列块
func insertColumn(src []byte, block *hclsyntax.Block, col schema.ColumnSpec) edit {
	closeAt := block.CloseBraceRange.Start.Byte
	text := renderColumn(col, "  ")

	// 单行块（如 table "x" { record = "X" }）先展开为多行
	if block.OpenBraceRange.Start.Line == block.CloseBraceRange.Start.Line {
		openEnd := block.OpenBraceRange.End.Byte
		var buf bytes.Buffer
		buf.WriteByte('\n')
		if inner := bytes.TrimSpace(src[openEnd:closeAt]); len(inner) > 0 {
			buf.WriteString("  ")
			buf.Write(inner)
			buf.WriteString("\n\n")
		}
		buf.Write(text)
		return edit{start: openEnd, end: closeAt, text: buf.Bytes()}
	}

	if len(block.Body.Attributes) > 0 || len(block.Body.Blocks) > 0 {
		text = append([]byte("\n"), text...)
	}

	lineStart := bytes.LastIndexByte(src[:closeAt], '\n') + 1
	if len(bytes.TrimSpace(src[lineStart:closeAt])) == 0 {
		return edit{start: lineStart, end: lineStart, text: text}
	}
	// 闭合括号与内容同行
	return edit{start: closeAt, end: closeAt, text: append([]byte("\n"), text...)}
}

// appendTableBlock 在文件末尾追加新表块
func appendTableBlock(src []byte, def schema.TableDef) edit {
	var text []byte
	if len(src) > 0 {
		if !bytes.HasSuffix(src, []byte("\n")) {
			text = append(text, '\n')
		}
		if !bytes.HasSuffix(src, []byte("\n\n")) {
			text = append(text, '\n')
		}
	}
	text = append(text, renderTable(def)...)
	return edit{start: len(src), end: len(src), text: text}
}

// typesEdit 类型头部缺少该类型时重写 types 属性；属性不存在则插到第一个块之前
func typesEdit(src []byte, p *parsed, typ string) (edit, bool) {
	attr, exists := p.body.Attributes["types"]
	if exists {
		for _, t := range p.root.Types {
			if t == typ {
				return edit{}, false
			}
		}
		text := renderTypes(mergeTypes(p.root.Types, typ))
		return edit{start: attr.SrcRange.Start.Byte, end: attr.SrcRange.End.Byte, text: text}, true
	}

	text := append(renderTypes(mergeTypes(p.root.Types, typ)), '\n', '\n')
	at := len(src)
	if len(p.body.Blocks) > 0 {
		at = p.body.Blocks[0].TypeRange.Start.Byte
	}
	return edit{start: at, end: at, text: text}, true
}

// mergeSnapshot 内置表在前（补上快照中多出的列），其余快照表按名称排序在后
func mergeSnapshot(snap *schema.Snapshot, builtins []schema.TableDef) []schema.TableDef {
	defs := make([]schema.TableDef, 0, len(builtins))
	seen := make(map[string]struct{}, len(builtins))
	for _, b := range builtins {
		def := schema.TableDef{Name: schema.CanonicalName(b.Name), Record: b.Record, Columns: b.Spec().Columns}
		if info, ok := snap.Table(def.Name); ok {
			for _, c := range info.Columns {
				if _, ok := def.Column(c.Name); !ok {
					def.Columns = append(def.Columns, c.Spec())
				}
			}
		}
		seen[def.Name] = struct{}{}
		defs = append(defs, def)
	}

	for _, name := range snap.TableNames() {
		if _, ok := seen[name]; ok {
			continue
		}
		info, _ := snap.Table(name)
		def := schema.TableDef{Name: name, Record: schema.RecordName(name)}
		for _, c := range info.Columns {
			def.Columns = append(def.Columns, c.Spec())
		}
		defs = append(defs, def)
	}
	return defs
}

// writeFileAtomic 先写同目录临时文件再替换，崩溃时不会留下半个文件
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建定义目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("替换定义文件失败: %w", err)
	}
	return nil
}
