package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yuqie6/ModuBot/internal/schema"
	"gorm.io/gorm"
)

// Catalog 记录形状目录（由定义文件加载，可热重载）
type Catalog interface {
	Table(name string) (schema.TableDef, bool)
}

// EnrichFunc 首次创建时从外部平台补全字段；传输失败必须返回错误而不是空结果
type EnrichFunc func(ctx context.Context, keys schema.Record) (schema.Record, error)

// RecordRepository 功能模块共用的 fetch-or-create / update 入口
type RecordRepository struct {
	db       *gorm.DB
	catalog  Catalog
	defaults *schema.DefaultRegistry

	mu        sync.RWMutex
	enrichers map[string]EnrichFunc
}

// NewRecordRepository 创建记录仓储
func NewRecordRepository(db *gorm.DB, catalog Catalog, defaults *schema.DefaultRegistry) *RecordRepository {
	if defaults == nil {
		defaults = schema.NewDefaultRegistry()
	}
	return &RecordRepository{
		db:        db,
		catalog:   catalog,
		defaults:  defaults,
		enrichers: make(map[string]EnrichFunc),
	}
}

// RegisterEnricher 为某张表登记补全钩子
func (r *RecordRepository) RegisterEnricher(table string, fn EnrichFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.enrichers, schema.CanonicalName(table))
		return
	}
	r.enrichers[schema.CanonicalName(table)] = fn
}

func (r *RecordRepository) enricher(table string) EnrichFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enrichers[table]
}

// FetchOrCreate 按键查询，不存在则补全、填充默认值并插入；唯一约束冲突时回查
func (r *RecordRepository) FetchOrCreate(ctx context.Context, table string, keys schema.Record) (schema.Record, error) {
	def, err := r.tableDef(table)
	if err != nil {
		return nil, err
	}
	keys, err = normalize(def, keys)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrMissingKey, def.Name)
	}

	// 已存在：原样返回，不补全也不填默认值
	found, err := r.first(ctx, r.db, def, keys)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	data := keys.Clone()
	if fn := r.enricher(def.Name); fn != nil {
		extra, err := fn(ctx, keys.Clone())
		if err != nil {
			return nil, fmt.Errorf("补全 %s 失败: %w", def.Name, err)
		}
		extra, err = normalize(def, extra)
		if err != nil {
			return nil, fmt.Errorf("补全 %s 返回的字段无效: %w", def.Name, err)
		}
		for k, v := range extra {
			if !data.Has(k) {
				data[k] = v
			}
		}
	}
	r.defaults.Apply(def.Name, data)
	if data, err = normalize(def, data); err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Table(def.Name).Create(map[string]any(data)).Error; err != nil {
		if !schema.IsUniqueViolation(err) {
			return nil, fmt.Errorf("创建记录失败 %s: %w", def.Name, err)
		}
		// 并发创建者先写入：丢弃本次尝试，回查
		slog.Debug("创建记录冲突，回查已有记录", "table", def.Name, "keys", keys)
		existing, qerr := r.first(ctx, r.db, def, keys)
		if qerr != nil || existing == nil {
			return nil, fmt.Errorf("创建记录失败 %s: %w", def.Name, err)
		}
		return existing, nil
	}

	created, err := r.first(ctx, r.db, def, identity(def, data, keys))
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("创建记录后回读失败 %s: %w", def.Name, gorm.ErrRecordNotFound)
	}
	return created, nil
}

// Update 按键定位唯一一条记录并逐字段更新；不存在时返回 nil，不会隐式创建
func (r *RecordRepository) Update(ctx context.Context, table string, keys, changes schema.Record) (schema.Record, error) {
	def, err := r.tableDef(table)
	if err != nil {
		return nil, err
	}
	if keys, err = normalize(def, keys); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", schema.ErrMissingKey, def.Name)
	}
	if changes, err = normalize(def, changes); err != nil {
		return nil, err
	}

	var out schema.Record
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := r.find(ctx, tx, def, keys, 2)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if len(rows) > 1 {
			return fmt.Errorf("%w: %s %v", schema.ErrAmbiguousKey, def.Name, keys)
		}

		target := identity(def, rows[0], keys)
		if len(changes) > 0 {
			if err := tx.Table(def.Name).Where(map[string]any(target)).Updates(map[string]any(changes)).Error; err != nil {
				return fmt.Errorf("更新记录失败 %s: %w", def.Name, err)
			}
		}
		for k, v := range changes {
			if _, ok := target[k]; ok {
				target[k] = v
			}
		}

		refreshed, err := r.first(ctx, tx, def, target)
		if err != nil {
			return err
		}
		out = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RecordRepository) tableDef(table string) (schema.TableDef, error) {
	name := schema.CanonicalName(table)
	if r.catalog == nil {
		return schema.TableDef{}, fmt.Errorf("%w: %s", schema.ErrUnknownTable, name)
	}
	def, ok := r.catalog.Table(name)
	if !ok {
		return schema.TableDef{}, fmt.Errorf("%w: %s", schema.ErrUnknownTable, name)
	}
	return def, nil
}

func (r *RecordRepository) first(ctx context.Context, db *gorm.DB, def schema.TableDef, keys schema.Record) (schema.Record, error) {
	rows, err := r.find(ctx, db, def, keys, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (r *RecordRepository) find(ctx context.Context, db *gorm.DB, def schema.TableDef, keys schema.Record, limit int) ([]schema.Record, error) {
	var rows []map[string]any
	err := db.WithContext(ctx).Table(def.Name).Where(map[string]any(keys)).Limit(limit).Find(&rows).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询记录失败 %s: %w", def.Name, err)
	}
	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := normalize(def, schema.Record(row))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// normalize 规范化列名并按目录中的逻辑类型转换值；目录外的列原样保留
func normalize(def schema.TableDef, rec schema.Record) (schema.Record, error) {
	out := make(schema.Record, len(rec))
	for k, v := range rec {
		name := schema.CanonicalName(k)
		col, ok := def.Column(name)
		if !ok || v == nil {
			out[name] = v
			continue
		}
		cv, err := schema.Coerce(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("字段 %s.%s: %w", def.Name, name, err)
		}
		out[name] = cv
	}
	return out, nil
}

// identity 定位记录的条件：主键齐全时用主键，否则用调用方给的键
func identity(def schema.TableDef, row, keys schema.Record) schema.Record {
	pks := def.PrimaryKeys()
	if len(pks) > 0 {
		target := make(schema.Record, len(pks))
		for _, pk := range pks {
			if !row.Has(pk) {
				return keys.Clone()
			}
			target[pk] = row[pk]
		}
		return target
	}
	return keys.Clone()
}
