package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
)

// Batch 一个功能模块一次声明的一组列，最后一列视为批次结束
type Batch struct {
	Module  string
	Table   string
	Columns []schema.ColumnSpec
}

// BatchResult 批次应用结果
type BatchResult struct {
	ID       string
	Applied  []string
	Queued   []string
	Existing []string
	Restart  bool
}

// ApplyBatch 按顺序确保批次中的每一列；单列失败不影响后续列，错误合并返回
func (e *SchemaEngine) ApplyBatch(ctx context.Context, b Batch) (BatchResult, error) {
	res := BatchResult{ID: uuid.NewString()}
	if len(b.Columns) == 0 {
		return res, fmt.Errorf("模块 %s 的批次为空: %w", b.Module, schema.ErrNoPendingColumns)
	}
	log := slog.With("module", b.Module, "table", b.Table, "batch", res.ID)
	log.Info("应用结构批次", "columns", len(b.Columns))

	var errs []error
	last := len(b.Columns) - 1
	for i, col := range b.Columns {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		opts := []EnsureOption{InBatch(res.ID)}
		if i == last {
			opts = append(opts, Final())
		}
		out, err := e.EnsureColumn(ctx, b.Table, col, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", b.Table, col.Name, err))
			continue
		}
		name := schema.CanonicalName(col.Name)
		switch {
		case out.Result == repository.Queued && !out.Applied && i != last:
			res.Queued = append(res.Queued, name)
		case out.Applied:
			res.Applied = append(res.Applied, name)
		default:
			res.Existing = append(res.Existing, name)
		}
		res.Restart = res.Restart || out.Restart
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn("结构批次部分失败", "error", err)
	} else {
		log.Info("结构批次完成", "applied", len(res.Applied), "queued", len(res.Queued), "existing", len(res.Existing), "restart", res.Restart)
	}
	return res, err
}
