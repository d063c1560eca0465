package modules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yuqie6/ModuBot/internal/service"
)

// Module 功能模块：启动时声明自己需要的列
type Module interface {
	Name() string
	Batches() []service.Batch
}

// BatchApplier 应用结构批次
type BatchApplier interface {
	ApplyBatch(ctx context.Context, b service.Batch) (service.BatchResult, error)
}

var known = map[string]func() Module{
	InviteTrackerName: func() Module { return InviteTracker{} },
	UltraModName:      func() Module { return UltraMod{} },
	PokedexName:       func() Module { return Pokedex{} },
}

// Names 全部可用模块名（排序）
func Names() []string {
	out := make([]string, 0, len(known))
	for name := range known {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByName 按配置中的模块名创建模块；重复的名称只保留一个
func ByName(names []string) ([]Module, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Module, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		ctor, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("未知的功能模块: %s（可用: %v）", name, Names())
		}
		seen[name] = true
		out = append(out, ctor())
	}
	return out, nil
}

// SetupAll 并发应用各模块的结构批次；同一模块内的批次按声明顺序执行
func SetupAll(ctx context.Context, applier BatchApplier, mods []Module) ([]service.BatchResult, error) {
	var (
		mu      sync.Mutex
		results []service.BatchResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, m := range mods {
		g.Go(func() error {
			for _, b := range m.Batches() {
				if b.Module == "" {
					b.Module = m.Name()
				}
				res, err := applier.ApplyBatch(ctx, b)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if err != nil {
					return fmt.Errorf("模块 %s 初始化失败: %w", m.Name(), err)
				}
			}
			slog.Info("功能模块结构就绪", "module", m.Name())
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
