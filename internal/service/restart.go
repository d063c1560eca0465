package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuqie6/ModuBot/internal/eventbus"
)

// RestartFunc 宿主进程提供的重启钩子：最终应以相同参数与工作目录重新启动进程
type RestartFunc func(ctx context.Context) error

// RestartOptions 重启配置
type RestartOptions struct {
	Enabled bool
	Delay   time.Duration // 安排重启到执行之间的等待，让进行中的请求完成
}

// RestartCoordinator 批次最后一列新应用后安排一次整进程重启
// 只会请求，不会在触发它的调用里同步执行；整个进程生命周期内最多一次
type RestartCoordinator struct {
	opts RestartOptions
	fn   RestartFunc
	hub  *eventbus.Hub

	// fallback 重启钩子失败时在进程内重新加载记录目录
	fallback func() error

	once      sync.Once
	requested atomic.Bool
	done      chan struct{}
}

// NewRestartCoordinator 创建重启协调器
func NewRestartCoordinator(opts RestartOptions, fn RestartFunc, hub *eventbus.Hub) *RestartCoordinator {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &RestartCoordinator{
		opts: opts,
		fn:   fn,
		hub:  hub,
		done: make(chan struct{}),
	}
}

// Enabled 是否启用重启
func (c *RestartCoordinator) Enabled() bool {
	return c != nil && c.opts.Enabled && c.fn != nil
}

// Requested 是否已经安排过重启
func (c *RestartCoordinator) Requested() bool {
	return c != nil && c.requested.Load()
}

// Done 重启钩子返回后关闭
func (c *RestartCoordinator) Done() <-chan struct{} {
	return c.done
}

// MarkFinal 最后一列是新应用的（不是重放）且定义文件补丁成功时安排重启，返回本次是否安排
func (c *RestartCoordinator) MarkFinal(applied, patched bool) bool {
	if !c.Enabled() {
		return false
	}
	if !applied {
		slog.Debug("批次最后一列没有变更，不重启")
		return false
	}
	if !patched {
		slog.Warn("定义文件未更新，取消重启")
		return false
	}

	scheduled := false
	c.once.Do(func() {
		scheduled = true
		c.requested.Store(true)
		go c.run()
	})
	if !scheduled {
		slog.Debug("重启已安排，忽略重复请求")
	}
	return scheduled
}

func (c *RestartCoordinator) run() {
	defer close(c.done)

	slog.Info("结构批次完成，准备重启进程", "delay", c.opts.Delay)
	if c.opts.Delay > 0 {
		timer := time.NewTimer(c.opts.Delay)
		<-timer.C
	}
	c.hub.Emit(eventbus.TypeRestartRequested, map[string]any{"delay_ms": c.opts.Delay.Milliseconds()})

	if err := c.fn(context.Background()); err != nil {
		slog.Error("重启进程失败", "error", err)
		if c.fallback == nil {
			return
		}
		if err := c.fallback(); err != nil {
			slog.Error("重启失败后重新加载记录目录失败", "error", err)
			return
		}
		slog.Warn("重启失败，已在进程内重新加载记录目录")
	}
}
