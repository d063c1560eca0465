package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yuqie6/ModuBot/internal/definition"
	"github.com/yuqie6/ModuBot/internal/eventbus"
	"github.com/yuqie6/ModuBot/internal/httpapi"
	"github.com/yuqie6/ModuBot/internal/modules"
	"github.com/yuqie6/ModuBot/internal/pkg/config"
	"github.com/yuqie6/ModuBot/internal/platform"
	"github.com/yuqie6/ModuBot/internal/repository"
	"github.com/yuqie6/ModuBot/internal/schema"
	"github.com/yuqie6/ModuBot/internal/service"
)

// Core 持有结构引擎及其依赖
type Core struct {
	Cfg       *config.Config
	DB        *repository.Database
	LogCloser io.Closer
	Hub       *eventbus.Hub

	Schema struct {
		Registry  *repository.SchemaRegistry
		Generator *definition.Generator
		Catalog   *definition.Catalog
		Defaults  *schema.DefaultRegistry
		Watcher   *definition.Watcher
	}

	Records *repository.RecordRepository
	Restart *service.RestartCoordinator
	Engine  *service.SchemaEngine

	Clients struct {
		Platform *platform.Client
	}

	Admin *httpapi.LocalServer

	restartFn service.RestartFunc
}

// Option NewCore 可选参数
type Option func(*Core)

// WithRestartFunc 替换默认的重启钩子（默认以相同参数重新执行本进程）
func WithRestartFunc(fn service.RestartFunc) Option {
	return func(c *Core) { c.restartFn = fn }
}

// NewCore 构建核心依赖（不做结构初始化）
func NewCore(cfgPath string, opts ...Option) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logCloser, err := config.SetupLogger(config.LoggerOptions{
		Level:     cfg.App.LogLevel,
		Path:      cfg.App.LogPath,
		Component: filepath.Base(os.Args[0]),
	})
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDatabase(cfg.Storage.DBPath, repository.Options{BusyTimeoutMs: cfg.Storage.BusyTimeoutMs})
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	c := &Core{Cfg: cfg, DB: db, LogCloser: logCloser, Hub: eventbus.NewHub()}
	for _, opt := range opts {
		opt(c)
	}
	if c.restartFn == nil {
		c.restartFn = c.execSelf
	}

	c.Schema.Registry = repository.NewSchemaRegistry(db.DB)
	c.Schema.Generator = definition.NewGenerator(cfg.Storage.DefinitionPath)
	c.Schema.Catalog = definition.NewCatalog(c.Schema.Generator)
	c.Schema.Defaults = schema.NewDefaultRegistry()

	c.Records = repository.NewRecordRepository(db.DB, c.Schema.Catalog, c.Schema.Defaults)
	c.Restart = service.NewRestartCoordinator(service.RestartOptions{
		Enabled: cfg.Restart.Enabled,
		Delay:   cfg.Restart.Delay(),
	}, c.restartFn, c.Hub)
	c.Engine = service.NewSchemaEngine(
		c.Schema.Registry,
		c.Schema.Registry.DDL(),
		c.Schema.Generator,
		c.Schema.Catalog,
		c.Schema.Defaults,
		c.Restart,
		c.Hub,
	)

	c.Clients.Platform = platform.NewClient(&platform.Config{
		Token:   cfg.Platform.Token,
		BaseURL: cfg.Platform.BaseURL,
		Timeout: cfg.Platform.Timeout(),
	})
	if c.Clients.Platform.IsConfigured() {
		platform.NewHooks(c.Clients.Platform, c.Records).Register()
	} else {
		slog.Warn("平台 token 未配置，内置表不做补全")
	}

	return c, nil
}

// Bootstrap 初始化结构并应用已启用模块的批次
func (c *Core) Bootstrap(ctx context.Context) ([]service.BatchResult, error) {
	if err := c.Engine.Bootstrap(ctx); err != nil {
		return nil, err
	}
	mods, err := modules.ByName(c.Cfg.Modules)
	if err != nil {
		return nil, err
	}
	return modules.SetupAll(ctx, c.Engine, mods)
}

// StartWatcher 定义文件被外部修改时重新加载目录
func (c *Core) StartWatcher(ctx context.Context) error {
	if !c.Cfg.Definitions.Watch {
		return nil
	}
	w, err := definition.NewWatcher(c.Schema.Generator.Path(), c.Cfg.Definitions.Debounce(), func() {
		if err := c.Schema.Catalog.Reload(); err == nil {
			c.Hub.Emit(eventbus.TypeCatalogReloaded, map[string]any{"reason": "external_edit"})
		}
	})
	if err != nil {
		return fmt.Errorf("创建定义文件监听失败: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	c.Schema.Watcher = w
	return nil
}

// StartAdmin 启动本地管理 HTTP（admin.listen_addr 为空时跳过）
func (c *Core) StartAdmin(ctx context.Context) error {
	if c.Cfg.Admin.ListenAddr == "" {
		return nil
	}
	srv, err := httpapi.Start(ctx, httpapi.Deps{
		Name:           c.Cfg.App.Name,
		Version:        c.Cfg.App.Version,
		DBPath:         c.DB.Path,
		DefinitionPath: c.Schema.Generator.Path(),
		Hub:            c.Hub,
		Schema:         c.Schema.Registry,
		Definitions:    c.Schema.Catalog,
		DB:             c.DB.DB,
		Restart:        c.Restart,
	}, httpapi.Options{ListenAddr: c.Cfg.Admin.ListenAddr})
	if err != nil {
		return fmt.Errorf("启动管理 HTTP 失败: %w", err)
	}
	c.Admin = srv
	return nil
}

// execSelf 释放资源后以相同参数重新执行本进程
func (c *Core) execSelf(ctx context.Context) error {
	_ = c.Admin.Shutdown(ctx)
	if c.Schema.Watcher != nil {
		_ = c.Schema.Watcher.Stop()
	}
	if err := c.DB.Close(); err != nil {
		slog.Warn("重启前关闭数据库失败", "error", err)
	}
	return service.ExecSelf(ctx)
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	_ = c.Admin.Shutdown(context.Background())
	if c.Schema.Watcher != nil {
		_ = c.Schema.Watcher.Stop()
	}
	var dbErr error
	if c.DB != nil {
		dbErr = c.DB.Close()
	}
	if c.LogCloser != nil {
		_ = c.LogCloser.Close()
	}
	return dbErr
}
