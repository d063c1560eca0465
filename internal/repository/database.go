package repository

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite" // 纯 Go SQLite 驱动
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database 数据库管理器
type Database struct {
	DB   *gorm.DB
	Path string
}

// Options 连接参数
type Options struct {
	BusyTimeoutMs int
}

// NewDatabase 创建数据库连接
func NewDatabase(dbPath string, opts Options) (*Database, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	// 连接数据库
	db, err := gorm.Open(sqlite.Open(buildDSN(dbPath, opts)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	slog.Info("数据库初始化成功", "path", dbPath)

	return &Database{DB: db, Path: dbPath}, nil
}

// buildDSN 把 SQLite 性能参数写入 DSN，使连接池中每个连接都生效
func buildDSN(dbPath string, opts Options) string {
	busy := opts.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", busy), // 写锁竞争时等待而不是立即失败
		"journal_mode(WAL)",                   // 启用 WAL 模式，支持并发读写
		"synchronous(NORMAL)",                 // 平衡性能与安全
		"foreign_keys(1)",
		"temp_store(MEMORY)", // 临时表使用内存
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + q.Encode()
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
