package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Platform    PlatformConfig    `mapstructure:"platform"`
	Modules     []string          `mapstructure:"modules"`
	Restart     RestartConfig     `mapstructure:"restart"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath         string `mapstructure:"db_path"`
	DefinitionPath string `mapstructure:"definition_path"`
	BusyTimeoutMs  int    `mapstructure:"busy_timeout_ms"`
}

// PlatformConfig 聊天平台 REST 配置
type PlatformConfig struct {
	Token      string `mapstructure:"token"`
	BaseURL    string `mapstructure:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// RestartConfig 结构批次完成后的进程重启
type RestartConfig struct {
	Enabled bool `mapstructure:"enabled"`
	DelayMs int  `mapstructure:"delay_ms"`
}

// DefinitionsConfig 定义文件
type DefinitionsConfig struct {
	Watch      bool `mapstructure:"watch"`
	DebounceMs int  `mapstructure:"debounce_ms"`
}

// AdminConfig 本地管理 HTTP；listen_addr 为空时不启动
type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

func (c RestartConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

func (c DefinitionsConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量，如 MODUBOT_PLATFORM_TOKEN
	v.SetEnvPrefix("MODUBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Platform.Token = expandEnv(cfg.Platform.Token)

	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.Storage.DefinitionPath = resolvePath(cfg.Storage.DefinitionPath)
	if cfg.App.LogPath != "" {
		cfg.App.LogPath = resolvePath(cfg.App.LogPath)
	}

	return &cfg, nil
}

// Default 默认配置（路径未解析）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "modubot")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_path", "")

	// Storage
	v.SetDefault("storage.db_path", "./data/modubot.db")
	v.SetDefault("storage.definition_path", "./data/tables.hcl")
	v.SetDefault("storage.busy_timeout_ms", 5000)

	// Platform
	v.SetDefault("platform.base_url", "https://discord.com/api/v10")
	v.SetDefault("platform.timeout_sec", 15)

	v.SetDefault("modules", []string{"invite_tracker", "ultra_mod", "pokedex"})

	v.SetDefault("restart.enabled", false)
	v.SetDefault("restart.delay_ms", 1000)

	v.SetDefault("definitions.watch", true)
	v.SetDefault("definitions.debounce_ms", 500)

	v.SetDefault("admin.listen_addr", "")
}

// expandEnv 展开环境变量占位符 ${VAR}
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		envVar := s[2 : len(s)-1]
		return os.Getenv(envVar)
	}
	return s
}

// resolvePath 解析相对路径为绝对路径（相对可执行文件目录）
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}
