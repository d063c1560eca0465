package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

func DefaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, "config", "config.yaml"), nil
}

func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("cfg 不能为空")
	}
	if path == "" {
		return fmt.Errorf("path 不能为空")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	payload := map[string]any{
		"app": map[string]any{
			"name":      cfg.App.Name,
			"version":   cfg.App.Version,
			"log_level": cfg.App.LogLevel,
			"log_path":  cfg.App.LogPath,
		},
		"storage": map[string]any{
			"db_path":         cfg.Storage.DBPath,
			"definition_path": cfg.Storage.DefinitionPath,
			"busy_timeout_ms": cfg.Storage.BusyTimeoutMs,
		},
		"platform": map[string]any{
			"token":       cfg.Platform.Token,
			"base_url":    cfg.Platform.BaseURL,
			"timeout_sec": cfg.Platform.TimeoutSec,
		},
		"modules": cfg.Modules,
		"restart": map[string]any{
			"enabled":  cfg.Restart.Enabled,
			"delay_ms": cfg.Restart.DelayMs,
		},
		"definitions": map[string]any{
			"watch":       cfg.Definitions.Watch,
			"debounce_ms": cfg.Definitions.DebounceMs,
		},
		"admin": map[string]any{
			"listen_addr": cfg.Admin.ListenAddr,
		},
	}

	b, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// token 可能是明文
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
