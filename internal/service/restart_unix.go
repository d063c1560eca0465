//go:build !windows

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// ExecSelf 用当前可执行文件、相同参数与环境替换本进程（工作目录不变）
func ExecSelf(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	slog.Info("重新执行进程", "exe", exe, "args", os.Args[1:])
	if err := unix.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec 失败: %w", err)
	}
	return nil
}
