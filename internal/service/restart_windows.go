//go:build windows

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// ExecSelf Windows 没有 exec：以相同参数、工作目录与环境拉起新进程后退出
func ExecSelf(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("获取工作目录失败: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Dir = wd
	cmd.Env = os.Environ()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动新进程失败: %w", err)
	}

	slog.Info("新进程已启动，当前进程退出", "pid", cmd.Process.Pid)
	os.Exit(0)
	return nil
}
