package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/yuqie6/ModuBot/internal/bootstrap"
	"github.com/yuqie6/ModuBot/internal/eventbus"
	"github.com/yuqie6/ModuBot/internal/modules"
	"github.com/yuqie6/ModuBot/internal/pkg/buildinfo"
	"github.com/yuqie6/ModuBot/internal/pkg/config"
	"github.com/yuqie6/ModuBot/internal/schema"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "modubot",
		Short: "ModuBot - 模块化聊天机器人的运行期结构引擎",
		Long:  `ModuBot 在功能模块声明列时按需建表加列，并把实时结构同步到定义文件。`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["core"] != "true" {
				return nil
			}
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				return fmt.Errorf("初始化失败: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("命令执行失败", "error", err)
		os.Exit(1)
	}
}

func withCore(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["core"] = "true"
	return cmd
}

// runCmd 初始化结构、应用模块批次，然后常驻直到收到信号或进程重启
func runCmd() *cobra.Command {
	return withCore(&cobra.Command{
		Use:   "run",
		Short: "启动机器人结构引擎",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go logEvents(ctx, core.Hub)

			results, err := core.Bootstrap(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				slog.Info("模块批次", "batch", r.ID, "applied", r.Applied, "queued", r.Queued, "existing", len(r.Existing))
			}
			if err := core.StartWatcher(ctx); err != nil {
				slog.Warn("定义文件监听未启动", "error", err)
			}
			if err := core.StartAdmin(ctx); err != nil {
				slog.Warn("管理 HTTP 未启动", "error", err)
			}

			slog.Info("ModuBot 已启动", "version", buildinfo.Version, "modules", core.Cfg.Modules)
			select {
			case <-ctx.Done():
				slog.Info("收到退出信号，正在关闭")
			case <-core.Restart.Done():
				slog.Warn("重启钩子已返回，进程退出")
			}
			return nil
		},
	})
}

func logEvents(ctx context.Context, hub *eventbus.Hub) {
	for evt := range hub.Subscribe(ctx, 64) {
		slog.Debug("结构事件", "type", evt.Type, "data", evt.Data)
	}
}

type columnView struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
	Default    string `yaml:"default,omitempty"`
}

// schemaCmd 以 YAML 输出实时库结构
func schemaCmd() *cobra.Command {
	return withCore(&cobra.Command{
		Use:   "schema",
		Short: "输出实时数据库结构（YAML）",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := core.Schema.Registry
			if err := reg.Refresh(cmd.Context()); err != nil {
				return err
			}
			snap := reg.Snapshot()

			out := make(map[string][]columnView, len(snap.Tables))
			for _, name := range snap.TableNames() {
				info, _ := snap.Table(name)
				cols := make([]columnView, 0, len(info.Columns))
				for _, c := range info.Columns {
					spec := c.Spec()
					v := columnView{Name: spec.Name, Type: string(spec.Type), Nullable: spec.Nullable, PrimaryKey: spec.PrimaryKey}
					if sql, ok := spec.Default.SQL(); ok {
						v.Default = sql
					}
					cols = append(cols, v)
				}
				out[name] = cols
			}

			b, err := yaml.Marshal(out)
			if err != nil {
				return fmt.Errorf("序列化结构失败: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})
}

// regenerateCmd 按实时结构完整重写定义文件
func regenerateCmd() *cobra.Command {
	var force bool
	cmd := withCore(&cobra.Command{
		Use:   "regenerate",
		Short: "按实时结构完整重新生成定义文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			gen := core.Schema.Generator
			if gen.Exists() && !force {
				return fmt.Errorf("定义文件已存在: %s（使用 --force 覆盖）", gen.Path())
			}
			if err := core.Schema.Registry.Refresh(cmd.Context()); err != nil {
				return err
			}
			defs, err := gen.RegenerateFull(core.Schema.Registry.Snapshot(), schema.BuiltinTables())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(defs))
			for _, d := range defs {
				names = append(names, d.Name)
			}
			sort.Strings(names)
			fmt.Fprintf(cmd.OutOrStdout(), "已写入 %s：%v\n", gen.Path(), names)
			return nil
		},
	})
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已有的定义文件")
	return cmd
}

// leaderboardCmd 邀请排行榜
func leaderboardCmd() *cobra.Command {
	var (
		serverID int64
		period   string
		limit    int
	)
	cmd := withCore(&cobra.Command{
		Use:   "leaderboard",
		Short: "查看服务器邀请排行榜",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := modules.ParsePeriod(period)
			if err != nil {
				return err
			}
			rows, err := modules.Leaderboard(cmd.Context(), core.DB.DB, serverID, p, limit, time.Now())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "服务器 %d 邀请排行（%s）\n", serverID, p)
			for i, r := range rows {
				fmt.Fprintf(w, "%2d. %s  邀请 %d  留存 %d  离开 %d\n", i+1, r.UserID, r.Total, r.Stayed, r.Left)
			}
			if len(rows) == 0 {
				fmt.Fprintln(w, "暂无数据")
			}
			return nil
		},
	})
	cmd.Flags().Int64Var(&serverID, "server", 0, "服务器 ID")
	cmd.Flags().StringVar(&period, "period", "all_time", "统计区间：today/week/month/all_time")
	cmd.Flags().IntVar(&limit, "limit", 10, "显示条数")
	_ = cmd.MarkFlagRequired("server")
	return cmd
}

// initConfigCmd 写出默认配置
func initConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "写出默认配置文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("配置文件已存在: %s（使用 --force 覆盖）", path)
			}
			if err := config.WriteFile(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入 %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "覆盖已有的配置文件")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modubot %s (%s)\n", buildinfo.Version, buildinfo.Commit)
		},
	}
}
