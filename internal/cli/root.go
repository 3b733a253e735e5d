// 包 cli 为命令行入口：
// - 加载 .env、settings.yaml 与 rules.yaml
// - 初始化日志、HTTP 客户端、存储与浏览器会话
// - 以子命令运行各服务、查看统计、清理、导出、授权与定时模式
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	config   string
	rules    string
	logLevel string
	simple   bool
	// logOut 为日志输出，测试中替换
	logOut io.Writer
}

// NewRootCmd 构造完整的命令树。
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "douyin-harvester",
		Short:         "抖音/小红书 搜索采集、评论筛选与私信自动化",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.config, "config", "c", "settings.yaml", "path to settings.yaml")
	pf.StringVar(&opts.rules, "rules", "", "path to rules.yaml (default: RULES in settings.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")
	pf.BoolVar(&opts.simple, "simple", false, "force SIMPLE_MODE (memory only, export data.json)")

	root.AddCommand(
		searchCmd(opts),
		commentsCmd(opts),
		enrichCmd(opts),
		messageCmd(opts),
		likeCmd(opts),
		statsCmd(opts),
		clearCmd(opts),
		pendingCmd(opts),
		exportCmd(opts),
		licenseCmd(opts),
		daemonCmd(opts),
	)
	return root
}

// Execute 加载 .env 后运行命令，收到 SIGINT/SIGTERM 时取消上下文。
func Execute() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
