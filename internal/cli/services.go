package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"douyin-harvester/internal/service"
)

// serviceCmd 构造运行某个服务的子命令；bind 用于登记该服务特有的 flags。
func serviceCmd(opts *rootOptions, name, short string, bind func(cmd *cobra.Command, p *service.Params)) *cobra.Command {
	p := &service.Params{}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			rep, err := a.runService(cmd.Context(), name, *p)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, rep)
			return nil
		},
	}
	bind(cmd, p)
	return cmd
}

func searchCmd(opts *rootOptions) *cobra.Command {
	return serviceCmd(opts, "search", "按关键词搜索并采集视频（SEARCH.platform=xhs 时为小红书笔记）", func(cmd *cobra.Command, p *service.Params) {
		cmd.Flags().StringSliceVarP(&p.Keywords, "keyword", "k", nil, "keywords (default: SEARCH.keywords)")
		cmd.Flags().IntVar(&p.Target, "target", 0, "items per keyword (default: SEARCH.target_per_keyword)")
	})
}

func commentsCmd(opts *rootOptions) *cobra.Command {
	return serviceCmd(opts, "comments", "打开视频评论区，按关键词筛选用户", func(cmd *cobra.Command, p *service.Params) {
		cmd.Flags().StringSliceVarP(&p.Keywords, "keyword", "k", nil, "comment keywords (default: COMMENTS.keywords)")
		cmd.Flags().StringSliceVar(&p.URLs, "url", nil, "video urls (default: recent videos in store and SEED_FEEDS)")
		cmd.Flags().IntVar(&p.Limit, "limit", 0, "max videos (default: COMMENTS.video_limit)")
		cmd.Flags().IntVar(&p.Target, "max", 0, "max users per video (default: COMMENTS.max_per_video)")
	})
}

func enrichCmd(opts *rootOptions) *cobra.Command {
	return serviceCmd(opts, "enrich", "补全视频详情（作者、计数、发布时间）", func(cmd *cobra.Command, p *service.Params) {
		cmd.Flags().StringSliceVar(&p.URLs, "url", nil, "video urls (default: stored videos missing fields)")
		cmd.Flags().IntVar(&p.Limit, "limit", 0, "max videos")
	})
}

func messageCmd(opts *rootOptions) *cobra.Command {
	return serviceCmd(opts, "message", "向待发送用户关注并私信", func(cmd *cobra.Command, p *service.Params) {
		cmd.Flags().StringSliceVarP(&p.Texts, "text", "t", nil, "message texts, one picked at random (default: MESSAGE.texts)")
		cmd.Flags().StringSliceVar(&p.URLs, "url", nil, "user profile urls (default: pending users)")
		cmd.Flags().IntVar(&p.Limit, "limit", 0, "max users (default: MESSAGE.limit)")
	})
}

func likeCmd(opts *rootOptions) *cobra.Command {
	return serviceCmd(opts, "like", "推荐流观看并按概率点赞", func(cmd *cobra.Command, p *service.Params) {
		cmd.Flags().DurationVar(&p.Duration, "duration", 0, "how long to browse (default: LIKE.duration_min)")
		cmd.Flags().IntVar(&p.Limit, "limit", 0, "max videos, 0 for no limit")
	})
}

// daemonCmd 按 SCHEDULE 定时运行服务，直到收到退出信号。
func daemonCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "按 SCHEDULE 定时运行服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.daemon(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func nextRun(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).Format("2006-01-02 15:04:05")
}
