package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/schedule"
	"douyin-harvester/internal/service"
)

// daemon 注册定时任务并阻塞到 ctx 结束；同一时刻只运行一个服务，忙碌时本次触发跳过。
func (a *app) daemon(ctx context.Context, out io.Writer) error {
	s, err := schedule.New(ctx, a.cfg.Schedule, func(ctx context.Context, svc string) error {
		rep, err := a.runService(ctx, svc, service.Params{})
		if err != nil {
			return err
		}
		logx.Infof("定时任务完成 %s: %s", svc, rep)
		return nil
	})
	if err != nil {
		return err
	}
	names := s.Names()
	sort.Strings(names)
	fmt.Fprintf(out, "已注册定时任务 %d 个: %v\n", len(names), names)
	go func() {
		// cron 启动后才计算下一次触发时间
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			for _, n := range names {
				logx.Infof("定时任务 %s 下一次运行: %s", n, nextRun(s.Next(n)))
			}
		}
	}()
	s.Run(ctx)
	logx.Infof("定时模式已退出")
	return nil
}
