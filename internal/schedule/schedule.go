// 包 schedule 为 daemon 模式按 cron 表达式触发服务。
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"douyin-harvester/internal/config"
	"douyin-harvester/internal/logx"
)

// RunFunc 启动一次服务；忙碌等错误只记录，不影响后续触发。
type RunFunc func(ctx context.Context, service string) error

// Scheduler 包装 cron.Cron。
type Scheduler struct {
	c    *cron.Cron
	jobs map[string]cron.EntryID
}

// ErrNoJobs 未配置任何任务。
var ErrNoJobs = errors.New("schedule: no jobs")

// New 按配置注册任务。表达式支持 5 段与 @every/@hourly 等描述符。
func New(ctx context.Context, jobs []config.Job, run RunFunc) (*Scheduler, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	s := &Scheduler{
		c:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs: map[string]cron.EntryID{},
	}
	for i, j := range jobs {
		name := j.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", j.Service, i)
		}
		svc := strings.TrimSpace(j.Service)
		id, err := s.c.AddFunc(j.Spec, func() {
			if ctx.Err() != nil {
				return
			}
			logx.Infof("定时任务触发: %s (%s)", name, svc)
			if err := run(ctx, svc); err != nil {
				logx.Warnf("定时任务 %s 失败: %v", name, err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("job %s spec %q: %w", name, j.Spec, err)
		}
		s.jobs[name] = id
	}
	return s, nil
}

// Names 返回已注册任务名。
func (s *Scheduler) Names() []string {
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	return out
}

// Next 返回任务下一次触发时间的 Unix 秒，未知任务返回 0。
func (s *Scheduler) Next(name string) int64 {
	id, ok := s.jobs[name]
	if !ok {
		return 0
	}
	e := s.c.Entry(id)
	if e.Next.IsZero() {
		return 0
	}
	return e.Next.Unix()
}

// Run 启动调度并阻塞到 ctx 结束，返回前等待正在执行的任务完成。
func (s *Scheduler) Run(ctx context.Context) {
	s.c.Start()
	<-ctx.Done()
	<-s.c.Stop().Done()
}
