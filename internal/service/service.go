// 包 service 负责主流程编排：
// - Registry 管理具名服务，同一时刻只允许一个服务运行
// - 各服务把浏览器会话、采集循环、交互引擎与存储串起来
// - 单个目标失败只记录并继续；配置/输入错误在触碰浏览器前直接返回
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"douyin-harvester/internal/action"
	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/config"
	"douyin-harvester/internal/events"
	"douyin-harvester/internal/fetch"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/probe"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/store"
	"douyin-harvester/internal/vision"
)

var (
	// ErrBusy 已有服务在运行。
	ErrBusy = errors.New("service: another service is running")
	// ErrUnknown 未注册的服务名。
	ErrUnknown = errors.New("service: unknown service")
	// ErrEmptyKeywords 关键词列表为空。
	ErrEmptyKeywords = errors.New("service: empty keyword list")
	// ErrEmptyTexts 私信话术为空。
	ErrEmptyTexts = errors.New("service: empty message texts")
	// ErrInvalidURL 目标链接不合法。
	ErrInvalidURL = errors.New("service: invalid target url")
)

// Store 为各服务用到的存储操作；*store.SQLite 与 *MemorySink 都实现它。
type Store interface {
	UpsertContentItem(ctx context.Context, v model.ContentItem, enrich bool) (bool, error)
	InsertCommentAuthor(ctx context.Context, u model.CommentAuthor) (bool, error)
	MarkSent(ctx context.Context, userURL string) (bool, error)
	QueryPending(ctx context.Context, limit int) ([]model.CommentAuthor, error)
	QueryRecentVideos(ctx context.Context, limit int, sort store.Sort) ([]model.ContentItem, error)
	QueryVideosNeedingDetail(ctx context.Context, limit int) ([]model.ContentItem, error)
	LogTask(ctx context.Context, service, status, message string) error
}

var (
	_ Store = (*store.SQLite)(nil)
	_ Store = (*MemorySink)(nil)
)

// Params 为一次运行的参数，零值字段取配置文件中的值。
type Params struct {
	Keywords []string
	URLs     []string
	Texts    []string
	Target   int
	Limit    int
	Duration time.Duration
}

// Report 为一次运行的结果统计。
type Report struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (r Report) String() string {
	return fmt.Sprintf("processed=%d succeeded=%d failed=%d skipped=%d", r.Processed, r.Succeeded, r.Failed, r.Skipped)
}

// Func 为一个服务的实现。
type Func func(ctx context.Context, r *Runner, p Params) (Report, error)

// Runner 持有各服务共享的依赖。
type Runner struct {
	Cfg       *config.Config
	Rules     *rules.Rules
	Session   *browser.Session
	Store     Store
	Fetch     *fetch.Client
	Bus       *events.Bus
	Templates *vision.Templates

	// Sleep 为拟人停顿与休息，为 nil 时使用真实计时器
	Sleep func(ctx context.Context, d time.Duration) error
	// Probe 为页面创建探测器，为 nil 时使用 probe.New
	Probe func(p browser.Page) *probe.Prober
	// Actions 为页面创建交互引擎，为 nil 时按配置创建
	Actions func(p browser.Page) *action.Engine

	stop atomic.Bool
}

// Stopped 返回停止标志，供采集循环在迭代边界检查。
func (r *Runner) Stopped() bool { return r.stop.Load() }

func (r *Runner) log(service string) *slog.Logger { return logx.For(service) }

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pause 在 [lo, hi] 内随机停顿。
func (r *Runner) pause(ctx context.Context, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d += rand.N(hi - lo)
	}
	return r.sleep(ctx, d)
}

func (r *Runner) prober(p browser.Page) *probe.Prober {
	if r.Probe != nil {
		return r.Probe(p)
	}
	return probe.New(p)
}

func (r *Runner) engine(p browser.Page) *action.Engine {
	if r.Actions != nil {
		return r.Actions(p)
	}
	e := &action.Engine{
		Page:      p,
		Profile:   r.preset("douyin").Profile,
		Templates: r.Templates,
		Cooldown:  time.Duration(r.Cfg.Safety.FollowCooldownMS) * time.Millisecond,
		LikeKey:   r.Cfg.Douyin.Shortcuts.Like,
		NextKey:   r.Cfg.Douyin.Shortcuts.Next,
	}
	e.ActionMin, e.ActionMax = r.Cfg.Behavior.ActionDelay()
	return e
}

func (r *Runner) preset(name string) rules.Preset {
	if r.Rules != nil {
		if p, ok := r.Rules.GetPreset(name); ok {
			return p
		}
	}
	p, _ := rules.Builtin().GetPreset(name)
	return p
}

func (r *Runner) emit(t events.Type, service, msg string, data map[string]any) {
	r.Bus.Emit(t, service, msg, data)
}

// Status 为注册表状态。
type Status struct {
	Running  bool      `json:"running"`
	Service  string    `json:"service,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Last     *Report   `json:"last,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Services []string  `json:"services"`
}

// Registry 管理具名服务；Start/Run 互斥，Stop 只设置停止标志。
type Registry struct {
	runner *Runner

	mu       sync.Mutex
	services map[string]Func
	running  string
	runID    string
	started  time.Time
	done     chan struct{}
	last     *Report
	lastErr  string
}

// NewRegistry 注册内置服务：search/comments/enrich/message/like。
func NewRegistry(r *Runner) *Registry {
	reg := &Registry{runner: r, services: map[string]Func{}}
	reg.Register("search", Search)
	reg.Register("comments", Comments)
	reg.Register("enrich", Enrich)
	reg.Register("message", Message)
	reg.Register("like", Like)
	return reg
}

// Register 注册或替换服务。
func (g *Registry) Register(name string, fn Func) {
	g.mu.Lock()
	g.services[name] = fn
	g.mu.Unlock()
}

func (g *Registry) acquire(name string) (Func, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn, ok := g.services[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if g.running != "" {
		return nil, "", fmt.Errorf("%w: %s", ErrBusy, g.running)
	}
	g.running, g.runID, g.started = name, uuid.NewString(), time.Now()
	g.done = make(chan struct{})
	g.runner.stop.Store(false)
	return fn, g.runID, nil
}

func (g *Registry) release(rep Report, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = &rep
	g.lastErr = ""
	if err != nil {
		g.lastErr = err.Error()
	}
	close(g.done)
	g.running, g.runID, g.done = "", "", nil
}

// Run 同步运行服务。
func (g *Registry) Run(ctx context.Context, name string, p Params) (Report, error) {
	fn, id, err := g.acquire(name)
	if err != nil {
		return Report{}, err
	}
	return g.exec(ctx, fn, name, id, p)
}

// Start 在后台运行服务并返回运行 ID。
func (g *Registry) Start(ctx context.Context, name string, p Params) (string, error) {
	fn, id, err := g.acquire(name)
	if err != nil {
		return "", err
	}
	go func() { _, _ = g.exec(ctx, fn, name, id, p) }()
	return id, nil
}

func (g *Registry) exec(ctx context.Context, fn Func, name, id string, p Params) (rep Report, err error) {
	r := g.runner
	log := r.log(name)
	r.emit(events.Started, name, "服务开始", map[string]any{"run_id": id})
	log.Info("服务开始", "run_id", id)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("service %s panic: %v", name, rec)
		}
		status, msg := "finished", rep.String()
		if err != nil {
			status, msg = "error", err.Error()
			r.emit(events.Error, name, msg, map[string]any{"run_id": id})
			log.Error("服务失败", "run_id", id, "err", err)
		} else {
			r.emit(events.Finished, name, msg, map[string]any{"run_id": id, "report": rep})
			log.Info("服务结束", "run_id", id, "report", rep.String())
		}
		if r.Store != nil {
			if lerr := r.Store.LogTask(context.WithoutCancel(ctx), name, status, msg); lerr != nil {
				log.Warn("写入任务日志失败", "err", lerr)
			}
		}
		g.release(rep, err)
	}()
	return fn(ctx, r, p)
}

// Stop 设置停止标志；当前目标处理完后服务结束。
func (g *Registry) Stop() {
	g.runner.stop.Store(true)
}

// Wait 等待当前运行结束；没有运行时立即返回。
func (g *Registry) Wait(ctx context.Context) error {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status 返回当前状态。
func (g *Registry) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{
		Running: g.running != "",
		Service: g.running,
		RunID:   g.runID,
		Started: g.started,
		Last:    g.last,
		LastErr: g.lastErr,
	}
	if !st.Running {
		st.Started = time.Time{}
	}
	for n := range g.services {
		st.Services = append(st.Services, n)
	}
	sort.Strings(st.Services)
	return st
}

// cleanList 去空白、去空项、去重并保持顺序。
func cleanList(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// orList 返回 override 清洗后的结果，为空时退回 def。
func orList(override, def []string) []string {
	if l := cleanList(override); len(l) > 0 {
		return l
	}
	return cleanList(def)
}

func orInt(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}
