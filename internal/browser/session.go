package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"douyin-harvester/internal/logx"
)

// ErrSessionLost 表示浏览器会话失效且有限次重启均失败。
var ErrSessionLost = errors.New("browser session lost")

// Options 为会话启动参数。
type Options struct {
	UserDataDir string
	Bin         string
	Headless    bool
	ViewportW   int
	ViewportH   int
	UserAgent   string
	// Flags 额外的 Chrome 启动参数，形如 "no-sandbox" 或 "lang=zh-CN"
	Flags []string
	// MockPatterns 命中的请求直接以 "{}" 应答（如埋点上报）
	MockPatterns []string
	OpTimeout    time.Duration
	MaxRetries   int
}

// Driver 负责真正拉起浏览器，测试中可替换。
type Driver interface {
	Launch(ctx context.Context, opts Options) (Page, func() error, error)
	Alive(ctx context.Context, p Page) bool
}

// Session 为唯一的浏览器会话协调器。
// 启动、关闭、切换账号目录都在 mu 下串行执行。
type Session struct {
	mu      sync.Mutex
	opts    Options
	driver  Driver
	page    Page
	closeFn func() error
	// sleep 用于重启退避，测试中可替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSession 创建会话；driver 为 nil 时使用 go-rod 实现。
func NewSession(opts Options, driver Driver) *Session {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if driver == nil {
		driver = RodDriver{}
	}
	return &Session{opts: opts, driver: driver, sleep: sleepCtx}
}

// Profile 返回当前账号目录。
func (s *Session) Profile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.UserDataDir
}

// Running 会话是否已启动。
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page != nil
}

// Start 启动浏览器；已启动时直接返回。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil {
		return nil
	}
	return s.launchLocked(ctx)
}

// launchLocked 最多尝试 MaxRetries 次，退避 1.5s + 0.5s*(n-1)。
func (s *Session) launchLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		page, closeFn, err := s.driver.Launch(ctx, s.opts)
		if err == nil {
			s.page, s.closeFn = page, closeFn
			logx.Infof("浏览器已启动：账号目录=%s 尝试=%d", s.opts.UserDataDir, attempt)
			return nil
		}
		lastErr = err
		logx.Warnf("浏览器启动失败（第 %d/%d 次）：%v", attempt, s.opts.MaxRetries, err)
		if attempt == s.opts.MaxRetries {
			break
		}
		backoff := 1500*time.Millisecond + time.Duration(attempt-1)*500*time.Millisecond
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrSessionLost, lastErr)
}

// Stop 关闭浏览器；未启动时为空操作。
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.page == nil {
		return nil
	}
	var err error
	if s.closeFn != nil {
		err = s.closeFn()
	}
	s.page, s.closeFn = nil, nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// SwitchProfile 完整关闭当前会话后以新的账号目录重新启动。
func (s *Session) SwitchProfile(ctx context.Context, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopLocked(); err != nil {
		logx.Warnf("切换账号前关闭浏览器失败：%v", err)
	}
	s.opts.UserDataDir = dir
	logx.Infof("切换账号目录：%s", dir)
	return s.launchLocked(ctx)
}

// Page 返回可用页面：先做存活探测，失效则关闭并有限次重启。
func (s *Session) Page(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil && s.driver.Alive(ctx, s.page) {
		return s.page, nil
	}
	if s.page != nil {
		logx.Warnf("浏览器会话失效，准备重启")
		_ = s.stopLocked()
	}
	if err := s.launchLocked(ctx); err != nil {
		return nil, err
	}
	return s.page, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RodDriver 使用 go-rod 启动持久化账号目录的 Chrome，并创建 stealth 页面。
type RodDriver struct{}

func (RodDriver) Launch(ctx context.Context, opts Options) (Page, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	for _, f := range opts.Flags {
		name, val, _ := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if val == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), val)
		}
	}
	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch chrome: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connect chrome: %w", err)
	}
	closeAll := func() error {
		err := b.Close()
		l.Kill()
		return err
	}
	p, err := stealth.Page(b)
	if err != nil {
		_ = closeAll()
		return nil, nil, fmt.Errorf("stealth page: %w", err)
	}
	if opts.ViewportW > 0 && opts.ViewportH > 0 {
		_ = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width: opts.ViewportW, Height: opts.ViewportH, DeviceScaleFactor: 1,
		})
	}
	if opts.UserAgent != "" {
		_ = p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent})
	}
	var router *rod.HijackRouter
	if len(opts.MockPatterns) > 0 {
		router = p.HijackRequests()
		for _, pat := range opts.MockPatterns {
			_ = router.Add(pat, "", func(h *rod.Hijack) {
				h.Response.SetHeader("Content-Type", "application/json")
				h.Response.SetBody("{}")
			})
		}
		go router.Run()
	}
	return NewRodPage(p, opts.OpTimeout), func() error {
		if router != nil {
			_ = router.Stop()
		}
		return closeAll()
	}, nil
}

// Alive 通过浏览器版本与页面信息探测会话是否可用。
func (RodDriver) Alive(ctx context.Context, p Page) bool {
	rp, ok := p.(*RodPage)
	if !ok {
		return false
	}
	pg := rp.Rod().Context(ctx).Timeout(5 * time.Second)
	if _, err := pg.Browser().Version(); err != nil {
		return false
	}
	_, err := pg.Info()
	return err == nil
}
