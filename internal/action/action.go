// 包 action 实现用户主页上的受控交互：关注、打开私信、输入并发送、点赞与切换视频。
//
// 每个动作都是尽力而为：定位失败、超时都以 false 返回，由调用方决定跳过当前目标。
// 定位按层回退（DOM 选择器 → 锚点区域 → 截图模板），首个成功的层生效。
package action

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/vision"
)

// 关注按钮的状态文案。
var (
	followingLabels = []string{"已关注", "互相关注"}
	// 关注按钮的完整文案；"关注 128" 这类计数标签不算
	followButtonLabels = []string{"关注", "回关", "已关注", "互相关注"}
	unfollowLabels     = []string{"取消关注"}
	messageLabels      = []string{"私信", "发消息"}
)

// 用于文案查找的通用选择器。
var textSelectors = []string{`button`, `[role="button"]`, `[role="menuitem"]`, `span`}

// 模板名称，对应模板目录下的 <name>.png。
const (
	TplMessageButton = "message_button"
)

// Engine 绑定一个页面执行交互。零值字段在首次使用时填默认值。
type Engine struct {
	Page      browser.Page
	Profile   *rules.Profile
	Templates *vision.Templates

	Cooldown    time.Duration // 同一目标两次点击关注的最小间隔，默认 2s
	Polls       int           // 关注后的状态轮询次数，默认 5
	PollEvery   time.Duration // 默认 500ms
	DialogWait  time.Duration // 点击私信后等待输入框出现，默认 3s
	SendCheck   time.Duration // 每种发送方式之后的检查等待，默认 350ms
	ActionMin   time.Duration // 相邻动作之间的拟人停顿
	ActionMax   time.Duration
	LikeKey     string // 默认 "z"
	NextKey     string // 默认 "ArrowDown"
	AnchorConf  float64
	TopBarConf  float64
	TopBarTries int

	Log *slog.Logger

	once sync.Once
}

// New 创建使用默认参数的引擎。
func New(p browser.Page, profile *rules.Profile, tpl *vision.Templates) *Engine {
	e := &Engine{Page: p, Profile: profile, Templates: tpl}
	e.init()
	return e
}

func (e *Engine) init() {
	e.once.Do(func() {
		if e.Profile == nil {
			e.Profile = &rules.Profile{}
		}
		if e.Cooldown <= 0 {
			e.Cooldown = 2 * time.Second
		}
		if e.Polls <= 0 {
			e.Polls = 5
		}
		if e.PollEvery <= 0 {
			e.PollEvery = 500 * time.Millisecond
		}
		if e.DialogWait <= 0 {
			e.DialogWait = 3 * time.Second
		}
		if e.SendCheck <= 0 {
			e.SendCheck = 350 * time.Millisecond
		}
		if e.LikeKey == "" {
			e.LikeKey = "z"
		}
		if e.NextKey == "" {
			e.NextKey = "ArrowDown"
		}
		if e.AnchorConf <= 0 {
			e.AnchorConf = 0.72
		}
		if e.TopBarConf <= 0 {
			e.TopBarConf = 0.74
		}
		if e.TopBarTries <= 0 {
			e.TopBarTries = 3
		}
		if e.Log == nil {
			e.Log = logx.For("action")
		}
	})
}

// cooldowns 记录每个目标最近一次点击关注的时间，进程内共享。
var cooldowns = struct {
	sync.Mutex
	last map[string]time.Time
}{last: map[string]time.Time{}}

// acquire 在冷却期外登记一次点击并返回 true。
func acquire(target string, d time.Duration) bool {
	cooldowns.Lock()
	defer cooldowns.Unlock()
	now := time.Now()
	if t, ok := cooldowns.last[target]; ok && now.Sub(t) < d {
		return false
	}
	cooldowns.last[target] = now
	return true
}

// EnsureFollowed 保证已关注 target（通常为主页 URL）。
// 已是关注状态时不点击直接返回 true；否则点击一次并轮询状态变化。
func (e *Engine) EnsureFollowed(ctx context.Context, target string) bool {
	e.init()
	btn, label, ok := e.followButton(ctx)
	if !ok {
		e.Log.Debug("未找到关注按钮", "target", target)
		return false
	}
	if isFollowing(label) {
		return true
	}
	if acquire(target, e.Cooldown) {
		if err := btn.Click(ctx); err != nil {
			e.Log.Debug("点击关注失败", "target", target, "err", err)
			return false
		}
	} else {
		// 冷却期内不重复点击，只等待页面自身的状态更新
		e.Log.Debug("关注冷却中", "target", target)
	}
	for i := 0; i < e.Polls; i++ {
		if sleep(ctx, e.PollEvery) != nil {
			return false
		}
		if _, label, ok := e.followButton(ctx); ok && isFollowing(label) {
			return true
		}
		if _, _, ok := e.findText(ctx, unfollowLabels...); ok {
			return true
		}
	}
	e.Log.Info("关注状态未变化", "target", target)
	return false
}

func (e *Engine) followButton(ctx context.Context) (browser.Element, string, bool) {
	if el, ok := browser.First(ctx, e.Page, e.Profile.Follow...); ok {
		t, err := el.Text(ctx)
		if err == nil {
			return el, strings.TrimSpace(t), true
		}
	}
	for _, sel := range []string{`button`, `[role="button"]`} {
		els, err := e.Page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			t, err := el.Text(ctx)
			if err != nil || !slices.Contains(followButtonLabels, strings.TrimSpace(t)) {
				continue
			}
			if ok, _ := el.Visible(ctx); ok {
				return el, strings.TrimSpace(t), true
			}
		}
	}
	return nil, "", false
}

func (e *Engine) findText(ctx context.Context, texts ...string) (browser.Element, string, bool) {
	for _, sel := range textSelectors {
		if el, t, ok := browser.FindByText(ctx, e.Page, sel, texts...); ok {
			return el, t, true
		}
	}
	return nil, "", false
}

func isFollowing(label string) bool {
	for _, s := range followingLabels {
		if strings.Contains(label, s) {
			return true
		}
	}
	return false
}

// Like 按点赞快捷键。
func (e *Engine) Like(ctx context.Context) error {
	e.init()
	return e.Page.Press(ctx, e.LikeKey)
}

// NextVideo 切换到下一个视频。
func (e *Engine) NextVideo(ctx context.Context) error {
	e.init()
	return e.Page.Press(ctx, e.NextKey)
}

// pause 在相邻动作之间随机停顿。
func (e *Engine) pause(ctx context.Context) {
	lo, hi := e.ActionMin, e.ActionMax
	if hi <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d += rand.N(hi - lo)
	}
	_ = sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
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
