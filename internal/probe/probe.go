// 包 probe 判断页面是否可操作：DOM 稳定性、能否继续滚动、关键元素可见、主页就绪。
// 所有判断都以 bool 返回，探测失败按“未就绪”处理，不向上抛错。
package probe

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/model"
)

// DefaultProfileButtons 为主页上可操作的关键按钮（任一可见即可）。
var DefaultProfileButtons = []string{
	`[data-e2e="user-info-follow-btn"]`,
	`[data-e2e="message-btn"]`,
	`.follow-button`,
	`.message-button`,
}

// DefaultPlayers 为视频播放器选择器。
var DefaultPlayers = []string{
	`xg-video-container video`,
	`.xgplayer video`,
	`[data-e2e="feed-video"] video`,
}

// Prober 绑定一个页面。零值字段在 New 中填默认值，测试可覆盖为更短的间隔。
type Prober struct {
	page browser.Page

	Samples   int
	Interval  time.Duration
	Tolerance float64
	Jitter    time.Duration
	Buffer    float64
	Poll      time.Duration
	Step      time.Duration

	ProfileButtons []string
	Players        []string
	// Items 用于 Snapshot 统计可见条目数
	Items []string
}

// New 返回带默认参数的探测器：3 次采样、间隔 200ms、容差 2%、底部缓冲 100px。
func New(p browser.Page) *Prober {
	return &Prober{
		page:           p,
		Samples:        3,
		Interval:       200 * time.Millisecond,
		Tolerance:      0.02,
		Jitter:         50 * time.Millisecond,
		Buffer:         100,
		Poll:           200 * time.Millisecond,
		Step:           time.Second,
		ProfileButtons: DefaultProfileButtons,
		Players:        DefaultPlayers,
	}
}

// Page 返回探测的页面。
func (p *Prober) Page() browser.Page { return p.page }

// IsStable 连续采样 DOM 节点数，(max-min)/max ≤ Tolerance 且 max > 0 时视为稳定。
func (p *Prober) IsStable(ctx context.Context) bool {
	n := p.Samples
	if n < 2 {
		n = 2
	}
	lo, hi := -1, 0
	for i := 0; i < n; i++ {
		if i > 0 {
			if sleep(ctx, p.Interval+p.jitter()) != nil {
				return false
			}
		}
		m, err := p.page.Metrics(ctx)
		if err != nil {
			return false
		}
		if lo < 0 || m.NodeCount < lo {
			lo = m.NodeCount
		}
		if m.NodeCount > hi {
			hi = m.NodeCount
		}
	}
	if hi <= 0 {
		return false
	}
	return float64(hi-lo)/float64(hi) <= p.Tolerance
}

func (p *Prober) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return rand.N(p.Jitter + 1)
}

// CanScrollFurther 判断 scrollY + 视口高度 < 文档高度 - Buffer；取不到指标时返回 true，交给宽限等待确认。
func (p *Prober) CanScrollFurther(ctx context.Context) bool {
	m, err := p.page.Metrics(ctx)
	if err != nil {
		return true
	}
	return m.ScrollY+m.ViewportH < m.DocHeight-p.Buffer
}

// GraceWait 在疑似到底时按 Step 轮询至多 ceiling，文档变高或条目数增加则返回 true（仍可滚动）。
// itemCount 可为 nil。
func (p *Prober) GraceWait(ctx context.Context, ceiling time.Duration, itemCount func() int) bool {
	base, err := p.page.Metrics(ctx)
	if err != nil {
		return false
	}
	items := 0
	if itemCount != nil {
		items = itemCount()
	}
	step := p.Step
	if step <= 0 {
		step = time.Second
	}
	for waited := time.Duration(0); waited < ceiling; waited += step {
		if sleep(ctx, step) != nil {
			return false
		}
		m, err := p.page.Metrics(ctx)
		if err == nil && m.DocHeight > base.DocHeight {
			return true
		}
		if itemCount != nil && itemCount() > items {
			return true
		}
	}
	return false
}

// WaitForKeyElements 任一选择器可见即返回 true；超时返回 false。
func (p *Prober) WaitForKeyElements(ctx context.Context, selectors []string, timeout time.Duration) bool {
	return p.until(ctx, timeout, func() bool {
		return browser.AnyVisible(ctx, p.page, selectors...)
	})
}

// WaitForProfileReady 要求同时满足：URL 为用户主页、readyState 可交互、关键按钮可见、DOM 稳定。
func (p *Prober) WaitForProfileReady(ctx context.Context, timeout time.Duration) bool {
	return p.until(ctx, timeout, func() bool {
		m, err := p.page.Metrics(ctx)
		if err != nil || !strings.Contains(m.URL, "douyin.com/user") {
			return false
		}
		if !interactive(m.ReadyState) {
			return false
		}
		if !browser.AnyVisible(ctx, p.page, p.ProfileButtons...) {
			return false
		}
		return p.IsStable(ctx)
	})
}

// IsVideoPage 判断当前是否为视频页：URL 含 /video/ 或 modal_id=，或播放器可见。
func (p *Prober) IsVideoPage(ctx context.Context) bool {
	m, err := p.page.Metrics(ctx)
	if err == nil && (strings.Contains(m.URL, "/video/") || strings.Contains(m.URL, "modal_id=")) {
		return true
	}
	return browser.AnyVisible(ctx, p.page, p.Players...)
}

// Snapshot 取一次页面快照。
func (p *Prober) Snapshot(ctx context.Context) (model.PageState, error) {
	m, err := p.page.Metrics(ctx)
	if err != nil {
		return model.PageState{}, err
	}
	return model.PageState{
		URL:              m.URL,
		ReadyState:       model.ReadyState(m.ReadyState),
		DOMNodeCount:     m.NodeCount,
		VisibleItemCount: browser.Count(ctx, p.page, p.Items...),
		Timestamp:        time.Now(),
	}, nil
}

func (p *Prober) until(ctx context.Context, timeout time.Duration, ok func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ok() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if sleep(ctx, p.Poll) != nil {
			return false
		}
	}
}

func interactive(s string) bool {
	rs := model.ReadyState(s)
	return rs == model.ReadyInteractive || rs == model.ReadyComplete
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
