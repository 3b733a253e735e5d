// 包 harvest 实现“滚动-抽取”循环：
// - 状态机 Idle → Scrolling → Extracting → (Stagnant) → Done
// - 网络监听在导航前挂载，按页面 URL 缓存接口响应，每个 Extracting 步骤取出一次
// - 抽取分层：接口 → DOM 锚点 → 内联启动 JSON，上一层无新增时才尝试下一层
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/probe"
	"douyin-harvester/internal/reconcile"
)

// State 为循环状态。
type State string

const (
	Idle       State = "idle"
	Scrolling  State = "scrolling"
	Extracting State = "extracting"
	Stagnant   State = "stagnant"
	Done       State = "done"
)

// 结束原因。
const (
	ReasonTarget     = "target"
	ReasonStagnation = "stagnation"
	ReasonBottom     = "bottom"
	ReasonMaxScrolls = "max_scrolls"
	ReasonStopped    = "stopped"
)

// Record 为归并后的一条记录，Item 与 Comment 二选一。
type Record struct {
	Key     string
	Item    *model.ContentItem
	Comment *model.CommentAuthor
}

// Input 为单个抽取步骤的输入。Document 惰性读取并解析当前页面 HTML，一个步骤内只取一次。
type Input struct {
	PageURL   string
	Page      browser.Page
	Responses []browser.Response

	doc    *goquery.Document
	loaded bool
}

// Document 返回当前页面的 HTML 快照；读取失败返回 nil。
func (in *Input) Document(ctx context.Context) *goquery.Document {
	if in.loaded {
		return in.doc
	}
	in.loaded = true
	if in.Page == nil {
		return nil
	}
	html, err := in.Page.HTML(ctx)
	if err != nil {
		logx.Debugf("读取页面 HTML 失败: %v", err)
		return nil
	}
	doc, err := dom.Parse(html)
	if err != nil {
		return nil
	}
	in.doc = doc
	return doc
}

// Tier 为一层抽取。
type Tier func(ctx context.Context, in *Input) []model.Fragment

// Extractor 描述一类列表页的抽取方式。
type Extractor interface {
	// Match 决定哪些网络响应需要缓存响应体
	Match(url, resourceType string) bool
	// Selectors 为列表条目选择器，用于就绪判断与宽限等待计数
	Selectors() []string
	Tiers() []Tier
	Reconcile(frags []model.Fragment) []Record
}

// Known 由需要近似去重的抽取器实现：自然键不同但内容视为同一条的记录不算新增。
type Known interface {
	Duplicate(pageURL string, r Record) bool
	Remember(pageURL string, r Record)
}

// Sink 持久化记录；返回 false 表示记录被过滤（不计入目标数）。
type Sink interface {
	Put(ctx context.Context, r Record) (bool, error)
}

// SinkFunc 适配函数为 Sink。
type SinkFunc func(ctx context.Context, r Record) (bool, error)

func (f SinkFunc) Put(ctx context.Context, r Record) (bool, error) { return f(ctx, r) }

// Loop 为一次滚动采集的参数。零值字段使用默认值。
type Loop struct {
	Page      browser.Page
	Prober    *probe.Prober
	Extractor Extractor
	Sink      Sink
	// Buffer 可在同一会话的多次运行间共享；为 nil 时每次运行新建
	Buffer *ResponseBuffer

	Stagnation   int           // 连续无新增的步骤上限，默认 5
	Target       int           // 目标条数，0 表示不限
	MaxScrolls   int           // 滚动次数上限，默认 40
	Grace        time.Duration // 宽限等待上限，默认 6s
	ReadyTimeout time.Duration // 首屏关键元素等待，默认 10s
	SettleMin    time.Duration
	SettleMax    time.Duration

	// Stop 为外部停止标志，仅在迭代边界检查
	Stop func() bool
	// OnState 在每次状态切换时回调
	OnState func(from, to State)
	Log     *slog.Logger

	scroller *scroller
}

// Result 为一次运行的结果。
type Result struct {
	State    State
	Reason   string
	Scrolls  int
	Steps    int
	New      int // 新自然键数量
	Accepted int // Sink 接受的数量
}

// ErrNoPage 未提供页面。
var ErrNoPage = errors.New("harvest: no page")

func (l *Loop) defaults() {
	if l.Stagnation <= 0 {
		l.Stagnation = 5
	}
	if l.MaxScrolls <= 0 {
		l.MaxScrolls = 40
	}
	if l.Grace <= 0 {
		l.Grace = 6 * time.Second
	}
	if l.ReadyTimeout <= 0 {
		l.ReadyTimeout = 10 * time.Second
	}
	if l.Prober == nil {
		l.Prober = probe.New(l.Page)
	}
	if l.Buffer == nil {
		l.Buffer = NewResponseBuffer(0)
	}
	if l.Log == nil {
		l.Log = logx.For("harvest")
	}
	if l.scroller == nil {
		l.scroller = newScroller()
	}
}

// Run 导航到 url（为空则在当前页采集）并运行状态机直到 Done。
// 只有导航失败会作为错误返回；单条记录的持久化失败仅记录日志。
func (l *Loop) Run(ctx context.Context, url string) (Result, error) {
	if l.Page == nil {
		return Result{State: Idle}, ErrNoPage
	}
	l.defaults()
	res := Result{State: Idle}
	seen := reconcile.NewSeen()

	key := url
	if key == "" {
		if m, err := l.Page.Metrics(ctx); err == nil {
			key = m.URL
		}
	}
	l.Buffer.SetCurrent(key)
	detach := l.Page.OnResponse(ctx, l.Extractor.Match, l.Buffer.Append)
	defer detach()

	if url != "" {
		if err := l.Page.Navigate(ctx, url); err != nil {
			l.transition(&res, Done)
			return res, fmt.Errorf("navigate %s: %w", url, err)
		}
	}
	if sel := l.Extractor.Selectors(); len(sel) > 0 {
		if !l.Prober.WaitForKeyElements(ctx, sel, l.ReadyTimeout) {
			l.Log.Debug("首屏列表未出现，继续滚动采集", "url", key)
		}
	}

	stagnant := 0
	l.transition(&res, Scrolling)
	for res.State != Done {
		if l.stopped(ctx) {
			res.Reason = ReasonStopped
			l.transition(&res, Done)
			break
		}
		switch res.State {
		case Scrolling:
			if res.Scrolls >= l.MaxScrolls {
				res.Reason = ReasonMaxScrolls
				l.transition(&res, Done)
				continue
			}
			if err := l.scroller.scroll(ctx, l.Page, res.Scrolls); err != nil {
				l.Log.Debug("滚动失败", "err", err)
			}
			res.Scrolls++
			_ = sleepRange(ctx, l.SettleMin, l.SettleMax)
			l.transition(&res, Extracting)

		case Extracting:
			n, accepted := l.step(ctx, key, seen)
			res.Steps++
			res.New += n
			res.Accepted += accepted
			if l.Target > 0 && res.Accepted >= l.Target {
				res.Reason = ReasonTarget
				l.transition(&res, Done)
				continue
			}
			if n > 0 {
				stagnant = 0
				l.transition(&res, Scrolling)
			} else {
				stagnant++
				l.transition(&res, Stagnant)
			}

		case Stagnant:
			if stagnant >= l.Stagnation {
				res.Reason = ReasonStagnation
				l.transition(&res, Done)
				continue
			}
			if l.Prober.CanScrollFurther(ctx) {
				l.transition(&res, Scrolling)
				continue
			}
			count := func() int {
				return l.Buffer.Len(key) + browser.Count(ctx, l.Page, l.Extractor.Selectors()...)
			}
			if l.Prober.GraceWait(ctx, l.Grace, count) {
				l.transition(&res, Scrolling)
				continue
			}
			res.Reason = ReasonBottom
			if ctx.Err() != nil {
				res.Reason = ReasonStopped
			}
			l.transition(&res, Done)
		}
	}
	l.Log.Info("采集结束", "url", key, "reason", res.Reason, "scrolls", res.Scrolls, "new", res.New, "accepted", res.Accepted)
	return res, nil
}

func (l *Loop) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return l.Stop != nil && l.Stop()
}

func (l *Loop) transition(res *Result, to State) {
	from := res.State
	res.State = to
	if l.OnState != nil && from != to {
		l.OnState(from, to)
	}
}

// step 执行一次抽取：逐层尝试，直到某层产出新自然键；随后把新记录写入 Sink。
func (l *Loop) step(ctx context.Context, key string, seen *reconcile.Seen) (int, int) {
	in := &Input{PageURL: key, Page: l.Page, Responses: l.Buffer.Drain(key)}
	known, _ := l.Extractor.(Known)
	var frags []model.Fragment
	var fresh []Record
	for _, tier := range l.Extractor.Tiers() {
		frags = append(frags, tier(ctx, in)...)
		fresh = fresh[:0]
		for _, r := range l.Extractor.Reconcile(frags) {
			if r.Key == "" || seen.Has(r.Key) {
				continue
			}
			if known != nil && known.Duplicate(key, r) {
				continue
			}
			fresh = append(fresh, r)
		}
		if len(fresh) > 0 {
			break
		}
	}
	accepted := 0
	for _, r := range fresh {
		seen.Add(r.Key)
		if known != nil {
			known.Remember(key, r)
		}
		if l.Sink == nil {
			accepted++
			continue
		}
		ok, err := l.Sink.Put(ctx, r)
		if err != nil {
			l.Log.Warn("保存记录失败", "key", r.Key, "err", err)
			continue
		}
		if ok {
			accepted++
		}
	}
	return len(fresh), accepted
}

// ItemRecords 按 ItemKey 归并视频片段。
func ItemRecords(frags []model.Fragment) []Record {
	items := reconcile.Items(frags, reconcile.ItemKey)
	out := make([]Record, 0, len(items))
	for i := range items {
		it := items[i]
		out = append(out, Record{Key: reconcile.ItemKey(model.Fragment{Item: &it}), Item: &it})
	}
	return out
}

// CommentRecords 归并评论片段。
func CommentRecords(frags []model.Fragment) []Record {
	list := reconcile.Comments(frags)
	out := make([]Record, 0, len(list))
	for i := range list {
		c := list[i]
		out = append(out, Record{Key: reconcile.CommentKey(c), Comment: &c})
	}
	return out
}

// splitAlt 将 "a||b" 形式的规则表达式拆成选择器列表。
func splitAlt(expr string) []string {
	var out []string
	for _, s := range strings.Split(expr, "||") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
