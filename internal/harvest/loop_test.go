package harvest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/browser/browsertest"
	"douyin-harvester/internal/harvest"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/probe"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/store"
)

const searchURL = "https://www.douyin.com/search/%E8%A3%85%E4%BF%AE?type=video"

func awemeID(n int) string { return fmt.Sprintf("73000000000000%05d", n) }

// searchBody 构造搜索接口响应，ids 为作品序号。
func searchBody(t *testing.T, ids ...int) []byte {
	t.Helper()
	var data []map[string]any
	for _, n := range ids {
		data = append(data, map[string]any{
			"type": 1,
			"aweme_info": map[string]any{
				"aweme_id":    awemeID(n),
				"desc":        fmt.Sprintf("视频 %d", n),
				"create_time": 1700000000 + n,
				"author":      map[string]any{"nickname": "作者", "sec_uid": "MS4w" + awemeID(n)},
				"statistics":  map[string]any{"digg_count": 100 * n, "comment_count": n},
			},
		})
	}
	b, err := json.Marshal(map[string]any{"status_code": 0, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func fastLoop(p *browsertest.Page, ex harvest.Extractor, sink harvest.Sink) *harvest.Loop {
	pr := probe.New(p)
	pr.Interval, pr.Jitter, pr.Poll, pr.Step = time.Millisecond, 0, time.Millisecond, 2*time.Millisecond
	return &harvest.Loop{
		Page:         p,
		Prober:       pr,
		Extractor:    ex,
		Sink:         sink,
		Grace:        5 * time.Millisecond,
		ReadyTimeout: 5 * time.Millisecond,
	}
}

// tallPage 返回足够长、始终可滚动的页面；前 len(batches) 次向下滚动依次推送一批接口响应。
func tallPage(t *testing.T, batches ...[]int) *browsertest.Page {
	p := browsertest.NewPage()
	p.SetMetrics(func(m *browser.Metrics) { m.DocHeight = 1e7 })
	var forward int32
	p.OnWheel = func(p *browsertest.Page, dy float64) {
		if dy <= 0 {
			return
		}
		n := int(atomic.AddInt32(&forward, 1))
		if n <= len(batches) {
			p.Emit(browser.Response{
				URL:    "https://www.douyin.com/aweme/v1/web/general/search/single/?keyword=x",
				Type:   "fetch",
				Status: 200,
				Body:   searchBody(t, batches[n-1]...),
			})
		}
	}
	return p
}

func TestLoop_SixItemsThenStagnation(t *testing.T) {
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	// 第二批混入第一批的一条，应被去重
	p := tallPage(t, []int{1, 2, 3}, []int{3, 4, 5, 6})
	sink := harvest.SinkFunc(func(ctx context.Context, r harvest.Record) (bool, error) {
		return s.UpsertContentItem(ctx, *r.Item, false)
	})
	var states []harvest.State
	l := fastLoop(p, &harvest.VideoSearchExtractor{Keyword: "装修"}, sink)
	l.Stagnation = 4
	l.OnState = func(_, to harvest.State) { states = append(states, to) }

	res, err := l.Run(ctx, searchURL)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != harvest.Done || res.Reason != harvest.ReasonStagnation {
		t.Fatalf("result: %+v", res)
	}
	if res.Scrolls != 2+4 {
		t.Fatalf("scrolls=%d, want 6", res.Scrolls)
	}
	videos, err := s.QueryRecentVideos(ctx, 0, store.SortTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 6 {
		t.Fatalf("persisted %d videos, want 6", len(videos))
	}
	seen := map[string]bool{}
	for _, v := range videos {
		if seen[v.CanonicalURL] {
			t.Fatalf("duplicate persisted: %s", v.CanonicalURL)
		}
		seen[v.CanonicalURL] = true
		if v.Keyword != "装修" || v.AuthorName != "作者" || v.PublishTS == 0 {
			t.Fatalf("api fields missing: %+v", v)
		}
	}
	if p.Listeners() != 0 {
		t.Fatalf("listener leaked: %d", p.Listeners())
	}
	if states[0] != harvest.Scrolling || states[len(states)-1] != harvest.Done {
		t.Fatalf("states: %v", states)
	}
	if got := p.Navigations(); len(got) != 1 || got[0] != searchURL {
		t.Fatalf("navigations: %v", got)
	}
}

func TestLoop_StopFlagEndsAtBoundary(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := tallPage(t, []int{1, 2, 3}, []int{4, 5, 6})
	var stop atomic.Bool
	var put int32
	sink := harvest.SinkFunc(func(context.Context, harvest.Record) (bool, error) {
		if atomic.AddInt32(&put, 1) == 2 {
			stop.Store(true)
		}
		return true, nil
	})
	l := fastLoop(p, &harvest.VideoSearchExtractor{}, sink)
	l.Stop = stop.Load

	res, err := l.Run(context.Background(), searchURL)
	if err != nil {
		t.Fatal(err)
	}
	// 当前步骤写完，之后不再开始新的滚动
	if res.Reason != harvest.ReasonStopped || res.Scrolls != 1 || res.Accepted != 3 {
		t.Fatalf("result: %+v", res)
	}
	if p.Listeners() != 0 {
		t.Fatalf("listener leaked after stop")
	}
}

func TestLoop_CancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := tallPage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := fastLoop(p, &harvest.VideoSearchExtractor{}, nil)
	res, err := l.Run(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != harvest.Done || res.Scrolls != 0 {
		t.Fatalf("result: %+v", res)
	}
	if p.Listeners() != 0 {
		t.Fatalf("listener leaked after cancel")
	}
}

func TestLoop_TargetAndBottom(t *testing.T) {
	p := tallPage(t, []int{1, 2, 3}, []int{4, 5, 6})
	l := fastLoop(p, &harvest.VideoSearchExtractor{}, nil)
	l.Target = 4
	res, _ := l.Run(context.Background(), searchURL)
	if res.Reason != harvest.ReasonTarget || res.Accepted < 4 {
		t.Fatalf("target: %+v", res)
	}

	// 页面到底且宽限等待无变化
	short := browsertest.NewPage()
	l = fastLoop(short, &harvest.VideoSearchExtractor{}, nil)
	res, _ = l.Run(context.Background(), searchURL)
	if res.Reason != harvest.ReasonBottom || res.Scrolls != 1 {
		t.Fatalf("bottom: %+v", res)
	}
}

func TestVideoSearch_DOMAndEmbeddedTiers(t *testing.T) {
	preset, _ := rules.Builtin().GetPreset("douyin")
	render := url.QueryEscape(`{"app":{"videoDetail":{"awemeId":"` + awemeID(9) + `","desc":"内联","authorInfo":{"nickname":"内联作者"},"stats":{"diggCount":"1.2万"},"createTime":1700000000000}}}`)
	p := browsertest.NewPage()
	p.SetHTML(`<html><body>
<ul data-e2e="scroll-list">
  <li><a href="//www.douyin.com/video/` + awemeID(1) + `?previous_page=search"><span class="title">卡片一</span></a>
      <a href="//www.douyin.com/user/abc"><span class="author-name">甲</span></a><span class="like-count">3.4万</span><span class="time">2天前</span></li>
</ul>
<script id="RENDER_DATA" type="application/json">` + render + `</script>
</body></html>`)

	var got []model.ContentItem
	sink := harvest.SinkFunc(func(_ context.Context, r harvest.Record) (bool, error) {
		got = append(got, *r.Item)
		return true, nil
	})
	l := fastLoop(p, &harvest.VideoSearchExtractor{Card: preset.Card}, sink)
	l.Stagnation = 1
	if _, err := l.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	// 第一步 DOM 层有新增，不再尝试内联 JSON；第二步 DOM 无新增才退到 RENDER_DATA
	if len(got) != 2 || got[1].SourceID != awemeID(9) {
		t.Fatalf("tier order: %+v", got)
	}
	c := got[0]
	if c.SourceID != awemeID(1) || c.Title != "卡片一" || c.LikeCount != 34000 || c.AuthorURL != "https://www.douyin.com/user/abc" {
		t.Fatalf("dom card: %+v", c)
	}

	// 没有卡片与锚点时退到 RENDER_DATA
	p.SetHTML(`<html><body><script id="RENDER_DATA">` + render + `</script></body></html>`)
	got = nil
	l = fastLoop(p, &harvest.VideoSearchExtractor{Card: preset.Card}, sink)
	l.Stagnation = 1
	_, _ = l.Run(context.Background(), "")
	if len(got) != 1 || got[0].SourceID != awemeID(9) || got[0].LikeCount != 12000 || got[0].PublishTS != 1700000000 {
		t.Fatalf("embedded tier: %+v", got)
	}
}

func TestResponseBuffer(t *testing.T) {
	b := harvest.NewResponseBuffer(2)
	b.SetCurrent("a")
	for i := 0; i < 3; i++ {
		b.Append(browser.Response{URL: fmt.Sprint(i), Body: []byte("{}")})
	}
	b.Append(browser.Response{URL: "empty"})
	b.SetCurrent("b")
	b.Append(browser.Response{URL: "x", Body: []byte("{}")})
	if b.Len("a") != 2 || b.Len("b") != 1 {
		t.Fatalf("len a=%d b=%d", b.Len("a"), b.Len("b"))
	}
	got := b.Drain("a")
	if got[0].URL != "1" || b.Len("a") != 0 {
		t.Fatalf("drain keeps newest: %+v", got)
	}
}
