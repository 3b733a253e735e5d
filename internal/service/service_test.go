package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"douyin-harvester/internal/action"
	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/browser/browsertest"
	"douyin-harvester/internal/config"
	"douyin-harvester/internal/events"
	"douyin-harvester/internal/export"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/probe"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/service"
	"douyin-harvester/internal/store"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Browser.OpTimeoutMS = 5
	cfg.Behavior.ScrollDelayMinMS, cfg.Behavior.ScrollDelayMaxMS = 1, 1
	cfg.Message.ReadyTimeoutMS = 20
	return cfg
}

func fastProbe(p browser.Page) *probe.Prober {
	pr := probe.New(p)
	pr.Interval, pr.Jitter, pr.Poll, pr.Step = time.Millisecond, 0, time.Millisecond, time.Millisecond
	return pr
}

func newRunner(t *testing.T, p *browsertest.Page, st service.Store) (*service.Runner, *browsertest.Driver) {
	t.Helper()
	drv := &browsertest.Driver{Page: p}
	prof, _ := rules.Builtin().GetPreset("douyin")
	r := &service.Runner{
		Cfg:     testConfig(),
		Rules:   rules.Builtin(),
		Session: browser.NewSession(browser.Options{}, drv),
		Store:   st,
		Bus:     events.NewBus(),
		Sleep:   func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Probe:   fastProbe,
		Actions: func(p browser.Page) *action.Engine {
			return &action.Engine{
				Page:       p,
				Profile:    prof.Profile,
				PollEvery:  time.Millisecond,
				DialogWait: 5 * time.Millisecond,
				SendCheck:  time.Millisecond,
			}
		},
	}
	return r, drv
}

func TestRegistry_BusyAndUnknown(t *testing.T) {
	r, _ := newRunner(t, browsertest.NewPage(), service.NewMemorySink())
	reg := service.NewRegistry(r)
	release := make(chan struct{})
	reg.Register("block", func(ctx context.Context, _ *service.Runner, _ service.Params) (service.Report, error) {
		<-release
		return service.Report{Processed: 1}, nil
	})
	ctx := context.Background()

	id, err := reg.Start(ctx, "block", service.Params{})
	if err != nil || id == "" {
		t.Fatalf("start: %q %v", id, err)
	}
	if st := reg.Status(); !st.Running || st.Service != "block" || st.RunID != id {
		t.Fatalf("status while running: %+v", st)
	}
	if _, err := reg.Run(ctx, "search", service.Params{}); !errors.Is(err, service.ErrBusy) {
		t.Fatalf("second run: %v", err)
	}
	close(release)
	if err := reg.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	st := reg.Status()
	if st.Running || st.Last == nil || st.Last.Processed != 1 {
		t.Fatalf("status after run: %+v", st)
	}
	want := []string{"block", "comments", "enrich", "like", "message", "search"}
	if !reflect.DeepEqual(st.Services, want) {
		t.Fatalf("services: %v", st.Services)
	}
	if _, err := reg.Run(ctx, "nope", service.Params{}); !errors.Is(err, service.ErrUnknown) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestRegistry_StopFlagAndPanic(t *testing.T) {
	sink := service.NewMemorySink()
	r, _ := newRunner(t, browsertest.NewPage(), sink)
	reg := service.NewRegistry(r)
	var loops atomic.Int32
	reg.Register("loop", func(ctx context.Context, r *service.Runner, _ service.Params) (service.Report, error) {
		var rep service.Report
		for !r.Stopped() {
			loops.Add(1)
			rep.Processed++
			time.Sleep(time.Millisecond)
		}
		return rep, nil
	})
	reg.Register("boom", func(context.Context, *service.Runner, service.Params) (service.Report, error) {
		panic("kaput")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := reg.Start(ctx, "loop", service.Params{}); err != nil {
		t.Fatal(err)
	}
	for loops.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	reg.Stop()
	if err := reg.Wait(ctx); err != nil {
		t.Fatalf("loop did not stop: %v", err)
	}
	// 新一轮运行会重置停止标志
	if _, err := reg.Run(ctx, "boom", service.Params{}); err == nil || !strings.Contains(err.Error(), "kaput") {
		t.Fatalf("panic not reported: %v", err)
	}
	if r.Stopped() {
		t.Fatal("stop flag should reset on acquire")
	}
	tasks := sink.Tasks()
	if len(tasks) != 2 || tasks[0].Service != "boom" || tasks[0].Status != "error" || tasks[1].Status != "finished" {
		t.Fatalf("task logs: %+v", tasks)
	}
}

func TestInputErrors_BeforeBrowser(t *testing.T) {
	r, drv := newRunner(t, browsertest.NewPage(), service.NewMemorySink())
	reg := service.NewRegistry(r)
	ctx := context.Background()

	if _, err := reg.Run(ctx, "search", service.Params{Keywords: []string{" ", ""}}); !errors.Is(err, service.ErrEmptyKeywords) {
		t.Fatalf("search: %v", err)
	}
	if _, err := reg.Run(ctx, "comments", service.Params{}); !errors.Is(err, service.ErrEmptyKeywords) {
		t.Fatalf("comments: %v", err)
	}
	_, err := reg.Run(ctx, "comments", service.Params{Keywords: []string{"多少钱"}, URLs: []string{"https://example.com/x"}})
	if !errors.Is(err, service.ErrInvalidURL) {
		t.Fatalf("comments url: %v", err)
	}
	r.Cfg.Message.Texts = []string{"你好"}
	if _, err := reg.Run(ctx, "message", service.Params{URLs: []string{"https://www.douyin.com/video/1"}}); !errors.Is(err, service.ErrInvalidURL) {
		t.Fatalf("message url: %v", err)
	}
	r.Cfg.Message.Texts = nil
	if _, err := reg.Run(ctx, "message", service.Params{}); !errors.Is(err, service.ErrEmptyTexts) {
		t.Fatalf("message texts: %v", err)
	}
	if drv.Launches() != 0 {
		t.Fatalf("browser launched %d times", drv.Launches())
	}
}

func searchBody(t *testing.T, ids ...int) []byte {
	t.Helper()
	var data []map[string]any
	for _, n := range ids {
		data = append(data, map[string]any{
			"type": 1,
			"aweme_info": map[string]any{
				"aweme_id":    fmt.Sprintf("73000000000000%05d", n),
				"desc":        fmt.Sprintf("装修 %d", n),
				"create_time": time.Now().Unix() - int64(n),
				"author":      map[string]any{"nickname": "作者", "sec_uid": fmt.Sprintf("MS4w%d", n)},
				"statistics":  map[string]any{"digg_count": 10 * n},
			},
		})
	}
	b, err := json.Marshal(map[string]any{"status_code": 0, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSearch_PersistsAndEmits(t *testing.T) {
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := browsertest.NewPage()
	p.SetMetrics(func(m *browser.Metrics) { m.DocHeight = 1e7 })
	var forward atomic.Int32
	p.OnWheel = func(p *browsertest.Page, dy float64) {
		if dy <= 0 || forward.Add(1) > 1 {
			return
		}
		p.Emit(browser.Response{
			URL:    "https://www.douyin.com/aweme/v1/web/general/search/single/?keyword=x",
			Type:   "fetch",
			Status: 200,
			Body:   searchBody(t, 1, 2, 3, 4),
		})
	}
	r, _ := newRunner(t, p, s)
	sub := r.Bus.Subscribe(16)
	defer sub.Close()
	ctx := context.Background()

	rep, err := service.NewRegistry(r).Run(ctx, "search", service.Params{Keywords: []string{"装修"}, Target: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 1 || rep.Succeeded != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if got := p.Navigations(); len(got) != 1 || got[0] != r.Cfg.Douyin.SearchURL("装修") {
		t.Fatalf("navigations: %v", got)
	}
	videos, err := s.QueryRecentVideos(ctx, 0, store.SortTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) < 3 {
		t.Fatalf("persisted %d videos", len(videos))
	}
	for _, v := range videos {
		if v.Keyword != "装修" || !strings.HasPrefix(v.CanonicalURL, "https://www.douyin.com/video/") {
			t.Fatalf("video: %+v", v)
		}
	}

	var types []events.Type
	for len(sub.C) > 0 {
		types = append(types, (<-sub.C).Type)
	}
	if len(types) < 2 || types[0] != events.Started || types[len(types)-1] != events.Finished {
		t.Fatalf("events: %v", types)
	}
	logs, err := s.ListTaskLogs(ctx, 5)
	if err != nil || len(logs) != 1 || logs[0].Service != "search" || logs[0].Status != "finished" {
		t.Fatalf("task logs: %+v %v", logs, err)
	}
}

// profilePage 模拟用户主页：已关注、私信按钮点击后出现输入框、回车后出现新气泡。
// 链接含 /user/BAD 的主页永远不就绪。
func profilePage() *browsertest.Page {
	p := browsertest.NewPage()
	follow := browsertest.NewElement("已关注", browser.Rect{X: 600, Y: 100, Width: 96, Height: 36})
	msg := browsertest.NewElement("私信", browser.Rect{X: 720, Y: 100, Width: 80, Height: 36})
	p.OnNavigate = func(p *browsertest.Page, url string) {
		if strings.Contains(url, "/user/BAD") {
			p.Set(`[data-e2e="follow-btn"]`)
			p.Set(`[data-e2e="message-btn"]`)
			return
		}
		p.Set(`[data-e2e="follow-btn"]`, follow)
		p.Set(`[data-e2e="message-btn"]`, msg)
	}
	p.OnClick = func(p *browsertest.Page, at browser.Point) {
		input := browsertest.NewElement("", browser.Rect{X: 400, Y: 600, Width: 300, Height: 40})
		p.Set(`textarea`, input)
		p.Set(`[class*="im-dialog"]`, browsertest.NewElement("", browser.Rect{X: 300, Y: 200, Width: 500, Height: 500}))
		p.OnType = func(_ *browsertest.Page, text string) { input.SetValue(text) }
	}
	p.OnPress = func(p *browsertest.Page, key string) {
		if key == "Enter" {
			p.Append(`[class*="message-item"]`, browsertest.NewElement("hi", browser.Rect{X: 320, Y: 260, Width: 100, Height: 30}))
		}
	}
	return p
}

func TestMessage_PerTargetFailureContinues(t *testing.T) {
	sink := service.NewMemorySink()
	ctx := context.Background()
	for _, u := range []model.CommentAuthor{
		{Username: "甲", UserURL: "https://www.douyin.com/user/A1"},
		{Username: "无链接"},
		{Username: "乙", UserURL: "https://www.douyin.com/user/BAD"},
		{Username: "丙", UserURL: "https://www.douyin.com/user/C3"},
	} {
		if _, err := sink.InsertCommentAuthor(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	p := profilePage()
	r, _ := newRunner(t, p, sink)
	r.Cfg.Message.Texts = []string{"你好，方便聊聊吗"}

	rep, err := service.NewRegistry(r).Run(ctx, "message", service.Params{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 3 || rep.Succeeded != 2 || rep.Failed != 1 {
		t.Fatalf("report: %+v", rep)
	}
	pending, _ := sink.QueryPending(ctx, 0)
	var names []string
	for _, u := range pending {
		names = append(names, u.Username)
	}
	if !reflect.DeepEqual(names, []string{"无链接", "乙"}) {
		t.Fatalf("still pending: %v", names)
	}
	// 未就绪的主页先轻滚 200 再重试
	found := false
	for _, dy := range p.Wheels() {
		if dy == 200 {
			found = true
		}
	}
	if !found {
		t.Fatalf("wheels: %v", p.Wheels())
	}
	if got := p.Typed(); len(got) != 2 || got[0] != "你好，方便聊聊吗" {
		t.Fatalf("typed: %v", got)
	}
	// 再跑一次：已发送的用户不会重复发送
	rep, err = service.NewRegistry(r).Run(ctx, "message", service.Params{})
	if err != nil || rep.Succeeded != 0 || rep.Processed != 1 {
		t.Fatalf("second run: %+v %v", rep, err)
	}
}

func TestLike_PressesShortcuts(t *testing.T) {
	p := browsertest.NewPage()
	r, _ := newRunner(t, p, service.NewMemorySink())
	r.Cfg.Like.LikeProb = 1

	rep, err := service.NewRegistry(r).Run(context.Background(), "like", service.Params{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 3 || rep.Succeeded != 3 {
		t.Fatalf("report: %+v", rep)
	}
	if got := p.Navigations(); len(got) != 1 || got[0] != r.Cfg.Douyin.RecommendURL {
		t.Fatalf("navigations: %v", got)
	}
	want := []string{"z", "ArrowDown", "z", "ArrowDown", "z", "ArrowDown"}
	if got := p.Presses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("presses: %v", got)
	}
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	b := service.NewMemorySink()
	u := model.CommentAuthor{Username: "小李", UserURL: "https://www.douyin.com/user/MS4wB", CommentText: "多少钱一平"}
	if ok, _ := b.InsertCommentAuthor(ctx, u); !ok {
		t.Fatal("first insert")
	}
	other := model.CommentAuthor{Username: "阿明", UserURL: "https://www.douyin.com/user/MS4wA", CommentText: "在哪买的"}
	if ok, _ := b.InsertCommentAuthor(ctx, other); !ok {
		t.Fatal("second user")
	}
	newer := u
	newer.CommentText = "还有货吗"
	if ok, _ := b.InsertCommentAuthor(ctx, newer); !ok {
		t.Fatal("newer comment from the same user should replace the old one")
	}
	if _, err := b.InsertCommentAuthor(ctx, model.CommentAuthor{}); err == nil {
		t.Fatal("empty username accepted")
	}
	if ok, _ := b.MarkSent(ctx, u.UserURL); !ok {
		t.Fatal("pending -> sent")
	}
	if ok, _ := b.MarkSent(ctx, u.UserURL); ok {
		t.Fatal("sent twice")
	}

	v := model.ContentItem{CanonicalURL: "https://www.douyin.com/video/7300000000000000001", Title: "装修"}
	if _, err := b.UpsertContentItem(ctx, v, false); err != nil {
		t.Fatal(err)
	}
	need, _ := b.QueryVideosNeedingDetail(ctx, 0)
	if len(need) != 1 {
		t.Fatalf("needing detail: %v", need)
	}
	v.AuthorName, v.LikeCount, v.PublishTS, v.Title = "作者", 12, 1700000000, ""
	if ok, _ := b.UpsertContentItem(ctx, v, true); !ok {
		t.Fatal("enrich should change the item")
	}
	need, _ = b.QueryVideosNeedingDetail(ctx, 0)
	videos, users := b.Snapshot()
	if len(need) != 0 || len(videos) != 1 || videos[0].Title != "装修" || videos[0].AuthorName != "作者" {
		t.Fatalf("merged: %+v need=%d", videos, len(need))
	}
	byName := map[string]model.CommentAuthor{}
	for _, x := range users {
		byName[x.Username] = x
	}
	li := byName["小李"]
	if len(users) != 2 || li.CommentText != "还有货吗" || li.MessageStatus != model.StatusSent || li.LastMessageAt == nil {
		t.Fatalf("users: %+v", users)
	}
	// 已发送用户再次出现时不回到待发送
	newer.CommentText = "？"
	_, _ = b.InsertCommentAuthor(ctx, newer)
	if pending, _ := b.QueryPending(ctx, 0); len(pending) != 1 || pending[0].Username != "阿明" {
		t.Fatalf("pending: %+v", pending)
	}

	path := filepath.Join(t.TempDir(), "data.json")
	if err := export.ToJSONData(videos, users, path); err != nil {
		t.Fatal(err)
	}
}
