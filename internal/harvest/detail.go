package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ysmood/gson"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/probe"
	"douyin-harvester/internal/reconcile"
	"douyin-harvester/internal/rules"
)

// ItemStore 为补全所需的写入能力，由 *store.SQLite 实现。
type ItemStore interface {
	UpsertContentItem(ctx context.Context, v model.ContentItem, enrich bool) (bool, error)
}

// DetailEnricher 打开视频详情页，按 接口 → 启动 JSON → DOM 的顺序补全作者、计数与发布时间。
type DetailEnricher struct {
	Page   browser.Page
	Prober *probe.Prober
	Video  *rules.Video
	Store  ItemStore
	// Wait 为播放器出现的等待上限，默认 8s
	Wait time.Duration
	Now  func() time.Time
	Log  *slog.Logger
}

func (e *DetailEnricher) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Enrich 补全一条视频并写回存储；返回合并后的记录以及是否有新字段。
func (e *DetailEnricher) Enrich(ctx context.Context, v model.ContentItem) (model.ContentItem, bool, error) {
	id := normalize.VideoID(v.CanonicalURL)
	if id == "" {
		id = normalize.VideoID(v.SourceID)
	}
	if id == "" {
		return v, false, fmt.Errorf("enrich %q: no video id", v.CanonicalURL)
	}
	if e.Prober == nil {
		e.Prober = probe.New(e.Page)
	}
	if e.Log == nil {
		e.Log = logx.For("enrich")
	}
	wait := e.Wait
	if wait <= 0 {
		wait = 8 * time.Second
	}
	link := normalize.CanonicalVideoURL(id)

	var bodies [][]byte
	buf := NewResponseBuffer(20)
	buf.SetCurrent(link)
	detach := e.Page.OnResponse(ctx, func(url, rt string) bool {
		return isXHR(rt) && containsAny(url, "/aweme/v1/web/aweme/detail")
	}, buf.Append)
	defer detach()

	if err := e.Page.Navigate(ctx, link); err != nil {
		return v, false, fmt.Errorf("navigate %s: %w", link, err)
	}
	var players []string
	if e.Video != nil {
		players = e.Video.Player
	}
	if !e.Prober.WaitForKeyElements(ctx, players, wait) {
		e.Log.Debug("播放器未出现，尝试直接解析", "url", link)
	}
	for _, r := range buf.Drain(link) {
		bodies = append(bodies, r.Body)
	}

	now := e.now()
	upd := model.ContentItem{SourceID: id, CanonicalURL: link}
	for _, b := range bodies {
		if it := awemeItem(gson.NewFrom(string(b)).Get("aweme_detail"), now); it != nil {
			upd = reconcile.Overlay(upd, *it)
			break
		}
	}
	in := &Input{PageURL: link, Page: e.Page}
	if doc := in.Document(ctx); doc != nil {
		if data := dom.RenderData(doc); data != "" {
			if d, ok := dom.FindDetail(gson.NewFrom(data), id); ok {
				applyDetail(&upd, d, now)
			}
		}
		if e.Video != nil {
			fillFromDOM(&upd, doc, e.Video, now)
		}
	}
	merged := reconcile.Overlay(v, upd)
	merged.ID, merged.CollectedAt = v.ID, v.CollectedAt
	changed := merged != v
	if !changed {
		return merged, false, nil
	}
	if e.Store != nil {
		if _, err := e.Store.UpsertContentItem(ctx, upd, true); err != nil {
			return merged, true, fmt.Errorf("save detail %s: %w", link, err)
		}
	}
	return merged, true, nil
}

func fillFromDOM(it *model.ContentItem, doc *dom.Document, r *rules.Video, now time.Time) {
	if it.Title == "" {
		it.Title = dom.Text(doc, r.Desc)
	}
	if it.AuthorName == "" {
		it.AuthorName = dom.Text(doc, r.Author)
	}
	if it.LikeCount == 0 {
		it.LikeCount = normalize.ParseMagnitude(dom.Text(doc, r.Like))
	}
	if it.CommentCount == 0 {
		it.CommentCount = normalize.ParseMagnitude(dom.Text(doc, r.Comment))
	}
	if it.CollectCount == 0 {
		it.CollectCount = normalize.ParseMagnitude(dom.Text(doc, r.Collect))
	}
	if it.PublishTS == 0 {
		t := dom.Text(doc, r.Time)
		if ts := normalize.ParseRelativeTime(t, now); ts > 0 {
			it.PublishTS = ts
			it.PublishTimeText = normalize.RelativeTimeToken(t)
		}
	}
}
