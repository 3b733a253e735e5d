package harvest

import (
	"context"
	"strings"
	"time"

	"github.com/ysmood/gson"

	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/rules"
)

// 搜索接口路径片段。
var videoSearchAPIs = []string{
	"/aweme/v1/web/search/item",
	"/aweme/v1/web/general/search",
	"/aweme/v1/web/search/single",
	"/aweme/v1/web/search/stream",
}

// VideoSearchExtractor 抽取抖音搜索结果中的视频。
type VideoSearchExtractor struct {
	Keyword string
	Card    *rules.Card
	Now     func() time.Time
}

func (e *VideoSearchExtractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *VideoSearchExtractor) Match(url, resourceType string) bool {
	return isXHR(resourceType) && containsAny(url, videoSearchAPIs...)
}

func (e *VideoSearchExtractor) Selectors() []string {
	if e.Card == nil {
		return nil
	}
	return splitAlt(e.Card.Item)
}

func (e *VideoSearchExtractor) Tiers() []Tier {
	return []Tier{e.fromAPI, e.fromDOM, e.fromEmbedded}
}

func (e *VideoSearchExtractor) Reconcile(frags []model.Fragment) []Record { return ItemRecords(frags) }

func (e *VideoSearchExtractor) fromAPI(_ context.Context, in *Input) []model.Fragment {
	now := e.now()
	var out []model.Fragment
	for _, r := range in.Responses {
		for _, entry := range payloadList(gson.NewFrom(string(r.Body)), "data", "aweme_list", "mix_list", "list", "data.data") {
			aweme := dom.Pick(entry, "aweme_info", "aweme", "aweme_raw")
			if aweme.Nil() {
				aweme = entry
			}
			if it := awemeItem(aweme, now); it != nil {
				it.Keyword = e.Keyword
				out = append(out, model.Fragment{Source: model.SourceAPI, Item: it})
			}
		}
	}
	return out
}

func (e *VideoSearchExtractor) fromDOM(ctx context.Context, in *Input) []model.Fragment {
	doc := in.Document(ctx)
	if doc == nil {
		return nil
	}
	now := e.now()
	var out []model.Fragment
	for _, c := range dom.Cards(doc, in.PageURL, e.Card) {
		id := normalize.VideoID(c.Link)
		if id == "" {
			continue
		}
		out = append(out, model.Fragment{Source: model.SourceDOM, Item: &model.ContentItem{
			SourceID:        id,
			CanonicalURL:    normalize.CanonicalVideoURL(id),
			Title:           c.Title,
			AuthorName:      c.Author,
			AuthorURL:       normalize.CanonicalUserURL(c.AuthorLink),
			LikeCount:       normalize.ParseMagnitude(c.LikeText),
			Keyword:         e.Keyword,
			PublishTimeText: normalize.RelativeTimeToken(c.TimeText),
			PublishTS:       normalize.ParseRelativeTime(c.TimeText, now),
			CollectedAt:     now,
		}})
	}
	// 卡片规则失配时退化为锚点与 data-* 扫描
	for _, id := range dom.VideoIDs(doc) {
		out = append(out, idFragment(id, model.SourceDOM, e.Keyword, now))
	}
	return out
}

func (e *VideoSearchExtractor) fromEmbedded(ctx context.Context, in *Input) []model.Fragment {
	doc := in.Document(ctx)
	if doc == nil {
		return nil
	}
	data := dom.RenderData(doc)
	if data == "" {
		return nil
	}
	now := e.now()
	root := gson.NewFrom(data)
	var out []model.Fragment
	for _, id := range dom.RenderAwemeIDs(data) {
		f := idFragment(id, model.SourceEmbedded, e.Keyword, now)
		if d, ok := dom.FindDetail(root, id); ok {
			applyDetail(f.Item, d, now)
		}
		out = append(out, f)
	}
	return out
}

// awemeItem 解析接口中的作品节点；没有 ID 时返回 nil。
func awemeItem(a gson.JSON, now time.Time) *model.ContentItem {
	id := dom.PickStr(a, "aweme_id", "awemeId", "group_id")
	if normalize.VideoID(id) == "" {
		return nil
	}
	created := dom.Epoch(dom.Pick(a, "create_time", "createTime"))
	return &model.ContentItem{
		SourceID:        id,
		CanonicalURL:    normalize.CanonicalVideoURL(id),
		Title:           dom.PickStr(a, "desc", "title", "preview_title"),
		AuthorName:      dom.PickStr(a, "author.nickname", "authorInfo.nickname"),
		AuthorURL:       normalize.UserURL(dom.PickStr(a, "author.sec_uid", "authorInfo.secUid")),
		LikeCount:       dom.PickCount(a, "statistics.digg_count", "stats.diggCount"),
		CommentCount:    dom.PickCount(a, "statistics.comment_count", "stats.commentCount"),
		CollectCount:    dom.PickCount(a, "statistics.collect_count", "stats.collectCount"),
		ViewCount:       dom.PickCount(a, "statistics.play_count", "stats.playCount"),
		PublishTS:       created,
		PublishTimeText: normalize.FormatTimeAgo(created, now),
		CollectedAt:     now,
	}
}

func idFragment(id string, src model.Source, keyword string, now time.Time) model.Fragment {
	return model.Fragment{Source: src, Item: &model.ContentItem{
		SourceID:     id,
		CanonicalURL: normalize.CanonicalVideoURL(id),
		Keyword:      keyword,
		CollectedAt:  now,
	}}
}

func applyDetail(it *model.ContentItem, d dom.Detail, now time.Time) {
	if it.Title == "" {
		it.Title = d.Desc
	}
	if it.AuthorName == "" {
		it.AuthorName = d.Author
	}
	if it.AuthorURL == "" {
		it.AuthorURL = normalize.UserURL(d.AuthorSecUID)
	}
	if it.LikeCount == 0 {
		it.LikeCount = d.LikeCount
	}
	if it.CommentCount == 0 {
		it.CommentCount = d.CommentCount
	}
	if it.CollectCount == 0 {
		it.CollectCount = d.CollectCount
	}
	if it.PublishTS == 0 && d.CreateTime > 0 {
		it.PublishTS = d.CreateTime
		it.PublishTimeText = normalize.FormatTimeAgo(d.CreateTime, now)
	}
}

// payloadList 依次尝试路径，返回第一个非空数组。
func payloadList(root gson.JSON, paths ...string) []gson.JSON {
	for _, p := range paths {
		if _, ok := root.Get(p).Val().([]interface{}); ok {
			if arr := root.Get(p).Arr(); len(arr) > 0 {
				return arr
			}
		}
	}
	return nil
}

func isXHR(resourceType string) bool {
	return resourceType == "xhr" || resourceType == "fetch"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ Extractor = (*VideoSearchExtractor)(nil)
