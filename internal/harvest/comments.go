package harvest

import (
	"context"
	"sync"
	"time"

	"github.com/ysmood/gson"

	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/reconcile"
	"douyin-harvester/internal/rules"
)

var commentAPIs = []string{
	"/aweme/v1/web/comment/list",
	"/aweme/v1/web/comment/list/reply",
}

// CommentExtractor 抽取视频页评论区。VideoURL/VideoDesc 会写入每条评论。
type CommentExtractor struct {
	VideoURL  string
	VideoDesc string
	Rule      *rules.Comment
	Now       func() time.Time

	mu   sync.Mutex
	kept map[string][]model.CommentAuthor // 按页面 URL 缓存已产出的评论
}

func (e *CommentExtractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *CommentExtractor) Match(url, resourceType string) bool {
	return isXHR(resourceType) && containsAny(url, commentAPIs...)
}

func (e *CommentExtractor) Selectors() []string {
	if e.Rule == nil {
		return nil
	}
	return splitAlt(e.Rule.Item)
}

func (e *CommentExtractor) Tiers() []Tier { return []Tier{e.fromAPI, e.fromDOM} }

func (e *CommentExtractor) Reconcile(frags []model.Fragment) []Record { return CommentRecords(frags) }

func (e *CommentExtractor) fromAPI(_ context.Context, in *Input) []model.Fragment {
	now := e.now()
	var out []model.Fragment
	for _, r := range in.Responses {
		for _, c := range payloadList(gson.NewFrom(string(r.Body)), "comments", "data.comments", "data", "list") {
			name := dom.PickStr(c, "user.nickname", "user_info.nickname")
			text := dom.PickStr(c, "text", "content")
			if name == "" || text == "" {
				continue
			}
			ts := dom.Epoch(dom.Pick(c, "create_time", "createTime"))
			out = append(out, model.Fragment{Source: model.SourceAPI, Comment: &model.CommentAuthor{
				Username:        name,
				UserURL:         normalize.UserURL(dom.PickStr(c, "user.sec_uid", "user_info.sec_uid")),
				CommentText:     text,
				IPLocation:      normalize.ExtractIPLocation("", dom.PickStr(c, "ip_label", "ip_location")),
				VideoURL:        e.VideoURL,
				VideoDesc:       e.VideoDesc,
				CommentTimeText: normalize.FormatTimeAgo(ts, now),
				CommentTS:       ts,
				MessageStatus:   model.StatusPending,
				CollectedAt:     now,
			}})
		}
	}
	return out
}

func (e *CommentExtractor) fromDOM(ctx context.Context, in *Input) []model.Fragment {
	doc := in.Document(ctx)
	if doc == nil {
		return nil
	}
	now := e.now()
	var out []model.Fragment
	for _, c := range dom.Comments(doc, in.PageURL, e.Rule) {
		f := normalize.SplitCommentFields(c.Raw, c.Username, c.IPHint)
		if f.Text == "" {
			continue
		}
		tt := normalize.RelativeTimeToken(c.TimeText)
		if tt == "" {
			tt = f.TimeText
		}
		out = append(out, model.Fragment{Source: model.SourceDOM, Comment: &model.CommentAuthor{
			Username:        c.Username,
			UserURL:         c.UserURL,
			CommentText:     f.Text,
			IPLocation:      f.IP,
			VideoURL:        e.VideoURL,
			VideoDesc:       e.VideoDesc,
			CommentTimeText: tt,
			CommentTS:       normalize.ParseRelativeTime(tt, now),
			MessageStatus:   model.StatusPending,
			CollectedAt:     now,
		}})
	}
	return out
}

// Duplicate 判断 r 是否与该页已产出的评论为同一条（同用户且正文相似）。
// 接口与 DOM 对同一评论的文本常有细微差异（表情 alt 等），自然键无法覆盖。
func (e *CommentExtractor) Duplicate(pageURL string, r Record) bool {
	if r.Comment == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return reconcile.Contains(e.kept[pageURL], *r.Comment)
}

func (e *CommentExtractor) Remember(pageURL string, r Record) {
	if r.Comment == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.kept == nil {
		e.kept = make(map[string][]model.CommentAuthor)
	}
	e.kept[pageURL] = append(e.kept[pageURL], *r.Comment)
}

var (
	_ Extractor = (*CommentExtractor)(nil)
	_ Known     = (*CommentExtractor)(nil)
)
