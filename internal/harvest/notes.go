package harvest

import (
	"context"
	"time"

	"github.com/ysmood/gson"

	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/rules"
)

const xhsProfileBase = "https://www.xiaohongshu.com/user/profile/"

// NoteSearchExtractor 抽取小红书搜索结果中的笔记。
type NoteSearchExtractor struct {
	Keyword string
	Card    *rules.Card
	Now     func() time.Time
}

func (e *NoteSearchExtractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *NoteSearchExtractor) Match(url, resourceType string) bool {
	return isXHR(resourceType) && containsAny(url, "/api/sns/web/v1/search/notes")
}

func (e *NoteSearchExtractor) Selectors() []string {
	if e.Card == nil {
		return nil
	}
	return splitAlt(e.Card.Item)
}

func (e *NoteSearchExtractor) Tiers() []Tier { return []Tier{e.fromAPI, e.fromDOM} }

func (e *NoteSearchExtractor) Reconcile(frags []model.Fragment) []Record { return ItemRecords(frags) }

func (e *NoteSearchExtractor) fromAPI(_ context.Context, in *Input) []model.Fragment {
	now := e.now()
	var out []model.Fragment
	for _, r := range in.Responses {
		for _, n := range payloadList(gson.NewFrom(string(r.Body)), "data.items", "items") {
			id := dom.PickStr(n, "id", "note_id")
			link := normalize.CanonicalNoteURL("/explore/" + id)
			if link == "" {
				continue
			}
			card := dom.Pick(n, "note_card", "noteCard")
			var author string
			if uid := dom.PickStr(card, "user.user_id", "user.userId"); uid != "" {
				author = xhsProfileBase + uid
			}
			out = append(out, model.Fragment{Source: model.SourceAPI, Item: &model.ContentItem{
				SourceID:     id,
				CanonicalURL: link,
				Title:        dom.PickStr(card, "display_title", "displayTitle", "title"),
				AuthorName:   dom.PickStr(card, "user.nickname", "user.nick_name"),
				AuthorURL:    author,
				LikeCount:    dom.PickCount(card, "interact_info.liked_count", "interactInfo.likedCount"),
				Keyword:      e.Keyword,
				CollectedAt:  now,
			}})
		}
	}
	return out
}

func (e *NoteSearchExtractor) fromDOM(ctx context.Context, in *Input) []model.Fragment {
	doc := in.Document(ctx)
	if doc == nil {
		return nil
	}
	now := e.now()
	var out []model.Fragment
	for _, c := range dom.Cards(doc, in.PageURL, e.Card) {
		id := normalize.NoteID(c.Link)
		if id == "" {
			continue
		}
		out = append(out, model.Fragment{Source: model.SourceDOM, Item: &model.ContentItem{
			SourceID:        id,
			CanonicalURL:    normalize.CanonicalNoteURL(c.Link),
			Title:           c.Title,
			AuthorName:      c.Author,
			AuthorURL:       c.AuthorLink,
			LikeCount:       normalize.ParseMagnitude(c.LikeText),
			Keyword:         e.Keyword,
			PublishTimeText: c.TimeText,
			PublishTS:       normalize.ParseRelativeTime(c.TimeText, now),
			CollectedAt:     now,
		}})
	}
	return out
}

var _ Extractor = (*NoteSearchExtractor)(nil)
