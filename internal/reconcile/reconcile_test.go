package reconcile

import (
	"testing"

	"douyin-harvester/internal/model"
)

func item(src model.Source, id string, like uint64, title string) model.Fragment {
	return model.Fragment{Source: src, Item: &model.ContentItem{SourceID: id, LikeCount: like, Title: title}}
}

func TestItems_APIZeroFilledByDOM(t *testing.T) {
	out := Items([]model.Fragment{
		item(model.SourceAPI, "1", 0, "api title"),
		item(model.SourceDOM, "1", 500, "dom title"),
	}, nil)
	if len(out) != 1 {
		t.Fatalf("len=%d want 1", len(out))
	}
	if out[0].LikeCount != 500 {
		t.Fatalf("like=%d want 500", out[0].LikeCount)
	}
	if out[0].Title != "api title" {
		t.Fatalf("title=%q want api title", out[0].Title)
	}
}

func TestItems_APIWinsWhenNonEmpty(t *testing.T) {
	// DOM 片段先到达，仍以 api 为准
	out := Items([]model.Fragment{
		item(model.SourceDOM, "1", 999, ""),
		item(model.SourceAPI, "1", 500, ""),
		item(model.SourceEmbedded, "1", 1, "embedded"),
	}, nil)
	if len(out) != 1 || out[0].LikeCount != 500 {
		t.Fatalf("got %+v", out)
	}
	if out[0].Title != "embedded" {
		t.Fatalf("embedded should fill gap, got %q", out[0].Title)
	}
}

func TestItems_OrderAndKeyFromURL(t *testing.T) {
	frs := []model.Fragment{
		{Source: model.SourceDOM, Item: &model.ContentItem{CanonicalURL: "https://www.douyin.com/video/7300000000000000002"}},
		{Source: model.SourceDOM, Item: &model.ContentItem{CanonicalURL: "https://www.douyin.com/video/7300000000000000001"}},
		{Source: model.SourceAPI, Item: &model.ContentItem{SourceID: "7300000000000000002", LikeCount: 3}},
		{Source: model.SourceDOM, Item: &model.ContentItem{}},
	}
	out := Items(frs, nil)
	if len(out) != 2 {
		t.Fatalf("len=%d want 2", len(out))
	}
	if out[0].SourceID != "7300000000000000002" || out[0].LikeCount != 3 {
		t.Fatalf("first=%+v", out[0])
	}
	if out[1].SourceID != "7300000000000000001" {
		t.Fatalf("second=%+v", out[1])
	}
}

func TestOverlay(t *testing.T) {
	old := model.ContentItem{Title: "old", LikeCount: 10, AuthorName: "a"}
	upd := model.ContentItem{LikeCount: 20}
	got := Overlay(old, upd)
	if got.Title != "old" || got.LikeCount != 20 || got.AuthorName != "a" {
		t.Fatalf("got %+v", got)
	}
}

func TestSimilar(t *testing.T) {
	if !Similar("hello world again", "hello world") {
		t.Fatalf("expect similar")
	}
	if Similar("hello", "something else entirely longer") {
		t.Fatalf("expect not similar by length")
	}
	if Similar("", "x") {
		t.Fatalf("empty is never similar")
	}
	if Similar("abc def", "xyz uvw") {
		t.Fatalf("no shared token")
	}
}

func TestComments_MergeAPIAndDOM(t *testing.T) {
	frs := []model.Fragment{
		{Source: model.SourceAPI, Comment: &model.CommentAuthor{Username: "u1", CommentText: "多少钱 呀", IPLocation: "广东", UserURL: "https://www.douyin.com/user/api"}},
		{Source: model.SourceDOM, Comment: &model.CommentAuthor{Username: "u1", CommentText: "多少钱 呀！", IPLocation: "北京", UserURL: "https://www.douyin.com/user/dom"}},
		{Source: model.SourceDOM, Comment: &model.CommentAuthor{Username: "u2", CommentText: "路过"}},
		{Source: model.SourceDOM, Comment: &model.CommentAuthor{Username: "", CommentText: "无名"}},
	}
	out := Comments(frs)
	if len(out) != 2 {
		t.Fatalf("len=%d want 2: %+v", len(out), out)
	}
	c := out[0]
	if c.CommentText != "多少钱 呀" || c.IPLocation != "广东" {
		t.Fatalf("api should win on text/ip: %+v", c)
	}
	if c.UserURL != "https://www.douyin.com/user/dom" {
		t.Fatalf("dom user_url should win: %q", c.UserURL)
	}
	if out[1].Username != "u2" {
		t.Fatalf("dom-only comment appended: %+v", out[1])
	}
	if !Contains(out, model.CommentAuthor{Username: "u2", CommentText: "路过"}) {
		t.Fatalf("Contains should find u2")
	}
}

func TestSeen(t *testing.T) {
	s := NewSeen()
	if !s.Add("a") || s.Add("a") || s.Add("") {
		t.Fatalf("unexpected Add results")
	}
	if !s.Has("a") || s.Len() != 1 {
		t.Fatalf("Has/Len mismatch")
	}
}
