// 包 dom 负责页面 HTML 快照解析（goquery）：
// - 依据 rules.yaml 预设的选择器表达式取文本或属性
// - 支持 "选择器@属性" 以及 "||" 多方案回退与相对 URL 绝对化
// - 解析搜索卡片、评论条目、视频锚点与内联的 RENDER_DATA
package dom

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/rules"
)

// Document 为已解析的 HTML 快照。
type Document = goquery.Document

// Parse 将 HTML 快照解析为文档。
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Value 解析表达式并支持使用 "||" 作为回退分隔，例如："a@href||@href" 或 ".name||.nick||."。
func Value(scope *goquery.Selection, expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	for _, p := range strings.Split(expr, "||") {
		if v := valueSingle(scope, strings.TrimSpace(p)); v != "" {
			return v
		}
	}
	return ""
}

// valueSingle 解析单个表达式：文本或属性读取。
func valueSingle(scope *goquery.Selection, expr string) string {
	switch {
	case expr == "":
		return ""
	case expr == ".":
		return collapse(scope.Text())
	}
	if at := strings.LastIndex(expr, "@"); at != -1 {
		sel := strings.TrimSpace(expr[:at])
		attr := strings.TrimSpace(expr[at+1:])
		target := scope
		if sel != "" {
			target = scope.Find(sel).First()
		}
		val, _ := target.Attr(attr)
		return strings.TrimSpace(val)
	}
	return collapse(scope.Find(expr).First().Text())
}

// Items 返回 "||" 候选中第一个有命中的选择器所匹配的全部条目。
func Items(doc *goquery.Document, expr string) *goquery.Selection {
	for _, p := range strings.Split(expr, "||") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if s := doc.Find(p); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("__none__")
}

var wsRe = regexp.MustCompile(`\s+`)

func collapse(s string) string { return strings.TrimSpace(wsRe.ReplaceAllString(s, " ")) }

// Card 为搜索结果卡片的原始字段。
type Card struct {
	Link       string
	Title      string
	Author     string
	AuthorLink string
	LikeText   string
	TimeText   string
}

// Cards 按卡片规则抽取；链接与作者链接均绝对化，无链接的卡片丢弃。
func Cards(doc *goquery.Document, pageURL string, r *rules.Card) []Card {
	if r == nil {
		return nil
	}
	var out []Card
	Items(doc, r.Item).Each(func(_ int, s *goquery.Selection) {
		link := normalize.AbsURL(pageURL, Value(s, r.Link))
		if link == "" {
			return
		}
		out = append(out, Card{
			Link:       link,
			Title:      Value(s, r.Title),
			Author:     Value(s, r.Author),
			AuthorLink: normalize.AbsURL(pageURL, Value(s, r.AuthorLink)),
			LikeText:   Value(s, r.Like),
			TimeText:   Value(s, r.Time),
		})
	})
	return out
}

// Comment 为评论条目的原始字段；Raw 为整条文本，待 SplitCommentFields 拆分。
type Comment struct {
	Username string
	UserURL  string
	Raw      string
	TimeText string
	IPHint   string
}

// Comments 按评论规则抽取，用户名为空的条目丢弃。
func Comments(doc *goquery.Document, pageURL string, r *rules.Comment) []Comment {
	if r == nil {
		return nil
	}
	var out []Comment
	Items(doc, r.Item).Each(func(_ int, s *goquery.Selection) {
		name := Value(s, r.UserName)
		if name == "" {
			return
		}
		text := r.Text
		if text == "" {
			text = "."
		}
		out = append(out, Comment{
			Username: name,
			UserURL:  normalize.CanonicalUserURL(normalize.AbsURL(pageURL, Value(s, r.UserLink))),
			Raw:      Value(s, text),
			TimeText: Value(s, r.Time),
			IPHint:   Value(s, r.IP),
		})
	})
	return out
}

var dataIDRe = regexp.MustCompile(`\b\d{16,21}\b`)

// VideoIDs 扫描视频锚点与 data-* 属性中的作品 ID，按出现顺序去重。
func VideoIDs(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	doc.Find(`a[href*="/video/"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(normalize.VideoID(href))
	})
	doc.Find(`[data-aweme-id], [data-id], [data-e2e-vid]`).Each(func(_ int, s *goquery.Selection) {
		for _, a := range []string{"data-aweme-id", "data-id", "data-e2e-vid"} {
			if v, ok := s.Attr(a); ok {
				add(dataIDRe.FindString(v))
			}
		}
	})
	return out
}

// Text 按表达式读取整页文档中的值。
func Text(doc *goquery.Document, expr string) string {
	return Value(doc.Selection, expr)
}
