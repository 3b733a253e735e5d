// 包 feeds 负责种子订阅解析：
// - ParseFeed：使用 gofeed 解析 RSS/Atom/JSON Feed 并归一化
// - SeedVideos：从订阅条目中提取抖音视频链接，作为评论采集的种子
package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"douyin-harvester/internal/fetch"
	"douyin-harvester/internal/logx"
	"douyin-harvester/internal/normalize"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Item 为归一化后的订阅条目。
type Item struct {
	Title     string
	Link      string
	Author    string
	Published time.Time
	// VideoURLs 为条目链接与正文中出现的规范视频链接。
	VideoURLs []string
}

// ParseFeed 从订阅地址解析并返回归一化后的条目（最多返回 max 条，0 表示不限制）。
func ParseFeed(ctx context.Context, cl *fetch.Client, feedURL string, max int) ([]Item, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	// gofeed 不直接接收自定义 http.Client，因此先用自定义客户端抓取后再交给 gofeed 解析
	resp, err := cl.Get(reqCtx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	var out []Item
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		out = append(out, Item{
			Title:     safe(it.Title),
			Link:      safe(it.Link),
			Author:    authorName(it),
			Published: pickTime(it.PublishedParsed, it.UpdatedParsed),
			VideoURLs: videoLinks(it),
		})
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

// SeedVideos 依次解析各订阅，返回去重后的视频链接（最多 max 条，0 表示不限制）。
// 单个订阅失败只记日志，不影响其它订阅。
func SeedVideos(ctx context.Context, cl *fetch.Client, feedURLs []string, max int) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, u := range feedURLs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		items, err := ParseFeed(ctx, cl, u, 0)
		if err != nil {
			logx.Warnf("种子订阅解析失败 %s: %v", u, err)
			continue
		}
		for _, it := range items {
			for _, v := range it.VideoURLs {
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
				out = append(out, v)
				if max > 0 && len(out) >= max {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// videoLinks 收集条目链接、guid 与正文 <a href> 中的视频链接。
func videoLinks(it *gofeed.Item) []string {
	cands := append([]string{it.Link, it.GUID}, it.Links...)
	for _, body := range []string{it.Content, it.Description} {
		if !strings.Contains(body, "<") {
			cands = append(cands, body)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			continue
		}
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			cands = append(cands, href)
		})
	}
	var out []string
	seen := make(map[string]struct{})
	for _, c := range cands {
		if !strings.Contains(c, "douyin.com") {
			continue
		}
		v := normalize.CanonicalVideoURL(c)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// pickTime 优先发布时间，其次更新时间。
func pickTime(a, b *time.Time) time.Time {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return time.Time{}
}

func authorName(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return safe(it.Author.Name)
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return safe(a.Name)
		}
	}
	return ""
}

func safe(s string) string { return strings.TrimSpace(s) }
