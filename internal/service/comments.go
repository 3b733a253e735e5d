package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"douyin-harvester/internal/events"
	"douyin-harvester/internal/feeds"
	"douyin-harvester/internal/harvest"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
	"douyin-harvester/internal/store"
)

// Comments 为阶段二：逐个打开视频，滚动评论区，按关键词（与 IP 属地）筛选用户入库。
func Comments(ctx context.Context, r *Runner, p Params) (Report, error) {
	cfg := r.Cfg.Comments
	keywords := orList(p.Keywords, cfg.Keywords)
	if len(keywords) == 0 {
		return Report{}, ErrEmptyKeywords
	}
	targets, err := r.commentTargets(ctx, p)
	if err != nil {
		return Report{}, err
	}
	log := r.log("comments")
	if len(targets) == 0 {
		log.Info("没有可处理的视频")
		return Report{}, nil
	}
	page, err := r.Session.Page(ctx)
	if err != nil {
		return Report{}, err
	}
	ipKeywords := cleanList(cfg.IPKeywords)
	limit := orInt(p.Target, cfg.MaxPerVideo)

	var rep Report
	for _, v := range targets {
		if r.Stopped() || ctx.Err() != nil {
			break
		}
		rep.Processed++
		var matched int
		sink := harvest.SinkFunc(func(ctx context.Context, rec harvest.Record) (bool, error) {
			c := rec.Comment
			if c == nil {
				return false, nil
			}
			hits := normalize.MatchKeywords(c.CommentText, keywords)
			if len(hits) == 0 {
				return false, nil
			}
			if len(ipKeywords) > 0 && len(normalize.MatchKeywords(c.IPLocation, ipKeywords)) == 0 {
				return false, nil
			}
			u := *c
			u.MatchedKeywords = hits
			ok, err := r.Store.InsertCommentAuthor(ctx, u)
			if ok {
				matched++
			}
			return ok, err
		})
		ex := &harvest.CommentExtractor{VideoURL: v.CanonicalURL, VideoDesc: v.Title, Rule: r.preset("douyin").Comment}
		res, err := r.loop(page, ex, sink, loopLimits{
			target:     limit,
			maxScrolls: cfg.MaxScrolls,
			stagnation: cfg.Stagnation,
			grace:      time.Duration(cfg.GraceSec) * time.Second,
		}).Run(ctx, v.CanonicalURL)
		if err != nil {
			rep.Failed++
			log.Warn("评论采集失败", "video", v.CanonicalURL, "err", err)
			r.emit(events.Warning, "comments", "评论采集失败", map[string]any{"video": v.CanonicalURL, "err": err.Error()})
			continue
		}
		rep.Succeeded++
		log.Info("评论采集完成", "video", v.CanonicalURL, "matched", matched, "scanned", res.New, "reason", res.Reason)
		r.emit(events.Operation, "comments", "评论采集完成", map[string]any{
			"video": v.CanonicalURL, "matched": matched, "reason": res.Reason,
		})
		lo, hi := r.Cfg.Behavior.ScrollDelay()
		if err := r.pause(ctx, lo, hi); err != nil {
			break
		}
	}
	return rep, nil
}

// commentTargets 优先使用显式链接（不合法直接报错），否则取库中最近视频并追加订阅种子。
func (r *Runner) commentTargets(ctx context.Context, p Params) ([]model.ContentItem, error) {
	cfg := r.Cfg.Comments
	if urls := orList(p.URLs, cfg.VideoURLs); len(urls) > 0 {
		out := make([]model.ContentItem, 0, len(urls))
		for _, u := range urls {
			link := normalize.CanonicalVideoURL(u)
			if link == "" {
				return nil, fmt.Errorf("%w: %s", ErrInvalidURL, u)
			}
			out = append(out, model.ContentItem{SourceID: normalize.VideoID(u), CanonicalURL: link})
		}
		return dedupItems(out), nil
	}
	limit := orInt(p.Limit, cfg.VideoLimit)
	recent, err := r.Store.QueryRecentVideos(ctx, limit, store.SortTime)
	if err != nil {
		return nil, fmt.Errorf("query recent videos: %w", err)
	}
	if len(r.Cfg.SeedFeeds) > 0 && r.Fetch != nil {
		seeds, err := feeds.SeedVideos(ctx, r.Fetch, r.Cfg.SeedFeeds, r.Cfg.FeedMax)
		if err != nil {
			r.log("comments").Warn("种子订阅中断", "err", err)
		}
		for _, s := range seeds {
			if link := normalize.CanonicalVideoURL(s); link != "" {
				recent = append(recent, model.ContentItem{SourceID: normalize.VideoID(s), CanonicalURL: link})
			}
		}
	}
	return dedupItems(recent), nil
}

func dedupItems(in []model.ContentItem) []model.ContentItem {
	seen := map[string]bool{}
	var out []model.ContentItem
	for _, v := range in {
		k := strings.TrimSpace(v.CanonicalURL)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
