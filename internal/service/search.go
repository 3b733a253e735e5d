package service

import (
	"context"
	"net/url"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/events"
	"douyin-harvester/internal/harvest"
)

// Search 为阶段一：按关键词打开搜索页并滚动采集视频（或小红书笔记）。
func Search(ctx context.Context, r *Runner, p Params) (Report, error) {
	cfg := r.Cfg.Search
	keywords := orList(p.Keywords, cfg.Keywords)
	if len(keywords) == 0 {
		return Report{}, ErrEmptyKeywords
	}
	page, err := r.Session.Page(ctx)
	if err != nil {
		return Report{}, err
	}
	log := r.log("search")
	target := orInt(p.Target, cfg.Target)
	var cutoff int64
	if cfg.MaxAgeDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -cfg.MaxAgeDays).Unix()
	}

	var rep Report
	for _, kw := range keywords {
		if r.Stopped() || ctx.Err() != nil {
			break
		}
		rep.Processed++
		searchURL, ex := r.searchTarget(kw)
		var tooOld int
		sink := harvest.SinkFunc(func(ctx context.Context, rec harvest.Record) (bool, error) {
			if rec.Item == nil {
				return false, nil
			}
			if cutoff > 0 && rec.Item.PublishTS > 0 && rec.Item.PublishTS < cutoff {
				tooOld++
				return false, nil
			}
			return r.Store.UpsertContentItem(ctx, *rec.Item, false)
		})
		res, err := r.loop(page, ex, sink, loopLimits{
			target:     target,
			maxScrolls: cfg.MaxScrolls,
			stagnation: cfg.Stagnation,
			grace:      time.Duration(cfg.GraceSec) * time.Second,
		}).Run(ctx, searchURL)
		if err != nil {
			rep.Failed++
			log.Warn("关键词采集失败", "keyword", kw, "err", err)
			r.emit(events.Warning, "search", "关键词采集失败", map[string]any{"keyword": kw, "err": err.Error()})
			continue
		}
		rep.Succeeded++
		log.Info("关键词采集完成", "keyword", kw, "accepted", res.Accepted, "too_old", tooOld, "reason", res.Reason)
		r.emit(events.Operation, "search", "关键词采集完成", map[string]any{
			"keyword": kw, "accepted": res.Accepted, "reason": res.Reason,
		})
		lo, hi := r.Cfg.Behavior.ScrollDelay()
		if err := r.pause(ctx, lo, hi); err != nil {
			break
		}
	}
	return rep, nil
}

// searchTarget 返回关键词的搜索地址与抽取器。
func (r *Runner) searchTarget(kw string) (string, harvest.Extractor) {
	if r.Cfg.Search.Platform == "xhs" {
		pr := r.preset("xhs")
		return pr.SearchURLFor(url.QueryEscape(kw)), &harvest.NoteSearchExtractor{Keyword: kw, Card: pr.Card}
	}
	pr := r.preset("douyin")
	return r.Cfg.Douyin.SearchURL(kw), &harvest.VideoSearchExtractor{Keyword: kw, Card: pr.Card}
}

type loopLimits struct {
	target     int
	maxScrolls int
	stagnation int
	grace      time.Duration
}

// loop 按配置构造一次采集循环。
func (r *Runner) loop(page browser.Page, ex harvest.Extractor, sink harvest.Sink, lim loopLimits) *harvest.Loop {
	lo, hi := r.Cfg.Behavior.ScrollDelay()
	return &harvest.Loop{
		Page:         page,
		Prober:       r.prober(page),
		Extractor:    ex,
		Sink:         sink,
		Target:       lim.target,
		MaxScrolls:   lim.maxScrolls,
		Stagnation:   lim.stagnation,
		Grace:        lim.grace,
		ReadyTimeout: r.Cfg.Browser.OpTimeout(),
		SettleMin:    lo,
		SettleMax:    hi,
		Stop:         r.Stopped,
	}
}
