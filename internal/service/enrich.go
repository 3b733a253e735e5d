package service

import (
	"context"
	"fmt"

	"douyin-harvester/internal/events"
	"douyin-harvester/internal/harvest"
	"douyin-harvester/internal/model"
)

// Enrich 打开缺字段视频的详情页，补全作者、计数与发布时间。
func Enrich(ctx context.Context, r *Runner, p Params) (Report, error) {
	var targets []model.ContentItem
	if len(cleanList(p.URLs)) > 0 {
		var err error
		if targets, err = r.commentTargets(ctx, Params{URLs: p.URLs}); err != nil {
			return Report{}, err
		}
	} else {
		var err error
		targets, err = r.Store.QueryVideosNeedingDetail(ctx, orInt(p.Limit, r.Cfg.Comments.VideoLimit))
		if err != nil {
			return Report{}, fmt.Errorf("query videos needing detail: %w", err)
		}
	}
	log := r.log("enrich")
	if len(targets) == 0 {
		log.Info("没有需要补全的视频")
		return Report{}, nil
	}
	page, err := r.Session.Page(ctx)
	if err != nil {
		return Report{}, err
	}
	en := &harvest.DetailEnricher{
		Page:   page,
		Prober: r.prober(page),
		Video:  r.preset("douyin").Video,
		Store:  r.Store,
		Wait:   r.Cfg.Browser.OpTimeout(),
		Log:    log,
	}

	var rep Report
	for _, v := range targets {
		if r.Stopped() || ctx.Err() != nil {
			break
		}
		rep.Processed++
		_, changed, err := en.Enrich(ctx, v)
		switch {
		case err != nil:
			rep.Failed++
			log.Warn("详情补全失败", "video", v.CanonicalURL, "err", err)
			r.emit(events.Warning, "enrich", "详情补全失败", map[string]any{"video": v.CanonicalURL, "err": err.Error()})
		case changed:
			rep.Succeeded++
			r.emit(events.Operation, "enrich", "详情已补全", map[string]any{"video": v.CanonicalURL})
		default:
			rep.Skipped++
		}
		lo, hi := r.Cfg.Behavior.ActionDelay()
		if err := r.pause(ctx, lo, hi); err != nil {
			break
		}
	}
	return rep, nil
}
