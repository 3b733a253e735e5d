package service

import (
	"context"
	"math/rand/v2"
	"time"

	"douyin-harvester/internal/events"
)

// Like 在推荐流观看视频并按概率点赞，直到时长用完或达到条数上限。
func Like(ctx context.Context, r *Runner, p Params) (Report, error) {
	cfg := r.Cfg.Like
	dur := p.Duration
	if dur <= 0 {
		dur = time.Duration(cfg.DurationMin) * time.Minute
	}
	page, err := r.Session.Page(ctx)
	if err != nil {
		return Report{}, err
	}
	log := r.log("like")
	if err := page.Navigate(ctx, r.Cfg.Douyin.RecommendURL); err != nil {
		return Report{}, err
	}
	eng := r.engine(page)
	lo, hi := r.Cfg.Behavior.Watch()
	deadline := time.Now().Add(dur)

	var rep Report
	for {
		if r.Stopped() || ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		if p.Limit > 0 && rep.Processed >= p.Limit {
			break
		}
		if err := r.pause(ctx, lo, hi); err != nil {
			break
		}
		rep.Processed++
		if rand.Float64() < cfg.LikeProb {
			if err := eng.Like(ctx); err != nil {
				rep.Failed++
				log.Debug("点赞失败", "err", err)
			} else {
				rep.Succeeded++
			}
		} else {
			rep.Skipped++
		}
		if err := eng.NextVideo(ctx); err != nil {
			log.Debug("切换视频失败", "err", err)
		}
		if cfg.RestEvery > 0 && rep.Processed%cfg.RestEvery == 0 {
			log.Info("休息一下", "watched", rep.Processed)
			r.emit(events.Debug, "like", "休息一下", map[string]any{"watched": rep.Processed})
			if err := r.pause(ctx, time.Duration(cfg.RestMinSec)*time.Second, time.Duration(cfg.RestMaxSec)*time.Second); err != nil {
				break
			}
		}
	}
	return rep, nil
}
