package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/events"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
)

// 单个目标失败的原因。
const (
	failNavigate = "navigate"
	failNotReady = "profile_not_ready"
	failFollow   = "follow"
	failDialog   = "open_dialog"
	failSend     = "send"
)

// Message 逐个打开用户主页：关注、打开私信、发送话术，成功后标记为已发送。
func Message(ctx context.Context, r *Runner, p Params) (Report, error) {
	cfg := r.Cfg.Message
	texts := orList(p.Texts, cfg.Texts)
	if len(texts) == 0 {
		return Report{}, ErrEmptyTexts
	}
	targets, err := r.messageTargets(ctx, p)
	if err != nil {
		return Report{}, err
	}
	log := r.log("message")
	if len(targets) == 0 {
		log.Info("没有待发送用户")
		return Report{}, nil
	}

	var rep Report
	sent := 0
	for i, u := range targets {
		if r.Stopped() || ctx.Err() != nil {
			break
		}
		if cfg.Rotate {
			dir := cfg.Profiles[i%len(cfg.Profiles)]
			if dir != r.Session.Profile() {
				if err := r.Session.SwitchProfile(ctx, dir); err != nil {
					return rep, err
				}
			}
		}
		page, err := r.Session.Page(ctx)
		if err != nil {
			return rep, err
		}
		rep.Processed++
		text := texts[rand.IntN(len(texts))]
		if reason := r.sendTo(ctx, page, u.UserURL, text); reason != "" {
			rep.Failed++
			log.Warn("私信失败", "user", u.Username, "url", u.UserURL, "step", reason)
			r.emit(events.Warning, "message", "私信失败", map[string]any{"user": u.UserURL, "step": reason})
		} else {
			if _, err := r.Store.MarkSent(ctx, u.UserURL); err != nil {
				log.Warn("标记已发送失败", "url", u.UserURL, "err", err)
			}
			rep.Succeeded++
			sent++
			log.Info("私信已发送", "user", u.Username, "url", u.UserURL)
			r.emit(events.Operation, "message", "私信已发送", map[string]any{"user": u.UserURL})
		}
		if i == len(targets)-1 {
			break
		}
		if err := r.afterSend(ctx, page, sent); err != nil {
			break
		}
	}
	return rep, nil
}

// sendTo 完成单个用户的私信流程；成功返回空串，否则返回失败步骤。
func (r *Runner) sendTo(ctx context.Context, page browser.Page, userURL, text string) string {
	if err := page.Navigate(ctx, userURL); err != nil {
		return failNavigate
	}
	pr := r.prober(page)
	if prof := r.preset("douyin").Profile; prof != nil {
		if btns := append(append([]string{}, prof.Follow...), prof.Message...); len(btns) > 0 {
			pr.ProfileButtons = btns
		}
	}
	timeout := time.Duration(r.Cfg.Message.ReadyTimeoutMS) * time.Millisecond
	if !pr.WaitForProfileReady(ctx, timeout) {
		// 首屏未就绪时轻滚一次再等半程
		_ = page.Wheel(ctx, 200)
		if !pr.WaitForProfileReady(ctx, timeout/2) {
			return failNotReady
		}
	}
	eng := r.engine(page)
	if !eng.EnsureFollowed(ctx, userURL) {
		return failFollow
	}
	if !eng.OpenMessageDialog(ctx) {
		return failDialog
	}
	if !eng.SendMessage(ctx, text) {
		return failSend
	}
	return ""
}

// afterSend 为两次私信之间的节奏：刷视频、整点休息、发送间隔。
func (r *Runner) afterSend(ctx context.Context, page browser.Page, sent int) error {
	cfg, safety := r.Cfg.Message, r.Cfg.Safety
	if cfg.BrowseBetween && !cfg.Rotate {
		r.browse(ctx, page, cfg.BrowseVideos, r.Cfg.Behavior.LikeProb)
	}
	if safety.RestEvery > 0 && sent > 0 && sent%safety.RestEvery == 0 {
		r.log("message").Info("休息一下", "sent", sent)
		if err := r.pause(ctx, time.Duration(safety.RestMinSec)*time.Second, time.Duration(safety.RestMaxSec)*time.Second); err != nil {
			return err
		}
	}
	return r.pause(ctx, time.Duration(safety.SendGapMinSec)*time.Second, time.Duration(safety.SendGapMaxSec)*time.Second)
}

// browse 在推荐流观看 n 个视频，按概率点赞；错误只记录。
func (r *Runner) browse(ctx context.Context, page browser.Page, n int, likeProb float64) {
	if n <= 0 {
		return
	}
	if err := page.Navigate(ctx, r.Cfg.Douyin.RecommendURL); err != nil {
		r.log("message").Debug("打开推荐流失败", "err", err)
		return
	}
	eng := r.engine(page)
	lo, hi := r.Cfg.Behavior.Watch()
	for i := 0; i < n; i++ {
		if r.Stopped() || r.pause(ctx, lo, hi) != nil {
			return
		}
		if rand.Float64() < likeProb {
			_ = eng.Like(ctx)
		}
		_ = eng.NextVideo(ctx)
	}
}

// messageTargets 显式链接优先（不合法直接报错），否则取待发送用户。
func (r *Runner) messageTargets(ctx context.Context, p Params) ([]model.CommentAuthor, error) {
	cfg := r.Cfg.Message
	limit := orInt(p.Limit, cfg.Limit)
	if urls := orList(p.URLs, cfg.UserURLs); len(urls) > 0 {
		var out []model.CommentAuthor
		seen := map[string]bool{}
		for _, u := range urls {
			link := normalize.CanonicalUserURL(u)
			if link == "" {
				return nil, fmt.Errorf("%w: %s", ErrInvalidURL, u)
			}
			if seen[link] {
				continue
			}
			seen[link] = true
			out = append(out, model.CommentAuthor{UserURL: link})
		}
		return clip(out, limit), nil
	}
	pending, err := r.Store.QueryPending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("query pending users: %w", err)
	}
	var out []model.CommentAuthor
	seen := map[string]bool{}
	for _, u := range pending {
		// 没有主页链接的用户无法私信
		if u.UserURL == "" || seen[u.UserURL] {
			continue
		}
		seen[u.UserURL] = true
		out = append(out, u)
	}
	return clip(out, limit), nil
}
