package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"douyin-harvester/internal/model"
	"douyin-harvester/internal/reconcile"
	"douyin-harvester/internal/store"
)

// MemorySink 在极简模式下收集采集结果，避免落库；结束时由 Snapshot 导出 data.json。
type MemorySink struct {
	mu     sync.Mutex
	videos map[string]model.ContentItem   // key: video_url
	users  map[string]model.CommentAuthor // key: user_url，缺失时为 username
	order  []string
	tasks  []model.TaskLog
	now    func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		videos: make(map[string]model.ContentItem),
		users:  make(map[string]model.CommentAuthor),
		now:    time.Now,
	}
}

func userKey(u model.CommentAuthor) string {
	if u.UserURL != "" {
		return u.UserURL
	}
	return u.Username
}

// UpsertContentItem 同链接合并：新的非空值覆盖旧值。
func (b *MemorySink) UpsertContentItem(_ context.Context, v model.ContentItem, _ bool) (bool, error) {
	if v.CanonicalURL == "" {
		return false, errors.New("video_url required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.videos[v.CanonicalURL]; ok {
		merged := reconcile.Overlay(old, v)
		merged.CollectedAt = old.CollectedAt
		b.videos[v.CanonicalURL] = merged
		return merged != old, nil
	}
	if v.CollectedAt.IsZero() {
		v.CollectedAt = b.now()
	}
	b.videos[v.CanonicalURL] = v
	return true, nil
}

// InsertCommentAuthor 同一用户以最新一条为准，保留原有的顺序位置与已发送状态。
func (b *MemorySink) InsertCommentAuthor(_ context.Context, u model.CommentAuthor) (bool, error) {
	if strings.TrimSpace(u.Username) == "" {
		return false, errors.New("comment author username required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.MessageStatus == "" {
		u.MessageStatus = model.StatusPending
	}
	if u.CollectedAt.IsZero() {
		u.CollectedAt = b.now()
	}
	k := userKey(u)
	if old, ok := b.users[k]; ok {
		if old.MessageStatus == model.StatusSent {
			u.MessageStatus, u.LastMessageAt = old.MessageStatus, old.LastMessageAt
		}
		b.users[k] = u
		return true, nil
	}
	b.users[k] = u
	b.order = append(b.order, k)
	return true, nil
}

func (b *MemorySink) MarkSent(_ context.Context, userURL string) (bool, error) {
	if userURL == "" {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[userURL]
	if !ok || u.MessageStatus == model.StatusSent {
		return false, nil
	}
	t := b.now()
	u.MessageStatus, u.LastMessageAt = model.StatusSent, &t
	b.users[userURL] = u
	return true, nil
}

// QueryPending 按插入顺序返回待发送用户。
func (b *MemorySink) QueryPending(_ context.Context, limit int) ([]model.CommentAuthor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.CommentAuthor
	for _, k := range b.order {
		u := b.users[k]
		if u.MessageStatus != model.StatusPending {
			continue
		}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (b *MemorySink) QueryRecentVideos(_ context.Context, limit int, s store.Sort) ([]model.ContentItem, error) {
	return clip(b.sortedVideos(s), limit), nil
}

func (b *MemorySink) QueryVideosNeedingDetail(_ context.Context, limit int) ([]model.ContentItem, error) {
	var out []model.ContentItem
	for _, v := range b.sortedVideos(store.SortTime) {
		if v.AuthorName == "" || v.LikeCount == 0 || v.PublishTS == 0 {
			out = append(out, v)
		}
	}
	return clip(out, limit), nil
}

func (b *MemorySink) LogTask(_ context.Context, service, status, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append(b.tasks, model.TaskLog{
		ID: int64(len(b.tasks) + 1), Service: service, Status: status, Message: message, CreatedAt: b.now(),
	})
	return nil
}

// Tasks 返回任务日志副本，最新在前。
func (b *MemorySink) Tasks() []model.TaskLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.TaskLog, len(b.tasks))
	for i, t := range b.tasks {
		out[len(b.tasks)-1-i] = t
	}
	return out
}

// Snapshot 返回副本：
// - videos 按采集时间倒序
// - users 按采集时间倒序
func (b *MemorySink) Snapshot() ([]model.ContentItem, []model.CommentAuthor) {
	vs := b.sortedVideos(store.SortTime)
	b.mu.Lock()
	defer b.mu.Unlock()
	us := make([]model.CommentAuthor, 0, len(b.users))
	for i := len(b.order) - 1; i >= 0; i-- {
		us = append(us, b.users[b.order[i]])
	}
	sort.SliceStable(us, func(i, j int) bool { return us[i].CollectedAt.After(us[j].CollectedAt) })
	return vs, us
}

func (b *MemorySink) sortedVideos(s store.Sort) []model.ContentItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.ContentItem, 0, len(b.videos))
	for _, v := range b.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if s == store.SortPublish && a.PublishTS != c.PublishTS {
			return a.PublishTS > c.PublishTS
		}
		if !a.CollectedAt.Equal(c.CollectedAt) {
			return a.CollectedAt.After(c.CollectedAt)
		}
		return a.CanonicalURL < c.CanonicalURL
	})
	return out
}

func clip[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
