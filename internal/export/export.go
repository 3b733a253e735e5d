// 包 export 负责极简模式导出：将视频与评论用户写为 data.json。
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"douyin-harvester/internal/model"
	"douyin-harvester/internal/store"
)

// MaxItems 为单类数据的导出上限（按时间倒序保留最新）。
const MaxItems = 500

// Source 为导出所需的查询能力，由 *store.SQLite 实现。
type Source interface {
	Stats(ctx context.Context) (model.Stats, error)
	QueryVideosDedup(ctx context.Context, limit int, sort store.Sort) ([]model.ContentItem, error)
	QueryUsersDedup(ctx context.Context, limit int, sort store.Sort, by store.DedupBy) ([]model.CommentAuthor, error)
}

// ToJSON 查询统计/视频/用户（读取时去重）并写入 JSON 文件。
func ToJSON(ctx context.Context, s Source, path string) error {
	videos, err := s.QueryVideosDedup(ctx, MaxItems, store.SortTime)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}
	users, err := s.QueryUsersDedup(ctx, MaxItems, store.SortTime, store.ByUserURL)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	stats.UpdatedAt = time.Now()
	return write(path, model.Export{Stats: stats, Videos: videos, Users: users})
}

// ToJSONData 直接将内存中的数据写成 data.json（极简模式，不落库）。
func ToJSONData(videos []model.ContentItem, users []model.CommentAuthor, path string) error {
	if len(videos) > MaxItems {
		videos = videos[:MaxItems]
	}
	if len(users) > MaxItems {
		users = users[:MaxItems]
	}
	st := model.Stats{Videos: len(videos), UpdatedAt: time.Now()}
	seen := make(map[string]struct{})
	today := time.Now().Format("2006-01-02")
	for _, u := range users {
		key := u.UserURL
		if key == "" {
			key = u.Username
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		st.Users.Total++
		if u.MessageStatus == model.StatusSent {
			st.Users.Sent++
		} else {
			st.Users.Pending++
		}
		if u.CollectedAt.Local().Format("2006-01-02") == today {
			st.Users.Today++
		}
	}
	return write(path, model.Export{Stats: st, Videos: videos, Users: users})
}

func write(path string, out model.Export) error {
	if out.Videos == nil {
		out.Videos = []model.ContentItem{}
	}
	if out.Users == nil {
		out.Users = []model.CommentAuthor{}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json to %s: %w", path, err)
	}
	return nil
}
