package export_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"douyin-harvester/internal/export"
	"douyin-harvester/internal/model"
	"douyin-harvester/internal/store"
)

func readExport(t *testing.T, path string) model.Export {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out model.Export
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestToJSON_FromStoreDedups(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenSQLite(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	v := model.ContentItem{SourceID: "7300000000000000001", CanonicalURL: "https://www.douyin.com/video/7300000000000000001", Title: "老房翻新"}
	_, _ = s.UpsertContentItem(ctx, v, false)
	_, _ = s.UpsertContentItem(ctx, v, false)
	u := model.CommentAuthor{Username: "阿明", UserURL: "https://www.douyin.com/user/a", CommentText: "求链接"}
	_, _ = s.InsertCommentAuthor(ctx, u)
	_, _ = s.InsertCommentAuthor(ctx, u)

	path := filepath.Join(dir, "data.json")
	if err := export.ToJSON(ctx, s, path); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := readExport(t, path)
	if len(out.Videos) != 1 || len(out.Users) != 1 {
		t.Fatalf("dedup at read: videos=%d users=%d", len(out.Videos), len(out.Users))
	}
	if out.Stats.Videos != 2 || out.Stats.Users.Total != 1 {
		t.Fatalf("stats: %+v", out.Stats)
	}
}

func TestToJSONData_Stats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	now := time.Now()
	users := []model.CommentAuthor{
		{Username: "a", UserURL: "u1", MessageStatus: model.StatusPending, CollectedAt: now},
		{Username: "a", UserURL: "u1", MessageStatus: model.StatusPending, CollectedAt: now},
		{Username: "b", MessageStatus: model.StatusSent, CollectedAt: now.AddDate(0, 0, -3)},
	}
	if err := export.ToJSONData(nil, users, path); err != nil {
		t.Fatalf("export: %v", err)
	}
	out := readExport(t, path)
	st := out.Stats.Users
	if st.Total != 2 || st.Pending != 1 || st.Sent != 1 || st.Today != 1 {
		t.Fatalf("user stats: %+v", st)
	}
	if out.Videos == nil || len(out.Videos) != 0 {
		t.Fatalf("videos should encode as empty list: %+v", out.Videos)
	}
}
