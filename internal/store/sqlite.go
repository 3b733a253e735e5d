// 包 store 提供存储实现（SQLite），包含表迁移/写入/查询/清理等操作。
// 三张表均以自增 id 为主键，只建普通索引，不加唯一约束：
// 近似重复在写入时被容忍，读取时再用去重查询归并。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"douyin-harvester/internal/model"
)

// tsLayout 与 SQLite CURRENT_TIMESTAMP 一致（UTC），便于与 datetime('now', ...) 比较。
const tsLayout = "2006-01-02 15:04:05"

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
func OpenSQLite(path string) (*SQLite, error) {
	// 说明：modernc sqlite 的 DSN 可直接使用文件路径，或以 'file:...' 前缀表示
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// migrate 执行建表与建索引语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL,
            user_url TEXT,
            comment_text TEXT,
            ip_location TEXT,
            video_url TEXT,
            video_desc TEXT,
            matched_keyword TEXT,
            comment_time TEXT,
            comment_ts INTEGER DEFAULT 0,
            collected_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            message_status TEXT DEFAULT 'pending',
            last_message_time TIMESTAMP,
            created_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS videos (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            source_id TEXT,
            video_url TEXT,
            video_desc TEXT,
            keyword TEXT,
            author_name TEXT,
            author_url TEXT,
            like_count INTEGER DEFAULT 0,
            comment_count INTEGER DEFAULT 0,
            collect_count INTEGER DEFAULT 0,
            view_count INTEGER DEFAULT 0,
            publish_time TEXT,
            publish_ts INTEGER DEFAULT 0,
            collected_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS task_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            service TEXT,
            status TEXT,
            message TEXT,
            created_time TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_users_status ON users(message_status)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_url ON users(user_url)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_url ON videos(video_url)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_keyword ON videos(keyword)`,
		`CREATE INDEX IF NOT EXISTS idx_task_logs_time ON task_logs(created_time)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// Scope 为清理范围。
type Scope string

const (
	ScopeSelected Scope = "selected" // 按 id
	ScopeSent     Scope = "sent"
	ScopeUnsent   Scope = "unsent"
	ScopeDays     Scope = "days" // 早于 N 天
	ScopeAll      Scope = "all"
)

// Filter 为清理条件。
type Filter struct {
	IDs  []int64
	Days int
}

// Sort 为列表排序方式。
type Sort string

const (
	SortTime    Sort = "time"    // 采集时间倒序
	SortIP      Sort = "ip"      // IP 属地升序
	SortPublish Sort = "publish" // 评论/发布时间倒序
)

// Stats 统计汇总：视频总数与用户统计。
func (s *SQLite) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM videos`).Scan(&st.Videos); err != nil {
		return st, fmt.Errorf("count videos: %w", err)
	}
	us, err := s.UserStats(ctx)
	if err != nil {
		return st, err
	}
	st.Users = us
	st.UpdatedAt = s.now()
	return st, nil
}

func fmtDays(days int) string { return fmt.Sprintf("-%d days", days) }

func fmtTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func nowOr(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

// placeholders 返回 n 个以逗号连接的 "?"。
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// nullStr 空串映射为 NULL，用于 COALESCE 更新。
func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// nullCount 零值映射为 NULL，用于 COALESCE 更新。
func nullCount(v uint64) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func scanTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
