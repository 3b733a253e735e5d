package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"douyin-harvester/internal/model"
)

const userCols = `id, username, COALESCE(user_url,''), COALESCE(comment_text,''), COALESCE(ip_location,''),
    COALESCE(video_url,''), COALESCE(video_desc,''), COALESCE(matched_keyword,''), COALESCE(comment_time,''),
    COALESCE(comment_ts,0), collected_time, COALESCE(message_status,'pending'), last_message_time`

// InsertCommentAuthor 写入评论用户（INSERT OR IGNORE，不做唯一约束，重复在读取时去重）。
func (s *SQLite) InsertCommentAuthor(ctx context.Context, u model.CommentAuthor) (bool, error) {
	if strings.TrimSpace(u.Username) == "" {
		return false, errors.New("comment author username required")
	}
	status := u.MessageStatus
	if status == "" {
		status = model.StatusPending
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO users
        (username, user_url, comment_text, ip_location, video_url, video_desc, matched_keyword,
         comment_time, comment_ts, collected_time, message_status, created_time)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.Username, nullStr(u.UserURL), u.CommentText, u.IPLocation, u.VideoURL, u.VideoDesc,
		strings.Join(u.MatchedKeywords, ","), u.CommentTimeText, u.CommentTS,
		fmtTS(nowOr(u.CollectedAt, now)), string(status), fmtTS(now))
	if err != nil {
		return false, fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSent 将 user_url 对应的 pending 记录置为 sent；只允许 pending -> sent。
func (s *SQLite) MarkSent(ctx context.Context, userURL string) (bool, error) {
	if userURL == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET message_status='sent', last_message_time=?
        WHERE user_url = ? AND COALESCE(message_status,'pending') = 'pending'`, fmtTS(s.now()), userURL)
	if err != nil {
		return false, fmt.Errorf("mark sent %s: %w", userURL, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkPending 为运维操作：把选中用户重新置为待发送，返回受影响行数。
func (s *SQLite) MarkPending(ctx context.Context, userURLs []string) (int64, error) {
	var total int64
	for _, u := range userURLs {
		res, err := s.db.ExecContext(ctx, `UPDATE users SET message_status='pending' WHERE user_url = ?`, u)
		if err != nil {
			return total, fmt.Errorf("mark pending %s: %w", u, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// QueryPending 返回待发送用户，按采集时间升序（先采先发）。
func (s *SQLite) QueryPending(ctx context.Context, limit int) ([]model.CommentAuthor, error) {
	return s.queryUsers(ctx, `SELECT `+userCols+` FROM users
        WHERE COALESCE(message_status,'pending') = 'pending'
        ORDER BY collected_time ASC, id ASC`+limitClause(limit))
}

// QueryRecentUsers 返回最近采集的用户（含重复）。
func (s *SQLite) QueryRecentUsers(ctx context.Context, limit int, sort Sort) ([]model.CommentAuthor, error) {
	return s.queryUsers(ctx, `SELECT `+userCols+` FROM users`+userOrder(sort)+limitClause(limit))
}

// DedupBy 为用户去重键。
type DedupBy string

const (
	ByUsername DedupBy = "username"
	ByUserURL  DedupBy = "user_url"
)

// QueryUsersDedup 按用户名（或用户链接）去重，同键保留 id 最大的一条。
func (s *SQLite) QueryUsersDedup(ctx context.Context, limit int, sort Sort, by DedupBy) ([]model.CommentAuthor, error) {
	key := `COALESCE(username, '')`
	if by == ByUserURL {
		key = `COALESCE(NULLIF(user_url, ''), username, '')`
	}
	return s.queryUsers(ctx, `SELECT `+userCols+` FROM users
        WHERE id IN (SELECT MAX(id) FROM users GROUP BY `+key+`)`+userOrder(sort)+limitClause(limit))
}

func userOrder(sort Sort) string {
	switch sort {
	case SortIP:
		return ` ORDER BY ip_location ASC, collected_time DESC, id DESC`
	case SortPublish:
		return ` ORDER BY comment_ts DESC, collected_time DESC, id DESC`
	default:
		return ` ORDER BY collected_time DESC, id DESC`
	}
}

func (s *SQLite) queryUsers(ctx context.Context, q string, args ...any) ([]model.CommentAuthor, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var out []model.CommentAuthor
	for rows.Next() {
		var u model.CommentAuthor
		var kw, status string
		var collected, lastMsg sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.UserURL, &u.CommentText, &u.IPLocation,
			&u.VideoURL, &u.VideoDesc, &kw, &u.CommentTimeText, &u.CommentTS,
			&collected, &status, &lastMsg); err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}
		if kw != "" {
			u.MatchedKeywords = strings.Split(kw, ",")
		}
		u.MessageStatus = model.MessageStatus(status)
		u.CollectedAt = scanTime(collected)
		if lastMsg.Valid {
			t := lastMsg.Time
			u.LastMessageAt = &t
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// UserStats 以 user_url（为空时回退 username）去重统计；today 按本地日历日。
func (s *SQLite) UserStats(ctx context.Context) (model.UserStats, error) {
	var st model.UserStats
	const key = `COUNT(DISTINCT IFNULL(NULLIF(user_url,''), username))`
	queries := []struct {
		dst *int
		q   string
	}{
		{&st.Total, `SELECT ` + key + ` FROM users`},
		{&st.Pending, `SELECT ` + key + ` FROM users WHERE COALESCE(message_status,'pending') = 'pending'`},
		{&st.Sent, `SELECT ` + key + ` FROM users WHERE message_status = 'sent'`},
		{&st.Today, `SELECT ` + key + ` FROM users WHERE date(collected_time, 'localtime') = date('now', 'localtime')`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.q).Scan(q.dst); err != nil {
			return st, fmt.Errorf("user stats: %w", err)
		}
	}
	return st, nil
}

// DeleteUsers 按范围清理用户。
// days：有 comment_ts 的按评论时间，缺失的回退按 created_time。
func (s *SQLite) DeleteUsers(ctx context.Context, scope Scope, f Filter) (int64, error) {
	var res sql.Result
	var err error
	switch scope {
	case ScopeSelected:
		if len(f.IDs) == 0 {
			return 0, nil
		}
		res, err = s.db.ExecContext(ctx, `DELETE FROM users WHERE id IN (`+placeholders(len(f.IDs))+`)`, idArgs(f.IDs)...)
	case ScopeSent:
		res, err = s.db.ExecContext(ctx, `DELETE FROM users WHERE message_status = 'sent'`)
	case ScopeUnsent:
		res, err = s.db.ExecContext(ctx, `DELETE FROM users WHERE COALESCE(message_status,'pending') <> 'sent'`)
	case ScopeDays:
		if f.Days <= 0 {
			return 0, nil
		}
		cutoff := s.now().AddDate(0, 0, -f.Days).Unix()
		res, err = s.db.ExecContext(ctx, `DELETE FROM users WHERE
            (comment_ts IS NOT NULL AND comment_ts > 0 AND comment_ts < ?)
            OR ((comment_ts IS NULL OR comment_ts = 0) AND created_time < datetime('now', ?))`,
			cutoff, fmtDays(f.Days))
	case ScopeAll:
		res, err = s.db.ExecContext(ctx, `DELETE FROM users`)
	default:
		return 0, fmt.Errorf("unknown users scope %q", scope)
	}
	if err != nil {
		return 0, fmt.Errorf("delete users (%s): %w", scope, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
