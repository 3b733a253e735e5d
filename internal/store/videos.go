package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"douyin-harvester/internal/model"
)

const videoCols = `id, COALESCE(source_id,''), COALESCE(video_url,''), COALESCE(video_desc,''), COALESCE(keyword,''),
    COALESCE(author_name,''), COALESCE(author_url,''), COALESCE(like_count,0), COALESCE(comment_count,0),
    COALESCE(collect_count,0), COALESCE(view_count,0), COALESCE(publish_time,''), COALESCE(publish_ts,0), collected_time`

// UpsertContentItem 写入视频。
// enrich=false 时总是插入新行（允许重复，读取时去重）；
// enrich=true 且链接已存在时按 COALESCE 合并：新的非空值覆盖旧值，空值不覆盖。
func (s *SQLite) UpsertContentItem(ctx context.Context, v model.ContentItem, enrich bool) (bool, error) {
	if v.CanonicalURL == "" {
		return false, errors.New("video_url required")
	}
	if enrich {
		ok, err := s.UpdateContentItem(ctx, v)
		if err != nil || ok {
			return ok, err
		}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO videos
        (source_id, video_url, video_desc, keyword, author_name, author_url, like_count, comment_count,
         collect_count, view_count, publish_time, publish_ts, collected_time)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.SourceID, v.CanonicalURL, v.Title, v.Keyword, v.AuthorName, v.AuthorURL,
		int64(v.LikeCount), int64(v.CommentCount), int64(v.CollectCount), int64(v.ViewCount),
		v.PublishTimeText, v.PublishTS, fmtTS(nowOr(v.CollectedAt, s.now())))
	if err != nil {
		return false, fmt.Errorf("insert video %s: %w", v.CanonicalURL, err)
	}
	return true, nil
}

// UpdateContentItem 按 video_url 做 COALESCE 合并更新，返回是否命中。
func (s *SQLite) UpdateContentItem(ctx context.Context, v model.ContentItem) (bool, error) {
	var ts any
	if v.PublishTS > 0 {
		ts = v.PublishTS
	}
	res, err := s.db.ExecContext(ctx, `UPDATE videos SET
            source_id = COALESCE(?, source_id),
            video_desc = COALESCE(?, video_desc),
            keyword = COALESCE(?, keyword),
            author_name = COALESCE(?, author_name),
            author_url = COALESCE(?, author_url),
            like_count = COALESCE(?, like_count),
            comment_count = COALESCE(?, comment_count),
            collect_count = COALESCE(?, collect_count),
            view_count = COALESCE(?, view_count),
            publish_time = COALESCE(?, publish_time),
            publish_ts = COALESCE(?, publish_ts)
        WHERE video_url = ?`,
		nullStr(v.SourceID), nullStr(v.Title), nullStr(v.Keyword), nullStr(v.AuthorName), nullStr(v.AuthorURL),
		nullCount(v.LikeCount), nullCount(v.CommentCount), nullCount(v.CollectCount), nullCount(v.ViewCount),
		nullStr(v.PublishTimeText), ts, v.CanonicalURL)
	if err != nil {
		return false, fmt.Errorf("update video %s: %w", v.CanonicalURL, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// QueryRecentVideos 返回最近采集的视频（含重复）。
func (s *SQLite) QueryRecentVideos(ctx context.Context, limit int, sort Sort) ([]model.ContentItem, error) {
	return s.queryVideos(ctx, `SELECT `+videoCols+` FROM videos`+videoOrder(sort)+limitClause(limit))
}

// QueryVideosDedup 按作品 ID（缺失时按链接）去重，同键保留 id 最大的一条。
func (s *SQLite) QueryVideosDedup(ctx context.Context, limit int, sort Sort) ([]model.ContentItem, error) {
	return s.queryVideos(ctx, `SELECT `+videoCols+` FROM videos
        WHERE id IN (SELECT MAX(id) FROM videos GROUP BY COALESCE(NULLIF(source_id, ''), video_url))`+videoOrder(sort)+limitClause(limit))
}

// QueryVideosNeedingDetail 返回缺少作者、点赞或发布时间的视频（按链接去重）。
func (s *SQLite) QueryVideosNeedingDetail(ctx context.Context, limit int) ([]model.ContentItem, error) {
	return s.queryVideos(ctx, `SELECT `+videoCols+` FROM videos
        WHERE id IN (SELECT MAX(id) FROM videos GROUP BY video_url)
          AND (COALESCE(author_name,'') = '' OR COALESCE(like_count,0) = 0 OR COALESCE(publish_ts,0) = 0)
        ORDER BY collected_time DESC, id DESC`+limitClause(limit))
}

func videoOrder(sort Sort) string {
	if sort == SortPublish {
		return ` ORDER BY publish_ts DESC, collected_time DESC, id DESC`
	}
	return ` ORDER BY collected_time DESC, id DESC`
}

func (s *SQLite) queryVideos(ctx context.Context, q string, args ...any) ([]model.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()
	var out []model.ContentItem
	for rows.Next() {
		var v model.ContentItem
		var like, comment, collect, view int64
		var collected sql.NullTime
		if err := rows.Scan(&v.ID, &v.SourceID, &v.CanonicalURL, &v.Title, &v.Keyword,
			&v.AuthorName, &v.AuthorURL, &like, &comment, &collect, &view,
			&v.PublishTimeText, &v.PublishTS, &collected); err != nil {
			return nil, fmt.Errorf("scan videos: %w", err)
		}
		v.LikeCount, v.CommentCount, v.CollectCount, v.ViewCount = uint64(like), uint64(comment), uint64(collect), uint64(view)
		v.CollectedAt = scanTime(collected)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return out, nil
}

// DeleteVideos 按范围清理视频；days 优先按 publish_ts，缺失时回退 collected_time。
func (s *SQLite) DeleteVideos(ctx context.Context, scope Scope, f Filter) (int64, error) {
	var res sql.Result
	var err error
	switch scope {
	case ScopeSelected:
		if len(f.IDs) == 0 {
			return 0, nil
		}
		res, err = s.db.ExecContext(ctx, `DELETE FROM videos WHERE id IN (`+placeholders(len(f.IDs))+`)`, idArgs(f.IDs)...)
	case ScopeDays:
		if f.Days <= 0 {
			return 0, nil
		}
		cutoff := s.now().AddDate(0, 0, -f.Days).Unix()
		res, err = s.db.ExecContext(ctx, `DELETE FROM videos WHERE
            (publish_ts IS NOT NULL AND publish_ts > 0 AND publish_ts < ?)
            OR ((publish_ts IS NULL OR publish_ts = 0) AND collected_time < datetime('now', ?))`,
			cutoff, fmtDays(f.Days))
	case ScopeAll:
		res, err = s.db.ExecContext(ctx, `DELETE FROM videos`)
	default:
		return 0, fmt.Errorf("unknown videos scope %q", scope)
	}
	if err != nil {
		return 0, fmt.Errorf("delete videos (%s): %w", scope, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
