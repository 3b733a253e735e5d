package store

import (
	"context"
	"database/sql"
	"fmt"

	"douyin-harvester/internal/model"
)

// LogTask 记录一次任务运行的结果。
func (s *SQLite) LogTask(ctx context.Context, service, status, message string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_logs(service, status, message, created_time) VALUES(?,?,?,?)`,
		service, status, message, fmtTS(s.now()))
	if err != nil {
		return fmt.Errorf("log task %s: %w", service, err)
	}
	return nil
}

// ListTaskLogs 返回最近的任务记录。
func (s *SQLite) ListTaskLogs(ctx context.Context, limit int) ([]model.TaskLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(service,''), COALESCE(status,''), COALESCE(message,''), created_time
        FROM task_logs ORDER BY created_time DESC, id DESC`+limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("query task logs: %w", err)
	}
	defer rows.Close()
	var out []model.TaskLog
	for rows.Next() {
		var l model.TaskLog
		var created sql.NullTime
		if err := rows.Scan(&l.ID, &l.Service, &l.Status, &l.Message, &created); err != nil {
			return nil, fmt.Errorf("scan task logs: %w", err)
		}
		l.CreatedAt = scanTime(created)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task logs: %w", err)
	}
	return out, nil
}

// DeleteTaskLogs 清理任务记录：days 或 all。
func (s *SQLite) DeleteTaskLogs(ctx context.Context, scope Scope, f Filter) (int64, error) {
	var res sql.Result
	var err error
	switch scope {
	case ScopeDays:
		res, err = s.db.ExecContext(ctx, `DELETE FROM task_logs WHERE created_time < datetime('now', ?)`, fmtDays(f.Days))
	case ScopeAll:
		res, err = s.db.ExecContext(ctx, `DELETE FROM task_logs`)
	default:
		return 0, fmt.Errorf("unknown task_logs scope %q", scope)
	}
	if err != nil {
		return 0, fmt.Errorf("delete task logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
