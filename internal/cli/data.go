package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"douyin-harvester/internal/export"
	"douyin-harvester/internal/store"
)

// dbCmd 构造只在数据库模式下可用的子命令。
func dbCmd(opts *rootOptions, use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, a *app, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return ErrSimpleMode
			}
			return run(cmd, a, args)
		},
	}
}

func statsCmd(opts *rootOptions) *cobra.Command {
	var tasks int
	cmd := dbCmd(opts, "stats", "查看视频与用户统计", cobra.NoArgs, func(cmd *cobra.Command, a *app, _ []string) error {
		ctx := cmd.Context()
		st, err := a.db.Stats(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"stats": st}
		if tasks > 0 {
			logs, err := a.db.ListTaskLogs(ctx, tasks)
			if err != nil {
				return err
			}
			out["tasks"] = logs
		}
		return writeJSON(cmd.OutOrStdout(), out)
	})
	cmd.Flags().IntVar(&tasks, "tasks", 0, "also list the latest N task logs")
	return cmd
}

func clearCmd(opts *rootOptions) *cobra.Command {
	var (
		scope string
		days  int
		ids   []string
	)
	cmd := dbCmd(opts, "clear users|videos|tasks", "按范围清理数据", cobra.ExactArgs(1), func(cmd *cobra.Command, a *app, args []string) error {
		f := store.Filter{Days: days}
		for _, s := range ids {
			id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", s, err)
			}
			f.IDs = append(f.IDs, id)
		}
		sc := store.Scope(scope)
		if len(f.IDs) > 0 && scope == string(store.ScopeAll) && !cmd.Flags().Changed("scope") {
			sc = store.ScopeSelected
		}
		ctx := cmd.Context()
		var n int64
		var err error
		switch args[0] {
		case "users":
			n, err = a.db.DeleteUsers(ctx, sc, f)
		case "videos":
			n, err = a.db.DeleteVideos(ctx, sc, f)
		case "tasks":
			n, err = a.db.DeleteTaskLogs(ctx, sc, f)
		default:
			return fmt.Errorf("unknown table %q (users|videos|tasks)", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d %s\n", n, args[0])
		return nil
	})
	cmd.Flags().StringVar(&scope, "scope", string(store.ScopeAll), "all|sent|unsent|days|selected")
	cmd.Flags().IntVar(&days, "days", 0, "with --scope days: delete records older than N days")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "with --scope selected: record ids")
	return cmd
}

// pendingCmd 把指定用户重新置为待发送。
func pendingCmd(opts *rootOptions) *cobra.Command {
	return dbCmd(opts, "pending <user_url>...", "将用户重新置为待发送", cobra.MinimumNArgs(1), func(cmd *cobra.Command, a *app, args []string) error {
		n, err := a.db.MarkPending(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "marked %d users pending\n", n)
		return nil
	})
}

func exportCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := dbCmd(opts, "export", "将视频与用户导出为 JSON", cobra.NoArgs, func(cmd *cobra.Command, a *app, _ []string) error {
		if path == "" {
			path = a.cfg.ExportPath
		}
		if err := export.ToJSON(cmd.Context(), a.db, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", path)
		return nil
	})
	cmd.Flags().StringVarP(&path, "output", "o", "", "output path (default: EXPORT_PATH)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
