// 包 logx 是对标准库 slog 的薄封装：
// - 支持级别/格式/语言/颜色配置
// - 提供 pretty 中文输出（[调试]/[信息]/[警告]/[错误]）
// - 通过 Debugf/Infof/Warnf/Errorf 暴露，业务层不直接依赖 slog
package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Options 为日志初始化参数，对应 settings.yaml 的 LOG_* 配置。
type Options struct {
	Level  string // debug|info|warn|error|off
	Format string // pretty|json|text
	Locale string // zh-CN|en
	Color  string // auto|always|never
	Output io.Writer
}

// Init 按配置初始化全局日志器。
func Init(opts Options) {
	slog.SetDefault(New(opts))
}

// New 构造日志器但不设为全局。
func New(opts Options) *slog.Logger {
	w := opts.Output
	if w == nil {
		w = os.Stdout
	}
	lv := parseLevel(opts.Level)
	hopts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	case "text":
		h = slog.NewTextHandler(w, hopts)
	default:
		h = NewPrettyHandler(w, lv, opts.Locale, opts.Color)
	}
	return slog.New(h)
}

// levelOff 高于所有级别，用于关闭输出。
const levelOff slog.Level = 100

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none", "silent", "off":
		return levelOff
	default:
		return slog.LevelInfo
	}
}

// 便捷函数：格式化并按级别输出
func Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { slog.Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...)) }

// For 返回带 service 属性的日志器，服务内部统一使用。
func For(service string) *slog.Logger {
	return slog.Default().With(slog.String("service", service))
}

// PrettyHandler 为人读格式：时间 + 等级标签 + 消息 + k=v。
type PrettyHandler struct {
	w      io.Writer
	level  slog.Level
	labels [4]string
	color  bool
	mu     *sync.Mutex
	attrs  []slog.Attr
	prefix string
}

// NewPrettyHandler 创建美化 Handler；locale 以 zh 开头时使用中文标签。
func NewPrettyHandler(w io.Writer, lv slog.Level, locale, colorMode string) *PrettyHandler {
	if w == nil {
		w = os.Stdout
	}
	return &PrettyHandler{
		w:      w,
		level:  lv,
		labels: labelsFor(locale),
		color:  shouldColor(w, colorMode),
		mu:     &sync.Mutex{},
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.level < levelOff && l >= h.level
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')
	lvl := h.label(r.Level)
	if h.color {
		lvl = colorize(lvl, r.Level)
	}
	buf.WriteString(lvl)
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// writeAttr 展平分组属性为 group.key=value。
func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, p, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(prefix)
	buf.WriteString(a.Key)
	buf.WriteByte('=')
	buf.WriteString(a.Value.String())
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func labelsFor(locale string) [4]string {
	if locale == "" || strings.HasPrefix(strings.ToLower(locale), "zh") {
		return [4]string{"[调试]", "[信息]", "[警告]", "[错误]"}
	}
	return [4]string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}
}

func (h *PrettyHandler) label(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return h.labels[0]
	case l < slog.LevelWarn:
		return h.labels[1]
	case l < slog.LevelError:
		return h.labels[2]
	default:
		return h.labels[3]
	}
}

// shouldColor 遵循 NO_COLOR 与 LOG_COLOR；auto 时仅对终端着色。
func shouldColor(w io.Writer, mode string) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "auto", "":
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				return fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return false
}

func colorize(s string, l slog.Level) string {
	code := "0"
	switch {
	case l < slog.LevelInfo:
		code = "90"
	case l < slog.LevelWarn:
		code = "36"
	case l < slog.LevelError:
		code = "33"
	default:
		code = "31"
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}
