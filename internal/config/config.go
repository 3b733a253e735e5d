// 包 config 负责加载与校验应用配置（settings.yaml），
// 对外提供结构体 Config 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 为全部运行参数；顶层键保持大写，与 settings.yaml 一致。
type Config struct {
	Browser    Browser  `yaml:"BROWSER"`
	Douyin     Douyin   `yaml:"DOUYIN"`
	Behavior   Behavior `yaml:"BEHAVIOR"`
	Safety     Safety   `yaml:"SAFETY"`
	Search     Search   `yaml:"SEARCH"`
	Comments   Comments `yaml:"COMMENTS"`
	Message    Message  `yaml:"MESSAGE"`
	Like       Like     `yaml:"LIKE"`
	SeedFeeds  []string `yaml:"SEED_FEEDS"`
	FeedMax    int      `yaml:"FEED_MAX"`
	Schedule   []Job    `yaml:"SCHEDULE"`
	RulesPath  string   `yaml:"RULES"`
	Templates  string   `yaml:"TEMPLATES"` // 私信按钮截图模板目录
	SimpleMode bool     `yaml:"SIMPLE_MODE"`
	ExportPath string   `yaml:"EXPORT_PATH"`
	Database   Database `yaml:"DATABASE"`
	Proxy      Proxy    `yaml:"PROXY"`
	Retry      int      `yaml:"RETRY"`
	License    License  `yaml:"LICENSE"`
	LogLevel   string   `yaml:"LOG_LEVEL"`
	LogFormat  string   `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale  string   `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor   string   `yaml:"LOG_COLOR"`  // auto|always|never
}

// Browser 浏览器启动参数。
type Browser struct {
	Headless     bool     `yaml:"headless"`
	UserDataDir  string   `yaml:"user_data_dir"`
	Bin          string   `yaml:"bin"`
	ViewportW    int      `yaml:"viewport_width"`
	ViewportH    int      `yaml:"viewport_height"`
	UserAgent    string   `yaml:"user_agent"`
	Flags        []string `yaml:"flags"`
	MockPatterns []string `yaml:"mock_patterns"`
	OpTimeoutMS  int      `yaml:"op_timeout_ms"`
	MaxRetries   int      `yaml:"max_retries"`
}

// Douyin 站点地址与快捷键。
type Douyin struct {
	BaseURL      string    `yaml:"base_url"`
	RecommendURL string    `yaml:"recommend_url"`
	SearchType   string    `yaml:"search_type"` // video|general
	Shortcuts    Shortcuts `yaml:"shortcuts"`
}

type Shortcuts struct {
	Next string `yaml:"next"`
	Like string `yaml:"like"`
}

// Behavior 拟人化节奏。
type Behavior struct {
	WatchMinSec      int     `yaml:"watch_min_sec"`
	WatchMaxSec      int     `yaml:"watch_max_sec"`
	LikeProb         float64 `yaml:"like_prob"`
	ScrollDelayMinMS int     `yaml:"scroll_delay_min_ms"`
	ScrollDelayMaxMS int     `yaml:"scroll_delay_max_ms"`
	ActionDelayMinMS int     `yaml:"action_delay_min_ms"`
	ActionDelayMaxMS int     `yaml:"action_delay_max_ms"`
}

// Safety 风控相关的冷却与休息。
type Safety struct {
	FollowCooldownMS int `yaml:"follow_cooldown_ms"`
	RestEvery        int `yaml:"rest_every"`
	RestMinSec       int `yaml:"rest_min_sec"`
	RestMaxSec       int `yaml:"rest_max_sec"`
	SendGapMinSec    int `yaml:"send_gap_min_sec"`
	SendGapMaxSec    int `yaml:"send_gap_max_sec"`
}

// Search 阶段一：关键词搜索视频（platform=xhs 时搜索小红书笔记）。
type Search struct {
	Platform   string   `yaml:"platform"` // douyin|xhs
	Keywords   []string `yaml:"keywords"`
	Target     int      `yaml:"target_per_keyword"`
	MaxScrolls int      `yaml:"max_scrolls"`
	Stagnation int      `yaml:"stagnation"`
	GraceSec   int      `yaml:"grace_sec"`
	MaxAgeDays int      `yaml:"max_age_days"`
}

// Comments 阶段二：评论区筛选用户。
type Comments struct {
	VideoURLs   []string `yaml:"video_urls"`
	Keywords    []string `yaml:"keywords"`
	IPKeywords  []string `yaml:"ip_keywords"`
	VideoLimit  int      `yaml:"video_limit"`
	MaxPerVideo int      `yaml:"max_per_video"`
	MaxScrolls  int      `yaml:"max_scrolls"`
	Stagnation  int      `yaml:"stagnation"`
	GraceSec    int      `yaml:"grace_sec"`
}

// Message 私信参数；Rotate 为 true 时每个用户切换一个账号目录。
type Message struct {
	Texts          []string `yaml:"texts"`
	Limit          int      `yaml:"limit"`
	UserURLs       []string `yaml:"user_urls"`
	Rotate         bool     `yaml:"rotate"`
	Profiles       []string `yaml:"profiles"`
	BrowseBetween  bool     `yaml:"browse_between"`
	BrowseVideos   int      `yaml:"browse_videos"`
	ReadyTimeoutMS int      `yaml:"ready_timeout_ms"`
}

// Like 推荐流养号。
type Like struct {
	DurationMin int     `yaml:"duration_min"`
	LikeProb    float64 `yaml:"like_prob"`
	RestEvery   int     `yaml:"rest_every"`
	RestMinSec  int     `yaml:"rest_min_sec"`
	RestMaxSec  int     `yaml:"rest_max_sec"`
}

// Job 为 daemon 模式下的一条定时任务。
type Job struct {
	Name    string `yaml:"name"`
	Spec    string `yaml:"spec"`    // cron 表达式，如 "0 */2 * * *"
	Service string `yaml:"service"` // search|comments|enrich|message|like
}

type Database struct {
	Type string `yaml:"type"` // sqlite (default)
	DSN  string `yaml:"dsn"`  // ./data.db
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

// License 授权服务；Server/Key 为空时由环境变量 LICENSE_SERVER/DYH_LICENSE_KEY 补充。
type License struct {
	Server    string `yaml:"server"`
	Key       string `yaml:"key"`
	CachePath string `yaml:"cache_path"`
	// Required 为 true 时采集与私信命令要求授权有效
	Required bool `yaml:"required"`
}

// Load 从文件读取 YAML 并反序列化为 Config，同时进行基础校验与默认值填充。
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Default 返回全部取默认值的配置。
func Default() *Config {
	var c Config
	_ = c.Validate()
	return &c
}

// Validate 负责合法性检查与默认值设置，避免在业务层分散判空逻辑。
// 关键词为空不在此处拒绝，由各服务入口返回 ErrEmptyKeywords。
func (c *Config) Validate() error {
	if err := c.validateRanges(); err != nil {
		return err
	}
	b := &c.Browser
	def(&b.ViewportW, 1366)
	def(&b.ViewportH, 768)
	def(&b.OpTimeoutMS, 15000)
	def(&b.MaxRetries, 3)
	if b.UserDataDir == "" {
		b.UserDataDir = "./profiles/default"
	}

	d := &c.Douyin
	if d.BaseURL == "" {
		d.BaseURL = "https://www.douyin.com"
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")
	if d.RecommendURL == "" {
		d.RecommendURL = d.BaseURL + "/?recommend=1"
	}
	switch d.SearchType {
	case "":
		d.SearchType = "video"
	case "video", "general":
	default:
		return fmt.Errorf("unsupported DOUYIN.search_type: %s", d.SearchType)
	}
	if d.Shortcuts.Next == "" {
		d.Shortcuts.Next = "ArrowDown"
	}
	if d.Shortcuts.Like == "" {
		d.Shortcuts.Like = "z"
	}

	bh := &c.Behavior
	def(&bh.WatchMinSec, 5)
	def(&bh.WatchMaxSec, 25)
	if bh.LikeProb == 0 {
		bh.LikeProb = 0.7
	}
	def(&bh.ScrollDelayMinMS, 1000)
	def(&bh.ScrollDelayMaxMS, 3000)
	def(&bh.ActionDelayMinMS, 300)
	def(&bh.ActionDelayMaxMS, 900)

	s := &c.Safety
	def(&s.FollowCooldownMS, 2000)
	def(&s.RestEvery, 5)
	def(&s.RestMinSec, 30)
	def(&s.RestMaxSec, 90)
	def(&s.SendGapMinSec, 8)
	def(&s.SendGapMaxSec, 20)

	sr := &c.Search
	switch sr.Platform {
	case "":
		sr.Platform = "douyin"
	case "douyin", "xhs":
	default:
		return fmt.Errorf("unsupported SEARCH.platform: %s", sr.Platform)
	}
	def(&sr.Target, 50)
	def(&sr.MaxScrolls, 40)
	def(&sr.Stagnation, 5)
	def(&sr.GraceSec, 6)

	cm := &c.Comments
	def(&cm.VideoLimit, 20)
	def(&cm.MaxPerVideo, 200)
	def(&cm.MaxScrolls, 60)
	def(&cm.Stagnation, 12)
	def(&cm.GraceSec, 8)

	m := &c.Message
	def(&m.Limit, 20)
	def(&m.BrowseVideos, 2)
	def(&m.ReadyTimeoutMS, 15000)
	if m.Rotate && len(m.Profiles) == 0 {
		return errors.New("MESSAGE.rotate requires MESSAGE.profiles")
	}

	lk := &c.Like
	def(&lk.DurationMin, 30)
	if lk.LikeProb == 0 {
		lk.LikeProb = bh.LikeProb
	}
	def(&lk.RestEvery, 10)
	def(&lk.RestMinSec, 20)
	def(&lk.RestMaxSec, 40)

	for _, r := range [][2]*int{
		{&bh.WatchMinSec, &bh.WatchMaxSec},
		{&bh.ScrollDelayMinMS, &bh.ScrollDelayMaxMS},
		{&bh.ActionDelayMinMS, &bh.ActionDelayMaxMS},
		{&s.RestMinSec, &s.RestMaxSec},
		{&s.SendGapMinSec, &s.SendGapMaxSec},
		{&lk.RestMinSec, &lk.RestMaxSec},
	} {
		if *r[0] > *r[1] {
			*r[1] = *r[0]
		}
	}

	def(&c.FeedMax, 30)
	for i, j := range c.Schedule {
		if strings.TrimSpace(j.Spec) == "" || strings.TrimSpace(j.Service) == "" {
			return fmt.Errorf("SCHEDULE[%d] requires spec and service", i)
		}
	}
	if c.RulesPath == "" {
		c.RulesPath = "./rules.yaml"
	}
	if c.Templates == "" {
		c.Templates = "./templates"
	}
	if c.ExportPath == "" {
		c.ExportPath = "./data.json"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "./data.db"
	}
	if c.Retry <= 0 {
		c.Retry = 2
	}
	if c.License.CachePath == "" {
		c.License.CachePath = "./license.json"
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// validateRanges 拒绝负数与颠倒的区间；零值稍后由默认值填充。
func (c *Config) validateRanges() error {
	pairs := []struct {
		name     string
		min, max int
	}{
		{"BEHAVIOR.watch", c.Behavior.WatchMinSec, c.Behavior.WatchMaxSec},
		{"BEHAVIOR.scroll_delay", c.Behavior.ScrollDelayMinMS, c.Behavior.ScrollDelayMaxMS},
		{"BEHAVIOR.action_delay", c.Behavior.ActionDelayMinMS, c.Behavior.ActionDelayMaxMS},
		{"SAFETY.rest", c.Safety.RestMinSec, c.Safety.RestMaxSec},
		{"SAFETY.send_gap", c.Safety.SendGapMinSec, c.Safety.SendGapMaxSec},
		{"LIKE.rest", c.Like.RestMinSec, c.Like.RestMaxSec},
	}
	for _, p := range pairs {
		if p.min < 0 || p.max < 0 {
			return fmt.Errorf("%s must be >= 0", p.name)
		}
		if p.min > 0 && p.max > 0 && p.min > p.max {
			return fmt.Errorf("%s: min %d > max %d", p.name, p.min, p.max)
		}
	}
	for name, p := range map[string]float64{"BEHAVIOR.like_prob": c.Behavior.LikeProb, "LIKE.like_prob": c.Like.LikeProb} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be within [0,1]", name)
		}
	}
	if c.Search.Target < 0 || c.Search.MaxAgeDays < 0 || c.Comments.MaxPerVideo < 0 || c.Message.Limit < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

func def(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

// OpTimeout 为单次浏览器操作的超时。
func (b Browser) OpTimeout() time.Duration { return time.Duration(b.OpTimeoutMS) * time.Millisecond }

// ScrollDelay 返回滚动后的稳定等待区间。
func (b Behavior) ScrollDelay() (time.Duration, time.Duration) {
	return ms(b.ScrollDelayMinMS), ms(b.ScrollDelayMaxMS)
}

// ActionDelay 返回相邻 UI 动作之间的拟人等待区间。
func (b Behavior) ActionDelay() (time.Duration, time.Duration) {
	return ms(b.ActionDelayMinMS), ms(b.ActionDelayMaxMS)
}

// Watch 返回单个视频的观看时长区间。
func (b Behavior) Watch() (time.Duration, time.Duration) {
	return sec(b.WatchMinSec), sec(b.WatchMaxSec)
}

func ms(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }

// SearchURL 拼接抖音搜索页地址。
func (d Douyin) SearchURL(keyword string) string {
	return d.BaseURL + "/search/" + url.PathEscape(keyword) + "?type=" + d.SearchType
}
