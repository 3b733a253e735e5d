// 包 rules 负责加载并提供站点选择器规则（rules.yaml），
// 以预设名（douyin/xhs）组织 CSS 选择器，用于卡片、评论、主页与视频页解析。
// 文件中未出现的预设与字段回退到内置默认值。
package rules

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules 表示全部规则集合：键为预设名，值为具体规则。
type Rules struct {
	Presets map[string]Preset `yaml:",inline"`
}

// Preset 为单个站点的解析规则集合。
// Card/Comment/Video 中的字段为快照表达式（见 dom.Value）：
// - 文本：".name" 或 "."（取当前项文本）
// - 属性："a@href" / "@data-id"
// - 回退：使用 "||" 连接多个候选
// Profile 与 Player 为实时页面上依次尝试的选择器列表。
type Preset struct {
	SearchURL string   `yaml:"search_url"` // {kw} 为关键词占位
	Card      *Card    `yaml:"card"`
	Comment   *Comment `yaml:"comment"`
	Profile   *Profile `yaml:"profile"`
	Video     *Video   `yaml:"video"`
}

// Card 搜索结果卡片。
type Card struct {
	Item       string `yaml:"item"`
	Link       string `yaml:"link"`
	Title      string `yaml:"title"`
	Author     string `yaml:"author"`
	AuthorLink string `yaml:"author_link"`
	Like       string `yaml:"like"`
	Time       string `yaml:"time"`
}

// Comment 评论条目。
type Comment struct {
	Item     string `yaml:"item"`
	UserName string `yaml:"user_name"`
	UserLink string `yaml:"user_link"`
	Text     string `yaml:"text"`
	Time     string `yaml:"time"`
	IP       string `yaml:"ip"`
}

// Profile 用户主页与私信对话框。
type Profile struct {
	Follow  []string `yaml:"follow"`
	Message []string `yaml:"message"`
	Buttons []string `yaml:"buttons"` // 锚点区域内的候选按钮
	Dialog  []string `yaml:"dialog"`
	Input   []string `yaml:"input"`
	Send    []string `yaml:"send"`
	Bubble  []string `yaml:"bubble"`
}

// Video 视频详情页。
type Video struct {
	Player  []string `yaml:"player"`
	Desc    string   `yaml:"desc"`
	Author  string   `yaml:"author"`
	Like    string   `yaml:"like"`
	Comment string   `yaml:"comment"`
	Collect string   `yaml:"collect"`
	Time    string   `yaml:"time"`
}

// Builtin 返回内置预设。
func Builtin() *Rules {
	return &Rules{Presets: map[string]Preset{
		"douyin": {
			SearchURL: "https://www.douyin.com/search/{kw}?type=video",
			Card: &Card{
				Item:       `li[class*="search-result-card"]||div[class*="search-result-card"]||[data-e2e="scroll-list"] li`,
				Link:       `a[href*="/video/"]@href`,
				Title:      `[class*="title"]||[data-e2e="video-desc"]||a[href*="/video/"]`,
				Author:     `[class*="author-name"]||[class*="nickname"]||a[href*="/user/"]`,
				AuthorLink: `a[href*="/user/"]@href`,
				Like:       `[class*="like-count"]||[class*="digg"]`,
				Time:       `[class*="time"]||[class*="date"]`,
			},
			Comment: &Comment{
				Item:     `div[data-e2e="comment-item"]||[class*="comment-item"]`,
				UserName: `a[href^="//www.douyin.com/user/"]||a[href*="/user/"]`,
				UserLink: `a[href^="//www.douyin.com/user/"]@href||a[href*="/user/"]@href`,
				Text:     `.`,
				Time:     `[class*="comment-time"]||[class*="time"]`,
				IP:       `[class*="ip-label"]||[class*="location"]`,
			},
			Profile: &Profile{
				Follow:  []string{`[data-e2e="follow-btn"]`, `button[class*="follow"]`},
				Message: []string{`[data-e2e="message-btn"]`, `.message-button`, `button[class*="message"]`},
				Buttons: []string{`button`, `[role="button"]`, `div[class*="btn"]`},
				Dialog:  []string{`[class*="im-dialog"]`, `[class*="chat-panel"]`, `[role="dialog"]`},
				Input:   []string{`textarea`, `[contenteditable="true"]`},
				Send:    []string{`[data-e2e="send-btn"]`, `button[class*="send"]`},
				Bubble:  []string{`[class*="message-item"]`, `[class*="msg-item"]`, `[class*="bubble"]`},
			},
			Video: &Video{
				Player:  []string{`[data-e2e="video-player"]`, `.xgplayer-container`, `video`},
				Desc:    `[data-e2e="video-desc"]||h1||title`,
				Author:  `[data-e2e="video-author-title"]||[class*="author-name"]`,
				Like:    `[data-e2e="video-player-digg"]||[class*="like-count"]`,
				Comment: `[data-e2e="feed-comment-icon"]||[class*="comment-count"]`,
				Collect: `[data-e2e="video-player-collect"]||[class*="collect-count"]`,
				Time:    `[data-e2e="detail-video-publish-time"]||[class*="publish-time"]`,
			},
		},
		"xhs": {
			SearchURL: "https://www.xiaohongshu.com/search_result?keyword={kw}&type=51",
			Card: &Card{
				Item:       `section.note-item`,
				Link:       `a.cover@href||a.cover.mask@href||a.note-link@href||a[href^='/explore/']@href`,
				Title:      `div.title span||a.title span||div.title`,
				Author:     `div.author-wrapper span.name||a.author span.name||span.name`,
				AuthorLink: `div.author-wrapper a@href||a.author@href`,
				Like:       `div.like-wrapper span.count||span.like-wrapper span.count||span.count`,
				Time:       `div.time span||span.time||div.time`,
			},
		},
	}}
}

// Load 从文件加载 YAML 到 Rules.Presets，并与内置预设按字段合并。
// 文件不存在时直接返回内置预设。
func Load(path string) (*Rules, error) {
	r := Builtin()
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var file map[string]Preset
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("unmarshal rules %s: %w", path, err)
	}
	for name, p := range file {
		r.Presets[strings.ToLower(name)] = merge(r.Presets[strings.ToLower(name)], p)
	}
	return r, nil
}

// merge 用 over 中的非空字段覆盖 base。
func merge(base, over Preset) Preset {
	if over.SearchURL != "" {
		base.SearchURL = over.SearchURL
	}
	if over.Card != nil {
		base.Card = over.Card
	}
	if over.Comment != nil {
		base.Comment = over.Comment
	}
	if over.Profile != nil {
		base.Profile = over.Profile
	}
	if over.Video != nil {
		base.Video = over.Video
	}
	return base
}

// GetPreset 按名称获取预设（不区分大小写），若为空或不存在则回退到 "douyin"。
func (r *Rules) GetPreset(name string) (Preset, bool) {
	if r == nil || len(r.Presets) == 0 {
		return Preset{}, false
	}
	if name == "" {
		name = "douyin"
	}
	if p, ok := r.Presets[name]; ok {
		return p, true
	}
	lower := strings.ToLower(name)
	for k, v := range r.Presets {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	if p, ok := r.Presets["douyin"]; ok {
		return p, true
	}
	return Preset{}, false
}

// SearchURLFor 将关键词代入 SearchURL 模板。
func (p Preset) SearchURLFor(escapedKeyword string) string {
	return strings.ReplaceAll(p.SearchURL, "{kw}", escapedKeyword)
}
