package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	douyinBase = "https://www.douyin.com"
	xhsBase    = "https://www.xiaohongshu.com"
)

var (
	videoPathRe = regexp.MustCompile(`/(?:video|note)/(\d{6,})`)
	modalIDRe   = regexp.MustCompile(`[?&](?:modal_id|vid)=(\d{6,})`)
	bareIDRe    = regexp.MustCompile(`^\d{16,21}$`)
	userPathRe  = regexp.MustCompile(`/user/([A-Za-z0-9_\-.]+)`)
	noteIDRe    = regexp.MustCompile(`/(?:explore|discovery/item|search_result)/([0-9a-f]{24})`)
)

// VideoID 从任意形式的视频链接（或纯数字 ID）中取出数字 ID。
func VideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if bareIDRe.MatchString(raw) {
		return raw
	}
	if m := videoPathRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := modalIDRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// CanonicalVideoURL 依据视频 ID 重建规范链接（丢弃查询参数）；无 ID 时返回空串。
func CanonicalVideoURL(raw string) string {
	id := VideoID(raw)
	if id == "" {
		return ""
	}
	return douyinBase + "/video/" + id
}

// UserURL 由 uid/sec_uid 拼出用户主页。
func UserURL(uid string) string {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ""
	}
	return douyinBase + "/user/" + url.PathEscape(uid)
}

// CanonicalUserURL 规范化评论区里的用户链接（"//www.douyin.com/user/xxx?..."）。
func CanonicalUserURL(href string) string {
	m := userPathRe.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return douyinBase + "/user/" + m[1]
}

// NoteID 从小红书笔记链接取出 24 位十六进制 ID。
func NoteID(raw string) string {
	if m := noteIDRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// CanonicalNoteURL 将小红书笔记链接规范为 explore 形式。
func CanonicalNoteURL(raw string) string {
	id := NoteID(raw)
	if id == "" {
		return ""
	}
	return xhsBase + "/explore/" + id
}

// AbsURL 将站内相对或协议相对链接补全为 https 绝对链接。
func AbsURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
