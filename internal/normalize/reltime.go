package normalize

import (
	"regexp"
	"strconv"
	"time"
)

// 各时间单位对应秒数；月、年按 30 天、365 天近似。
var unitSeconds = map[string]int64{
	"分钟": 60,
	"小时": 3600,
	"小時": 3600,
	"天":  86400,
	"周":  604800,
	"月":  2592000,
	"年":  31536000,
}

var (
	relTimeRe   = regexp.MustCompile(`(\d+)\s*个?\s*(分钟|小时|小時|天|周|月|年)\s*前`)
	relTokenRe  = regexp.MustCompile(`刚刚|\d+\s*个?\s*(?:分钟|小时|小時|天|周|月|年)\s*前`)
	justNowText = "刚刚"
)

// ParseRelativeTime 将 "刚刚"、"3天前" 等相对时间换算为 epoch 秒；无法识别时返回 0。
func ParseRelativeTime(text string, now time.Time) int64 {
	if text == "" {
		return 0
	}
	loc := relTokenRe.FindStringIndex(text)
	if loc == nil {
		return 0
	}
	token := text[loc[0]:loc[1]]
	if token == justNowText {
		return now.Unix()
	}
	m := relTimeRe.FindStringSubmatch(token)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	ts := now.Unix() - n*unitSeconds[m[2]]
	if ts < 0 {
		return 0
	}
	return ts
}

// RelativeTimeToken 返回文本中第一个相对时间片段（如 "3天前"），没有则返回空串。
func RelativeTimeToken(text string) string {
	return relTokenRe.FindString(text)
}

// FormatTimeAgo 将 epoch 秒渲染为相对时间文本，ts<=0 返回空串。
func FormatTimeAgo(ts int64, now time.Time) string {
	if ts <= 0 {
		return ""
	}
	delta := now.Unix() - ts
	if delta < 0 {
		delta = 0
	}
	if delta < 60 {
		return justNowText
	}
	mins := delta / 60
	if mins < 60 {
		return strconv.FormatInt(mins, 10) + "分钟前"
	}
	hours := mins / 60
	if hours < 24 {
		return strconv.FormatInt(hours, 10) + "小时前"
	}
	days := hours / 24
	switch {
	case days < 7:
		return strconv.FormatInt(days, 10) + "天前"
	case days < 30:
		return strconv.FormatInt(days/7, 10) + "周前"
	case days < 365:
		return strconv.FormatInt(days/30, 10) + "月前"
	default:
		return strconv.FormatInt(days/365, 10) + "年前"
	}
}
