package normalize

import (
	"regexp"
	"strings"
)

// DefaultNoise 为评论区常见的界面噪声与日期/时刻格式。
var DefaultNoise = []*regexp.Regexp{
	regexp.MustCompile(`展开\s*\d*\s*条回复`),
	regexp.MustCompile(`查看\s*\d*\s*条回复`),
	regexp.MustCompile(`回复\s*\d*`),
	regexp.MustCompile(`分享\s*\d*`),
	regexp.MustCompile(`举报`),
	regexp.MustCompile(`\d{1,2}月\d{1,2}日`),
	regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`),
	regexp.MustCompile(`\b\d{1,2}:\d{2}\b`),
	relTokenRe,
}

var (
	// IP 归属地紧跟在相对时间之后，以标点分隔
	ipAfterTimeRe = regexp.MustCompile(`(?:刚刚|\d+\s*个?\s*(?:分钟|小时|小時|天|周|月|年)\s*前)\s*[，,·]\s*([\p{Han}·\s]{2,15})`)
	ipLabelRe     = regexp.MustCompile(`IP\s*属地\s*[：:]?\s*([\p{Han}·]{2,15})`)
	timeUnitRe    = regexp.MustCompile(`^(?:刚刚|前|分钟|小时|小時|天|周|月|年)+$`)
	hanRe         = regexp.MustCompile(`\p{Han}`)
	edgeSepRe     = regexp.MustCompile(`^[\s：:·，,]+|[\s·，,]+$`)
)

// StripNoise 去掉界面噪声与已识别出的片段（用户名、IP、时间），并折叠空白。
func StripNoise(text string, noise []*regexp.Regexp, known ...string) string {
	for _, k := range known {
		if k = strings.TrimSpace(k); k != "" {
			text = strings.ReplaceAll(text, k, " ")
		}
	}
	for _, re := range noise {
		text = re.ReplaceAllString(text, " ")
	}
	text = strings.Join(strings.Fields(text), " ")
	return edgeSepRe.ReplaceAllString(text, "")
}

// ExtractIPLocation 优先使用 DOM 提示；否则在相对时间之后寻找中文地名。
func ExtractIPLocation(raw, domHint string) string {
	if h := cleanIP(domHint); h != "" {
		return h
	}
	if m := ipLabelRe.FindStringSubmatch(raw); m != nil {
		if ip := pickIP(m[1]); ip != "" {
			return ip
		}
	}
	if m := ipAfterTimeRe.FindStringSubmatch(raw); m != nil {
		return pickIP(m[1])
	}
	return ""
}

// pickIP 取捕获串的首个词，且不能是时间单位。
func pickIP(s string) string {
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, "·")
		if len([]rune(f)) < 2 || timeUnitRe.MatchString(f) || !hanRe.MatchString(f) {
			continue
		}
		return f
	}
	return ""
}

func cleanIP(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "IP属地")
	s = strings.TrimLeft(s, "：: ")
	return strings.TrimSpace(s)
}

// CommentFields 为评论原始文本拆分后的字段。
type CommentFields struct {
	Text     string
	TimeText string
	IP       string
}

// SplitCommentFields 从评论项的整段文本中拆出正文、相对时间与 IP 归属地。
func SplitCommentFields(raw, username, ipHint string) CommentFields {
	text := strings.TrimSpace(raw)
	if text == "" {
		return CommentFields{IP: cleanIP(ipHint)}
	}
	out := CommentFields{TimeText: RelativeTimeToken(text)}
	out.IP = ExtractIPLocation(text, ipHint)
	known := []string{out.TimeText}
	if ipHint != "" {
		known = append(known, out.IP)
	} else if loc := ipAfterTimeRe.FindStringSubmatchIndex(text); loc != nil && out.IP != "" {
		// 只去掉 "时间·地名" 这一段，保留其后的正文
		end := loc[1]
		if i := strings.Index(text[loc[2]:loc[3]], out.IP); i >= 0 {
			end = loc[2] + i + len(out.IP)
		}
		text = text[:loc[0]] + " " + text[end:]
	}
	text = ipLabelRe.ReplaceAllString(text, " ")
	if username != "" {
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, username) {
			text = strings.TrimLeft(strings.TrimPrefix(text, username), "：: ")
		}
	}
	out.Text = StripNoise(text, DefaultNoise, known...)
	return out
}
