package normalize

import (
	"regexp"
	"strings"
)

var listSepRe = regexp.MustCompile(`[\s,，;；]+`)

// SplitList 按空白、中英文逗号与分号切分，去掉空项。
func SplitList(text string) []string {
	var out []string
	for _, p := range listSepRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitLines 按换行或逗号切分（多账号目录列表），保留路径中的空格。
func SplitLines(text string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' || r == ',' || r == '，' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchKeywords 返回在 text 中出现的关键词（不区分大小写，保持原顺序）。
func MatchKeywords(text string, keywords []string) []string {
	lt := strings.ToLower(text)
	var hit []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k != "" && strings.Contains(lt, strings.ToLower(k)) {
			hit = append(hit, k)
		}
	}
	return hit
}

// Truncate 按 rune 截断。
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
