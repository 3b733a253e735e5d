// 包 normalize 提供字段归一化的纯函数：计数、相对时间、噪声清理、IP 归属地、链接规范化。
// 所有函数对任意输入都返回类型默认值，不返回错误。
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	magnitudeRe = regexp.MustCompile(`(\d+(?:\.\d+)?)([万亿wWkK]?)`)
	digitsRe    = regexp.MustCompile(`\d+`)
	countNoise  = strings.NewReplacer("+", "", ",", "", "，", "")
)

// ParseMagnitude 解析带量级后缀的计数文本（"1.2万"、"3k"、"1亿"），无数字时返回 0。
// "w" 视作 "万" 的别名。
func ParseMagnitude(text string) uint64 {
	s := countNoise.Replace(strings.Join(strings.Fields(text), ""))
	if s == "" {
		return 0
	}
	if m := magnitudeRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clampUint(math.Round(v * unitMultiplier(m[2])))
		}
	}
	if d := digitsRe.FindString(s); d != "" {
		if n, err := strconv.ParseUint(d, 10, 64); err == nil {
			return n
		}
		return math.MaxUint64
	}
	return 0
}

func unitMultiplier(unit string) float64 {
	switch unit {
	case "万", "w", "W":
		return 1e4
	case "亿":
		return 1e8
	case "k", "K":
		return 1e3
	default:
		return 1
	}
}

func clampUint(f float64) uint64 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}
