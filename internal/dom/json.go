package dom

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ysmood/gson"

	"douyin-harvester/internal/normalize"
)

// Str 读取字符串字段；数字按整数格式化，null/缺失返回空串。
func Str(j gson.JSON) string {
	switch v := j.Val().(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Count 读取计数字段：数字直接取整，字符串按量级后缀解析。
func Count(j gson.JSON) uint64 {
	switch v := j.Val().(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case string:
		return normalize.ParseMagnitude(v)
	default:
		return 0
	}
}

// Epoch 读取秒级时间戳；毫秒值自动换算。
func Epoch(j gson.JSON) int64 {
	var n float64
	switch v := j.Val().(type) {
	case float64:
		n = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		n = f
	}
	if n > 1e12 {
		n /= 1000
	}
	if n < 0 {
		return 0
	}
	return int64(n)
}

// Pick 依次尝试多个路径，返回第一个非空值。
func Pick(j gson.JSON, paths ...string) gson.JSON {
	for _, p := range paths {
		if v := j.Get(p); !v.Nil() {
			return v
		}
	}
	return gson.New(nil)
}

// PickStr 依次尝试多个路径，返回第一个非空字符串。
func PickStr(j gson.JSON, paths ...string) string {
	for _, p := range paths {
		if s := Str(j.Get(p)); s != "" {
			return s
		}
	}
	return ""
}

// PickCount 依次尝试多个路径，返回第一个非零计数。
func PickCount(j gson.JSON, paths ...string) uint64 {
	for _, p := range paths {
		if n := Count(j.Get(p)); n > 0 {
			return n
		}
	}
	return 0
}

// RenderData 读取 <script id="RENDER_DATA"> 中 URL 编码的启动 JSON，返回解码后的文本。
func RenderData(doc *goquery.Document) string {
	raw := strings.TrimSpace(doc.Find("script#RENDER_DATA").First().Text())
	if raw == "" {
		return ""
	}
	if dec, err := url.QueryUnescape(raw); err == nil {
		return dec
	}
	if dec, err := url.PathUnescape(raw); err == nil {
		return dec
	}
	return raw
}

var awemeIDRe = regexp.MustCompile(`"(?:aweme_id|awemeId)"\s*:\s*"(\d{16,21})"`)

// RenderAwemeIDs 以正则扫描启动 JSON 中的作品 ID，按出现顺序去重。
func RenderAwemeIDs(data string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range awemeIDRe.FindAllStringSubmatch(data, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Detail 为视频详情页可补全的字段。
type Detail struct {
	ID           string
	Desc         string
	Author       string
	AuthorSecUID string
	LikeCount    uint64
	CommentCount uint64
	CollectCount uint64
	CreateTime   int64
}

// Empty 没有任何可用字段。
func (d Detail) Empty() bool {
	return d.Desc == "" && d.Author == "" && d.LikeCount == 0 && d.CommentCount == 0 && d.CollectCount == 0 && d.CreateTime == 0
}

// FindDetail 深度遍历启动 JSON，寻找 ID 为 id 的作品节点（兼容驼峰与下划线两种字段风格）。
// id 为空时返回第一个带统计信息的作品节点。
func FindDetail(root gson.JSON, id string) (Detail, bool) {
	var found gson.JSON
	ok := false
	var walk func(j gson.JSON, depth int)
	walk = func(j gson.JSON, depth int) {
		if ok || depth > 24 {
			return
		}
		switch j.Val().(type) {
		case map[string]interface{}:
			nodeID := PickStr(j, "awemeId", "aweme_id")
			hasStats := j.Has("stats") || j.Has("statistics")
			if hasStats && (id == "" && nodeID != "" || id != "" && nodeID == id) {
				found, ok = j, true
				return
			}
			for _, v := range j.Map() {
				walk(v, depth+1)
			}
		case []interface{}:
			for _, v := range j.Arr() {
				walk(v, depth+1)
			}
		}
	}
	walk(root, 0)
	if !ok {
		return Detail{}, false
	}
	return Detail{
		ID:           PickStr(found, "awemeId", "aweme_id"),
		Desc:         PickStr(found, "desc", "title"),
		Author:       PickStr(found, "authorInfo.nickname", "author.nickname"),
		AuthorSecUID: PickStr(found, "authorInfo.secUid", "author.sec_uid"),
		LikeCount:    PickCount(found, "stats.diggCount", "statistics.digg_count"),
		CommentCount: PickCount(found, "stats.commentCount", "statistics.comment_count"),
		CollectCount: PickCount(found, "stats.collectCount", "statistics.collect_count"),
		CreateTime:   Epoch(Pick(found, "createTime", "create_time")),
	}, true
}
