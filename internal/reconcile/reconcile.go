// 包 reconcile 将不同抽取路径（接口/DOM/内联 JSON）得到的片段合并为一条记录：
// - 按自然键归并，输出保持首次出现的顺序
// - 字段级优先级：api > dom > embedded，低优先级只填补空值
package reconcile

import (
	"sort"

	"douyin-harvester/internal/model"
	"douyin-harvester/internal/normalize"
)

// KeyFunc 返回片段的自然键；空串表示无法归并，该片段被丢弃。
type KeyFunc func(model.Fragment) string

// ItemKey 为视频/笔记的自然键：数字 ID（或笔记 ID）。
func ItemKey(f model.Fragment) string {
	if f.Item == nil {
		return ""
	}
	if f.Item.SourceID != "" {
		return f.Item.SourceID
	}
	if id := normalize.VideoID(f.Item.CanonicalURL); id != "" {
		return id
	}
	return normalize.NoteID(f.Item.CanonicalURL)
}

// Items 按 key 归并视频片段。
func Items(fragments []model.Fragment, key KeyFunc) []model.ContentItem {
	if key == nil {
		key = ItemKey
	}
	var order []string
	groups := map[string][]model.Fragment{}
	for _, f := range fragments {
		if f.Item == nil {
			continue
		}
		k := key(f)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}
	out := make([]model.ContentItem, 0, len(order))
	for _, k := range order {
		g := byPriority(groups[k])
		merged := *g[0].Item
		for _, f := range g[1:] {
			fillItem(&merged, *f.Item)
		}
		if merged.SourceID == "" {
			merged.SourceID = k
		}
		out = append(out, merged)
	}
	return out
}

// byPriority 稳定排序，同优先级保持原顺序。
func byPriority(in []model.Fragment) []model.Fragment {
	g := append([]model.Fragment(nil), in...)
	sort.SliceStable(g, func(i, j int) bool { return g[i].Source.Priority() < g[j].Source.Priority() })
	return g
}

// fillItem 只用 src 填补 dst 的空字段。
func fillItem(dst *model.ContentItem, src model.ContentItem) {
	fillStr(&dst.SourceID, src.SourceID)
	fillStr(&dst.CanonicalURL, src.CanonicalURL)
	fillStr(&dst.Title, src.Title)
	fillStr(&dst.AuthorName, src.AuthorName)
	fillStr(&dst.AuthorURL, src.AuthorURL)
	fillStr(&dst.Keyword, src.Keyword)
	fillStr(&dst.PublishTimeText, src.PublishTimeText)
	fillUint(&dst.LikeCount, src.LikeCount)
	fillUint(&dst.CommentCount, src.CommentCount)
	fillUint(&dst.CollectCount, src.CollectCount)
	fillUint(&dst.ViewCount, src.ViewCount)
	if dst.PublishTS == 0 {
		dst.PublishTS = src.PublishTS
	}
	if dst.CollectedAt.IsZero() {
		dst.CollectedAt = src.CollectedAt
	}
}

// Overlay 用于详情补全：新值非空时覆盖旧值，空值不覆盖。
func Overlay(old, upd model.ContentItem) model.ContentItem {
	out := upd
	fillItem(&out, old)
	return out
}

func fillStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillUint(dst *uint64, v uint64) {
	if *dst == 0 {
		*dst = v
	}
}
