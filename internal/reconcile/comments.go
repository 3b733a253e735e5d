package reconcile

import (
	"strings"

	"douyin-harvester/internal/model"
)

// Similar 判断两段评论是否可能为同一条：长度差小于较长者的一半，且至少有一个相同的词。
// 这是近似判断，误合并与漏合并都可能发生。
func Similar(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longer := la
	if lb > longer {
		longer = lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if float64(diff)/float64(longer) >= 0.5 {
		return false
	}
	words := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(a)) {
		words[w] = struct{}{}
	}
	for _, w := range strings.Fields(strings.ToLower(b)) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

// sameComment 用户名一致（或一方缺失）且正文相似。
func sameComment(a, b *model.CommentAuthor) bool {
	if a.Username != "" && b.Username != "" && a.Username != b.Username {
		return false
	}
	return Similar(a.CommentText, b.CommentText)
}

// Comments 归并评论片段；用户名或正文为空的结果被丢弃。
// user_url 例外：DOM 上的用户链接优先于接口拼出的链接。
func Comments(fragments []model.Fragment) []model.CommentAuthor {
	var groups [][]model.Fragment
	for _, f := range fragments {
		if f.Comment == nil {
			continue
		}
		placed := false
		for i := range groups {
			if sameComment(groups[i][0].Comment, f.Comment) {
				groups[i] = append(groups[i], f)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []model.Fragment{f})
		}
	}
	out := make([]model.CommentAuthor, 0, len(groups))
	for _, g := range groups {
		g = byPriority(g)
		merged := *g[0].Comment
		domURL := ""
		for _, f := range g {
			if f.Source == model.SourceDOM && f.Comment.UserURL != "" && domURL == "" {
				domURL = f.Comment.UserURL
			}
		}
		for _, f := range g[1:] {
			fillComment(&merged, *f.Comment)
		}
		if domURL != "" {
			merged.UserURL = domURL
		}
		if merged.Username == "" || merged.CommentText == "" {
			continue
		}
		out = append(out, merged)
	}
	return out
}

func fillComment(dst *model.CommentAuthor, src model.CommentAuthor) {
	fillStr(&dst.Username, src.Username)
	fillStr(&dst.UserURL, src.UserURL)
	fillStr(&dst.CommentText, src.CommentText)
	fillStr(&dst.IPLocation, src.IPLocation)
	fillStr(&dst.VideoURL, src.VideoURL)
	fillStr(&dst.VideoDesc, src.VideoDesc)
	fillStr(&dst.CommentTimeText, src.CommentTimeText)
	if dst.CommentTS == 0 {
		dst.CommentTS = src.CommentTS
	}
	if len(dst.MatchedKeywords) == 0 {
		dst.MatchedKeywords = src.MatchedKeywords
	}
	if dst.CollectedAt.IsZero() {
		dst.CollectedAt = src.CollectedAt
	}
}

// CommentKey 为评论的自然键：用户名 + 正文（用于跨步骤的“是否新增”判断）。
func CommentKey(c model.CommentAuthor) string {
	return c.Username + "\x00" + strings.Join(strings.Fields(strings.ToLower(c.CommentText)), " ")
}

// Contains 判断 list 中是否已有与 c 视为同一条的评论。
func Contains(list []model.CommentAuthor, c model.CommentAuthor) bool {
	for i := range list {
		if sameComment(&list[i], &c) {
			return true
		}
	}
	return false
}
