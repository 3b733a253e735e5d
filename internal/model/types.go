// 包 model 定义采集记录（视频/评论用户）、抽取片段、页面状态与统计结构。
package model

import "time"

// Source 标识片段来自哪条抽取路径。
type Source string

const (
	SourceAPI      Source = "api"      // 拦截到的接口响应
	SourceDOM      Source = "dom"      // 渲染后的 DOM
	SourceEmbedded Source = "embedded" // 页面内联的启动 JSON（RENDER_DATA）
)

// Priority 返回来源优先级，数值越小越优先。
func (s Source) Priority() int {
	switch s {
	case SourceAPI:
		return 0
	case SourceDOM:
		return 1
	case SourceEmbedded:
		return 2
	default:
		return 3
	}
}

// ContentItem 为归一化后的视频/笔记。
type ContentItem struct {
	ID              int64     `json:"id,omitempty"`
	SourceID        string    `json:"source_id"`
	CanonicalURL    string    `json:"video_url"`
	Title           string    `json:"video_desc"`
	AuthorName      string    `json:"author_name"`
	AuthorURL       string    `json:"author_url,omitempty"`
	LikeCount       uint64    `json:"like_count"`
	CommentCount    uint64    `json:"comment_count"`
	CollectCount    uint64    `json:"collect_count"`
	ViewCount       uint64    `json:"view_count"`
	Keyword         string    `json:"keyword"`
	PublishTimeText string    `json:"publish_time"`
	PublishTS       int64     `json:"publish_ts"`
	CollectedAt     time.Time `json:"collected_time"`
}

// MessageStatus 私信状态，只允许 pending -> sent。
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
)

// CommentAuthor 为评论区抽取出的用户。
type CommentAuthor struct {
	ID              int64         `json:"id,omitempty"`
	Username        string        `json:"username"`
	UserURL         string        `json:"user_url,omitempty"`
	CommentText     string        `json:"comment_text"`
	IPLocation      string        `json:"ip_location,omitempty"`
	MatchedKeywords []string      `json:"matched_keywords,omitempty"`
	VideoURL        string        `json:"video_url"`
	VideoDesc       string        `json:"video_desc"`
	CommentTimeText string        `json:"comment_time"`
	CommentTS       int64         `json:"comment_ts"`
	MessageStatus   MessageStatus `json:"message_status"`
	CollectedAt     time.Time     `json:"collected_time"`
	LastMessageAt   *time.Time    `json:"last_message_time,omitempty"`
}

// Fragment 为单一路径产出的半成品记录，仅存在于一次采集过程的内存中。
// Item 与 Comment 二选一。
type Fragment struct {
	Source  Source
	Item    *ContentItem
	Comment *CommentAuthor
}

// ReadyState 对应 document.readyState。
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// PageState 为页面瞬时快照，仅用于相邻两次轮询的稳定性比较。
type PageState struct {
	URL              string
	ReadyState       ReadyState
	DOMNodeCount     int
	VisibleItemCount int
	Timestamp        time.Time
}

// UserStats 为评论用户统计（按 user_url 或 username 去重）。
type UserStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Today   int `json:"today"`
}

// Stats 为导出时附带的汇总信息。
type Stats struct {
	Videos    int       `json:"videos"`
	Users     UserStats `json:"users"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskLog 为一次任务运行的落库记录。
type TaskLog struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_time"`
}

// Export 为 JSON 导出的顶层结构。
type Export struct {
	Stats  Stats           `json:"stats"`
	Videos []ContentItem   `json:"videos"`
	Users  []CommentAuthor `json:"users"`
}
