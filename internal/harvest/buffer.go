package harvest

import (
	"sync"

	"douyin-harvester/internal/browser"
)

// ResponseBuffer 按页面 URL 缓存拦截到的接口响应。
// 监听回调只调用 Append，不触碰页面状态。
type ResponseBuffer struct {
	mu    sync.Mutex
	cur   string
	max   int
	byURL map[string][]browser.Response
}

// NewResponseBuffer 创建缓冲区；max 为单个页面最多保留的响应数，<=0 时为 200。
func NewResponseBuffer(max int) *ResponseBuffer {
	if max <= 0 {
		max = 200
	}
	return &ResponseBuffer{max: max, byURL: map[string][]browser.Response{}}
}

// SetCurrent 切换当前页面；之后到达的响应归入该页面。
func (b *ResponseBuffer) SetCurrent(pageURL string) {
	b.mu.Lock()
	b.cur = pageURL
	b.mu.Unlock()
}

// Append 将响应追加到当前页面，超出上限时丢弃最旧的。
func (b *ResponseBuffer) Append(r browser.Response) {
	if len(r.Body) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.byURL[b.cur], r)
	if len(list) > b.max {
		list = list[len(list)-b.max:]
	}
	b.byURL[b.cur] = list
}

// Drain 取出并清空某页面的响应。
func (b *ResponseBuffer) Drain(pageURL string) []browser.Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.byURL[pageURL]
	delete(b.byURL, pageURL)
	return out
}

// Len 返回某页面待处理的响应数。
func (b *ResponseBuffer) Len(pageURL string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byURL[pageURL])
}

// Reset 清空全部页面。
func (b *ResponseBuffer) Reset() {
	b.mu.Lock()
	b.byURL = map[string][]browser.Response{}
	b.mu.Unlock()
}
