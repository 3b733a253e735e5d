// 包 browser 定义页面驱动原语（Page/Element）及其 go-rod 实现，
// 并提供会话协调器 Session：启动/关闭/切换账号目录/存活探测与有限次重启。
package browser

import (
	"context"
	"strings"
)

// Point 为视口坐标。
type Point struct{ X, Y float64 }

// Rect 为视口矩形区域。
type Rect struct{ X, Y, Width, Height float64 }

// Center 返回矩形中心点。
func (r Rect) Center() Point { return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2} }

// Empty 宽或高不为正。
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// At 返回矩形内按比例定位的点（fx/fy ∈ [0,1]）。
func (r Rect) At(fx, fy float64) Point { return Point{X: r.X + r.Width*fx, Y: r.Y + r.Height*fy} }

// Metrics 为一次 evaluate 取回的页面指标。
type Metrics struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	ReadyState string  `json:"ready"`
	NodeCount  int     `json:"nodes"`
	ScrollY    float64 `json:"y"`
	ViewportW  float64 `json:"vw"`
	ViewportH  float64 `json:"vh"`
	DocHeight  float64 `json:"dh"`
}

// Response 为拦截到的网络响应。
type Response struct {
	URL    string
	Type   string // xhr/fetch/document...（小写）
	Status int
	Body   []byte
}

// ResponseFilter 按 URL 与资源类型（小写）筛选需要读取响应体的请求。
type ResponseFilter func(url, resourceType string) bool

// Element 为页面元素句柄。
type Element interface {
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, error)
	Visible(ctx context.Context) (bool, error)
	Box(ctx context.Context) (Rect, error)
	Click(ctx context.Context) error
	// Value 返回输入框的值；contenteditable 元素返回其文本
	Value(ctx context.Context) (string, error)
}

// Page 为驱动单个页面所需的最小原语集合。
type Page interface {
	Navigate(ctx context.Context, url string) error
	Metrics(ctx context.Context) (Metrics, error)
	HTML(ctx context.Context) (string, error)
	// Eval 执行形如 "() => ..." 的函数表达式，并将结果 JSON 解码到 out（可为 nil）
	Eval(ctx context.Context, js string, out any, args ...any) error
	Query(ctx context.Context, selector string) ([]Element, error)
	// OnResponse 注册响应监听，返回的 detach 会等待在途回调结束
	OnResponse(ctx context.Context, match ResponseFilter, handle func(Response)) (detach func())
	Screenshot(ctx context.Context, clip Rect) ([]byte, error)
	Click(ctx context.Context, at Point) error
	Wheel(ctx context.Context, dy float64) error
	Press(ctx context.Context, key string) error
	Chord(ctx context.Context, modifier, key string) error
	Type(ctx context.Context, text string) error
}

// First 依次尝试多个选择器，返回第一个可见元素。
func First(ctx context.Context, p Page, selectors ...string) (Element, bool) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		els, err := p.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if ok, err := el.Visible(ctx); err == nil && ok {
				return el, true
			}
		}
	}
	return nil, false
}

// FindByText 在 selector 命中的可见元素中寻找文本包含任一 texts 的元素。
func FindByText(ctx context.Context, p Page, selector string, texts ...string) (Element, string, bool) {
	els, err := p.Query(ctx, selector)
	if err != nil {
		return nil, "", false
	}
	for _, el := range els {
		t, err := el.Text(ctx)
		if err != nil {
			continue
		}
		t = strings.TrimSpace(t)
		for _, want := range texts {
			if want != "" && strings.Contains(t, want) {
				if ok, _ := el.Visible(ctx); ok {
					return el, t, true
				}
			}
		}
	}
	return nil, "", false
}

// Count 统计多个选择器命中的元素总数（查询失败按 0 计）。
func Count(ctx context.Context, p Page, selectors ...string) int {
	n := 0
	for _, sel := range selectors {
		if els, err := p.Query(ctx, sel); err == nil {
			n += len(els)
		}
	}
	return n
}

// AnyVisible 判断任一选择器是否存在可见元素。
func AnyVisible(ctx context.Context, p Page, selectors ...string) bool {
	_, ok := First(ctx, p, selectors...)
	return ok
}
