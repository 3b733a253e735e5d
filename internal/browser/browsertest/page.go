// 包 browsertest 提供内存版 browser.Page/Element/Driver，用于不启动浏览器的单元测试。
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"douyin-harvester/internal/browser"
)

// Element 为可脚本化的假元素。
type Element struct {
	mu      sync.Mutex
	text    string
	attrs   map[string]string
	hidden  bool
	rect    browser.Rect
	value   string
	clicks  int
	OnClick func(e *Element)
}

// NewElement 创建可见元素。
func NewElement(text string, rect browser.Rect) *Element {
	return &Element{text: text, rect: rect, attrs: map[string]string{}}
}

// WithAttr 设置属性并返回自身，便于链式构造。
func (e *Element) WithAttr(name, val string) *Element {
	e.mu.Lock()
	e.attrs[name] = val
	e.mu.Unlock()
	return e
}

func (e *Element) SetText(s string) {
	e.mu.Lock()
	e.text = s
	e.mu.Unlock()
}

func (e *Element) SetValue(s string) {
	e.mu.Lock()
	e.value = s
	e.mu.Unlock()
}

func (e *Element) SetHidden(h bool) {
	e.mu.Lock()
	e.hidden = h
	e.mu.Unlock()
}

// Clicks 返回元素被点击次数。
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text, nil
}

func (e *Element) Attr(_ context.Context, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attrs[name], nil
}

func (e *Element) Visible(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.hidden, nil
}

func (e *Element) Box(context.Context) (browser.Rect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rect, nil
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	e.clicks++
	fn := e.OnClick
	e.mu.Unlock()
	if fn != nil {
		fn(e)
	}
	return nil
}

func (e *Element) Value(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.value != "" {
		return e.value, nil
	}
	return e.text, nil
}

type listener struct {
	match  browser.ResponseFilter
	handle func(browser.Response)
}

// Page 为可脚本化的假页面。字段在构造后由测试直接设置，运行期通过方法读写。
type Page struct {
	mu        sync.Mutex
	metrics   browser.Metrics
	html      string
	elements  map[string][]*Element
	listeners map[int]listener
	nextID    int
	shot      []byte

	navigations []string
	clicks      []browser.Point
	wheels      []float64
	presses     []string
	chords      []string
	typed       []string

	// 钩子在不持锁时调用，可回调 Page 的方法修改状态
	OnNavigate func(p *Page, url string)
	OnWheel    func(p *Page, dy float64)
	OnPress    func(p *Page, key string)
	OnChord    func(p *Page, mod, key string)
	OnClick    func(p *Page, at browser.Point)
	OnType     func(p *Page, text string)
	EvalFunc   func(js string, args []any) (any, error)
}

// NewPage 创建视口 1366x768、readyState=complete 的空页面。
func NewPage() *Page {
	return &Page{
		metrics: browser.Metrics{
			ReadyState: "complete",
			ViewportW:  1366,
			ViewportH:  768,
			DocHeight:  768,
			NodeCount:  100,
		},
		elements:  map[string][]*Element{},
		listeners: map[int]listener{},
	}
}

// SetMetrics 原子地修改页面指标。
func (p *Page) SetMetrics(fn func(m *browser.Metrics)) {
	p.mu.Lock()
	fn(&p.metrics)
	p.mu.Unlock()
}

func (p *Page) SetHTML(s string) {
	p.mu.Lock()
	p.html = s
	p.mu.Unlock()
}

// Set 替换 selector 命中的元素列表。
func (p *Page) Set(selector string, els ...*Element) {
	p.mu.Lock()
	p.elements[selector] = els
	p.mu.Unlock()
}

// Append 追加 selector 命中的元素。
func (p *Page) Append(selector string, els ...*Element) {
	p.mu.Lock()
	p.elements[selector] = append(p.elements[selector], els...)
	p.mu.Unlock()
}

func (p *Page) SetScreenshot(png []byte) {
	p.mu.Lock()
	p.shot = png
	p.mu.Unlock()
}

// Emit 将响应同步投递给所有匹配的监听器。
func (p *Page) Emit(r browser.Response) {
	p.mu.Lock()
	ls := make([]listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()
	for _, l := range ls {
		if l.match == nil || l.match(r.URL, strings.ToLower(r.Type)) {
			l.handle(r)
		}
	}
}

// Listeners 返回当前挂载的响应监听器数量。
func (p *Page) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Clicks() []browser.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Point(nil), p.clicks...)
}

func (p *Page) Wheels() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.wheels...)
}

func (p *Page) Presses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.presses...)
}

func (p *Page) Chords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.chords...)
}

func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	p.metrics.URL = url
	p.metrics.ScrollY = 0
	fn := p.OnNavigate
	p.mu.Unlock()
	if fn != nil {
		fn(p, url)
	}
	return nil
}

func (p *Page) Metrics(ctx context.Context) (browser.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return browser.Metrics{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics, nil
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// Eval 调用 EvalFunc，并按 JSON 往返把结果写入 out。
func (p *Page) Eval(_ context.Context, js string, out any, args ...any) error {
	p.mu.Lock()
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	v, err := fn(js, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.elements[selector]
	out := make([]browser.Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out, nil
}

func (p *Page) OnResponse(_ context.Context, match browser.ResponseFilter, handle func(browser.Response)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener{match: match, handle: handle}
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

var errNoShot = errors.New("browsertest: no screenshot configured")

func (p *Page) Screenshot(context.Context, browser.Rect) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shot == nil {
		return nil, errNoShot
	}
	return p.shot, nil
}

func (p *Page) Click(_ context.Context, at browser.Point) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, at)
	fn := p.OnClick
	p.mu.Unlock()
	if fn != nil {
		fn(p, at)
	}
	return nil
}

// Wheel 默认按 dy 移动 ScrollY，并限制在文档范围内。
func (p *Page) Wheel(_ context.Context, dy float64) error {
	p.mu.Lock()
	p.wheels = append(p.wheels, dy)
	m := &p.metrics
	m.ScrollY += dy
	if limit := m.DocHeight - m.ViewportH; m.ScrollY > limit {
		m.ScrollY = limit
	}
	if m.ScrollY < 0 {
		m.ScrollY = 0
	}
	fn := p.OnWheel
	p.mu.Unlock()
	if fn != nil {
		fn(p, dy)
	}
	return nil
}

func (p *Page) Press(_ context.Context, key string) error {
	p.mu.Lock()
	p.presses = append(p.presses, key)
	fn := p.OnPress
	p.mu.Unlock()
	if fn != nil {
		fn(p, key)
	}
	return nil
}

func (p *Page) Chord(_ context.Context, mod, key string) error {
	p.mu.Lock()
	p.chords = append(p.chords, mod+"+"+key)
	fn := p.OnChord
	p.mu.Unlock()
	if fn != nil {
		fn(p, mod, key)
	}
	return nil
}

func (p *Page) Type(_ context.Context, text string) error {
	p.mu.Lock()
	p.typed = append(p.typed, text)
	fn := p.OnType
	p.mu.Unlock()
	if fn != nil {
		fn(p, text)
	}
	return nil
}

var _ browser.Page = (*Page)(nil)
var _ browser.Element = (*Element)(nil)
