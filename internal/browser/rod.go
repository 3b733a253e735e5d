package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

const metricsJS = `() => ({
	url: location.href,
	title: document.title,
	ready: document.readyState,
	nodes: document.getElementsByTagName('*').length,
	y: window.scrollY || document.documentElement.scrollTop || 0,
	vw: window.innerWidth,
	vh: window.innerHeight,
	dh: Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)
})`

// RodPage 是 Page 的 go-rod 实现。每个操作都绑定调用方 ctx 与单次超时。
type RodPage struct {
	page    *rod.Page
	timeout time.Duration
}

// NewRodPage 包装 rod 页面；opTimeout<=0 时取 15s。
func NewRodPage(p *rod.Page, opTimeout time.Duration) *RodPage {
	if opTimeout <= 0 {
		opTimeout = 15 * time.Second
	}
	return &RodPage{page: p, timeout: opTimeout}
}

// Rod 返回底层页面（仅供会话层使用）。
func (p *RodPage) Rod() *rod.Page { return p.page }

func (p *RodPage) op(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.timeout)
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.op(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	// 仅等待 DOMContentLoaded 级别的就绪，后续由探针判断稳定
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *RodPage) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	err := p.Eval(ctx, metricsJS, &m)
	return m, err
}

func (p *RodPage) HTML(ctx context.Context) (string, error) {
	return p.op(ctx).HTML()
}

func (p *RodPage) Eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.op(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	if out == nil {
		return nil
	}
	return decodeValue(res.Value, out)
}

// decodeValue 将 rod 返回的 gson 值解码到 out。
func decodeValue(v gson.JSON, out any) error {
	if v.Nil() {
		return nil
	}
	if err := json.Unmarshal([]byte(v.JSON("", "")), out); err != nil {
		return fmt.Errorf("decode eval result: %w", err)
	}
	return nil
}

func (p *RodPage) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.op(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el, timeout: p.timeout})
	}
	return out, nil
}

func (p *RodPage) OnResponse(ctx context.Context, match ResponseFilter, handle func(Response)) func() {
	lctx, cancel := context.WithCancel(ctx)
	pg := p.page.Context(lctx)
	_ = proto.NetworkEnable{}.Call(pg)

	var (
		mu      sync.Mutex
		pending = map[proto.NetworkRequestID]Response{}
		bodies  sync.WaitGroup
	)
	wait := pg.EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			typ := strings.ToLower(string(ev.Type))
			if !match(ev.Response.URL, typ) {
				return
			}
			mu.Lock()
			pending[ev.RequestID] = Response{URL: ev.Response.URL, Type: typ, Status: ev.Response.Status}
			mu.Unlock()
		},
		func(ev *proto.NetworkLoadingFinished) {
			mu.Lock()
			r, ok := pending[ev.RequestID]
			delete(pending, ev.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// 读取响应体需要一次 CDP 往返，不能阻塞事件循环
			bodies.Add(1)
			go func(id proto.NetworkRequestID) {
				defer bodies.Done()
				res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(pg)
				if err != nil || lctx.Err() != nil {
					return
				}
				r.Body = decodeBody(res)
				handle(r)
			}(ev.RequestID)
		},
	)
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			bodies.Wait()
		})
	}
}

func decodeBody(res *proto.NetworkGetResponseBodyResult) []byte {
	if res.Base64Encoded {
		if b, err := base64.StdEncoding.DecodeString(res.Body); err == nil {
			return b
		}
	}
	return []byte(res.Body)
}

func (p *RodPage) Screenshot(ctx context.Context, clip Rect) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if !clip.Empty() {
		req.Clip = &proto.PageViewport{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height, Scale: 1}
	}
	b, err := p.op(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return b, nil
}

func (p *RodPage) Click(ctx context.Context, at Point) error {
	pg := p.op(ctx)
	if err := pg.Mouse.MoveTo(proto.Point{X: at.X, Y: at.Y}); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	if err := pg.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse click: %w", err)
	}
	return nil
}

func (p *RodPage) Wheel(ctx context.Context, dy float64) error {
	steps := int(dy / 120)
	if steps < 1 {
		steps = 1
	}
	if err := p.op(ctx).Mouse.Scroll(0, dy, steps); err != nil {
		return fmt.Errorf("wheel: %w", err)
	}
	return nil
}

func (p *RodPage) Press(ctx context.Context, key string) error {
	k, err := keyOf(key)
	if err != nil {
		return err
	}
	if err := p.op(ctx).Keyboard.Type(k); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

func (p *RodPage) Chord(ctx context.Context, modifier, key string) error {
	mk, err := keyOf(modifier)
	if err != nil {
		return err
	}
	k, err := keyOf(key)
	if err != nil {
		return err
	}
	if err := p.op(ctx).KeyActions().Press(mk).Type(k).Do(); err != nil {
		return fmt.Errorf("chord %s+%s: %w", modifier, key, err)
	}
	return nil
}

func (p *RodPage) Type(ctx context.Context, text string) error {
	if err := p.op(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"arrowdown":  input.ArrowDown,
	"arrowup":    input.ArrowUp,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"backspace":  input.Backspace,
	"escape":     input.Escape,
	"tab":        input.Tab,
	"space":      input.Space,
	"pagedown":   input.PageDown,
	"control":    input.ControlLeft,
	"ctrl":       input.ControlLeft,
	"meta":       input.MetaLeft,
	"shift":      input.ShiftLeft,
	"alt":        input.AltLeft,
}

// keyOf 将 "Enter"/"ArrowDown"/"z" 等名称映射为 rod 按键。
func keyOf(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 && name[0] < utf8.RuneSelf {
		return input.Key(name[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

type rodElement struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *rodElement) op(ctx context.Context) *rod.Element {
	return e.el.Context(ctx).Timeout(e.timeout)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.op(ctx).Text()
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, error) {
	v, err := e.op(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.op(ctx).Visible()
}

func (e *rodElement) Box(ctx context.Context) (Rect, error) {
	shape, err := e.op(ctx).Shape()
	if err != nil {
		return Rect{}, fmt.Errorf("element shape: %w", err)
	}
	b := shape.Box()
	if b == nil {
		return Rect{}, fmt.Errorf("element has no box")
	}
	return Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}, nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.op(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	v, err := e.op(ctx).Property("value")
	if err == nil && !v.Nil() {
		if s, ok := v.Val().(string); ok {
			return s, nil
		}
	}
	return e.op(ctx).Text()
}
