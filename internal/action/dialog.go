package action

import (
	"context"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/vision"
)

// Locator 尝试定位一个可点击的点。
type Locator func(ctx context.Context) (browser.Point, bool)

// FirstOf 依次尝试定位器，返回第一个命中的点及其序号。
func FirstOf(ctx context.Context, ls ...Locator) (browser.Point, int, bool) {
	for i, l := range ls {
		if ctx.Err() != nil {
			break
		}
		if pt, ok := l(ctx); ok {
			return pt, i, true
		}
	}
	return browser.Point{}, -1, false
}

// OpenMessageDialog 打开私信对话框，以输入框可见作为成功标志。
// 三层定位依次尝试：DOM 选择器、关注按钮右侧区域、顶部操作栏截图匹配；
// 某层点击后输入框出现即返回，不再尝试后续层。
func (e *Engine) OpenMessageDialog(ctx context.Context) bool {
	e.init()
	if e.inputVisible(ctx) {
		return true
	}
	tiers := []struct {
		name string
		loc  Locator
	}{
		{"dom", e.locateByDOM},
		{"anchor", e.locateByAnchor},
		{"topbar", e.locateInTopBar},
	}
	for _, t := range tiers {
		if ctx.Err() != nil {
			return false
		}
		pt, ok := t.loc(ctx)
		if !ok {
			continue
		}
		if err := e.Page.Click(ctx, pt); err != nil {
			e.Log.Debug("点击私信失败", "tier", t.name, "err", err)
			continue
		}
		if e.waitInput(ctx) {
			e.Log.Debug("私信对话框已打开", "tier", t.name)
			return true
		}
	}
	e.Log.Info("未能打开私信对话框")
	return false
}

func (e *Engine) inputVisible(ctx context.Context) bool {
	return browser.AnyVisible(ctx, e.Page, e.Profile.Input...)
}

func (e *Engine) waitInput(ctx context.Context) bool {
	step := e.PollEvery / 2
	if step <= 0 {
		step = time.Millisecond
	}
	for waited := time.Duration(0); ; waited += step {
		if e.inputVisible(ctx) {
			return true
		}
		if waited >= e.DialogWait || sleep(ctx, step) != nil {
			return false
		}
	}
}

func (e *Engine) locateByDOM(ctx context.Context) (browser.Point, bool) {
	if el, ok := browser.First(ctx, e.Page, e.Profile.Message...); ok {
		if r, err := el.Box(ctx); err == nil && !r.Empty() {
			return r.Center(), true
		}
	}
	if el, _, ok := e.findText(ctx, messageLabels...); ok {
		if r, err := el.Box(ctx); err == nil && !r.Empty() {
			return r.Center(), true
		}
	}
	return browser.Point{}, false
}

// AnchorROI 返回关注按钮右侧用于查找私信按钮的区域。
func AnchorROI(follow browser.Rect) browser.Rect {
	return browser.Rect{
		X:      follow.X + follow.Width + 16,
		Y:      follow.Y - 20,
		Width:  follow.Width * 1.6,
		Height: follow.Height + 50,
	}
}

// TopBarROI 返回顶部操作栏区域；attempt 每加一向左扩展 0.03W。
func TopBarROI(w, h float64, attempt int) browser.Rect {
	grow := 0.03 * w * float64(attempt)
	return browser.Rect{X: 0.34*w - grow, Y: 0.11 * h, Width: 0.44*w + grow, Height: 0.14 * h}
}

func (e *Engine) locateByAnchor(ctx context.Context) (browser.Point, bool) {
	btn, _, ok := e.followButton(ctx)
	if !ok {
		return browser.Point{}, false
	}
	fr, err := btn.Box(ctx)
	if err != nil || fr.Empty() {
		return browser.Point{}, false
	}
	roi := AnchorROI(fr)
	for _, sel := range e.Profile.Buttons {
		els, err := e.Page.Query(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if ok, _ := el.Visible(ctx); !ok {
				continue
			}
			r, err := el.Box(ctx)
			if err != nil || r.Empty() {
				continue
			}
			c := r.Center()
			if contains(roi, c) {
				return c, true
			}
		}
	}
	return e.matchTemplate(ctx, roi, e.AnchorConf)
}

func (e *Engine) locateInTopBar(ctx context.Context) (browser.Point, bool) {
	m, err := e.Page.Metrics(ctx)
	if err != nil || m.ViewportW <= 0 || m.ViewportH <= 0 {
		return browser.Point{}, false
	}
	for i := 0; i < e.TopBarTries; i++ {
		if pt, ok := e.matchTemplate(ctx, TopBarROI(m.ViewportW, m.ViewportH, i), e.TopBarConf); ok {
			return pt, true
		}
	}
	return browser.Point{}, false
}

// matchTemplate 截取 roi 并匹配私信按钮模板，返回视口坐标。
func (e *Engine) matchTemplate(ctx context.Context, roi browser.Rect, conf float64) (browser.Point, bool) {
	tpl, ok := e.Templates.Get(TplMessageButton)
	if !ok || roi.Empty() {
		return browser.Point{}, false
	}
	shot, err := e.Page.Screenshot(ctx, roi)
	if err != nil {
		e.Log.Debug("截图失败", "err", err)
		return browser.Point{}, false
	}
	img, err := vision.Decode(shot)
	if err != nil {
		return browser.Point{}, false
	}
	m, ok := vision.Find(img, tpl, nil, conf)
	if !ok {
		return browser.Point{}, false
	}
	cx, cy := m.Center()
	return browser.Point{X: roi.X + cx, Y: roi.Y + cy}, true
}

func contains(r browser.Rect, p browser.Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}
