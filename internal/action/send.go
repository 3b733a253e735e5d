package action

import (
	"context"
	"errors"
	"strings"

	"douyin-harvester/internal/browser"
)

const blurJS = `() => { const a = document.activeElement; if (a && a.blur) a.blur(); return true }`

// SendMessage 在已打开的对话框中输入 text 并发送。
// 文本只输入一次；随后依次尝试 Enter、发送按钮、Ctrl+Enter、再一次 Enter，
// 每次之后检查气泡数增加或输入框清空，任一成立即视为已发送。
func (e *Engine) SendMessage(ctx context.Context, text string) bool {
	e.init()
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	input, ok := browser.First(ctx, e.Page, e.Profile.Input...)
	if !ok {
		e.Log.Debug("未找到私信输入框")
		return false
	}
	_ = e.Page.Eval(ctx, blurJS, nil)
	focus, _, ok := FirstOf(ctx, e.dialogFocus, elementCenter(input))
	if !ok {
		return false
	}
	if err := e.Page.Click(ctx, focus); err != nil {
		e.Log.Debug("聚焦输入框失败", "err", err)
		return false
	}
	e.pause(ctx)

	before := browser.Count(ctx, e.Page, e.Profile.Bubble...)
	if err := e.Page.Chord(ctx, "Control", "a"); err != nil {
		return false
	}
	if err := e.Page.Press(ctx, "Backspace"); err != nil {
		return false
	}
	if err := e.Page.Type(ctx, text); err != nil {
		e.Log.Debug("输入失败", "err", err)
		return false
	}
	e.pause(ctx)

	attempts := []struct {
		name string
		do   func(ctx context.Context) error
	}{
		{"enter", func(ctx context.Context) error { return e.Page.Press(ctx, "Enter") }},
		{"button", e.clickSend},
		{"ctrl+enter", func(ctx context.Context) error { return e.Page.Chord(ctx, "Control", "Enter") }},
		{"enter", func(ctx context.Context) error { return e.Page.Press(ctx, "Enter") }},
	}
	for _, a := range attempts {
		if err := a.do(ctx); err != nil {
			e.Log.Debug("发送方式失败", "via", a.name, "err", err)
			continue
		}
		if sleep(ctx, e.SendCheck) != nil {
			return false
		}
		if e.looksSent(ctx, before) {
			e.Log.Debug("消息已发送", "via", a.name)
			return true
		}
	}
	e.Log.Info("消息未能发送")
	return false
}

var errNoSendButton = errors.New("send button not found")

func (e *Engine) clickSend(ctx context.Context) error {
	el, ok := browser.First(ctx, e.Page, e.Profile.Send...)
	if !ok {
		if el, _, ok = browser.FindByText(ctx, e.Page, "button", "发送"); !ok {
			return errNoSendButton
		}
	}
	return el.Click(ctx)
}

// looksSent 判断消息是否已发出：气泡数增加或输入框已清空。
func (e *Engine) looksSent(ctx context.Context, before int) bool {
	if browser.Count(ctx, e.Page, e.Profile.Bubble...) > before {
		return true
	}
	input, ok := browser.First(ctx, e.Page, e.Profile.Input...)
	if !ok {
		return false
	}
	v, err := input.Value(ctx)
	return err == nil && strings.TrimSpace(v) == ""
}

// dialogFocus 返回对话框内偏下的输入区域位置。
func (e *Engine) dialogFocus(ctx context.Context) (browser.Point, bool) {
	el, ok := browser.First(ctx, e.Page, e.Profile.Dialog...)
	if !ok {
		return browser.Point{}, false
	}
	r, err := el.Box(ctx)
	if err != nil || r.Empty() {
		return browser.Point{}, false
	}
	return r.At(0.5, 0.84), true
}

func elementCenter(el browser.Element) Locator {
	return func(ctx context.Context) (browser.Point, bool) {
		r, err := el.Box(ctx)
		if err != nil || r.Empty() {
			return browser.Point{}, false
		}
		return r.Center(), true
	}
}
