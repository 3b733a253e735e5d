package action_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"douyin-harvester/internal/action"
	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/browser/browsertest"
	"douyin-harvester/internal/rules"
	"douyin-harvester/internal/vision"
)

const (
	selFollow  = `[data-e2e="follow-btn"]`
	selMessage = `[data-e2e="message-btn"]`
	selInput   = `textarea`
	selDialog  = `[class*="im-dialog"]`
	selSend    = `[data-e2e="send-btn"]`
	selBubble  = `[class*="message-item"]`
)

func profile(t *testing.T) *rules.Profile {
	t.Helper()
	p, ok := rules.Builtin().GetPreset("douyin")
	if !ok {
		t.Fatal("douyin preset missing")
	}
	return p.Profile
}

func fastEngine(t *testing.T, p browser.Page, tpl *vision.Templates) *action.Engine {
	e := &action.Engine{
		Page:       p,
		Profile:    profile(t),
		Templates:  tpl,
		PollEvery:  time.Millisecond,
		DialogWait: 5 * time.Millisecond,
		SendCheck:  time.Millisecond,
	}
	return e
}

func TestEnsureFollowed_Idempotent(t *testing.T) {
	p := browsertest.NewPage()
	btn := browsertest.NewElement("关注", browser.Rect{X: 600, Y: 100, Width: 96, Height: 36})
	btn.OnClick = func(el *browsertest.Element) { el.SetText("已关注") }
	p.Set(selFollow, btn)
	e := fastEngine(t, p, nil)
	ctx := context.Background()

	if !e.EnsureFollowed(ctx, "https://www.douyin.com/user/A1") {
		t.Fatal("first call should follow")
	}
	if !e.EnsureFollowed(ctx, "https://www.douyin.com/user/A1") {
		t.Fatal("second call should see 已关注")
	}
	if btn.Clicks() != 1 {
		t.Fatalf("clicks=%d, want 1", btn.Clicks())
	}
}

func TestEnsureFollowed_NoChangeAndCooldown(t *testing.T) {
	p := browsertest.NewPage()
	btn := browsertest.NewElement("关注", browser.Rect{X: 600, Y: 100, Width: 96, Height: 36})
	p.Set(selFollow, btn)
	e := fastEngine(t, p, nil)
	ctx := context.Background()

	if e.EnsureFollowed(ctx, "https://www.douyin.com/user/B2") {
		t.Fatal("label never changed")
	}
	// 冷却期内再次调用不会重复点击
	if e.EnsureFollowed(ctx, "https://www.douyin.com/user/B2") {
		t.Fatal("still not followed")
	}
	if btn.Clicks() != 1 {
		t.Fatalf("clicks=%d, want 1", btn.Clicks())
	}
}

func TestEnsureFollowed_UnfollowMenu(t *testing.T) {
	p := browsertest.NewPage()
	btn := browsertest.NewElement("关注", browser.Rect{X: 600, Y: 100, Width: 96, Height: 36})
	btn.OnClick = func(*browsertest.Element) {
		p.Set(`[role="menuitem"]`, browsertest.NewElement("取消关注", browser.Rect{X: 600, Y: 140, Width: 96, Height: 30}))
	}
	p.Set(selFollow, btn)
	if !fastEngine(t, p, nil).EnsureFollowed(context.Background(), "https://www.douyin.com/user/C3") {
		t.Fatal("取消关注 menu means followed")
	}
}

func TestEnsureFollowed_FallbackSkipsFollowingCount(t *testing.T) {
	p := browsertest.NewPage()
	count := browsertest.NewElement("关注 128", browser.Rect{X: 100, Y: 300, Width: 60, Height: 20})
	p.Set(`span`, count)
	btn := browsertest.NewElement("关注", browser.Rect{X: 600, Y: 100, Width: 96, Height: 36})
	btn.OnClick = func(el *browsertest.Element) { el.SetText("已关注") }
	p.Set(`button`, btn)
	if !fastEngine(t, p, nil).EnsureFollowed(context.Background(), "https://www.douyin.com/user/D4") {
		t.Fatal("fallback button should be followed")
	}
	if count.Clicks() != 0 || btn.Clicks() != 1 {
		t.Fatalf("clicks: count=%d button=%d", count.Clicks(), btn.Clicks())
	}
}

func TestOpenMessageDialog_DOMTier(t *testing.T) {
	p := browsertest.NewPage()
	msg := browsertest.NewElement("私信", browser.Rect{X: 720, Y: 100, Width: 80, Height: 36})
	p.Set(selMessage, msg)
	p.OnClick = func(p *browsertest.Page, at browser.Point) {
		p.Set(selInput, browsertest.NewElement("", browser.Rect{X: 400, Y: 600, Width: 300, Height: 40}))
	}
	if !fastEngine(t, p, nil).OpenMessageDialog(context.Background()) {
		t.Fatal("dialog not opened")
	}
	if got := p.Clicks(); len(got) != 1 || got[0] != (browser.Point{X: 760, Y: 118}) {
		t.Fatalf("clicks: %v", got)
	}
}

func TestOpenMessageDialog_AnchorTier(t *testing.T) {
	p := browsertest.NewPage()
	p.Set(selFollow, browsertest.NewElement("已关注", browser.Rect{X: 600, Y: 100, Width: 100, Height: 40}))
	// 一个在区域外，一个在关注按钮右侧
	p.Set(`button`,
		browsertest.NewElement("", browser.Rect{X: 100, Y: 100, Width: 80, Height: 40}),
		browsertest.NewElement("", browser.Rect{X: 730, Y: 100, Width: 80, Height: 40}),
	)
	p.OnClick = func(p *browsertest.Page, at browser.Point) {
		if at == (browser.Point{X: 770, Y: 120}) {
			p.Set(selInput, browsertest.NewElement("", browser.Rect{X: 400, Y: 600, Width: 300, Height: 40}))
		}
	}
	if !fastEngine(t, p, nil).OpenMessageDialog(context.Background()) {
		t.Fatalf("anchor tier failed, clicks=%v", p.Clicks())
	}
}

func TestOpenMessageDialog_TopBarTemplate(t *testing.T) {
	p := browsertest.NewPage()
	p.SetMetrics(func(m *browser.Metrics) { m.ViewportW, m.ViewportH = 400, 400 })
	roi := action.TopBarROI(400, 400, 0)

	r := rand.New(rand.NewPCG(7, 11))
	shot := image.NewGray(image.Rect(0, 0, int(roi.Width), int(roi.Height)))
	for i := range shot.Pix {
		shot.Pix[i] = uint8(r.IntN(256))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, shot); err != nil {
		t.Fatal(err)
	}
	p.SetScreenshot(buf.Bytes())
	tpl := vision.NewTemplates("")
	tpl.Put(action.TplMessageButton, vision.ToGray(shot.SubImage(image.Rect(100, 20, 130, 40))))

	var clicked browser.Point
	p.OnClick = func(p *browsertest.Page, at browser.Point) {
		clicked = at
		p.Set(selInput, browsertest.NewElement("", browser.Rect{X: 100, Y: 300, Width: 200, Height: 40}))
	}
	if !fastEngine(t, p, tpl).OpenMessageDialog(context.Background()) {
		t.Fatal("template tier failed")
	}
	if math.Abs(clicked.X-(roi.X+115)) > 0.5 || math.Abs(clicked.Y-(roi.Y+30)) > 0.5 {
		t.Fatalf("clicked %v, roi %v", clicked, roi)
	}
}

func TestOpenMessageDialog_AllTiersFail(t *testing.T) {
	p := browsertest.NewPage()
	if fastEngine(t, p, vision.NewTemplates("")).OpenMessageDialog(context.Background()) {
		t.Fatal("nothing to click")
	}
	if len(p.Clicks()) != 0 {
		t.Fatalf("unexpected clicks: %v", p.Clicks())
	}
}

func TestROIs(t *testing.T) {
	got := action.AnchorROI(browser.Rect{X: 600, Y: 100, Width: 100, Height: 40})
	if got != (browser.Rect{X: 716, Y: 80, Width: 160, Height: 90}) {
		t.Fatalf("anchor roi: %+v", got)
	}
	a, b := action.TopBarROI(1000, 1000, 0), action.TopBarROI(1000, 1000, 2)
	if math.Abs(a.X-340) > 1e-9 || math.Abs(b.X-280) > 1e-9 || math.Abs(b.Width-500) > 1e-9 || a.Y != b.Y {
		t.Fatalf("topbar roi: %+v %+v", a, b)
	}
}

// dialogPage 构造已打开的对话框；send 为发送按钮。
func dialogPage() (*browsertest.Page, *browsertest.Element, *browsertest.Element) {
	p := browsertest.NewPage()
	input := browsertest.NewElement("", browser.Rect{X: 400, Y: 600, Width: 300, Height: 40})
	send := browsertest.NewElement("发送", browser.Rect{X: 720, Y: 600, Width: 60, Height: 40})
	p.Set(selInput, input)
	p.Set(selDialog, browsertest.NewElement("", browser.Rect{X: 300, Y: 200, Width: 500, Height: 500}))
	p.Set(selSend, send)
	p.Set(selBubble, browsertest.NewElement("你好", browser.Rect{X: 320, Y: 220, Width: 100, Height: 30}))
	p.OnType = func(_ *browsertest.Page, text string) { input.SetValue(text) }
	return p, input, send
}

func bubble() *browsertest.Element {
	return browsertest.NewElement("hello", browser.Rect{X: 320, Y: 260, Width: 100, Height: 30})
}

func TestSendMessage_EnterTierStops(t *testing.T) {
	p, _, send := dialogPage()
	p.OnPress = func(p *browsertest.Page, key string) {
		if key == "Enter" {
			p.Append(selBubble, bubble())
		}
	}
	if !fastEngine(t, p, nil).SendMessage(context.Background(), "hello") {
		t.Fatal("send failed")
	}
	if send.Clicks() != 0 {
		t.Fatalf("button tier attempted %d times", send.Clicks())
	}
	if got := p.Typed(); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("typed: %v", got)
	}
	if got := p.Presses(); !reflect.DeepEqual(got, []string{"Backspace", "Enter"}) {
		t.Fatalf("presses: %v", got)
	}
	if got := p.Chords(); !reflect.DeepEqual(got, []string{"Control+a"}) {
		t.Fatalf("chords: %v", got)
	}
	// 聚焦点位于对话框 50%/84%
	if got := p.Clicks(); len(got) != 1 || math.Abs(got[0].X-550) > 1e-6 || math.Abs(got[0].Y-620) > 1e-6 {
		t.Fatalf("focus click: %v", got)
	}
}

func TestSendMessage_ButtonTier(t *testing.T) {
	p, _, send := dialogPage()
	send.OnClick = func(*browsertest.Element) { p.Append(selBubble, bubble()) }
	if !fastEngine(t, p, nil).SendMessage(context.Background(), "hello") {
		t.Fatal("send failed")
	}
	if send.Clicks() != 1 {
		t.Fatalf("button clicks=%d", send.Clicks())
	}
	if got := p.Chords(); !reflect.DeepEqual(got, []string{"Control+a"}) {
		t.Fatalf("ctrl+enter should not run: %v", got)
	}
}

func TestSendMessage_InputClearedCountsAsSent(t *testing.T) {
	p, input, _ := dialogPage()
	p.OnChord = func(_ *browsertest.Page, mod, key string) {
		if key == "Enter" {
			input.SetValue("")
			input.SetText("")
		}
	}
	if !fastEngine(t, p, nil).SendMessage(context.Background(), "hello") {
		t.Fatal("cleared input should count as sent")
	}
	if got := p.Chords(); !reflect.DeepEqual(got, []string{"Control+a", "Control+Enter"}) {
		t.Fatalf("chords: %v", got)
	}
}

func TestSendMessage_AllTiersExhausted(t *testing.T) {
	p, _, send := dialogPage()
	e := fastEngine(t, p, nil)
	if e.SendMessage(context.Background(), "hello") {
		t.Fatal("nothing reacted")
	}
	if got := p.Presses(); !reflect.DeepEqual(got, []string{"Backspace", "Enter", "Enter"}) {
		t.Fatalf("presses: %v", got)
	}
	if send.Clicks() != 1 || len(p.Typed()) != 1 {
		t.Fatalf("send clicks=%d typed=%v", send.Clicks(), p.Typed())
	}
	if e.SendMessage(context.Background(), "  ") {
		t.Fatal("blank text must not send")
	}
}

func TestLikeAndNext(t *testing.T) {
	p := browsertest.NewPage()
	e := action.New(p, nil, nil)
	ctx := context.Background()
	if err := e.Like(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.NextVideo(ctx); err != nil {
		t.Fatal(err)
	}
	if got := p.Presses(); !reflect.DeepEqual(got, []string{"z", "ArrowDown"}) {
		t.Fatalf("presses: %v", got)
	}
}
