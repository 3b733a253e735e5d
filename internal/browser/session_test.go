package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"douyin-harvester/internal/browser"
	"douyin-harvester/internal/browser/browsertest"
)

func noSleep(s *browser.Session, slept *[]time.Duration) {
	s.SetSleep(func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	})
}

func TestSession_RetriesWithBackoff(t *testing.T) {
	d := &browsertest.Driver{FailFirst: 2}
	s := browser.NewSession(browser.Options{UserDataDir: "/tmp/a"}, d)
	var slept []time.Duration
	noSleep(s, &slept)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if d.Launches() != 3 {
		t.Fatalf("want 3 launches, got %d", d.Launches())
	}
	want := []time.Duration{1500 * time.Millisecond, 2000 * time.Millisecond}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("unexpected backoff: %v", slept)
	}
	if !s.Running() {
		t.Fatalf("session should be running")
	}
}

func TestSession_ExhaustedIsSessionLost(t *testing.T) {
	d := &browsertest.Driver{FailFirst: 10}
	s := browser.NewSession(browser.Options{MaxRetries: 3}, d)
	var slept []time.Duration
	noSleep(s, &slept)

	err := s.Start(context.Background())
	if !errors.Is(err, browser.ErrSessionLost) {
		t.Fatalf("want ErrSessionLost, got %v", err)
	}
	if d.Launches() != 3 || len(slept) != 2 {
		t.Fatalf("launches=%d sleeps=%d", d.Launches(), len(slept))
	}
}

func TestSession_SwitchProfileTearsDownFirst(t *testing.T) {
	d := &browsertest.Driver{}
	s := browser.NewSession(browser.Options{UserDataDir: "p1"}, d)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchProfile(ctx, "p2"); err != nil {
		t.Fatal(err)
	}
	if d.Closes() != 1 {
		t.Fatalf("old session should be closed once, got %d", d.Closes())
	}
	got := d.Profiles()
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Fatalf("profiles: %v", got)
	}
	if s.Profile() != "p2" {
		t.Fatalf("profile: %s", s.Profile())
	}
}

func TestSession_PageRelaunchesWhenDead(t *testing.T) {
	d := &browsertest.Driver{}
	s := browser.NewSession(browser.Options{}, d)
	ctx := context.Background()
	if _, err := s.Page(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Page(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Launches() != 1 {
		t.Fatalf("live session must be reused, launches=%d", d.Launches())
	}
	d.Kill()
	if _, err := s.Page(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Launches() != 2 || d.Closes() != 1 {
		t.Fatalf("launches=%d closes=%d", d.Launches(), d.Closes())
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.Running() {
		t.Fatalf("stopped session reports running")
	}
}

func TestFirstAndFindByText(t *testing.T) {
	p := browsertest.NewPage()
	hidden := browsertest.NewElement("x", browser.Rect{})
	hidden.SetHidden(true)
	p.Set(".a", hidden)
	p.Set(".b", browsertest.NewElement("私信", browser.Rect{X: 1, Y: 1, Width: 10, Height: 10}))
	ctx := context.Background()

	if _, ok := browser.First(ctx, p, ".a"); ok {
		t.Fatalf("hidden element must be skipped")
	}
	el, ok := browser.First(ctx, p, ".a", ".b")
	if !ok {
		t.Fatalf("expected fallback selector hit")
	}
	if txt, _ := el.Text(ctx); txt != "私信" {
		t.Fatalf("text: %q", txt)
	}
	if _, txt, ok := browser.FindByText(ctx, p, ".b", "发消息", "私信"); !ok || txt != "私信" {
		t.Fatalf("FindByText: %v %q", ok, txt)
	}
	if browser.Count(ctx, p, ".a", ".b", ".c") != 2 {
		t.Fatalf("count mismatch")
	}
	if c := (browser.Rect{X: 10, Y: 20, Width: 100, Height: 40}).At(0.5, 0.84); c.X != 60 || c.Y != 20+40*0.84 {
		t.Fatalf("At: %+v", c)
	}
}
