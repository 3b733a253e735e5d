package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"douyin-harvester/internal/config"
)

func TestConfig_DefaultsAndValidate(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "c.yaml")
	_ = os.WriteFile(f, []byte("SEARCH:\n  keywords: [装修, 设计]\nSIMPLE_MODE: true\n"), 0644)
	c, err := config.Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Database.Type != "sqlite" || c.Database.DSN == "" {
		t.Fatalf("defaults not applied: %+v", c.Database)
	}
	if c.LogFormat == "" || c.LogLocale == "" || c.LogColor == "" {
		t.Fatalf("log defaults missing")
	}
	if c.Browser.ViewportW != 1366 || c.Browser.ViewportH != 768 {
		t.Fatalf("viewport defaults: %+v", c.Browser)
	}
	if c.Douyin.Shortcuts.Next != "ArrowDown" || c.Douyin.Shortcuts.Like != "z" {
		t.Fatalf("shortcut defaults: %+v", c.Douyin.Shortcuts)
	}
	if c.Comments.Stagnation <= c.Search.Stagnation {
		t.Fatalf("comments should tolerate more stagnation than search: %d vs %d", c.Comments.Stagnation, c.Search.Stagnation)
	}
	if len(c.Search.Keywords) != 2 || !c.SimpleMode {
		t.Fatalf("parsed fields lost: %+v", c.Search)
	}
	if got := c.Douyin.SearchURL("a b"); got != "https://www.douyin.com/search/a%20b?type=video" {
		t.Fatalf("search url: %s", got)
	}
}

func TestConfig_Rejects(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "c.yaml")
	cases := []string{
		"BEHAVIOR:\n  like_prob: 1.5\n",
		"BEHAVIOR:\n  scroll_delay_min_ms: 3000\n  scroll_delay_max_ms: 1000\n",
		"SEARCH:\n  target_per_keyword: -1\n",
		"MESSAGE:\n  rotate: true\n",
		"DATABASE:\n  type: mysql\n",
		"SCHEDULE:\n  - name: x\n",
	}
	for _, body := range cases {
		_ = os.WriteFile(f, []byte(body), 0644)
		if _, err := config.Load(f); err == nil {
			t.Fatalf("expect error for %q", body)
		}
	}
}

func TestConfig_MinRaisesMax(t *testing.T) {
	c := config.Config{Behavior: config.Behavior{WatchMinSec: 40}}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	lo, hi := c.Behavior.Watch()
	if lo > hi {
		t.Fatalf("range inverted: %v > %v", lo, hi)
	}
}
