package license_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"douyin-harvester/internal/fetch"
	"douyin-harvester/internal/license"
)

var now = time.Unix(1_700_000_000, 0)

type server struct {
	activate map[string]any
	verify   map[string]any
	got      []map[string]any
	paths    []string
}

func (s *server) start(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		s.got = append(s.got, in)
		s.paths = append(s.paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/licenses/activate":
			_ = json.NewEncoder(w).Encode(s.activate)
		case "/v1/licenses/verify":
			_ = json.NewEncoder(w).Encode(s.verify)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T, url string) (*license.Client, string) {
	t.Helper()
	cl, err := fetch.New(fetch.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "license.json")
	c := license.New(cl, url+"/", path)
	c.Now = func() time.Time { return now }
	c.HWID = func() string { return "hw-1" }
	return c, path
}

func TestActivate_LicExpWinsAndCached(t *testing.T) {
	s := &server{activate: map[string]any{
		"status": "ok", "token": "tok", "exp": (now.Unix() + 3600) * 1000,
		"license_exp": now.Unix() + 86400,
	}}
	ts := s.start(t)
	c, path := newClient(t, ts.URL)

	st, err := c.Activate(context.Background(), " KEY-1 ")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Valid || st.Expired || st.LicExp != now.Unix()+86400 || st.Exp != st.LicExp {
		t.Fatalf("status: %+v", st)
	}
	// lic_exp 存在时令牌有效期按 lic_exp + 1h
	if st.TokenExp != now.Unix()+86400+3600 {
		t.Fatalf("token_exp=%d", st.TokenExp)
	}
	req := s.got[0]
	if req["key"] != "KEY-1" || req["hwid"] != "hw-1" || req["product"] != "douyin-auto" || req["ttl_hours"] != float64(1) {
		t.Fatalf("activate request: %v", req)
	}
	if len(s.paths) != 1 {
		t.Fatalf("verify should be skipped: %v", s.paths)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	// 重新加载缓存得到相同状态
	c2, _ := newClient(t, ts.URL)
	c2.CachePath = path
	c2.Load()
	if got := c2.Status(); got != st {
		t.Fatalf("reloaded %+v, want %+v", got, st)
	}
}

func TestActivate_VerifyFillsLicExp(t *testing.T) {
	s := &server{
		activate: map[string]any{"status": "ok", "token": "tok", "exp": now.Unix() + 3600},
		verify:   map[string]any{"status": "ok", "expires_at": (now.Unix() - 10) * 1000},
	}
	c, _ := newClient(t, s.start(t).URL)
	st, err := c.Activate(context.Background(), "KEY-2")
	if err != nil {
		t.Fatal(err)
	}
	// 令牌未过期但许可证已过期：以许可证为准
	if st.Valid || !st.Expired || st.LicExp != now.Unix()-10 || st.TokenExp != now.Unix()+3600 {
		t.Fatalf("status: %+v", st)
	}
	if len(s.paths) != 2 || s.got[1]["token"] != "tok" {
		t.Fatalf("verify call: %v %v", s.paths, s.got)
	}
}

func TestActivate_Rejected(t *testing.T) {
	s := &server{activate: map[string]any{"status": "error", "message": "key_not_found"}}
	c, path := newClient(t, s.start(t).URL)
	_, err := c.Activate(context.Background(), "BAD")
	var rej *license.RejectedError
	if !errors.As(err, &rej) || rej.Message != "key_not_found" {
		t.Fatalf("err=%v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("rejected activation must not write cache")
	}
	if _, err := c.Activate(context.Background(), "  "); err == nil {
		t.Fatal("empty key must fail")
	}
}

func TestStatus_TokenExpFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.json")
	// 旧缓存只有毫秒级 exp
	if err := os.WriteFile(path, []byte(`{"key":"K","token":"tok","exp":`+jsonInt((now.Unix()+60)*1000)+`}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cl, _ := fetch.New(fetch.Options{})
	c := license.New(cl, "", path)
	c.Now = func() time.Time { return now }
	st := c.Status()
	if !st.Valid || st.TokenExp != now.Unix()+60 || st.LicExp != 0 || st.Exp != st.TokenExp || st.Key != "K" {
		t.Fatalf("status: %+v", st)
	}
	c.Now = func() time.Time { return now.Add(2 * time.Minute) }
	if st := c.Status(); st.Valid || !st.Expired {
		t.Fatalf("expired token: %+v", st)
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if st := c.Status(); st.Valid || st.Key != "" {
		t.Fatalf("after clear: %+v", st)
	}
	if _, err := c.Verify(context.Background()); !errors.Is(err, license.ErrNoToken) {
		t.Fatalf("verify without token: %v", err)
	}
}

func TestVerify_SyncAndReject(t *testing.T) {
	s := &server{
		activate: map[string]any{"status": "ok", "token": "tok", "lic_exp": now.Unix() + 100},
		verify:   map[string]any{"status": "ok", "lic_exp": now.Unix() + 500},
	}
	c, _ := newClient(t, s.start(t).URL)
	ctx := context.Background()
	if _, err := c.Activate(ctx, "K"); err != nil {
		t.Fatal(err)
	}
	st, err := c.Verify(ctx)
	if err != nil || st.LicExp != now.Unix()+500 {
		t.Fatalf("verify: %+v %v", st, err)
	}
	s.verify = map[string]any{"status": "revoked"}
	st, err = c.Verify(ctx)
	var rej *license.RejectedError
	if !errors.As(err, &rej) || st.Valid {
		t.Fatalf("revoked: %+v %v", st, err)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
