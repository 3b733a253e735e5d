package vision_test

import (
	"bytes"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"douyin-harvester/internal/vision"
)

func noise(w, h int, seed uint64) *image.Gray {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.IntN(256))
	}
	return g
}

func crop(g *image.Gray, r image.Rectangle) *image.Gray {
	return vision.ToGray(g.SubImage(r))
}

func encode(t *testing.T, g *image.Gray) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, g); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFind_ExactCrop(t *testing.T) {
	roi := noise(120, 60, 1)
	tpl := crop(roi, image.Rect(70, 20, 100, 44))

	// 经过 PNG 往返，模拟截图解码
	dec, err := vision.Decode(encode(t, roi))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := vision.Find(dec, tpl, []float64{1}, 0.72)
	if !ok {
		t.Fatalf("no match: %+v", m)
	}
	if m.X != 70 || m.Y != 20 || m.W != 30 || m.H != 24 || m.Score < 0.99 {
		t.Fatalf("match: %+v", m)
	}
	if cx, cy := m.Center(); cx != 85 || cy != 32 {
		t.Fatalf("center: %v,%v", cx, cy)
	}
}

func TestFind_Rejects(t *testing.T) {
	roi := noise(100, 50, 2)
	other := noise(20, 20, 3)
	if m, ok := vision.Find(roi, other, []float64{1}, 0.72); ok {
		t.Fatalf("unrelated template matched: %+v", m)
	}

	// 纯色模板没有方差
	flat := image.NewGray(image.Rect(0, 0, 16, 16))
	if _, ok := vision.Find(roi, flat, nil, 0.1); ok {
		t.Fatal("flat template must not match")
	}
	// 模板比区域大
	if _, ok := vision.Find(other, roi, []float64{1}, 0.1); ok {
		t.Fatal("oversized template must not match")
	}
	if _, ok := vision.Find(nil, other, nil, 0); ok {
		t.Fatal("nil roi")
	}
}

func TestTemplates(t *testing.T) {
	dir := t.TempDir()
	g := noise(24, 12, 4)
	if err := os.WriteFile(filepath.Join(dir, "message_button.png"), encode(t, g), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := vision.NewTemplates(dir)
	got, ok := ts.Get("message_button")
	if !ok || got.Rect.Dx() != 24 || got.Rect.Dy() != 12 {
		t.Fatalf("load: ok=%v", ok)
	}
	if _, ok := ts.Get("missing"); ok {
		t.Fatal("missing template reported present")
	}

	mem := vision.NewTemplates("")
	if _, ok := mem.Get("message_button"); ok {
		t.Fatal("empty dir must miss")
	}
	mem.Put("message_button", g)
	if _, ok := mem.Get("message_button"); !ok {
		t.Fatal("put template not found")
	}
}
