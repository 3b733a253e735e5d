// 包 vision 在截图中定位按钮模板：灰度化后做多尺度归一化互相关（NCC）匹配。
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/draw"
)

// DefaultScales 为模板缩放比例，覆盖缩放与高分屏下的按钮尺寸变化。
var DefaultScales = []float64{1.2, 1.1, 1.0, 0.9, 0.8}

// minSide 小于该边长的模板或区域不参与匹配。
const minSide = 8

// Match 为一次匹配结果，坐标相对于被搜索的图像。
type Match struct {
	X, Y  int
	W, H  int
	Score float64
	Scale float64
}

// Center 返回匹配区域中心。
func (m Match) Center() (float64, float64) {
	return float64(m.X) + float64(m.W)/2, float64(m.Y) + float64(m.H)/2
}

// Decode 解码 PNG 截图为灰度图。
func Decode(b []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return ToGray(img), nil
}

// ToGray 转为灰度图，原点归零。
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

func scale(src *image.Gray, s float64) *image.Gray {
	if s == 1 {
		return src
	}
	w := int(math.Round(float64(src.Rect.Dx()) * s))
	h := int(math.Round(float64(src.Rect.Dy()) * s))
	if w < 1 || h < 1 {
		return nil
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Find 在 roi 中按 scales 搜索模板，返回得分最高且 ≥ thresh 的位置。
// 模板缩放后超出 roi 的比例被跳过。
func Find(roi, tpl *image.Gray, scales []float64, thresh float64) (Match, bool) {
	if roi == nil || tpl == nil {
		return Match{}, false
	}
	if len(scales) == 0 {
		scales = DefaultScales
	}
	rw, rh := roi.Rect.Dx(), roi.Rect.Dy()
	if rw < minSide || rh < minSide {
		return Match{}, false
	}
	sum, sq := integral(roi)
	best := Match{Score: -1}
	for _, s := range scales {
		t := scale(tpl, s)
		if t == nil {
			continue
		}
		tw, th := t.Rect.Dx(), t.Rect.Dy()
		if tw < minSide || th < minSide || tw > rw || th > rh {
			continue
		}
		m, ok := matchAt(roi, t, sum, sq)
		if ok && m.Score > best.Score {
			m.Scale = s
			best = m
		}
	}
	if best.Score < thresh {
		return best, false
	}
	return best, true
}

// matchAt 计算单一尺度下的 TM_CCOEFF_NORMED 最大值。
func matchAt(roi, t *image.Gray, sum, sq []float64) (Match, bool) {
	rw, rh := roi.Rect.Dx(), roi.Rect.Dy()
	tw, th := t.Rect.Dx(), t.Rect.Dy()
	n := float64(tw * th)

	// 模板去均值
	tz := make([]float64, tw*th)
	var mean float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			v := float64(t.Pix[y*t.Stride+x])
			tz[y*tw+x] = v
			mean += v
		}
	}
	mean /= n
	var tvar float64
	for i := range tz {
		tz[i] -= mean
		tvar += tz[i] * tz[i]
	}
	if tvar == 0 {
		return Match{}, false
	}

	best := Match{Score: -1, W: tw, H: th}
	stride := rw + 1
	for y := 0; y+th <= rh; y++ {
		for x := 0; x+tw <= rw; x++ {
			s := rect(sum, stride, x, y, tw, th)
			s2 := rect(sq, stride, x, y, tw, th)
			wvar := s2 - s*s/n
			if wvar <= 1e-9 {
				continue
			}
			var num float64
			for ty := 0; ty < th; ty++ {
				row := roi.Pix[(y+ty)*roi.Stride+x:]
				trow := tz[ty*tw : ty*tw+tw]
				for tx, tv := range trow {
					num += tv * float64(row[tx])
				}
			}
			score := num / math.Sqrt(tvar*wvar)
			if score > best.Score {
				best.Score, best.X, best.Y = score, x, y
			}
		}
	}
	return best, best.Score > -1
}

// integral 返回 (w+1)*(h+1) 的积分图与平方积分图。
func integral(g *image.Gray) ([]float64, []float64) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	stride := w + 1
	sum := make([]float64, stride*(h+1))
	sq := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var rs, rq float64
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			rs += v
			rq += v * v
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + rs
			sq[(y+1)*stride+x+1] = sq[y*stride+x+1] + rq
		}
	}
	return sum, sq
}

func rect(ii []float64, stride, x, y, w, h int) float64 {
	return ii[(y+h)*stride+x+w] - ii[y*stride+x+w] - ii[(y+h)*stride+x] + ii[y*stride+x]
}

// Templates 从目录按名称加载 <name>.png 模板并缓存；缺失的模板也会被记住。
type Templates struct {
	Dir string

	mu    sync.Mutex
	cache map[string]*image.Gray
}

// NewTemplates 创建模板库；dir 为空时所有查找都返回未命中。
func NewTemplates(dir string) *Templates {
	return &Templates{Dir: dir, cache: map[string]*image.Gray{}}
}

// Get 返回名为 name 的模板。
func (t *Templates) Get(name string) (*image.Gray, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.cache[name]; ok {
		return g, g != nil
	}
	if t.Dir == "" {
		return nil, false
	}
	if t.cache == nil {
		t.cache = map[string]*image.Gray{}
	}
	b, err := os.ReadFile(filepath.Join(t.Dir, name+".png"))
	if err != nil {
		t.cache[name] = nil
		return nil, false
	}
	g, err := Decode(b)
	if err != nil {
		t.cache[name] = nil
		return nil, false
	}
	t.cache[name] = g
	return g, true
}

// Put 注册内存中的模板，覆盖同名文件模板。
func (t *Templates) Put(name string, g *image.Gray) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache == nil {
		t.cache = map[string]*image.Gray{}
	}
	t.cache[name] = g
}
