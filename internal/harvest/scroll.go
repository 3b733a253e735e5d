package harvest

import (
	"context"
	"math/rand/v2"
	"time"

	"douyin-harvester/internal/browser"
)

var scrollSteps = [...]float64{2200, 2500, 2800, 2000}

// scroller 模拟人工滚动：距离随尝试次数与随机数变化，偶尔回滚一小段。
type scroller struct {
	rnd      *rand.Rand
	backProb float64
	pause    time.Duration
}

func newScroller() *scroller {
	return &scroller{
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		backProb: 0.15,
		pause:    300 * time.Millisecond,
	}
}

// distance 返回第 attempt 次滚动的距离（±100px 抖动）。
func (s *scroller) distance(attempt int) float64 {
	var d float64
	switch {
	case attempt%5 == 4:
		d = scrollSteps[2]
	case attempt%3 == 2:
		d = scrollSteps[1]
	case s.rnd.Float64() < 0.2:
		d = scrollSteps[s.rnd.IntN(len(scrollSteps))]
	default:
		d = scrollSteps[attempt%len(scrollSteps)]
	}
	return d + float64(s.rnd.IntN(201)-100)
}

func (s *scroller) scroll(ctx context.Context, p browser.Page, attempt int) error {
	if err := p.Wheel(ctx, s.distance(attempt)); err != nil {
		return err
	}
	if s.rnd.Float64() >= s.backProb {
		return nil
	}
	if err := sleepRange(ctx, s.pause/2, s.pause); err != nil {
		return err
	}
	return p.Wheel(ctx, -float64(50+s.rnd.IntN(101)))
}

// sleepRange 在 [lo, hi] 内随机休眠，可被 ctx 打断。
func sleepRange(ctx context.Context, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d += rand.N(hi - lo + 1)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
