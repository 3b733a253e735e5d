package browser

import (
	"context"
	"time"
)

// SetSleep 替换重启退避的等待函数。
func (s *Session) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.mu.Lock()
	s.sleep = fn
	s.mu.Unlock()
}
