// 包 events 为核心流程对外的事件通道：服务只负责发布，CLI 等消费者各自订阅。
// 发布从不阻塞，订阅者缓冲区满时丢弃事件并计数。
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type 为事件类型。
type Type string

const (
	Started   Type = "started"
	Finished  Type = "finished"
	Error     Type = "error"
	Warning   Type = "warning"
	Operation Type = "operation"
	Debug     Type = "debug"
)

// Event 为一条事件。
type Event struct {
	ID      string
	Type    Type
	Service string
	Message string
	Data    map[string]any
	Time    time.Time
}

// Subscription 为一个订阅；C 在 Close 或 Bus.Close 后关闭。
type Subscription struct {
	C <-chan Event

	bus     *Bus
	ch      chan Event
	dropped atomic.Int64
}

// Dropped 返回因缓冲区满而丢弃的事件数。
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() { s.bus.remove(s) }

// Bus 为进程内事件总线，零值不可用，使用 NewBus。
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: map[*Subscription]struct{}{}, now: time.Now}
}

// Subscribe 创建缓冲为 buf 的订阅（最少 1）。总线已关闭时返回已关闭的通道。
func (b *Bus) Subscribe(buf int) *Subscription {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	s := &Subscription{C: ch, bus: b, ch: ch}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish 补全 ID 与时间后投递给所有订阅者，返回补全后的事件。
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	return e
}

// Emit 为 Publish 的简写。
func (b *Bus) Emit(t Type, service, msg string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: t, Service: service, Message: msg, Data: data})
}

// Close 关闭所有订阅，之后的 Publish 不再投递。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = map[*Subscription]struct{}{}
}
