package reconcile

import "sync"

// Seen 记录已见过的自然键，用于判定一轮抽取是否产生了新记录。
type Seen struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewSeen() *Seen { return &Seen{keys: make(map[string]struct{})} }

// Add 返回 key 是否为首次出现；空 key 视为非新增。
func (s *Seen) Add(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Has 判断 key 是否已出现。
func (s *Seen) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
