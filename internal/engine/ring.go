package engine

import (
	"sync"

	"ashare-quote-core/internal/models"
)

// DecisionRing 保存最近的决策，写满后覆盖最老的，供观察端查询
type DecisionRing struct {
	mu    sync.RWMutex
	buf   []models.Decision
	head  int
	count int
	total int64
}

// NewDecisionRing 创建容量为capacity的决策环
func NewDecisionRing(capacity int) *DecisionRing {
	return &DecisionRing{buf: make([]models.Decision, capacity)}
}

// Append 追加一条决策
func (r *DecisionRing) Append(d models.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == len(r.buf) {
		r.buf[r.head] = d
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.buf[(r.head+r.count)%len(r.buf)] = d
		r.count++
	}
	r.total++
}

// Recent 返回最近的n条决策，新的在前
func (r *DecisionRing) Recent(n int) []models.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.Decision, n)
	for i := 0; i < n; i++ {
		idx := (r.head + r.count - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// Len 返回环中当前的决策数
func (r *DecisionRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Total 返回历史累计追加数
func (r *DecisionRing) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
