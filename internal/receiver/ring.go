package receiver

import (
	"sync"
	"sync/atomic"

	"ashare-quote-core/internal/models"
)

// Ring 是接收器与解析器之间的有界暂存队列。
// 写满时丢弃最老的帧并计数，生产端永远不会被阻塞——
// 阻塞读循环会让上游的未确认缓冲涨过100MB然后被掐线。
type Ring struct {
	mu      sync.Mutex
	buf     []models.RawFrame
	head    int
	count   int
	dropped atomic.Int64

	notify chan struct{}
	closed bool
}

// NewRing 创建容量为capacity的暂存队列
func NewRing(capacity int) *Ring {
	return &Ring{
		buf:    make([]models.RawFrame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push 入队一帧。队列已满时挤掉最老的一帧并累加丢弃计数。
func (r *Ring) Push(frame models.RawFrame) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.count == len(r.buf) {
		// 丢最老的
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.dropped.Add(1)
	}
	r.buf[(r.head+r.count)%len(r.buf)] = frame
	r.count++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pop 出队一帧，队列为空时阻塞等待，直到有数据或stop被关闭。
func (r *Ring) Pop(stop <-chan struct{}) (models.RawFrame, bool) {
	for {
		r.mu.Lock()
		if r.count > 0 {
			frame := r.buf[r.head]
			r.buf[r.head] = models.RawFrame{}
			r.head = (r.head + 1) % len(r.buf)
			r.count--
			r.mu.Unlock()
			return frame, true
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return models.RawFrame{}, false
		}

		select {
		case <-r.notify:
		case <-stop:
			return models.RawFrame{}, false
		}
	}
}

// Len 返回当前队列长度
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped 返回累计丢帧数
func (r *Ring) Dropped() int64 {
	return r.dropped.Load()
}

// DropHalf 丢弃队列中较老的一半，软清理用
func (r *Ring) DropHalf() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count / 2
	for i := 0; i < n; i++ {
		r.buf[r.head] = models.RawFrame{}
		r.head = (r.head + 1) % len(r.buf)
	}
	r.count -= n
	r.dropped.Add(int64(n))
	return n
}

// Clear 清空队列，硬清理用
func (r *Ring) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	for i := 0; i < n; i++ {
		r.buf[r.head] = models.RawFrame{}
		r.head = (r.head + 1) % len(r.buf)
	}
	r.count = 0
	r.dropped.Add(int64(n))
	return n
}

// Close 关闭队列，唤醒所有等待的Pop
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
