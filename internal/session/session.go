package session

import (
	"sync"
	"time"

	"ashare-quote-core/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// sendQueueSize 每个会话的发送缓冲长度，写满即视为对端消化不过来
const sendQueueSize = 256

// Session 表示一个已注册的对端连接
type Session struct {
	ID          string
	Role        models.Role
	Metadata    map[string]string
	ConnectedAt time.Time

	transport Transport

	mu            sync.Mutex
	lastHeartbeat time.Time

	send      chan *models.Message
	closeOnce sync.Once
	closed    chan struct{}
}

// newSession 分配会话ID并包装传输通道
func newSession(role models.Role, metadata map[string]string, t Transport) *Session {
	now := time.Now()
	return &Session{
		ID:            uuid.NewString(),
		Role:          role,
		Metadata:      metadata,
		ConnectedAt:   now,
		transport:     t,
		lastHeartbeat: now,
		send:          make(chan *models.Message, sendQueueSize),
		closed:        make(chan struct{}),
	}
}

// Tag 返回用于日志的短会话标识
func (s *Session) Tag() string {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return s.ID
	}
	return base62.EncodeToString(id[:8])
}

// touch 刷新最后心跳时间
func (s *Session) touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// LastHeartbeat 返回最后一次收到对端任意消息的时间
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// enqueue 把消息排进发送缓冲。缓冲已满或会话已关闭时返回false。
func (s *Session) enqueue(msg *models.Message) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		// 发不动的对端由调用方决定是否掐掉
		return false
	}
}

// writePump 把发送缓冲里的消息顺序写到传输通道
func (s *Session) writePump(onError func(*Session)) {
	for {
		select {
		case msg := <-s.send:
			if err := s.transport.WriteMessage(msg); err != nil {
				onError(s)
				return
			}
		case <-s.closed:
			return
		}
	}
}

// close 关闭会话的传输通道，幂等
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.transport.Close()
	})
}

// isClosed 会话是否已关闭
func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
