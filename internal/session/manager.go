// Package session 维护与对端（本地代理、观察端、管理端）的持久双工会话，
// 负责命令请求/应答的路由与事件广播。
package session

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// 行情广播限流：观察端要的是画面不是每一笔，超出的直接丢
const (
	tickBroadcastPerSecond = 50
	tickBroadcastBurst     = 100
)

// BroadcastScope 广播的目标范围
type BroadcastScope string

const (
	ScopeObservers BroadcastScope = "observer"
	ScopeAdmins    BroadcastScope = "admin"
	ScopeEveryone  BroadcastScope = "all"
)

// pendingCommand 一条等待代理应答的未决命令
type pendingCommand struct {
	cmd       models.Command
	sessionID string
	result    chan commandResult
}

type commandResult struct {
	payload json.RawMessage
	err     error
}

// Counters 会话管理器的运行计数
type Counters struct {
	CommandsSent     atomic.Int64
	CommandTimeouts  atomic.Int64
	Broadcasts       atomic.Int64
	BroadcastDropped atomic.Int64
	SessionsAccepted atomic.Int64
	SessionsEvicted  atomic.Int64
}

// Manager 会话管理器
type Manager struct {
	cfg models.SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	agent    *Session // 当前有效的本地代理，同一时刻至多一个

	pendingMu sync.Mutex
	pending   map[string]*pendingCommand

	tickLimiter *rate.Limiter
	counters    Counters

	upgrader websocket.Upgrader

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager 创建会话管理器
func NewManager(cfg models.SessionConfig) *Manager {
	return &Manager{
		cfg:         cfg,
		sessions:    make(map[string]*Session),
		pending:     make(map[string]*pendingCommand),
		tickLimiter: rate.NewLimiter(rate.Limit(tickBroadcastPerSecond), tickBroadcastBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 对端是本机代理或内网观察端，不做Origin校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}
}

// Start 启动周期清理任务
func (m *Manager) Start() {
	go m.cleanupLoop()
}

// Stop 关闭全部会话并停止清理任务
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.agent = nil
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.failPendingAll(ErrSessionClosed)
}

// Counters 返回运行计数
func (m *Manager) Counters() *Counters {
	return &m.counters
}

// Serve 在监听器上接受对端连接，每个连接一条会话
func (m *Manager) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stop:
				return
			default:
			}
			logger.S().Warnf("接受会话连接失败: %v", err)
			continue
		}
		go m.HandleTransport(NewConnTransport(conn))
	}
}

// WebsocketHandler 返回websocket接入点，升级成功后按普通会话处理
func (m *Manager) WebsocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.S().Warnf("websocket升级失败: %v", err)
			return
		}
		go m.HandleTransport(NewWebsocketTransport(conn))
	})
}

// HandleTransport 处理一条新的对端连接：先等register，再进入会话读循环。
// 对端的第一条消息必须是register，否则直接断开。
func (m *Manager) HandleTransport(t Transport) {
	msg, err := t.ReadMessage()
	if err != nil {
		t.Close()
		return
	}
	if msg.Type != models.MsgRegister || msg.Role == "" {
		logger.S().Warnf("对端 %s 未按协议注册，断开", t.RemoteAddr())
		t.Close()
		return
	}

	s := newSession(msg.Role, msg.Metadata, t)
	m.register(s)

	s.enqueue(&models.Message{Type: models.MsgRegisterAck, SessionID: s.ID})
	go s.writePump(func(failed *Session) { m.removeSession(failed, "写入失败") })

	m.readLoop(s)
}

// register 登记会话。新的本地代理会顶掉旧的，旧代理收到替换通知后被关闭。
func (m *Manager) register(s *Session) {
	var displaced *Session

	m.mu.Lock()
	m.sessions[s.ID] = s
	if s.Role == models.RoleLocalAgent {
		displaced = m.agent
		m.agent = s
	}
	m.mu.Unlock()

	m.counters.SessionsAccepted.Add(1)
	logger.S().Infof("会话注册: role=%s id=%s addr=%s", s.Role, s.Tag(), s.transport.RemoteAddr())

	if displaced != nil {
		// 直接同步写，enqueue走writePump的话通知可能赶不上关闭
		notice, _ := json.Marshal(map[string]string{"reason": "replaced_by_new_agent"})
		_ = displaced.transport.WriteMessage(&models.Message{Type: models.MsgEvent, Kind: "displaced", Body: notice})
		logger.S().Warnf("本地代理被新连接顶替: old=%s new=%s", displaced.Tag(), s.Tag())
		m.removeSession(displaced, "被新代理顶替")
	}
}

// readLoop 逐条读取会话消息并分发，读错误即移除会话
func (m *Manager) readLoop(s *Session) {
	for {
		msg, err := s.transport.ReadMessage()
		if err != nil {
			m.removeSession(s, fmt.Sprintf("读取失败: %v", err))
			return
		}
		s.touch()

		switch msg.Type {
		case models.MsgResponse:
			m.resolvePending(msg)
		case models.MsgHeartbeat:
			s.enqueue(&models.Message{Type: models.MsgHeartbeatAck})
		case models.MsgHeartbeatAck:
			// touch已经刷新了心跳时间
		case models.MsgEvent:
			// 代理的主动事件原样转播给观察端，不回执
			if s.Role == models.RoleLocalAgent {
				m.Broadcast(&models.Message{Type: models.MsgBroadcast, Kind: msg.Kind, Body: msg.Body}, ScopeObservers)
			}
		case models.MsgSubscribe, models.MsgUnsubscribe:
			// 最小实现把所有观察端当作全量订阅，仅记录而不过滤
			logger.S().Debugf("会话 %s 请求 %s scope=%s（当前按全量广播处理）", s.Tag(), msg.Type, msg.Scope)
		default:
			logger.S().Debugf("会话 %s 发来未知消息类型 %q，忽略", s.Tag(), msg.Type)
		}
	}
}

// SendToAgent 向本地代理发送一条命令并等待应答。
// 无代理在线立即返回ErrNoAgent；超时返回ErrCommandTimeout；
// 代理应答ok=false时返回*AgentError。
func (m *Manager) SendToAgent(cmdType string, data any) (json.RawMessage, error) {
	m.mu.RLock()
	agent := m.agent
	m.mu.RUnlock()
	if agent == nil || agent.isClosed() {
		return nil, ErrNoAgent
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("命令负载序列化失败: %w", err)
	}

	now := time.Now()
	timeout := time.Duration(m.cfg.CommandTimeoutS) * time.Second
	cmd := models.Command{
		ID:       uuid.NewString(),
		Type:     cmdType,
		Data:     payload,
		SentAt:   now,
		Deadline: now.Add(timeout),
	}

	p := &pendingCommand{
		cmd:       cmd,
		sessionID: agent.ID,
		result:    make(chan commandResult, 1),
	}
	m.pendingMu.Lock()
	m.pending[cmd.ID] = p
	m.pendingMu.Unlock()

	ok := agent.enqueue(&models.Message{
		Type:   cmdType,
		ID:     cmd.ID,
		Data:   payload,
		SentAt: now.Unix(),
	})
	if !ok {
		m.dropPending(cmd.ID)
		return nil, ErrSessionClosed
	}
	m.counters.CommandsSent.Add(1)

	select {
	case res := <-p.result:
		return res.payload, res.err
	case <-time.After(timeout):
		m.dropPending(cmd.ID)
		m.counters.CommandTimeouts.Add(1)
		return nil, ErrCommandTimeout
	case <-m.stop:
		m.dropPending(cmd.ID)
		return nil, ErrSessionClosed
	}
}

// resolvePending 用代理的response解决对应的未决命令
func (m *Manager) resolvePending(msg *models.Message) {
	m.pendingMu.Lock()
	p, ok := m.pending[msg.CommandID]
	if ok {
		delete(m.pending, msg.CommandID)
	}
	m.pendingMu.Unlock()
	if !ok {
		logger.S().Debugf("收到无主应答 command_id=%s，可能已超时", msg.CommandID)
		return
	}

	if msg.OK != nil && *msg.OK {
		p.result <- commandResult{payload: msg.Payload}
	} else {
		p.result <- commandResult{err: &AgentError{Message: msg.Error}}
	}
}

func (m *Manager) dropPending(id string) {
	m.pendingMu.Lock()
	delete(m.pending, id)
	m.pendingMu.Unlock()
}

// failPendingFor 把挂在某个会话上的未决命令全部置为失败
func (m *Manager) failPendingFor(sessionID string, err error) {
	m.pendingMu.Lock()
	for id, p := range m.pending {
		if p.sessionID == sessionID {
			delete(m.pending, id)
			p.result <- commandResult{err: err}
		}
	}
	m.pendingMu.Unlock()
}

func (m *Manager) failPendingAll(err error) {
	m.pendingMu.Lock()
	for id, p := range m.pending {
		delete(m.pending, id)
		p.result <- commandResult{err: err}
	}
	m.pendingMu.Unlock()
}

// Broadcast 向指定范围内的所有会话广播一条消息。
// 单个会话发送失败只掐掉那个会话，广播本身不失败、不保证送达。
func (m *Manager) Broadcast(msg *models.Message, scope BroadcastScope) {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		switch scope {
		case ScopeObservers:
			if s.Role == models.RoleObserver {
				targets = append(targets, s)
			}
		case ScopeAdmins:
			if s.Role == models.RoleAdmin {
				targets = append(targets, s)
			}
		case ScopeEveryone:
			if s.Role == models.RoleObserver || s.Role == models.RoleAdmin {
				targets = append(targets, s)
			}
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(msg) {
			m.counters.BroadcastDropped.Add(1)
			m.removeSession(s, "广播积压")
		}
	}
	m.counters.Broadcasts.Add(1)
}

// BroadcastTick 把一条行情广播给观察端，超出限流额度的直接丢弃
func (m *Manager) BroadcastTick(tick models.Tick) {
	if !m.tickLimiter.Allow() {
		m.counters.BroadcastDropped.Add(1)
		return
	}
	body, err := json.Marshal(&tick)
	if err != nil {
		return
	}
	m.Broadcast(&models.Message{Type: models.MsgBroadcast, Kind: "tick", Body: body}, ScopeObservers)
}

// BroadcastDecision 把一条决策广播给观察端与管理端
func (m *Manager) BroadcastDecision(d models.Decision) {
	body, err := json.Marshal(&d)
	if err != nil {
		return
	}
	m.Broadcast(&models.Message{Type: models.MsgBroadcast, Kind: "decision", Body: body}, ScopeEveryone)
}

// AgentConnected 当前是否有有效的本地代理
func (m *Manager) AgentConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agent != nil && !m.agent.isClosed()
}

// SessionCount 当前会话数
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// removeSession 移除并关闭会话。若是当前代理，其未决命令全部按会话关闭失败。
func (m *Manager) removeSession(s *Session, reason string) {
	m.mu.Lock()
	_, exists := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	if m.agent == s {
		m.agent = nil
	}
	m.mu.Unlock()

	s.close()
	m.failPendingFor(s.ID, ErrSessionClosed)

	if exists {
		logger.S().Infof("会话移除: role=%s id=%s 原因=%s", s.Role, s.Tag(), reason)
	}
}

// sessionHeartbeatInterval 向对端发心跳的间隔
const sessionHeartbeatInterval = 30 * time.Second

// cleanupLoop 周期做两件事：清掉过期的未决命令；踢掉太久没有心跳的会话。
// 心跳按自己的节奏独立发。
func (m *Manager) cleanupLoop() {
	interval := time.Duration(m.cfg.CleanupIntervalS) * time.Second
	heartbeatTimeout := time.Duration(m.cfg.HeartbeatTimeoutS) * time.Second
	cleanupTicker := time.NewTicker(interval)
	defer cleanupTicker.Stop()
	heartbeatTicker := time.NewTicker(sessionHeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-cleanupTicker.C:
			m.CleanupOnce(time.Now(), heartbeatTimeout)
		case <-heartbeatTicker.C:
			m.pingSessions()
		case <-m.stop:
			return
		}
	}
}

// CleanupOnce 执行一轮清理并返回踢掉的会话数
func (m *Manager) CleanupOnce(now time.Time, heartbeatTimeout time.Duration) int {
	// 过期未决命令
	m.pendingMu.Lock()
	for id, p := range m.pending {
		if now.After(p.cmd.Deadline) {
			delete(m.pending, id)
			p.result <- commandResult{err: ErrCommandTimeout}
			m.counters.CommandTimeouts.Add(1)
		}
	}
	m.pendingMu.Unlock()

	// 静默超时的会话
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastHeartbeat()) > heartbeatTimeout {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.counters.SessionsEvicted.Add(1)
		m.removeSession(s, "心跳超时")
	}
	return len(stale)
}

// pingSessions 周期向所有会话发心跳，维持双向活性
func (m *Manager) pingSessions() {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	hb := &models.Message{Type: models.MsgHeartbeat}
	for _, s := range targets {
		s.enqueue(hb)
	}
}
