package session

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"ashare-quote-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig() models.SessionConfig {
	return models.SessionConfig{
		ListenAddr:        "127.0.0.1:0",
		CommandTimeoutS:   1,
		HeartbeatTimeoutS: 300,
		CleanupIntervalS:  60,
	}
}

func newTestManager(t *testing.T) *Manager {
	m := NewManager(testSessionConfig())
	t.Cleanup(m.Stop)
	return m
}

// connectPeer 模拟一个对端：通过net.Pipe接入并完成注册握手
func connectPeer(t *testing.T, m *Manager, role models.Role) Transport {
	t.Helper()
	server, client := net.Pipe()
	go m.HandleTransport(NewConnTransport(server))

	peer := NewConnTransport(client)
	require.NoError(t, peer.WriteMessage(&models.Message{Type: models.MsgRegister, Role: role}))
	ack := readWithin(t, peer, 2*time.Second)
	require.Equal(t, models.MsgRegisterAck, ack.Type)
	require.NotEmpty(t, ack.SessionID)
	return peer
}

// readWithin 带超时地读一条消息，超时视为测试失败
func readWithin(t *testing.T, peer Transport, d time.Duration) *models.Message {
	t.Helper()
	type result struct {
		msg *models.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := peer.ReadMessage()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(d):
		t.Fatalf("等待会话消息超时（%v）", d)
		return nil
	}
}

func TestRegisterHandshake(t *testing.T) {
	m := newTestManager(t)

	connectPeer(t, m, models.RoleObserver)
	assert.Equal(t, 1, m.SessionCount())
	assert.False(t, m.AgentConnected())

	connectPeer(t, m, models.RoleLocalAgent)
	assert.Equal(t, 2, m.SessionCount())
	assert.True(t, m.AgentConnected())
	assert.Equal(t, int64(2), m.Counters().SessionsAccepted.Load())
}

func TestFirstMessageMustBeRegister(t *testing.T) {
	m := newTestManager(t)

	server, client := net.Pipe()
	go m.HandleTransport(NewConnTransport(server))

	peer := NewConnTransport(client)
	require.NoError(t, peer.WriteMessage(&models.Message{Type: models.MsgHeartbeat}))

	// 未注册直接断开
	_, err := peer.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, m.SessionCount())
}

func TestSendToAgentWithoutAgent(t *testing.T) {
	m := newTestManager(t)

	start := time.Now()
	_, err := m.SendToAgent(models.CmdStatus, nil)
	assert.ErrorIs(t, err, ErrNoAgent)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "无代理时必须立即失败而不是等超时")
}

func TestCommandRoundTrip(t *testing.T) {
	m := newTestManager(t)
	agent := connectPeer(t, m, models.RoleLocalAgent)

	go func() {
		msg, err := agent.ReadMessage()
		if err != nil {
			return
		}
		ok := true
		_ = agent.WriteMessage(&models.Message{
			Type:      models.MsgResponse,
			CommandID: msg.ID,
			OK:        &ok,
			Payload:   json.RawMessage(`{"order_id":"A100"}`),
		})
	}()

	payload, err := m.SendToAgent(models.CmdTrade, models.TradeRequest{
		Action:    models.ActionBuy,
		StockCode: "000001",
		Quantity:  100,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"A100"}`, string(payload))
	assert.Equal(t, int64(1), m.Counters().CommandsSent.Load())
}

// 应答乱序到达时必须按command_id各回各家
func TestResponsesCorrelateOutOfOrder(t *testing.T) {
	m := newTestManager(t)
	agent := connectPeer(t, m, models.RoleLocalAgent)

	go func() {
		first, err := agent.ReadMessage()
		if err != nil {
			return
		}
		second, err := agent.ReadMessage()
		if err != nil {
			return
		}
		ok := true
		// 后到的命令先回
		_ = agent.WriteMessage(&models.Message{Type: models.MsgResponse, CommandID: second.ID, OK: &ok, Payload: second.Data})
		_ = agent.WriteMessage(&models.Message{Type: models.MsgResponse, CommandID: first.ID, OK: &ok, Payload: first.Data})
	}()

	type reply struct {
		n       int
		payload json.RawMessage
		err     error
	}
	replies := make(chan reply, 2)
	send := func(n int) {
		payload, err := m.SendToAgent(models.CmdStatus, map[string]int{"n": n})
		replies <- reply{n, payload, err}
	}
	go send(1)
	// 保证两条命令的发送顺序确定
	time.Sleep(50 * time.Millisecond)
	go send(2)

	for i := 0; i < 2; i++ {
		select {
		case r := <-replies:
			require.NoError(t, r.err)
			var got map[string]int
			require.NoError(t, json.Unmarshal(r.payload, &got))
			assert.Equal(t, r.n, got["n"])
		case <-time.After(3 * time.Second):
			t.Fatal("等待命令应答超时")
		}
	}
}

func TestCommandTimeout(t *testing.T) {
	m := newTestManager(t)
	agent := connectPeer(t, m, models.RoleLocalAgent)

	// 代理收下命令但不应答
	go func() {
		_, _ = agent.ReadMessage()
	}()

	start := time.Now()
	_, err := m.SendToAgent(models.CmdExport, models.ExportRequest{DataType: "holdings"})
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), m.Counters().CommandTimeouts.Load())
}

func TestAgentReportsFailure(t *testing.T) {
	m := newTestManager(t)
	agent := connectPeer(t, m, models.RoleLocalAgent)

	go func() {
		msg, err := agent.ReadMessage()
		if err != nil {
			return
		}
		ok := false
		_ = agent.WriteMessage(&models.Message{
			Type:      models.MsgResponse,
			CommandID: msg.ID,
			OK:        &ok,
			Error:     "资金不足",
		})
	}()

	_, err := m.SendToAgent(models.CmdTrade, models.TradeRequest{Action: models.ActionBuy, StockCode: "000001", Quantity: 100})
	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Contains(t, agentErr.Error(), "资金不足")
}

func TestAgentDisplacement(t *testing.T) {
	m := newTestManager(t)
	old := connectPeer(t, m, models.RoleLocalAgent)

	// 旧代理挂着一条未决命令
	sendErr := make(chan error, 1)
	go func() {
		_, err := m.SendToAgent(models.CmdStatus, nil)
		sendErr <- err
	}()
	cmd := readWithin(t, old, 2*time.Second)
	require.Equal(t, models.CmdStatus, cmd.Type)

	// 旧代理等着被替换通知
	displaced := make(chan *models.Message, 1)
	go func() {
		msg, err := old.ReadMessage()
		if err == nil {
			displaced <- msg
		}
	}()

	connectPeer(t, m, models.RoleLocalAgent)

	select {
	case msg := <-displaced:
		assert.Equal(t, models.MsgEvent, msg.Type)
		assert.Equal(t, "displaced", msg.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("旧代理未收到替换通知")
	}

	select {
	case err := <-sendErr:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("旧代理的未决命令未被关闭")
	}

	assert.True(t, m.AgentConnected())
	assert.Equal(t, 1, m.SessionCount())
}

func TestHeartbeatAck(t *testing.T) {
	m := newTestManager(t)
	peer := connectPeer(t, m, models.RoleObserver)

	require.NoError(t, peer.WriteMessage(&models.Message{Type: models.MsgHeartbeat}))
	ack := readWithin(t, peer, 2*time.Second)
	assert.Equal(t, models.MsgHeartbeatAck, ack.Type)
}

func TestStaleSessionEvicted(t *testing.T) {
	m := newTestManager(t)
	connectPeer(t, m, models.RoleObserver)

	// 五分钟没有任何消息视为死会话
	future := time.Now().Add(10 * time.Minute)
	evicted := m.CleanupOnce(future, 5*time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, m.SessionCount())
	assert.Equal(t, int64(1), m.Counters().SessionsEvicted.Load())
}

func TestBroadcastScopes(t *testing.T) {
	m := newTestManager(t)
	observer := connectPeer(t, m, models.RoleObserver)
	admin := connectPeer(t, m, models.RoleAdmin)

	m.Broadcast(&models.Message{Type: models.MsgBroadcast, Kind: "tick"}, ScopeObservers)
	m.BroadcastDecision(models.Decision{Symbol: "000001", Action: models.ActionBuy})

	// 观察端两条都收
	msg := readWithin(t, observer, 2*time.Second)
	assert.Equal(t, "tick", msg.Kind)
	msg = readWithin(t, observer, 2*time.Second)
	assert.Equal(t, "decision", msg.Kind)

	// 管理端只收决策，收不到tick
	msg = readWithin(t, admin, 2*time.Second)
	assert.Equal(t, "decision", msg.Kind)

	var d models.Decision
	require.NoError(t, json.Unmarshal(msg.Body, &d))
	assert.Equal(t, "000001", d.Symbol)
}

// 代理的主动事件要转播给观察端
func TestAgentEventRebroadcast(t *testing.T) {
	m := newTestManager(t)
	agent := connectPeer(t, m, models.RoleLocalAgent)
	observer := connectPeer(t, m, models.RoleObserver)

	body, _ := json.Marshal(map[string]string{"order_id": "A100", "status": "filled"})
	require.NoError(t, agent.WriteMessage(&models.Message{Type: models.MsgEvent, Kind: "order_update", Body: body}))

	msg := readWithin(t, observer, 2*time.Second)
	assert.Equal(t, models.MsgBroadcast, msg.Type)
	assert.Equal(t, "order_update", msg.Kind)
	assert.JSONEq(t, string(body), string(msg.Body))
}

func TestStopFailsPending(t *testing.T) {
	m := NewManager(testSessionConfig())
	agent := connectPeer(t, m, models.RoleLocalAgent)

	sendErr := make(chan error, 1)
	go func() {
		_, err := m.SendToAgent(models.CmdStatus, nil)
		sendErr <- err
	}()
	readWithin(t, agent, 2*time.Second)

	m.Stop()

	select {
	case err := <-sendErr:
		assert.True(t, errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrCommandTimeout))
	case <-time.After(3 * time.Second):
		t.Fatal("Stop后未决命令未被释放")
	}
	assert.Equal(t, 0, m.SessionCount())
}
