package models

import (
	"encoding/json"
	"time"
)

// Role 表示一个已连接会话的角色
type Role string

const (
	RoleLocalAgent Role = "local_agent" // 本地交易代理，同一时刻只有一个有效
	RoleObserver   Role = "observer"
	RoleAdmin      Role = "admin"
)

// 会话通道上的消息类型。所有消息均为JSON，按行分帧。
const (
	MsgRegister     = "register"
	MsgRegisterAck  = "register_ack"
	MsgResponse     = "response"
	MsgHeartbeat    = "heartbeat"
	MsgHeartbeatAck = "heartbeat_ack"
	MsgEvent        = "event"
	MsgBroadcast    = "broadcast"
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
)

// 发往本地代理的命令类型
const (
	CmdTrade   = "trade"
	CmdExport  = "export"
	CmdStatus  = "status"
	CmdCleanup = "cleanup"
)

// Message 是会话通道上的通用消息信封。具体负载按Type解释。
type Message struct {
	Type string `json:"type"`

	// register
	Role     Role              `json:"role,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// register_ack
	SessionID string `json:"session_id,omitempty"`

	// 命令请求（core → agent）
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt int64           `json:"sent_at,omitempty"`

	// response（agent → core）
	CommandID string          `json:"command_id,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`

	// event（agent → core）与broadcast（core → observer）
	Kind  string          `json:"kind,omitempty"`
	Scope string          `json:"scope,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Command 是一条等待本地代理应答的未决命令
type Command struct {
	ID       string
	Type     string
	Data     json.RawMessage
	SentAt   time.Time
	Deadline time.Time
}

// TradeRequest 是trade命令的负载
type TradeRequest struct {
	Action    Action  `json:"action"`
	StockCode string  `json:"stock_code"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
	ClientRef string  `json:"client_ref,omitempty"` // 本地幂等参考号
}

// ExportRequest 是export命令的负载
type ExportRequest struct {
	DataType string `json:"data_type"` // holdings | transactions | orders | all
}
