package models

import "time"

// Action 表示交易决策的方向
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Decision 是决策引擎对单只股票给出的一条交易建议，产生后不可修改。
type Decision struct {
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	CurrentPrice  float64   `json:"current_price"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Confidence    float64   `json:"confidence"` // [0.1, 0.9]
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
