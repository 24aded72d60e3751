package engine

import "ashare-quote-core/internal/models"

// RuleInput 是规则判定可见的单只股票指标
type RuleInput struct {
	ChangePercent float64
	Volume        int64
	Last          float64
	Amount        float64
}

// Rule 是一条有序决策规则。规则是数据不是代码：
// 按声明顺序逐条判定，第一条命中的规则决定动作。
type Rule struct {
	Name   string
	Action models.Action
	Reason string
	When   func(in RuleInput) bool
}

// DefaultRules 返回内置的决策规则表
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "surge-sell",
			Action: models.ActionSell,
			Reason: "涨幅过高且放量，获利了结",
			When: func(in RuleInput) bool {
				return in.ChangePercent > 7 && in.Volume > 2_000_000
			},
		},
		{
			Name:   "dip-buy",
			Action: models.ActionBuy,
			Reason: "深度回调且放量，低吸",
			When: func(in RuleInput) bool {
				return in.ChangePercent < -5 && in.Volume > 1_000_000 && in.Last > 5
			},
		},
		{
			Name:   "momentum-buy",
			Action: models.ActionBuy,
			Reason: "温和上涨配合放量，顺势跟进",
			When: func(in RuleInput) bool {
				return in.ChangePercent > 3 && in.ChangePercent < 6 && in.Volume > 500_000
			},
		},
	}
}
