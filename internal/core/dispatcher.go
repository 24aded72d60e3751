package core

import (
	"errors"

	"ashare-quote-core/internal/journal"
	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
	"ashare-quote-core/internal/session"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// boardLot A股一手的股数，下单数量按手对齐
const boardLot = 100

// agentDispatcher 把引擎产出的决策落日志、广播给观察端，
// 买卖决策再转成trade命令发给本地代理。
type agentDispatcher struct {
	sessions *session.Manager
	journal  *journal.Journal
}

func newAgentDispatcher(sessions *session.Manager, j *journal.Journal) *agentDispatcher {
	return &agentDispatcher{sessions: sessions, journal: j}
}

// Dispatch 处理一条新决策。代理调用最长会等30秒，放到独立goroutine里做，
// 不能拖住引擎的分析循环。
func (d *agentDispatcher) Dispatch(decision models.Decision) {
	if d.journal != nil {
		if err := d.journal.Append(decision); err != nil {
			logger.S().Warnf("决策写入日志失败: %v", err)
		}
	}

	d.sessions.BroadcastDecision(decision)

	if decision.Action != models.ActionBuy && decision.Action != models.ActionSell {
		return
	}
	go d.sendTrade(decision)
}

// sendTrade 把买卖决策转成trade命令下发给本地代理并等待执行结果
func (d *agentDispatcher) sendTrade(decision models.Decision) {
	ref := uuid.New()
	req := models.TradeRequest{
		Action:    decision.Action,
		StockCode: decision.Symbol,
		Quantity:  boardLot,
		Price:     decision.CurrentPrice,
		ClientRef: base62.EncodeToString(ref[:]),
	}

	payload, err := d.sessions.SendToAgent(models.CmdTrade, &req)
	switch {
	case err == nil:
		logger.S().Infof("决策已执行: %s %s @%.2f ref=%s result=%s",
			decision.Action, decision.Symbol, decision.CurrentPrice, req.ClientRef, string(payload))
	case errors.Is(err, session.ErrNoAgent):
		// 决策已经进环，代理上线后观察端仍能看到
		logger.S().Warnf("决策未下发: 无本地代理在线 (%s %s)", decision.Action, decision.Symbol)
	case errors.Is(err, session.ErrCommandTimeout):
		logger.S().Warnf("决策下发超时: %s %s ref=%s", decision.Action, decision.Symbol, req.ClientRef)
	default:
		logger.S().Warnf("决策下发失败: %s %s: %v", decision.Action, decision.Symbol, err)
	}
}
