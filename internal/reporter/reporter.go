// Package reporter 在进程退出时汇总一张运行报表。
package reporter

import (
	"io"
	"time"

	"ashare-quote-core/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RunStats 汇总报表需要的各子系统计数
type RunStats struct {
	StartTime time.Time
	EndTime   time.Time

	FramesReceived  int64
	FramesOversized int64
	StagingDropped  int64
	Reconnects      int64
	SoftCleanups    int64
	HardCleanups    int64

	ParsedSZSH       int64
	ParsedBJ         int64
	DroppedMalformed int64
	DroppedTooSmall  int64

	CachedSymbols    int
	SubscriberErrors int64

	DecisionsTotal  int64
	DecisionsInRing int
	EngineSkipped   int64
	RecentDecisions []models.Decision

	CommandsSent    int64
	CommandTimeouts int64
	Broadcasts      int64
	SessionsServed  int64
}

// WriteReport 把运行报表渲染到指定输出
func WriteReport(w io.Writer, stats RunStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("行情核心运行报表 (%s ~ %s)",
		stats.StartTime.Format("2006-01-02 15:04:05"),
		stats.EndTime.Format("2006-01-02 15:04:05"))
	t.AppendHeader(table.Row{"指标", "数值"})
	t.AppendRows([]table.Row{
		{"接收帧数", stats.FramesReceived},
		{"超长帧丢弃", stats.FramesOversized},
		{"暂存队列丢帧", stats.StagingDropped},
		{"重连次数", stats.Reconnects},
		{"软清理次数", stats.SoftCleanups},
		{"硬清理次数", stats.HardCleanups},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"沪深解析行数", stats.ParsedSZSH},
		{"北交所解析行数", stats.ParsedBJ},
		{"非法行丢弃", stats.DroppedMalformed},
		{"字段不足丢弃", stats.DroppedTooSmall},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"缓存股票数", stats.CachedSymbols},
		{"异常订阅者摘除", stats.SubscriberErrors},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"累计决策数", stats.DecisionsTotal},
		{"决策环内条数", stats.DecisionsInRing},
		{"引擎跳轮次数", stats.EngineSkipped},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"下发命令数", stats.CommandsSent},
		{"命令超时数", stats.CommandTimeouts},
		{"广播消息数", stats.Broadcasts},
		{"服务过的会话数", stats.SessionsServed},
	})
	t.Render()

	if len(stats.RecentDecisions) > 0 {
		d := table.NewWriter()
		d.SetOutputMirror(w)
		d.SetTitle("最近决策")
		d.AppendHeader(table.Row{"代码", "动作", "现价", "涨跌幅", "置信度", "理由"})
		for _, dec := range stats.RecentDecisions {
			d.AppendRow(table.Row{
				dec.Symbol, dec.Action, dec.CurrentPrice,
				dec.ChangePercent, dec.Confidence, dec.Reason,
			})
		}
		d.Render()
	}
}
