// Package core 把六个子系统装配成一个行情核心：
// 接收 → 解析 → 缓存扇出 → 决策 → 会话下发/广播。
// 所有依赖显式注入，进程里只有这一个状态根。
package core

import (
	"fmt"
	"net"
	"time"

	"ashare-quote-core/internal/cache"
	"ashare-quote-core/internal/engine"
	"ashare-quote-core/internal/journal"
	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
	"ashare-quote-core/internal/parser"
	"ashare-quote-core/internal/receiver"
	"ashare-quote-core/internal/reporter"
	"ashare-quote-core/internal/session"
)

// Core 行情核心
type Core struct {
	cfg *models.Config

	Receiver *receiver.Receiver
	Parser   *parser.Parser
	Cache    *cache.StockCache
	Engine   *engine.Engine
	Sessions *session.Manager

	journal *journal.Journal
	tickSub *cache.Subscription

	listener  net.Listener
	startTime time.Time
	stop      chan struct{}
	parseDone chan struct{}
}

// New 按配置装配行情核心。决策日志配置了路径时顺带恢复决策环。
func New(cfg *models.Config) (*Core, error) {
	c := &Core{
		cfg:       cfg,
		Parser:    parser.New(),
		Cache:     cache.New(cfg.Cache),
		Sessions:  session.NewManager(cfg.Session),
		stop:      make(chan struct{}),
		parseDone: make(chan struct{}),
	}
	c.Receiver = receiver.New(cfg.Source, cfg.Receiver, cfg.Memory)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("打开决策日志失败: %w", err)
		}
		c.journal = j
	}

	dispatcher := newAgentDispatcher(c.Sessions, c.journal)
	c.Engine = engine.New(cfg.Engine, c.Cache, dispatcher)

	if c.journal != nil {
		restored, err := c.journal.LoadRecent(1000)
		if err != nil {
			logger.S().Warnf("恢复决策环失败: %v", err)
		} else {
			for _, d := range restored {
				c.Engine.Ring().Append(d)
			}
			if len(restored) > 0 {
				logger.S().Infof("从决策日志恢复%d条历史决策", len(restored))
			}
		}
	}

	return c, nil
}

// Start 启动全部子系统。上游连接失败直接返回错误，由调用方决定去留。
func (c *Core) Start() error {
	c.startTime = time.Now()

	// 会话接入点先起，代理可以在行情铺开之前注册
	ln, err := net.Listen("tcp", c.cfg.Session.ListenAddr)
	if err != nil {
		return fmt.Errorf("监听会话地址 %s 失败: %w", c.cfg.Session.ListenAddr, err)
	}
	c.listener = ln
	c.Sessions.Start()
	go c.Sessions.Serve(ln)
	logger.S().Infof("会话接入点就绪: %s", c.cfg.Session.ListenAddr)

	// 每条行情都广播给观察端；限流在会话管理器里做
	c.tickSub = c.Cache.Subscribe(cache.ScopeAll, func(t models.Tick) {
		c.Sessions.BroadcastTick(t)
	})

	if err := c.Receiver.Start(); err != nil {
		c.Sessions.Stop()
		ln.Close()
		return err
	}

	go c.parseLoop()
	c.Cache.StartSweeper()
	c.Engine.Start()

	logger.S().Info("行情核心启动完成")
	return nil
}

// parseLoop 从暂存队列取帧、解析、写缓存。
// 解析与缓存写都在这一个goroutine里，单只股票的扇出顺序即接收顺序。
func (c *Core) parseLoop() {
	defer close(c.parseDone)
	ring := c.Receiver.Ring()
	for {
		frame, ok := ring.Pop(c.stop)
		if !ok {
			return
		}
		for _, tick := range c.Parser.ParseFrame(frame) {
			c.Cache.Upsert(tick)
		}
	}
}

// Stop 按依赖顺序级联停机：停收 → 排空解析 → 停引擎 → 关会话
func (c *Core) Stop() {
	logger.S().Info("行情核心开始停机")

	c.Receiver.Stop()
	close(c.stop)
	<-c.parseDone

	c.Engine.Stop()
	c.Cache.Unsubscribe(c.tickSub)
	c.Cache.Stop()

	if c.listener != nil {
		c.listener.Close()
	}
	c.Sessions.Stop()

	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			logger.S().Warnf("关闭决策日志失败: %v", err)
		}
	}
	logger.S().Info("行情核心停机完成")
}

// SessionAddr 返回会话接入点的实际监听地址
func (c *Core) SessionAddr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stats 汇总各子系统计数，供退出报表使用
func (c *Core) Stats() reporter.RunStats {
	rc := c.Receiver.Counters()
	pc := c.Parser.Counters()
	sc := c.Sessions.Counters()
	return reporter.RunStats{
		StartTime: c.startTime,
		EndTime:   time.Now(),

		FramesReceived:  rc.FramesReceived.Load(),
		FramesOversized: rc.FramesOversized.Load(),
		StagingDropped:  c.Receiver.Ring().Dropped(),
		Reconnects:      rc.Reconnects.Load(),
		SoftCleanups:    rc.SoftCleanups.Load(),
		HardCleanups:    rc.HardCleanups.Load(),

		ParsedSZSH:       pc.ParsedSZSH.Load(),
		ParsedBJ:         pc.ParsedBJ.Load(),
		DroppedMalformed: pc.DroppedMalformed.Load(),
		DroppedTooSmall:  pc.DroppedTooSmall.Load(),

		CachedSymbols:    c.Cache.Size(),
		SubscriberErrors: c.Cache.SubscriberErrors(),

		DecisionsTotal:  c.Engine.Ring().Total(),
		DecisionsInRing: c.Engine.Ring().Len(),
		EngineSkipped:   c.Engine.SkippedRuns(),
		RecentDecisions: c.Engine.Ring().Recent(10),

		CommandsSent:    sc.CommandsSent.Load(),
		CommandTimeouts: sc.CommandTimeouts.Load(),
		Broadcasts:      sc.Broadcasts.Load(),
		SessionsServed:  sc.SessionsAccepted.Load(),
	}
}
