// Package cache 维护每只股票的最新行情与滚动历史，并把行情扇出给订阅者。
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
)

// entry 是单只股票的缓存项，只由接收管线的goroutine写入
type entry struct {
	latest        models.Tick
	priceHistory  *series
	volumeHistory *series
	updatedAt     time.Time
}

// StockCache 行情缓存
type StockCache struct {
	cfg models.CacheConfig

	mu      sync.RWMutex
	entries map[string]*entry

	subs *subscriptions

	lastUpdate       atomic.Int64 // 单调递增的最后更新时间（纳秒）
	subscriberErrors atomic.Int64
	evicted          atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New 创建行情缓存
func New(cfg models.CacheConfig) *StockCache {
	return &StockCache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		subs:    newSubscriptions(),
		stop:    make(chan struct{}),
	}
}

// Upsert 用一条新行情替换该股票的最新项，并追加两条滚动历史。
// 只允许接收管线的goroutine调用，同一股票的扇出顺序即写入顺序。
func (c *StockCache) Upsert(tick models.Tick) {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[tick.Symbol]
	if !ok {
		e = &entry{
			priceHistory:  newSeries(c.cfg.HistoryLength),
			volumeHistory: newSeries(c.cfg.HistoryLength),
		}
		c.entries[tick.Symbol] = e
	}
	e.latest = tick
	e.updatedAt = now
	e.priceHistory.push(models.PricePoint{Value: tick.Last, Timestamp: tick.Timestamp})
	e.volumeHistory.push(models.PricePoint{Value: float64(tick.Volume), Timestamp: tick.Timestamp})
	c.mu.Unlock()

	// 最后更新时间只增不减
	ns := now.UnixNano()
	for {
		old := c.lastUpdate.Load()
		if ns <= old || c.lastUpdate.CompareAndSwap(old, ns) {
			break
		}
	}

	c.dispatch(tick)
}

// GetLatest 返回该股票最后一条已知行情
func (c *StockCache) GetLatest(symbol string) (models.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return models.Tick{}, false
	}
	return e.latest, true
}

// Stream 返回该股票价格历史中最近的n个点，新的在前
func (c *StockCache) Stream(symbol string, n int) []models.PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return nil
	}
	return e.priceHistory.newestFirst(n)
}

// StreamVolume 返回该股票成交量历史中最近的n个点，新的在前
func (c *StockCache) StreamVolume(symbol string, n int) []models.PricePoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok {
		return nil
	}
	return e.volumeHistory.newestFirst(n)
}

// SnapshotMarket 返回指定市场所有最新行情的即时拷贝，按代码排序
func (c *StockCache) SnapshotMarket(m models.Market) []models.Tick {
	c.mu.RLock()
	ticks := make([]models.Tick, 0, len(c.entries))
	for _, e := range c.entries {
		if e.latest.Market == m {
			ticks = append(ticks, e.latest)
		}
	}
	c.mu.RUnlock()

	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })
	return ticks
}

// SnapshotAll 返回全部最新行情的即时拷贝，按代码排序
func (c *StockCache) SnapshotAll() []models.Tick {
	c.mu.RLock()
	ticks := make([]models.Tick, 0, len(c.entries))
	for _, e := range c.entries {
		ticks = append(ticks, e.latest)
	}
	c.mu.RUnlock()

	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })
	return ticks
}

// Size 返回缓存中的股票数
func (c *StockCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LastUpdate 返回最后一次Upsert的时间（纳秒），没有过更新时为0
func (c *StockCache) LastUpdate() int64 {
	return c.lastUpdate.Load()
}

// SubscriberErrors 返回被摘除的异常订阅者累计数
func (c *StockCache) SubscriberErrors() int64 {
	return c.subscriberErrors.Load()
}

// dispatch 把一条行情按 symbol → market → all 的顺序扇出。
// 回调抛出panic时摘除该订阅者，其余订阅者不受影响。
func (c *StockCache) dispatch(tick models.Tick) {
	for _, sub := range c.subs.collect(tick.Symbol, tick.Market) {
		c.deliver(sub, tick)
	}
}

func (c *StockCache) deliver(sub *Subscription, tick models.Tick) {
	defer func() {
		if rec := recover(); rec != nil {
			c.subscriberErrors.Add(1)
			c.subs.remove(sub)
			logger.S().Warnf("订阅者回调异常，已摘除: scope=%s err=%v", sub.scope, rec)
		}
	}()
	sub.fn(tick)
}

// StartSweeper 启动周期清理：太久没有更新且无人订阅的股票会被移出缓存
func (c *StockCache) StartSweeper() {
	go func() {
		ticker := time.NewTicker(time.Duration(c.cfg.SweepIntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := c.SweepOnce(time.Now())
				if n > 0 {
					logger.S().Infof("缓存清理: 移除%d只过期股票，剩余%d只", n, c.Size())
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// SweepOnce 执行一轮清理并返回移除的条目数
func (c *StockCache) SweepOnce(now time.Time) int {
	staleBefore := now.Add(-time.Duration(c.cfg.StaleEvictS) * time.Second)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for symbol, e := range c.entries {
		if e.updatedAt.Before(staleBefore) && !c.subs.hasSymbolSubscribers(symbol) {
			delete(c.entries, symbol)
			removed++
		}
	}
	c.evicted.Add(int64(removed))
	return removed
}

// Stop 停止清理任务
func (c *StockCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
