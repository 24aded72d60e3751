// Package engine 周期性扫描行情缓存，产出买/卖/持有决策。
package engine

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ashare-quote-core/internal/cache"
	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
)

// decisionRingCapacity 观察端可回查的决策条数上限
const decisionRingCapacity = 1000

// Dispatcher 接收引擎产出的决策并下发。
// 用接口切断 engine → session 的依赖环，模式同交易下单的解耦。
type Dispatcher interface {
	Dispatch(decision models.Decision)
}

// Engine 决策引擎
type Engine struct {
	cfg        models.EngineConfig
	cache      *cache.StockCache
	dispatcher Dispatcher
	rules      []Rule
	ring       *DecisionRing

	rng   *rand.Rand
	rngMu sync.Mutex

	running     atomic.Bool
	skippedRuns atomic.Int64
	emitted     atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New 创建决策引擎。dispatcher可以为nil，此时决策只进环不下发。
func New(cfg models.EngineConfig, c *cache.StockCache, dispatcher Dispatcher) *Engine {
	return &Engine{
		cfg:        cfg,
		cache:      c,
		dispatcher: dispatcher,
		rules:      DefaultRules(),
		ring:       NewDecisionRing(decisionRingCapacity),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetRules 替换决策规则表，必须在Start之前调用
func (e *Engine) SetRules(rules []Rule) {
	e.rules = rules
}

// Ring 返回决策环
func (e *Engine) Ring() *DecisionRing {
	return e.ring
}

// SkippedRuns 返回因上一轮未结束而跳过的轮数
func (e *Engine) SkippedRuns() int64 {
	return e.skippedRuns.Load()
}

// Emitted 返回累计产出的非持有决策数
func (e *Engine) Emitted() int64 {
	return e.emitted.Load()
}

// Start 按配置的间隔启动分析循环
func (e *Engine) Start() {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(time.Duration(e.cfg.IntervalS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// 上一轮还没跑完就跳过本轮
				if !e.running.CompareAndSwap(false, true) {
					e.skippedRuns.Add(1)
					continue
				}
				e.RunOnce()
				e.running.Store(false)
			case <-e.stop:
				return
			}
		}
	}()
}

// Stop 请求停止。当前这一轮会跑完再退出。
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// RunOnce 执行一轮完整分析：过滤 → 排序截断 → 规则判定 → 产出
func (e *Engine) RunOnce() []models.Decision {
	candidates := e.survey()

	// 涨跌幅绝对值大的优先，限制单轮工作量
	sort.Slice(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].ChangePercent()) > math.Abs(candidates[j].ChangePercent())
	})
	if len(candidates) > e.cfg.MaxSymbolsPerTick {
		candidates = candidates[:e.cfg.MaxSymbolsPerTick]
	}

	var decisions []models.Decision
	for i := range candidates {
		if d, ok := e.evaluate(&candidates[i]); ok {
			decisions = append(decisions, d)
			e.ring.Append(d)
			e.emitted.Add(1)
			if e.dispatcher != nil {
				e.dispatcher.Dispatch(d)
			}
		}
	}
	if len(decisions) > 0 {
		logger.S().Infof("决策引擎本轮产出%d条决策（候选%d只）", len(decisions), len(candidates))
	}
	return decisions
}

// survey 取全市场快照并应用数据质量过滤
func (e *Engine) survey() []models.Tick {
	all := e.cache.SnapshotAll()
	out := all[:0]
	for _, t := range all {
		if e.passesFilters(&t) {
			out = append(out, t)
		}
	}
	return out
}

// passesFilters 数据质量过滤，任一条不过即整只股票出局
func (e *Engine) passesFilters(t *models.Tick) bool {
	f := e.cfg.Filters
	if t.Market == models.MarketBJ && !e.cfg.EnableBeijing {
		return false
	}
	// 涨跌停附近视为不可交易信号
	if math.Abs(t.ChangePercent()) >= f.MaxChangePercent {
		return false
	}
	if t.Last < f.MinPrice || t.Last > f.MaxPrice {
		return false
	}
	if t.Volume < f.MinVolume {
		return false
	}
	if t.Amount < f.MinAmount {
		return false
	}
	return true
}

// evaluate 按规则表顺序判定一只股票，持有不产出
func (e *Engine) evaluate(t *models.Tick) (models.Decision, bool) {
	in := RuleInput{
		ChangePercent: t.ChangePercent(),
		Volume:        t.Volume,
		Last:          t.Last,
		Amount:        t.Amount,
	}
	for _, rule := range e.rules {
		if !rule.When(in) {
			continue
		}
		if rule.Action == models.ActionHold {
			return models.Decision{}, false
		}
		return models.Decision{
			Symbol:        t.Symbol,
			Action:        rule.Action,
			CurrentPrice:  t.Last,
			ChangePercent: in.ChangePercent,
			Volume:        t.Volume,
			Confidence:    e.confidence(in),
			Reason:        rule.Reason,
			CreatedAt:     time.Now(),
		}, true
	}
	return models.Decision{}, false
}

// confidence 计算决策置信度：基准0.5，量能与波动加成，再叠加±0.1的扰动
func (e *Engine) confidence(in RuleInput) float64 {
	c := 0.5
	switch {
	case in.Volume > 2_000_000:
		c += 0.2
	case in.Volume > 1_000_000:
		c += 0.1
	}
	if math.Abs(in.ChangePercent) > 5 {
		c += 0.1
	}

	e.rngMu.Lock()
	c += e.rng.Float64()*0.2 - 0.1
	e.rngMu.Unlock()

	return math.Min(0.9, math.Max(0.1, c))
}
