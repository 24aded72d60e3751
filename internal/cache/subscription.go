package cache

import (
	"sync"

	"ashare-quote-core/internal/models"
)

// Scope 是订阅范围：指定股票、整个市场或全部行情
type Scope string

const ScopeAll Scope = "all"

// SymbolScope 订阅单只股票
func SymbolScope(symbol string) Scope {
	return Scope("symbol=" + symbol)
}

// MarketScope 订阅整个市场
func MarketScope(m models.Market) Scope {
	return Scope("market=" + string(m))
}

// Subscription 是一条已登记的订阅，Unsubscribe时作为句柄使用
type Subscription struct {
	scope Scope
	fn    func(models.Tick)
}

// subscriptions 按范围维护订阅者列表。
// 同一范围内保持登记顺序，保证扇出顺序确定。
type subscriptions struct {
	mu      sync.RWMutex
	byScope map[Scope][]*Subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byScope: make(map[Scope][]*Subscription)}
}

// Subscribe 登记一个订阅者。回调必须是非阻塞的，
// 耗时工作要由回调自己转交到别的goroutine。
func (c *StockCache) Subscribe(scope Scope, fn func(models.Tick)) *Subscription {
	sub := &Subscription{scope: scope, fn: fn}
	c.subs.mu.Lock()
	c.subs.byScope[scope] = append(c.subs.byScope[scope], sub)
	c.subs.mu.Unlock()
	return sub
}

// Unsubscribe 摘除一个订阅者
func (c *StockCache) Unsubscribe(sub *Subscription) {
	c.subs.remove(sub)
}

func (s *subscriptions) remove(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byScope[sub.scope]
	for i, candidate := range list {
		if candidate == sub {
			s.byScope[sub.scope] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.byScope[sub.scope]) == 0 {
		delete(s.byScope, sub.scope)
	}
}

// collect 按 symbol → market → all 的固定顺序收集订阅者快照
func (s *subscriptions) collect(symbol string, market models.Market) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Subscription
	out = append(out, s.byScope[SymbolScope(symbol)]...)
	out = append(out, s.byScope[MarketScope(market)]...)
	out = append(out, s.byScope[ScopeAll]...)
	return out
}

func (s *subscriptions) hasSymbolSubscribers(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byScope[SymbolScope(symbol)]) > 0
}
