package cache

import (
	"fmt"
	"testing"
	"time"

	"ashare-quote-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache() *StockCache {
	return New(models.CacheConfig{
		HistoryLength:  100,
		StaleEvictS:    300,
		SweepIntervalS: 60,
	})
}

func tick(symbol string, market models.Market, last float64) models.Tick {
	return models.Tick{
		Symbol:    symbol,
		Market:    market,
		Last:      last,
		PrevClose: 10,
		Timestamp: time.Now().Unix(),
	}
}

func TestUpsertAndGetLatest(t *testing.T) {
	c := testCache()

	_, ok := c.GetLatest("000001")
	assert.False(t, ok)

	c.Upsert(tick("000001", models.MarketSZ, 10.5))
	c.Upsert(tick("000001", models.MarketSZ, 10.8))

	got, ok := c.GetLatest("000001")
	require.True(t, ok)
	assert.Equal(t, 10.8, got.Last)
	assert.Equal(t, 1, c.Size())
	assert.Greater(t, c.LastUpdate(), int64(0))
}

func TestStreamNewestFirstAndBounded(t *testing.T) {
	c := New(models.CacheConfig{HistoryLength: 5, StaleEvictS: 300, SweepIntervalS: 60})

	for i := 1; i <= 8; i++ {
		tk := tick("000001", models.MarketSZ, float64(i))
		tk.Timestamp = int64(i)
		c.Upsert(tk)
	}

	points := c.Stream("000001", 10)
	require.Len(t, points, 5) // bounded by history length
	assert.Equal(t, 8.0, points[0].Value)
	assert.Equal(t, 4.0, points[4].Value)

	points = c.Stream("000001", 2)
	require.Len(t, points, 2)
	assert.Equal(t, 8.0, points[0].Value)
	assert.Equal(t, 7.0, points[1].Value)
}

// A subscriber on a symbol receives that symbol's ticks in upsert order.
func TestFanOutOrdering(t *testing.T) {
	c := testCache()

	var seen []float64
	c.Subscribe(SymbolScope("000001"), func(tk models.Tick) {
		seen = append(seen, tk.Last)
	})

	for i := 1; i <= 10; i++ {
		c.Upsert(tick("000001", models.MarketSZ, float64(i)))
		c.Upsert(tick("600519", models.MarketSH, float64(100+i))) // noise for another symbol
	}

	require.Len(t, seen, 10)
	for i, last := range seen {
		assert.Equal(t, float64(i+1), last)
	}
}

func TestFanOutScopes(t *testing.T) {
	c := testCache()

	var order []string
	c.Subscribe(ScopeAll, func(models.Tick) { order = append(order, "all") })
	c.Subscribe(SymbolScope("000001"), func(models.Tick) { order = append(order, "symbol") })
	c.Subscribe(MarketScope(models.MarketSZ), func(models.Tick) { order = append(order, "market") })

	c.Upsert(tick("000001", models.MarketSZ, 10.5))
	assert.Equal(t, []string{"symbol", "market", "all"}, order)

	order = nil
	c.Upsert(tick("600519", models.MarketSH, 1800))
	assert.Equal(t, []string{"all"}, order)
}

// A panicking callback is unsubscribed; other subscribers keep receiving.
func TestSubscriberIsolation(t *testing.T) {
	c := testCache()

	var healthy int
	c.Subscribe(SymbolScope("000001"), func(models.Tick) {
		panic("subscriber bug")
	})
	c.Subscribe(SymbolScope("000001"), func(models.Tick) {
		healthy++
	})

	c.Upsert(tick("000001", models.MarketSZ, 10.5))
	c.Upsert(tick("000001", models.MarketSZ, 10.6))

	assert.Equal(t, 2, healthy)
	assert.Equal(t, int64(1), c.SubscriberErrors())
}

func TestUnsubscribe(t *testing.T) {
	c := testCache()

	var count int
	sub := c.Subscribe(ScopeAll, func(models.Tick) { count++ })

	c.Upsert(tick("000001", models.MarketSZ, 10.5))
	c.Unsubscribe(sub)
	c.Upsert(tick("000001", models.MarketSZ, 10.6))

	assert.Equal(t, 1, count)
}

func TestSnapshotMarketSorted(t *testing.T) {
	c := testCache()
	for _, s := range []string{"000003", "000001", "600519", "000002"} {
		m := models.MarketSZ
		if s[0] == '6' {
			m = models.MarketSH
		}
		c.Upsert(tick(s, m, 10))
	}

	snap := c.SnapshotMarket(models.MarketSZ)
	require.Len(t, snap, 3)
	assert.Equal(t, "000001", snap[0].Symbol)
	assert.Equal(t, "000002", snap[1].Symbol)
	assert.Equal(t, "000003", snap[2].Symbol)

	all := c.SnapshotAll()
	assert.Len(t, all, 4)
}

func TestSweepEvictsStaleUnsubscribed(t *testing.T) {
	c := testCache()
	c.Upsert(tick("000001", models.MarketSZ, 10.5))
	c.Upsert(tick("600519", models.MarketSH, 1800))
	c.Subscribe(SymbolScope("600519"), func(models.Tick) {})

	// Nothing is stale yet.
	assert.Equal(t, 0, c.SweepOnce(time.Now()))

	// Six minutes later both are stale, but 600519 still has a subscriber.
	future := time.Now().Add(6 * time.Minute)
	assert.Equal(t, 1, c.SweepOnce(future))

	_, ok := c.GetLatest("000001")
	assert.False(t, ok)
	_, ok = c.GetLatest("600519")
	assert.True(t, ok)
}

func TestConcurrentReadsDuringUpserts(t *testing.T) {
	c := testCache()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			c.Upsert(tick(fmt.Sprintf("%06d", i%50), models.MarketSZ, float64(i)))
		}
	}()

	for i := 0; i < 1000; i++ {
		c.GetLatest("000001")
		c.Stream("000010", 5)
		c.SnapshotMarket(models.MarketSZ)
	}
	<-done
}
