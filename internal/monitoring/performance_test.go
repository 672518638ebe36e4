package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestMetrics() (*PerformanceMetrics, *clock) {
	c := &clock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewPerformanceMetrics(nil, WithClock(c.Now)), c
}

func TestPerformanceMetrics_Rates(t *testing.T) {
	p, c := newTestMetrics()
	p.RecordTrade("iron_bar", 10, 50, 0)
	c.t = c.t.Add(2 * time.Hour)
	for i := 0; i < 6; i++ {
		p.RecordTrade("gold_bar", 1, 1000, time.Duration(i+1)*time.Millisecond)
	}

	assert.InDelta(t, 0.1, p.TradesPerMinute(), 1e-9)
	assert.InDelta(t, 7.0/24, p.TradesPerHour(), 1e-9)
	assert.Equal(t, float64(6000), p.CoinVelocity())

	// 0,1,2,3,4,5,6 ms
	assert.Equal(t, 3*time.Millisecond, p.AverageExecutionTime())
	assert.Equal(t, 3*time.Millisecond, p.MedianExecutionTime())
}

func TestPerformanceMetrics_HealthScore(t *testing.T) {
	assert.Equal(t, 0, healthScore(0, 0, 0))
	assert.Equal(t, 100, healthScore(10, 1_000_000, 50))
	assert.Equal(t, 1+5+4, healthScore(0.1, 50_000, 2))

	p, _ := newTestMetrics()
	p.RecordTrade("iron_bar", 100, 500, time.Millisecond)
	// 1/60*10 + 50000/10000 + 2 = 7.16
	assert.Equal(t, 7, p.MarketHealthScore())
}

func TestPerformanceMetrics_ItemsAndReport(t *testing.T) {
	p, c := newTestMetrics()
	p.RecordTrade("iron_bar", 10, 50, time.Millisecond)
	p.RecordTrade("iron_bar", 30, 40, time.Millisecond)
	p.RecordTrade("gold_bar", 5, 900, time.Millisecond)
	p.RecordActiveOffers("iron_bar", 2, 3)
	p.RecordActiveOffers("feather", 1, 0)

	m, ok := p.ItemMetrics("iron_bar")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.TradeCount)
	assert.Equal(t, int64(40), m.TotalVolume)
	assert.Equal(t, int64(1700), m.TotalValue)
	assert.InDelta(t, 42.5, m.AveragePrice(), 1e-9)
	assert.Equal(t, 2, m.ActiveBuyOrders)
	assert.Equal(t, 3, m.ActiveSellOffers)

	assert.Equal(t, []string{"iron_bar", "gold_bar"}, p.TopTradedItems(2))
	assert.Len(t, p.TopTradedItems(0), 3)

	c.t = c.t.Add(90 * time.Minute)
	r := p.MarketReport()
	assert.Equal(t, int64(3), r.TotalTrades)
	assert.Equal(t, int64(500+1200+4500), r.TotalCoins)
	assert.Equal(t, 3, r.ActiveItems)
	assert.Equal(t, 90*time.Minute, r.Uptime)
	assert.Zero(t, r.TradesPerMinute)
	assert.Equal(t, 6, r.MarketHealth)
}

func TestPerformanceMetrics_BoundsAndCleanup(t *testing.T) {
	p, c := newTestMetrics()
	for i := 0; i < MaxTradeEvents+10; i++ {
		p.RecordTrade("feather", 1, 1, time.Duration(i)*time.Microsecond)
	}
	assert.Equal(t, float64(MaxTradeEvents)/60, p.TradesPerMinute())

	c.t = c.t.Add(23 * time.Hour)
	p.RecordTrade("feather", 1, 1, 0)
	c.t = c.t.Add(2 * time.Hour)
	assert.Equal(t, MaxTradeEvents-1, p.Cleanup())
	assert.InDelta(t, 1.0/24, p.TradesPerHour(), 1e-9)
}
