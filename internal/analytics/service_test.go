package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestService(size int) (*Service, *clock) {
	c := &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	return NewService(size, nil, WithClock(c.Now)), c
}

func record(s *Service, c *clock, item string, price, qty int64) {
	s.RecordTrade(&domain.TradeResult{ItemID: item, PricePerItem: price, Quantity: qty, ExecutedAt: c.t})
}

func TestService_PriceStatistics(t *testing.T) {
	s, c := newTestService(0)
	record(s, c, "iron_bar", 10, 1)
	record(s, c, "iron_bar", 20, 3)
	record(s, c, "iron_bar", 40, 1)
	record(s, c, "iron_bar", 30, 5)

	assert.Equal(t, int64(25), s.GuidePrice("iron_bar"))
	// (10 + 60 + 40 + 150) / 10
	assert.Equal(t, int64(26), s.VWAP("iron_bar"))
	assert.Equal(t, int64(25), s.AveragePrice("iron_bar"))
	assert.InDelta(t, 11.1803, s.PriceVolatility("iron_bar"), 0.0001)
	assert.Equal(t, int64(10), s.TradeVolume("iron_bar"))
	assert.Equal(t, 4, s.TradeCount("iron_bar"))

	record(s, c, "iron_bar", 50, 1)
	assert.Equal(t, int64(30), s.GuidePrice("iron_bar"))
}

func TestService_EmptyItem(t *testing.T) {
	s, _ := newTestService(10)
	sum := s.MarketSummary("nothing")
	assert.False(t, sum.HasTradeHistory())
	assert.Zero(t, sum.GuidePrice)
	assert.Zero(t, sum.VWAP)
	assert.Zero(t, sum.Volatility)
	assert.Zero(t, s.Spread24h("nothing"))
}

func TestService_BoundedHistory(t *testing.T) {
	s, c := newTestService(3)
	for _, p := range []int64{100, 1, 2, 3} {
		record(s, c, "feather", p, 1)
	}
	assert.Equal(t, 3, s.TradeCount("feather"))
	assert.Equal(t, int64(2), s.AveragePrice("feather"))

	st := s.Stats()
	assert.Equal(t, int64(4), st.TotalTrades)
	assert.Equal(t, int64(106), st.TotalValue)
	assert.Equal(t, 1, st.TrackedItems)
}

func TestService_RollingRange(t *testing.T) {
	s, c := newTestService(10)
	record(s, c, "gold_bar", 300, 1)
	c.t = c.t.Add(time.Hour)
	record(s, c, "gold_bar", 250, 1)
	record(s, c, "gold_bar", 320, 1)

	assert.Equal(t, int64(320), s.High24h("gold_bar"))
	assert.Equal(t, int64(250), s.Low24h("gold_bar"))
	assert.Equal(t, int64(70), s.Spread24h("gold_bar"))

	c.t = c.t.Add(25 * time.Hour)
	record(s, c, "gold_bar", 280, 1)
	assert.Equal(t, int64(280), s.High24h("gold_bar"))
	assert.Equal(t, int64(280), s.Low24h("gold_bar"))

	summary := s.MarketSummary("gold_bar")
	assert.Equal(t, int64(0), summary.Spread24h())
	assert.Equal(t, 4, summary.TradeCount)
}

func TestService_Cleanup(t *testing.T) {
	s, c := newTestService(10)
	record(s, c, "gold_bar", 300, 1)
	c.t = c.t.Add(12 * time.Hour)
	record(s, c, "iron_bar", 10, 1)
	c.t = c.t.Add(13 * time.Hour)

	assert.Equal(t, 1, s.Cleanup())
	assert.False(t, s.Range24h("gold_bar").Valid())
	assert.True(t, s.Range24h("iron_bar").Valid())
	assert.Equal(t, 2, s.TradeCount("gold_bar")+s.TradeCount("iron_bar"))
}
