package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMetricsCollector(t *testing.T) {
	m := New("test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	c := NewDefaultMetricsCollector(m)
	c.RecordTrade("iron_bar", 7200, 360, 200*time.Microsecond)
	c.RecordTrade("iron_bar", 100, 5, time.Millisecond)
	c.RecordSettlementFailure("rolled_back")
	c.RecordCooldownDenial("SELL_CREATE")
	c.UpdateActiveOrders("iron_bar", 3, 1)
	c.RecordExpired("buy", 2)
	c.RecordExpired("sell", 0)
	c.RecordHTTPRequest("GET", "/api/v1/exchange/depth/:item", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("iron_bar")))
	assert.Equal(t, 7300.0, testutil.ToFloat64(m.TradedCoins.WithLabelValues("iron_bar")))
	assert.Equal(t, 365.0, testutil.ToFloat64(m.TaxCollected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementFailures.WithLabelValues("rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CooldownDenials.WithLabelValues("SELL_CREATE")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveOrders.WithLabelValues("iron_bar", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveOrders.WithLabelValues("iron_bar", "sell")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExpiredOrders.WithLabelValues("buy")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExpiredOrders))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SettlementDuration))
}

func TestRegister_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New("dup").Register(reg))
	assert.Error(t, New("dup").Register(reg))
}

func TestNewHTTPServer(t *testing.T) {
	srv := NewHTTPServer(9102, "", nil)
	assert.Equal(t, ":9102", srv.Addr)
	assert.NotNil(t, srv.Handler)
}
