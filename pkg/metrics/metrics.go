// Package metrics 提供交易所的 Prometheus 指标与收集器
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/grandexchange/pkg/logger"
)

const namespace = "grandexchange"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 成交笔数，按物品
	TradesTotal *prometheus.CounterVec
	// 成交金币，按物品
	TradedCoins *prometheus.CounterVec
	// 销售税累计
	TaxCollected prometheus.Counter
	// 结算耗时
	SettlementDuration prometheus.Histogram
	// 结算失败，按结果（rolled_back / failed / rejected）
	SettlementFailures *prometheus.CounterVec
	// 冷却拒绝，按动作
	CooldownDenials *prometheus.CounterVec
	// 订单簿中可撮合的挂单数，按物品与方向
	ActiveOrders *prometheus.GaugeVec
	// 过期订单数，按方向
	ExpiredOrders *prometheus.CounterVec
}

// New 创建指标实例
func New(subsystem string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "trades_total",
			Help:      "Total committed trades",
		}, []string{"item"}),
		TradedCoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "traded_coins_total",
			Help:      "Total coins exchanged in committed trades",
		}, []string{"item"}),
		TaxCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tax_collected_total",
			Help:      "Total sales tax withheld from sellers",
		}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settlement_duration_seconds",
			Help:      "Prepare and commit duration of one trade",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		}),
		SettlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settlement_failures_total",
			Help:      "Trades that did not commit",
		}, []string{"outcome"}),
		CooldownDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cooldown_denials_total",
			Help:      "Player actions rejected by cooldown",
		}, []string{"action"}),
		ActiveOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_orders",
			Help:      "Matchable orders resting in the book",
		}, []string{"item", "side"}),
		ExpiredOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "expired_orders_total",
			Help:      "Orders expired by maintenance",
		}, []string{"side"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TradesTotal,
		m.TradedCoins,
		m.TaxCollected,
		m.SettlementDuration,
		m.SettlementFailures,
		m.CooldownDenials,
		m.ActiveOrders,
		m.ExpiredOrders,
	}
}

// Register 注册所有指标，reg 为空时使用默认注册器
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}
	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// NewHTTPServer 创建 Prometheus HTTP 服务，由调用方负责启动与关闭
func NewHTTPServer(port int, path string, gatherer prometheus.Gatherer) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve 启动 HTTP 服务直到 ctx 结束
func Serve(ctx context.Context, srv *http.Server) error {
	logger.Info(ctx, "Starting Prometheus HTTP server", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// MetricsCollector 交易所指标收集器接口
type MetricsCollector interface {
	// 记录 HTTP 请求
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	// 记录成交
	RecordTrade(itemID string, coins, tax int64, settle time.Duration)
	// 记录结算失败
	RecordSettlementFailure(outcome string)
	// 记录冷却拒绝
	RecordCooldownDenial(action string)
	// 更新订单簿挂单数
	UpdateActiveOrders(itemID string, buys, sells int)
	// 记录过期
	RecordExpired(side string, n int)
}

// DefaultMetricsCollector 默认指标收集器实现
type DefaultMetricsCollector struct {
	metrics *Metrics
}

// NewDefaultMetricsCollector 创建默认指标收集器
func NewDefaultMetricsCollector(metrics *Metrics) *DefaultMetricsCollector {
	return &DefaultMetricsCollector{metrics: metrics}
}

// RecordHTTPRequest 记录 HTTP 请求
func (dmc *DefaultMetricsCollector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	dmc.metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	dmc.metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTrade 记录成交
func (dmc *DefaultMetricsCollector) RecordTrade(itemID string, coins, tax int64, settle time.Duration) {
	dmc.metrics.TradesTotal.WithLabelValues(itemID).Inc()
	dmc.metrics.TradedCoins.WithLabelValues(itemID).Add(float64(coins))
	dmc.metrics.TaxCollected.Add(float64(tax))
	dmc.metrics.SettlementDuration.Observe(settle.Seconds())
}

// RecordSettlementFailure 记录结算失败
func (dmc *DefaultMetricsCollector) RecordSettlementFailure(outcome string) {
	dmc.metrics.SettlementFailures.WithLabelValues(outcome).Inc()
}

// RecordCooldownDenial 记录冷却拒绝
func (dmc *DefaultMetricsCollector) RecordCooldownDenial(action string) {
	dmc.metrics.CooldownDenials.WithLabelValues(action).Inc()
}

// UpdateActiveOrders 更新订单簿挂单数
func (dmc *DefaultMetricsCollector) UpdateActiveOrders(itemID string, buys, sells int) {
	dmc.metrics.ActiveOrders.WithLabelValues(itemID, "buy").Set(float64(buys))
	dmc.metrics.ActiveOrders.WithLabelValues(itemID, "sell").Set(float64(sells))
}

// RecordExpired 记录过期订单
func (dmc *DefaultMetricsCollector) RecordExpired(side string, n int) {
	if n > 0 {
		dmc.metrics.ExpiredOrders.WithLabelValues(side).Add(float64(n))
	}
}

// NopCollector 不记录任何指标
type NopCollector struct{}

func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
func (NopCollector) RecordTrade(string, int64, int64, time.Duration) {}
func (NopCollector) RecordSettlementFailure(string) {}
func (NopCollector) RecordCooldownDenial(string) {}
func (NopCollector) UpdateActiveOrders(string, int, int) {}
func (NopCollector) RecordExpired(string, int) {}
