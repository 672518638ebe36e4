// Package messaging 成交事件发布
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/mq"
)

const (
	// EventTradeExecuted 成交事件类型
	EventTradeExecuted = "trade.executed"
	// DefaultTopic 默认主题
	DefaultTopic = "grandexchange.trades"

	maxBatch     = 100
	flushTimeout = 5 * time.Second
)

// TradeEvent 发往 Kafka 的成交事件
type TradeEvent struct {
	EventType string `json:"event_type"`
	Version   int    `json:"version"`
	domain.TradeResult
}

type sender interface {
	SendMessages(ctx context.Context, topic string, messages []mq.Message) error
}

// PublisherStats 发布计数
type PublisherStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// KafkaTradePublisher 异步批量发布成交事件，缓冲区满时丢弃并告警
type KafkaTradePublisher struct {
	sender sender
	topic  string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan domain.TradeResult
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewKafkaTradePublisher 创建发布者并启动后台协程
func NewKafkaTradePublisher(producer *mq.KafkaProducer, topic string, buffer int, logger *slog.Logger) *KafkaTradePublisher {
	return newPublisher(producer, topic, buffer, logger)
}

func newPublisher(s sender, topic string, buffer int, logger *slog.Logger) *KafkaTradePublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaTradePublisher{
		sender: s,
		topic:  topic,
		logger: logger.With("module", "trade_publisher", "topic", topic),
		events: make(chan domain.TradeResult, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishTrade 入队，不阻塞
func (p *KafkaTradePublisher) PublishTrade(ctx context.Context, result domain.TradeResult) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- result:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "trade event buffer full, dropping", "trade_id", result.TradeID)
	}
}

func (p *KafkaTradePublisher) run() {
	defer close(p.done)
	batch := make([]mq.Message, 0, maxBatch)
	for r := range p.events {
		batch = append(batch[:0], message(r))
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-p.events:
				if !ok {
					break drain
				}
				batch = append(batch, message(next))
			default:
				break drain
			}
		}
		p.flush(batch)
	}
}

func message(r domain.TradeResult) mq.Message {
	return mq.Message{
		Key:   r.ItemID,
		Value: TradeEvent{EventType: EventTradeExecuted, Version: 1, TradeResult: r},
	}
}

func (p *KafkaTradePublisher) flush(batch []mq.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.sender.SendMessages(ctx, p.topic, batch); err != nil {
		p.failed.Add(int64(len(batch)))
		p.logger.Error("failed to publish trade events", "count", len(batch), "error", err)
		return
	}
	p.published.Add(int64(len(batch)))
}

// Close 停止接收并等待缓冲区发送完毕
func (p *KafkaTradePublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	<-p.done
	return nil
}

// Stats 发布计数
func (p *KafkaTradePublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) PublishTrade(context.Context, domain.TradeResult) {}
