package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/pkg/mq"
)

type recordingSender struct {
	mu    sync.Mutex
	topic string
	msgs  []mq.Message
	block chan struct{}
	err   error
}

func (s *recordingSender) SendMessages(_ context.Context, topic string, messages []mq.Message) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic = topic
	s.msgs = append(s.msgs, messages...)
	return s.err
}

func trade(id, item string) domain.TradeResult {
	return domain.TradeResult{TradeID: id, ItemID: item, Quantity: 1, PricePerItem: 10, TotalCoins: 10}
}

func TestKafkaTradePublisher_DrainsOnClose(t *testing.T) {
	s := &recordingSender{}
	p := newPublisher(s, "", 16, nil)
	ctx := context.Background()
	p.PublishTrade(ctx, trade("t1", "iron_bar"))
	p.PublishTrade(ctx, trade("t2", "gold_bar"))
	require.NoError(t, p.Close())

	assert.Equal(t, DefaultTopic, s.topic)
	require.Len(t, s.msgs, 2)
	assert.Equal(t, "iron_bar", s.msgs[0].Key)

	data, err := json.Marshal(s.msgs[1].Value)
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventTradeExecuted, ev["event_type"])
	assert.Equal(t, "t2", ev["trade_id"])

	assert.Equal(t, PublisherStats{Published: 2}, p.Stats())

	p.PublishTrade(ctx, trade("t3", "iron_bar"))
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestKafkaTradePublisher_DropsWhenFull(t *testing.T) {
	s := &recordingSender{block: make(chan struct{})}
	p := newPublisher(s, "trades", 1, nil)
	ctx := context.Background()

	// 后台协程至多取走两条后阻塞在发送中，缓冲区再容纳一条，其余被丢弃
	for i := 0; i < 10; i++ {
		p.PublishTrade(ctx, trade("t", "iron_bar"))
	}
	assert.GreaterOrEqual(t, p.Stats().Dropped, int64(7))
	close(s.block)
	require.NoError(t, p.Close())

	st := p.Stats()
	assert.Equal(t, int64(10), st.Published+st.Dropped)
}

func TestKafkaTradePublisher_CountsFailures(t *testing.T) {
	s := &recordingSender{err: errors.New("broker down")}
	p := newPublisher(s, "trades", 4, nil)
	p.PublishTrade(context.Background(), trade("t1", "iron_bar"))
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().Failed)
}
