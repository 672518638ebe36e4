// Package mq 提供 Kafka 生产者封装
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/grandexchange/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int
	WriteTimeout int
}

// Writer kafka.Writer 的最小接口，测试中可替换
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message 待发送的消息
type Message struct {
	Key   string
	Value any
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer Writer
	config KafkaConfig
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll, // 等待所有副本确认
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}
	if cfg.WriteTimeout > 0 {
		writer.WriteTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return NewProducerWithWriter(writer, cfg), nil
}

// NewProducerWithWriter 使用自定义 Writer 创建生产者
func NewProducerWithWriter(w Writer, cfg KafkaConfig) *KafkaProducer {
	return &KafkaProducer{writer: w, config: cfg}
}

// SendMessage 发送单条 JSON 消息
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic string, key string, value any) error {
	return kp.SendMessages(ctx, topic, []Message{{Key: key, Value: value}})
}

// SendMessages 批量发送 JSON 消息，无法序列化的消息被跳过
func (kp *KafkaProducer) SendMessages(ctx context.Context, topic string, messages []Message) error {
	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		data, err := json.Marshal(msg.Value)
		if err != nil {
			logger.Error(ctx, "Failed to marshal message", "topic", topic, "key", msg.Key, "error", err)
			continue
		}
		kafkaMessages = append(kafkaMessages, kafka.Message{
			Topic: topic,
			Key:   []byte(msg.Key),
			Value: data,
		})
	}
	if len(kafkaMessages) == 0 {
		return nil
	}

	if err := kp.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		logger.Error(ctx, "Failed to send Kafka messages",
			"topic", topic,
			"count", len(kafkaMessages),
			"error", err,
		)
		return err
	}

	logger.Debug(ctx, "Kafka messages sent",
		"topic", topic,
		"count", len(kafkaMessages),
	)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
