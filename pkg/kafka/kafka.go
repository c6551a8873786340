package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("kafka producer closed")

// KafkaConfig 配置
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// ErrorHandler 异步投递失败回调
type ErrorHandler func(msg *sarama.ProducerMessage, err error)

// Producer 异步生产者，后台消费Successes与Errors通道
type Producer struct {
	asyncProducer sarama.AsyncProducer
	onError       ErrorHandler
	mu            sync.RWMutex
	closed        bool
	drained       sync.WaitGroup
}

// NewSaramaConfig 生产者默认配置
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// InitProducer 初始化生产者
func InitProducer(brokers []string, onError ErrorHandler) (*Producer, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, err
	}
	return NewProducer(producer, onError), nil
}

// NewProducer 包装已有的AsyncProducer
func NewProducer(producer sarama.AsyncProducer, onError ErrorHandler) *Producer {
	p := &Producer{asyncProducer: producer, onError: onError}
	p.drained.Add(2)
	go func() {
		defer p.drained.Done()
		for range producer.Successes() {
		}
	}()
	go func() {
		defer p.drained.Done()
		for perr := range producer.Errors() {
			if p.onError != nil {
				p.onError(perr.Msg, perr.Err)
			}
		}
	}()
	return p
}

// SendMessage 发送消息，ctx取消时放弃入队
func (p *Producer) SendMessage(ctx context.Context, topic string, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case p.asyncProducer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭生产者并等待结果通道排空
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.asyncProducer.Close()
	p.drained.Wait()
	return err
}

// ConsumerHandler 消息处理
type ConsumerHandler interface {
	HandleMessage(msg *sarama.ConsumerMessage) error
}

// Consumer 消费者组
type Consumer struct {
	group     sarama.ConsumerGroup
	topics    []string
	ready     chan struct{}
	readyOnce sync.Once
	handler   ConsumerHandler
	onError   func(error)
}

// InitConsumer 初始化消费者
func InitConsumer(cfg KafkaConfig, handler ConsumerHandler, onError func(error)) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		ready:   make(chan struct{}),
		handler: handler,
		onError: onError,
	}, nil
}

// StartConsuming 启动消费，首次分配分区后返回
func (c *Consumer) StartConsuming(ctx context.Context) error {
	go func() {
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil && c.onError != nil {
				c.onError(err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭消费者组
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup sarama.ConsumerGroupHandler
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Cleanup sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 处理成功后提交位点
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.handler.HandleMessage(msg); err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
