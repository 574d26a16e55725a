package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, key []byte, msg interface{}) error
	Close()
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokerURL, topic string) ProducerService {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	return &kafkaProducer{writer: writer}
}

// Produce 序列化为JSON并写入Kafka，key使用symbol保证同币种消息进入同一分区
func (p *kafkaProducer) Produce(ctx context.Context, key []byte, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: data,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		log.Printf("Error closing kafka writer: %v", err)
	}
}
