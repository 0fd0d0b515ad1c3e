package ingress

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// ProducerHeader names the Kafka header carrying the signal producer
const ProducerHeader = "producer"

// Publisher writes signals to the signal topic, keyed by symbol so one
// symbol always lands on one partition
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer that waits for all in-sync replicas
func NewKafkaPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisher(producer, topic), nil
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// PublishSignal sends one signal and returns its partition and offset
func (p *Publisher) PublishSignal(sig types.Signal) (int32, int64, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return 0, 0, fmt.Errorf("encode signal %s: %w", sig.ID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strings.ToUpper(sig.Symbol)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(ProducerHeader), Value: []byte(sig.Producer)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("publish signal %s: %w", sig.ID, err)
	}
	return partition, offset, nil
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
