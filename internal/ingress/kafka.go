package ingress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
)

// KafkaConfig selects brokers and topics. Empty topics are not subscribed.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" validate:"required,min=1"`
	GroupID     string   `yaml:"group_id" validate:"required"`
	SignalTopic string   `yaml:"signal_topic" validate:"required"`
	RegimeTopic string   `yaml:"regime_topic"`
	PriceTopic  string   `yaml:"price_topic"`
	Version     string   `yaml:"version"`
}

func (c KafkaConfig) topics() []string {
	var topics []string
	for _, t := range []string{c.SignalTopic, c.RegimeTopic, c.PriceTopic} {
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// KafkaSource consumes signals, regime readings and prices with a sarama consumer group
type KafkaSource struct {
	client   sarama.ConsumerGroup
	cfg      KafkaConfig
	handlers *Handlers
	log      *logger.Logger
}

func NewKafkaSource(cfg KafkaConfig, handlers *Handlers, log *logger.Logger) (*KafkaSource, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Version = sarama.V2_8_0_0
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka version: %w", err)
		}
		config.Version = v
	}

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaSource{client: client, cfg: cfg, handlers: handlers, log: log.With("ingress")}, nil
}

// Run consumes until ctx is done, rejoining the group after every rebalance
func (s *KafkaSource) Run(ctx context.Context) error {
	topics := s.cfg.topics()
	s.log.Info("consuming kafka topics %v as group %s", topics, s.cfg.GroupID)

	defer func() {
		if err := s.client.Close(); err != nil {
			s.log.LogError("close kafka consumer", err)
		}
	}()

	for {
		handler := &groupHandler{source: s}
		if err := s.client.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.log.LogError("kafka consume", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// dispatch routes one message by topic
func (s *KafkaSource) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case s.cfg.SignalTopic:
		return s.handlers.HandleSignal(ctx, header(msg, ProducerHeader), msg.Value)
	case s.cfg.RegimeTopic:
		return s.handlers.HandleRegime(ctx, msg.Value)
	case s.cfg.PriceTopic:
		return s.handlers.HandlePrice(ctx, msg.Value)
	}
	return fmt.Errorf("unexpected topic %s", msg.Topic)
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	source *KafkaSource
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles one partition in order. Messages are marked after
// dispatch, including the ones that failed to decode.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.source.dispatch(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				h.source.log.LogWarning("kafka message", "%s/%d@%d: %v", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
