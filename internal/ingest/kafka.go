package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/IBM/sarama"
)

// KafkaConfig holds Kafka consumer configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaConsumer reads article batches from one topic as part of a consumer
// group. Each message value is a JSON article or array of articles.
type KafkaConsumer struct {
	group     sarama.ConsumerGroup
	processor Processor
	topic     string
	groupID   string
	wg        sync.WaitGroup
}

// NewKafkaConsumer connects a consumer group for cfg.Topic.
func NewKafkaConsumer(cfg KafkaConfig, p Processor) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "storyline"
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create consumer group: %w", err)
	}
	return newKafkaConsumer(group, cfg, p), nil
}

func newKafkaConsumer(group sarama.ConsumerGroup, cfg KafkaConfig, p Processor) *KafkaConsumer {
	return &KafkaConsumer{
		group:     group,
		processor: p,
		topic:     cfg.Topic,
		groupID:   cfg.GroupID,
	}
}

// Start consumes in the background until ctx is cancelled or Close is
// called. It waits for the first group session or ctx, whichever comes first.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	ready := make(chan struct{})
	handler := &groupHandler{processor: c.processor, ready: ready}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("kafka: consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			log.Printf("kafka: consumer error: %v", err)
		}
	}()

	select {
	case <-ready:
		log.Printf("kafka: consumer started (group: %s, topic: %s)", c.groupID, c.topic)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close leaves the group and waits for the consume loop to exit.
func (c *KafkaConsumer) Close() error {
	log.Println("kafka: closing consumer")
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	processor Processor
	ready     chan struct{}
	once      sync.Once
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages in partition order. A message is marked
// once it is processed or found to be unprocessable; a cancelled session
// leaves it unmarked for redelivery.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			origin := fmt.Sprintf("kafka %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
			done, err := handle(session.Context(), h.processor, origin, msg.Value)
			if err != nil {
				log.Printf("kafka: failed to process %s: %v", origin, err)
			}
			if done {
				session.MarkMessage(msg, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
