package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/pkg/common/logger"
)

// KafkaQueue is the Kafka-backed Queue. Units are published as JSON to a
// single topic; a consumer group pulls them and hands them to the local
// dispatcher.
//
// ListActive only sees units running on this process. Deployments with
// several workers need a shared registry behind the ActiveRegistry port.
type KafkaQueue struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	topic         string
	dispatcher    *Dispatcher
	registry      ActiveRegistry
	log           *logger.Logger
}

// ConnectKafka establishes the producer and consumer group with
// exponential backoff, retrying for up to 5 minutes. This covers broker
// unavailability during worker startup.
func ConnectKafka(cfg config.Kafka, dispatcher *Dispatcher, registry ActiveRegistry, log *logger.Logger) (*KafkaQueue, error) {
	var queue *KafkaQueue

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		queue, err = newKafkaQueue(cfg, dispatcher, registry, log)
		if err != nil {
			log.Warn(context.Background(), "failed to connect to kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("connecting to kafka after retries: %w", err)
	}

	return queue, nil
}

func newKafkaQueue(cfg config.Kafka, dispatcher *Dispatcher, registry ActiveRegistry, log *logger.Logger) (*KafkaQueue, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka consumer group: %w", err)
	}

	return &KafkaQueue{
		producer:      producer,
		consumerGroup: consumerGroup,
		topic:         cfg.Topic,
		dispatcher:    dispatcher,
		registry:      registry,
		log:           log,
	}, nil
}

// Submit publishes a unit of work to the units topic.
func (q *KafkaQueue) Submit(ctx context.Context, kind Kind, args any) error {
	unit, err := newUnit(kind, args)
	if err != nil {
		return err
	}

	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("marshaling unit: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(unit.ID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publishing unit %s: %w", unit.ID, err)
	}

	q.log.Debug(ctx, "unit published", "unit_id", unit.ID, "kind", unit.Kind)
	return nil
}

// ListActive returns the in-flight units on this process.
func (q *KafkaQueue) ListActive(_ context.Context, kinds ...Kind) ([]Unit, error) {
	return q.registry.List(kinds...), nil
}

// Run consumes units until the context is canceled, rejoining the group
// after rebalances.
func (q *KafkaQueue) Run(ctx context.Context) {
	handler := &consumerGroupHandler{queue: q, ctx: ctx}

	for {
		if err := q.consumerGroup.Consume(ctx, []string{q.topic}, handler); err != nil {
			q.log.Error(ctx, "error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close shuts down the producer and consumer group.
func (q *KafkaQueue) Close() error {
	if err := q.producer.Close(); err != nil {
		return err
	}
	return q.consumerGroup.Close()
}

type consumerGroupHandler struct {
	queue *KafkaQueue
	ctx   context.Context
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var unit Unit
		if err := json.Unmarshal(msg.Value, &unit); err != nil {
			h.queue.log.Error(h.ctx, "skipping malformed unit", "error", err, "offset", msg.Offset)
			session.MarkMessage(msg, "")
			continue
		}

		// Dispatch blocks until a worker slot frees up, applying
		// backpressure to the partition.
		_ = h.queue.dispatcher.Dispatch(h.ctx, unit)
		session.MarkMessage(msg, "")
	}
	return nil
}
