// Package kafka subscribes to the case event topic and feeds each message
// to the event dispatcher.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/case-event-handler/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MessageProcessor accepts one raw case event
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, raw []byte) error
}

// Config contains the consumer group settings
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string

	// InitialOffset is "oldest" or "newest"; used when the group has no
	// committed offset.
	InitialOffset string
}

// Consumer runs a sarama consumer group over one topic
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *messageHandler
	logger  Logger
}

// NewConsumer connects a consumer group for cfg.Topic
func NewConsumer(cfg Config, processor MessageProcessor, logger Logger, tracer trace.Tracer) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Version = sarama.V3_6_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	if cfg.InitialOffset == "newest" {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newConsumer(group, cfg.Topic, processor, logger, tracer), nil
}

func newConsumer(group sarama.ConsumerGroup, topic string, processor MessageProcessor, logger Logger, tracer trace.Tracer) *Consumer {
	if tracer == nil {
		tracer = otel.Tracer("case-event-handler/kafka")
	}
	return &Consumer{
		group:  group,
		topics: []string{topic},
		handler: &messageHandler{
			processor: processor,
			logger:    logger,
			tracer:    tracer,
		},
		logger: logger,
	}
}

// Run consumes until ctx is cancelled. A session ends on every rebalance,
// so Consume is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	go c.drainErrors(ctx)

	c.logger.Info("Kafka consumer started", "topics", c.topics)
	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer stopped")
			return nil
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("Kafka consumer error", "error", err)
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// messageHandler implements sarama.ConsumerGroupHandler
type messageHandler struct {
	processor MessageProcessor
	logger    Logger
	tracer    trace.Tracer
}

func (h *messageHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *messageHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info("Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes one partition. Every message is marked once
// processed; invalid events are logged and not redelivered.
func (h *messageHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info("Starting to consume from partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"member_id", sess.MemberID(),
	)

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(sess.Context(), msg)
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (h *messageHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	ctx, span := h.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	err := h.processor.ProcessMessage(ctx, msg.Value)
	switch {
	case err == nil:
		return
	case errors.Is(err, event.ErrDeserialization), errors.Is(err, event.ErrValidation):
		h.logger.Error("Discarding invalid case event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	default:
		h.logger.Error("Failed to process case event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "process message failed")
}
