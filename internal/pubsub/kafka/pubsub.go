package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/kafka"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pubsub"
)

type PubSub struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	config   *config.Configuration
	logger   *logger.Logger
}

// NewPubSub creates a new kafka-based pubsub
func NewPubSub(
	config *config.Configuration,
	logger *logger.Logger,
	producer *kafka.Producer,
	consumer *kafka.Consumer,
) pubsub.PubSub {
	return &PubSub{
		producer: producer,
		consumer: consumer,
		config:   config,
		logger:   logger,
	}
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return p.producer.Publish(topic, msg)
}

func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.consumer.Subscribe(ctx, topic)
}

// Close closes the pubsub
func (p *PubSub) Close() error {
	p.producer.Close()
	p.consumer.Close()

	return nil
}
