package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
)

// ConsumerLag represents the lag for a consumer group on a topic
type ConsumerLag struct {
	Topic         string
	ConsumerGroup string
	TotalLag      int64
	PartitionLags map[int32]int64
}

// MonitoringService reports how far the hint consumer trails the
// migration-hint topic. Surfaced as the consumer-lag gauge.
type MonitoringService struct {
	config  *config.Configuration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewMonitoringService(cfg *config.Configuration, log *logger.Logger, m *metrics.Metrics) *MonitoringService {
	return &MonitoringService{
		config:  cfg,
		logger:  log,
		metrics: m,
	}
}

// lagPollInterval paces the offset fetches; lag is an operator signal, not
// a control loop, so a coarse sample is enough.
const lagPollInterval = 30 * time.Second

// WatchLag polls the hint topic's consumer lag until the context is
// cancelled, publishing the total to the consumer-lag gauge. Poll failures
// are logged and retried on the next tick.
func (m *MonitoringService) WatchLag(ctx context.Context) {
	topic := m.config.Kafka.Topic
	group := m.config.Kafka.ConsumerGroup

	ticker := time.NewTicker(lagPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := m.GetConsumerLag(ctx, topic, group)
			if err != nil {
				m.logger.Warnw("consumer lag poll failed",
					"error", err,
					"topic", topic,
					"consumer_group", group)
				continue
			}
			m.RecordLag(lag)
		}
	}
}

// RecordLag publishes one lag sample to the gauge
func (m *MonitoringService) RecordLag(lag *ConsumerLag) {
	m.metrics.ConsumerLag.WithLabelValues(lag.Topic, lag.ConsumerGroup).Set(float64(lag.TotalLag))
}

// GetConsumerLag calculates the consumer lag for a given topic and consumer group
func (m *MonitoringService) GetConsumerLag(ctx context.Context, topic string, consumerGroup string) (*ConsumerLag, error) {
	saramaConfig := GetSaramaConfig(m.config)
	saramaConfig.Consumer.Return.Errors = true

	admin, err := sarama.NewClusterAdmin(m.config.Kafka.Brokers, saramaConfig)
	if err != nil {
		m.logger.Errorw("failed to create kafka admin client",
			"error", err,
			"brokers", m.config.Kafka.Brokers)
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()

	client, err := sarama.NewClient(m.config.Kafka.Brokers, saramaConfig)
	if err != nil {
		m.logger.Errorw("failed to create kafka client",
			"error", err,
			"brokers", m.config.Kafka.Brokers)
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	defer client.Close()

	partitions, err := client.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions for topic %s: %w", topic, err)
	}

	// Committed offsets come from the coordinator, not the partition leaders.
	offsetFetchResponse, err := admin.ListConsumerGroupOffsets(consumerGroup, map[string][]int32{
		topic: partitions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list consumer group offsets: %w", err)
	}

	consumerLag := &ConsumerLag{
		Topic:         topic,
		ConsumerGroup: consumerGroup,
		PartitionLags: make(map[int32]int64),
	}

	for _, partition := range partitions {
		latestOffset, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
		if err != nil {
			m.logger.Warnw("failed to get latest offset for partition",
				"error", err,
				"topic", topic,
				"partition", partition)
			continue
		}

		// No committed offset yet means the group has not consumed the
		// partition at all; the whole partition counts as lag.
		consumerOffset := int64(-1)
		if block := offsetFetchResponse.GetBlock(topic, partition); block != nil {
			consumerOffset = block.Offset
		}

		var partitionLag int64
		if consumerOffset == -1 {
			partitionLag = latestOffset
		} else {
			partitionLag = latestOffset - consumerOffset
		}
		if partitionLag < 0 {
			partitionLag = 0
		}

		consumerLag.PartitionLags[partition] = partitionLag
		consumerLag.TotalLag += partitionLag
	}

	m.logger.Debugw("consumer lag calculated",
		"topic", topic,
		"consumer_group", consumerGroup,
		"total_lag", consumerLag.TotalLag,
		"partitions", len(partitions))

	return consumerLag, nil
}
