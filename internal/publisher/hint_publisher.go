package publisher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	jsoniter "github.com/json-iterator/go"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/pubsub"
	"github.com/meterline/meterline/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HintPublisher fans migration hints out to the consumer without ever
// blocking the ingest path. The buffer is bounded; overflow is counted and
// dropped because the scheduled sweep migrates whatever a lost hint pointed
// at.
type HintPublisher interface {
	// Enqueue hands a hint to the background sender. Never blocks and
	// never fails the caller.
	Enqueue(ctx context.Context, hint *types.MigrationHint)
	// Dropped reports how many hints were discarded since startup.
	Dropped() int64
	// Close drains the buffer and stops the background sender.
	Close() error
}

type hintPublisher struct {
	pubsub  pubsub.Publisher
	topic   string
	logger  *logger.Logger
	metrics *metrics.Metrics

	buffer  chan *types.MigrationHint
	dropped atomic.Int64

	quit     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
}

// NewHintPublisher creates the publisher and starts its background sender.
func NewHintPublisher(
	cfg *config.Configuration,
	log *logger.Logger,
	m *metrics.Metrics,
	ps pubsub.Publisher,
) HintPublisher {
	p := &hintPublisher{
		pubsub:  ps,
		topic:   cfg.Kafka.Topic,
		logger:  log,
		metrics: m,
		buffer:  make(chan *types.MigrationHint, cfg.PubSub.BufferSize),
		quit:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *hintPublisher) Enqueue(ctx context.Context, hint *types.MigrationHint) {
	select {
	case p.buffer <- hint:
	default:
		p.markDropped(hint, "publish buffer full")
	}
}

func (p *hintPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *hintPublisher) Close() error {
	p.shutdown.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
	return nil
}

func (p *hintPublisher) run() {
	defer p.wg.Done()

	for {
		select {
		case hint := <-p.buffer:
			p.publish(hint)
		case <-p.quit:
			// Drain what is already buffered, then stop.
			for {
				select {
				case hint := <-p.buffer:
					p.publish(hint)
				default:
					return
				}
			}
		}
	}
}

func (p *hintPublisher) publish(hint *types.MigrationHint) {
	payload, err := json.Marshal(hint)
	if err != nil {
		p.markDropped(hint, "failed to marshal hint")
		return
	}

	msg := message.NewMessage(hint.EventID, payload)
	if err := p.pubsub.Publish(context.Background(), p.topic, msg); err != nil {
		p.logger.Warnw("failed to publish migration hint",
			"error", err,
			"event_id", hint.EventID,
			"topic", p.topic,
		)
		p.markDropped(hint, "publish failed")
	}
}

func (p *hintPublisher) markDropped(hint *types.MigrationHint, reason string) {
	dropped := p.dropped.Add(1)
	p.metrics.HintsDropped.Inc()
	p.logger.Warnw("migration hint dropped",
		"reason", reason,
		"event_id", hint.EventID,
		"organisation_id", hint.OrganisationID,
		"dropped_total", dropped,
	)
}
