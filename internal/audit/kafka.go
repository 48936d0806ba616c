package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink forwards audit events to a Kafka topic for downstream compliance
// consumers. Delivery is at-least-once; consumers must deduplicate on
// (resource, action, timestamp). Publish failures are reported to the caller,
// which logs them without rolling back the originating state transition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects a producer to the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("build kafka producer: %w", err)
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}, nil
}

// Append publishes the event synchronously. Satisfies Store so the sink can
// stand behind the Publisher wherever a store-backed sink would.
func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.ResourceType + ":" + event.ResourceID),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// ListByResource is not supported by the Kafka sink; the topic is write-only
// from this process. Readers query the durable store instead.
func (s *KafkaSink) ListByResource(context.Context, string, string) ([]Event, error) {
	return nil, fmt.Errorf("kafka audit sink is write-only")
}

// Close flushes pending records and releases the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}

// FanOutStore appends to a primary store and mirrors every event to
// secondary sinks. Secondary failures are logged, not returned: the primary
// store is the durable system of record.
type FanOutStore struct {
	primary   Store
	secondary []Store
	logger    *slog.Logger
}

func NewFanOutStore(primary Store, logger *slog.Logger, secondary ...Store) *FanOutStore {
	return &FanOutStore{primary: primary, secondary: secondary, logger: logger}
}

func (f *FanOutStore) Append(ctx context.Context, event Event) error {
	if err := f.primary.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range f.secondary {
		if err := sink.Append(ctx, event); err != nil {
			f.logger.WarnContext(ctx, "secondary audit sink failed",
				"action", event.Action,
				"resource_id", event.ResourceID,
				"error", err,
			)
		}
	}
	return nil
}

func (f *FanOutStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error) {
	return f.primary.ListByResource(ctx, resourceType, resourceID)
}
