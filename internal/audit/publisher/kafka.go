// Package publisher mirrors audit entries to Kafka for downstream
// compliance consumers. The mirror is strictly secondary: the Postgres
// ledger is the source of truth, and publish failures are logged, never
// propagated.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"fundgate/internal/audit"
)

// Kafka publishes audit entries asynchronously to a single topic.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// kafkaPayload is the wire shape published to the audit topic.
type kafkaPayload struct {
	ID           string `json:"id"`
	ActorID      string `json:"actor_id,omitempty"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Details      string `json:"details,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	Device       string `json:"device,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// NewKafka connects to the brokers and ensures the audit topic exists.
func NewKafka(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", resp.Err)
	}

	return &Kafka{client: client, topic: topic, logger: logger}, nil
}

// Publish produces the entry without waiting for broker acknowledgement.
func (k *Kafka) Publish(ctx context.Context, entry audit.Entry) {
	payload := kafkaPayload{
		ID:           entry.ID.String(),
		Action:       string(entry.Action),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		Device:       entry.Device,
		Timestamp:    entry.Timestamp.Format(time.RFC3339Nano),
	}
	if !entry.ActorID.IsNil() {
		payload.ActorID = entry.ActorID.String()
	}

	value, err := json.Marshal(payload)
	if err != nil {
		k.logger.ErrorContext(ctx, "marshal audit payload", "error", err)
		return
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(entry.ResourceID),
		Value: value,
	}
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			k.logger.WarnContext(ctx, "audit mirror publish failed",
				"action", entry.Action,
				"error", err,
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (k *Kafka) Close(ctx context.Context) error {
	if err := k.client.Flush(ctx); err != nil {
		k.client.Close()
		return fmt.Errorf("flush audit mirror: %w", err)
	}
	k.client.Close()
	return nil
}
