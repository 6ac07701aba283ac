// Package kafka forwards audit events to a Kafka topic as JSON. It is
// append-only; query the materialized copy in Postgres instead.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "blogfront/pkg/platform/audit"
)

// Store produces one record per event, keyed by user ID (or scope ID when
// the user is unknown) so a user's events stay ordered within a partition.
type Store struct {
	client *kgo.Client
	topic  string
}

// New wraps an existing franz-go client. The caller owns its lifecycle.
func New(client *kgo.Client, topic string) *Store {
	return &Store{client: client, topic: topic}
}

// NewClient builds a producer client for brokers.
func NewClient(brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	all := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)
	client, err := kgo.NewClient(all...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.ScopeID
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
