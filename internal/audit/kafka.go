package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes events to a Kafka topic keyed by instrument ID so all
// events for one instrument land in order on a single partition.
type KafkaSink struct {
	client *kgo.Client
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client}, nil
}

// kafkaEvent is the wire shape. Field names are part of the consumer
// contract; keep them stable.
type kafkaEvent struct {
	ID           string  `json:"id"`
	Action       string  `json:"action"`
	Timestamp    string  `json:"timestamp"`
	InstrumentID int64   `json:"instrument_id,omitempty"`
	Actor        string  `json:"actor,omitempty"`
	Source       string  `json:"source,omitempty"`
	Target       string  `json:"target,omitempty"`
	Amount       uint64  `json:"amount,omitempty"`
	SeqID        *uint64 `json:"seq_id,omitempty"`
	RequestID    string  `json:"request_id,omitempty"`
}

func (s *KafkaSink) Produce(ctx context.Context, event Event) error {
	payload, err := json.Marshal(kafkaEvent{
		ID:           event.ID.String(),
		Action:       string(event.Action),
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
		InstrumentID: int64(event.InstrumentID),
		Actor:        event.Actor.String(),
		Source:       event.Source.String(),
		Target:       event.Target.String(),
		Amount:       event.Amount,
		SeqID:        event.SeqID,
		RequestID:    event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(event.InstrumentID.String()),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
