package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the broker and topic for KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSink publishes each event as a JSON message keyed by queue key, so all
// events for one queue land on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

type wireEvent struct {
	Kind       string    `json:"kind"`
	RunID      string    `json:"run_id,omitempty"`
	Queue      string    `json:"queue,omitempty"`
	URI        string    `json:"uri,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Cost       int64     `json:"cost,omitempty"`
	Count      int64     `json:"count,omitempty"`
	WakeAt     time.Time `json:"wake_at,omitzero"`
	At         time.Time `json:"at"`
}

func toWire(evt progress.Event) wireEvent {
	return wireEvent{
		Kind:       string(evt.Kind),
		RunID:      evt.RunID,
		Queue:      evt.Key,
		URI:        evt.URI,
		StatusCode: evt.StatusCode,
		Attempts:   evt.Attempts,
		Cost:       evt.Cost,
		Count:      evt.Count,
		WakeAt:     evt.WakeAt,
		At:         evt.At.UTC(),
	}
}

// NewKafkaSink builds a sink backed by a kafka-go Writer.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: false,
		},
	}, nil
}

func newKafkaSinkWithWriter(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Consume publishes the batch in one WriteMessages call.
func (s *KafkaSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, evt := range batch {
		payload, err := json.Marshal(toWire(evt))
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.Key),
			Value: payload,
			Time:  evt.At,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close(context.Context) error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
