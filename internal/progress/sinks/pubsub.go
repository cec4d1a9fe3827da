package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// PubSubConfig selects the project and topic for PubSubSink.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type gcpTopic struct {
	topic *pubsub.Topic
}

func (t gcpTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.topic.Publish(ctx, msg)
}

func (t gcpTopic) Stop() {
	t.topic.Stop()
}

// PubSubSink publishes each event to a Pub/Sub topic with the queue key as
// ordering key.
type PubSubSink struct {
	topic  topicPublisher
	client *pubsub.Client
}

// NewPubSubSink dials Pub/Sub using application default credentials.
func NewPubSubSink(ctx context.Context, cfg PubSubConfig) (*PubSubSink, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("pubsub sink requires project and topic")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	topic.EnableMessageOrdering = true
	return &PubSubSink{topic: gcpTopic{topic: topic}, client: client}, nil
}

// Consume publishes the batch and waits for every server acknowledgement.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	results := make([]publishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(toWire(evt))
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data:        data,
			OrderingKey: evt.Key,
			Attributes: map[string]string{
				"kind":   string(evt.Kind),
				"run_id": evt.RunID,
			},
		}))
	}
	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %d of %d events: %w", len(errs), len(batch), errors.Join(errs...))
	}
	return nil
}

// Close flushes outstanding messages and closes the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
