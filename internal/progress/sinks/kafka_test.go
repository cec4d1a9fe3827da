package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkPublishesKeyedMessages(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	sink := newKafkaSinkWithWriter(w)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{Kind: frontier.EventSucceeded, RunID: "r1", Key: "a.example", URI: "http://a.example/", StatusCode: 200, Attempts: 1, Cost: 1, At: at},
		{Kind: frontier.EventQueueSnoozed, RunID: "r1", Key: "b.example", WakeAt: at.Add(time.Second), At: at},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, w.msgs, 2)
	require.Equal(t, "a.example", string(w.msgs[0].Key))

	var got wireEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, "succeeded", got.Kind)
	require.Equal(t, "http://a.example/", got.URI)
	require.Equal(t, 200, got.StatusCode)
	require.True(t, got.WakeAt.IsZero())

	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &got))
	require.Equal(t, at.Add(time.Second), got.WakeAt)

	require.NoError(t, sink.Close(context.Background()))
	require.True(t, w.closed)
}

func TestKafkaSinkWrapsWriteErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	sink := newKafkaSinkWithWriter(&fakeWriter{err: boom})
	err := sink.Consume(context.Background(), []progress.Event{
		{Kind: frontier.EventDiscovered, Key: "a", URI: "http://a/", At: time.Now()},
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, sink.Consume(context.Background(), nil))
}

func TestNewKafkaSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaSink(KafkaConfig{Topic: "events"})
	require.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"})
	require.NoError(t, err)
	require.NotNil(t, sink)
}
