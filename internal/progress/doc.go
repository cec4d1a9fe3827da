// Package progress fans frontier events out to slow consumers. Frontier
// subscribers run under queue locks, so the Hub copies each event onto a
// buffered channel and a background goroutine batches them into sinks such as
// Prometheus counters, structured logs or a Kafka topic.
package progress
