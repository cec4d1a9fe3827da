// Package sinks implements progress consumers: Prometheus counters, structured
// logs and a Kafka topic. Each satisfies progress.Sink.
package sinks
