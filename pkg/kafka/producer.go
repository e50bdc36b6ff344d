package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ErrNoBrokers is returned by NewProducer without WithBrokers.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Producer publishes alert notifications and stream events.
type Producer struct {
	w     *kafka.Writer
	codec string
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	s := defaultProducerSettings()
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.brokers) == 0 {
		return nil, ErrNoBrokers
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if s.keyed {
		balancer = &kafka.Hash{}
	}

	registerProducerMetrics()
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(s.acks),
			Compression:  compressionCodec(s.compression),
			MaxAttempts:  s.attempts,
			WriteTimeout: s.writeTimeout,
			ReadTimeout:  s.readTimeout,
			BatchTimeout: s.linger,
		},
		codec: s.compression,
	}, nil
}

// Publish writes a single message synchronously. Values that are neither
// []byte nor string are JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value any) error {
	payload, err := payloadBytes(value)
	if err != nil {
		return err
	}

	began := time.Now()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   payload,
		Time:    began,
		Headers: []kafka.Header{{Key: "producer", Value: []byte("alertgate")}},
	})
	recordPublish(topic, p.codec, len(payload), time.Since(began), err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

func payloadBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// compressionCodec maps a codec name; unknown names fall back to gzip.
func compressionCodec(name string) kafka.Compression {
	switch name {
	case "none":
		return 0
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	}
	return kafka.Gzip
}

var (
	publishOnce    sync.Once
	publishResults *prometheus.CounterVec
	publishBytes   *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
)

func registerProducerMetrics() {
	publishOnce.Do(func() {
		publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "alertgate_kafka_publish_total",
			Help: "Kafka publishes by topic and result",
		}, []string{"topic", "result"})
		publishBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "alertgate_kafka_publish_bytes_total",
			Help: "Payload bytes published by topic and codec",
		}, []string{"topic", "codec"})
		publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertgate_kafka_publish_seconds",
			Help:    "Synchronous publish latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"topic"})
	})
}

func recordPublish(topic, codec string, n int, took time.Duration, err error) {
	if publishResults == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishResults.WithLabelValues(topic, result).Inc()
	publishBytes.WithLabelValues(topic, codec).Add(float64(n))
	publishLatency.WithLabelValues(topic).Observe(took.Seconds())
}
