package notify

import (
	"context"
	"errors"
	"fmt"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
)

// Publisher is the subset of the Kafka producer the sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

var (
	_ repository.Sink = (*KafkaSink)(nil)
	_ repository.Sink = (*LogSink)(nil)
	_ repository.Sink = (*MultiSink)(nil)
)

// KafkaSink publishes notifications to a topic keyed by strategy.
type KafkaSink struct {
	pub   Publisher
	topic string
}

func NewKafkaSink(pub Publisher, topic string) *KafkaSink {
	return &KafkaSink{pub: pub, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Send(ctx context.Context, n models.Notification) error {
	if err := s.pub.Publish(ctx, s.topic, []byte(n.Strategy), n); err != nil {
		return fmt.Errorf("%s: %w: %w", s.Name(), models.ErrDeliveryTransient, err)
	}
	return nil
}

// LogSink writes notifications to the structured log. Used when no remote sink is configured.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(l *logger.Logger) *LogSink { return &LogSink{log: l.Component("log_sink")} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n models.Notification) error {
	s.log.Info("notification",
		logger.String("strategy", n.Strategy),
		logger.Int("tier", int(n.Tier)),
		logger.String("kind", string(n.Kind)),
		logger.Strings("entries", n.EntryIDs),
		logger.String("text", n.Text))
	return nil
}

// MultiSink fans a notification out to every sink. It succeeds only when all of them do,
// so a retry may repeat delivery on sinks that already accepted it.
type MultiSink struct {
	sinks []repository.Sink
}

func NewMultiSink(sinks ...repository.Sink) *MultiSink { return &MultiSink{sinks: sinks} }

func (m *MultiSink) Name() string { return "multi" }

// Sinks lists the wrapped sinks.
func (m *MultiSink) Sinks() []repository.Sink { return m.sinks }

func (m *MultiSink) Send(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
