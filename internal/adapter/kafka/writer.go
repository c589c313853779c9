package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/notam-watch/internal/config"
	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// ChangeEvent is the message value published for each detected change.
type ChangeEvent struct {
	ICAO     string         `json:"icao"`
	Source   domain.Source  `json:"source"`
	Added    []domain.Notam `json:"added"`
	Removed  []domain.Notam `json:"removed"`
	PolledAt time.Time      `json:"polledAt"`
}

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ChangePublisher produces change events to a Kafka topic.
// It implements scheduler.Publisher.
type ChangePublisher struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewChangePublisher creates a Kafka producer for the configured changes topic.
func NewChangePublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *ChangePublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaChangesTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &ChangePublisher{writer: w, logger: logger, metrics: metrics}
}

// Publish writes one message for a poll that added or removed records.
// Baseline polls and polls without changes are skipped.
func (p *ChangePublisher) Publish(ctx context.Context, result domain.PollResult) error {
	if result.Changes.Initial || result.Changes.Empty() {
		return nil
	}
	msg, err := serializeToMessage(result)
	if err != nil {
		p.metrics.SinkWrites.WithLabelValues("kafka", "error").Inc()
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.SinkWrites.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("publish changes for %s: %w", result.Envelope.Metadata.ICAO, err)
	}
	p.metrics.SinkWrites.WithLabelValues("kafka", "success").Inc()
	p.logger.Debug("change event published",
		"icao", result.Envelope.Metadata.ICAO,
		"added", len(result.Changes.Added),
		"removed", len(result.Changes.Removed),
	)
	return nil
}

func (p *ChangePublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a poll's change set into a Kafka message keyed
// by ICAO code, so every change for one airport lands on one partition.
func serializeToMessage(result domain.PollResult) (kafkago.Message, error) {
	icao := result.Envelope.Metadata.ICAO
	event := ChangeEvent{
		ICAO:     icao,
		Source:   result.Envelope.Metadata.Source,
		Added:    nonNil(result.Changes.Added),
		Removed:  nonNil(result.Changes.Removed),
		PolledAt: result.PolledAt.UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(icao),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "icao", Value: []byte(icao)},
			{Key: "added", Value: []byte(strconv.Itoa(len(event.Added)))},
			{Key: "removed", Value: []byte(strconv.Itoa(len(event.Removed)))},
			{Key: "polled_at", Value: []byte(event.PolledAt.Format(time.RFC3339))},
		},
	}, nil
}

func nonNil(records []domain.Notam) []domain.Notam {
	if records == nil {
		return []domain.Notam{}
	}
	return records
}
