package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes one message per site snapshot to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured snapshot topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Load publishes the run's snapshots in a single WriteMessages call. Messages
// are keyed by site id so each site stays on one partition.
func (w *Writer) Load(ctx context.Context, res domain.Result) error {
	if len(res.Snapshots) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(res.Snapshots))
	for i := range res.Snapshots {
		msg, err := serializeToMessage(res.Snapshots[i], res.RunID)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish snapshots: %w", err)
	}
	w.logger.Debug("snapshots published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Snapshot into a Kafka message.
func serializeToMessage(snap domain.Snapshot, runID string) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot %s: %w", snap.SiteID, err)
	}
	return kafkago.Message{
		Key:   []byte(snap.SiteID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "high_flow", Value: []byte(strconv.FormatBool(snap.HighFlow))},
		},
	}, nil
}
