package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/streamflow-etl/internal/config"
	"github.com/couchcryptid/streamflow-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestSerializeToMessage(t *testing.T) {
	snap := domain.Snapshot{
		SiteID:     "01646500",
		SiteName:   "Potomac River near Wash, DC",
		Timestamp:  time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC),
		DayOfYear:  117,
		Flow:       fptr(2400),
		PctChange:  map[string]*float64{"1h": fptr(12.5), "3h": nil},
		P90Flow:    fptr(2000),
		Ratio:      fptr(1.2),
		HighFlow:   true,
		Percentile: 120,
	}

	msg, err := serializeToMessage(snap, "run-1")
	require.NoError(t, err)

	assert.Equal(t, []byte("01646500"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "run_id", msg.Headers[0].Key)
	assert.Equal(t, []byte("run-1"), msg.Headers[0].Value)
	assert.Equal(t, "high_flow", msg.Headers[1].Key)
	assert.Equal(t, []byte("true"), msg.Headers[1].Value)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "01646500", body["site_id"])
	assert.Equal(t, "2024-04-26T15:10:00Z", body["timestamp"])
	assert.Nil(t, body["latitude"], "missing values encode as null")
	assert.Equal(t, map[string]any{"1h": 12.5, "3h": nil}, body["pct_change"])
	assert.Equal(t, true, body["high_flow"])
}

func TestWriter_Load_NoSnapshots(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:1"}, KafkaTopic: "gauge-snapshots"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer w.Close()

	require.NoError(t, w.Load(context.Background(), domain.Result{}))
	assert.Equal(t, "kafka", w.Name())
}
