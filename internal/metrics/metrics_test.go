package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(outcome Outcome) *CycleSnapshot {
	return &CycleSnapshot{
		Timestamp: time.Now(),
		Outcome:   outcome,
		Wait:      3 * time.Millisecond,
		Window:    time.Millisecond,
		Rearm:     2 * time.Millisecond,
		Total:     20 * time.Millisecond,
		Overhead:  time.Millisecond,
		Channels: []ChannelTiming{
			{Channel: 1, Read: 5 * time.Millisecond, Store: 2 * time.Millisecond},
			{Channel: 2, Read: 5 * time.Millisecond, Store: time.Millisecond},
		},
	}
}

func TestRecord(t *testing.T) {
	s := newService(DefaultConfig(), logger.Nop())
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, snapshot(OutcomeStored)))
	require.NoError(t, s.Record(ctx, snapshot(OutcomeStored)))
	require.NoError(t, s.Record(ctx, snapshot(OutcomeDiscarded)))

	assert.InDelta(t, 2, testutil.ToFloat64(s.cycles.WithLabelValues("stored")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(s.cycles.WithLabelValues("discarded")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(s.records.WithLabelValues("1")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(s.records.WithLabelValues("2")), 0)

	expected := `
# HELP dsostream_records_total Records durably stored per channel.
# TYPE dsostream_records_total counter
dsostream_records_total{channel="1"} 2
dsostream_records_total{channel="2"} 2
`
	require.NoError(t, testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "dsostream_records_total"))

	// wait, window, rearm, total, overhead
	assert.Equal(t, 5, testutil.CollectAndCount(s.stages))
	// read x2 channels, store x2 channels
	assert.Equal(t, 4, testutil.CollectAndCount(s.channel))
}

func TestRecordNil(t *testing.T) {
	s := newService(DefaultConfig(), logger.Nop())
	err := s.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, ErrInvalidMetrics))
}

func TestNewService(t *testing.T) {
	c, err := NewService(Config{Enabled: false}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &noopCollector{}, c)
	require.NoError(t, c.Record(context.Background(), nil))
	require.NoError(t, c.Close())

	_, err = NewService(Config{Enabled: true, Addr: "not-an-address"}, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	c, err = NewService(Config{Enabled: true, Addr: "127.0.0.1:0"}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
