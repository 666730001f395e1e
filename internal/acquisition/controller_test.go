package acquisition

import (
	"bytes"
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/metrics"
	"codeberg.org/mutker/dsostream/internal/store"
	"codeberg.org/mutker/dsostream/internal/waveform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	W = instrument.StatusWaiting
	T = instrument.StatusTriggered
	S = instrument.StatusStopped
)

var testPayload = []byte{125, 126, 124, 130}

// scriptedScope replays a trigger status sequence and cancels the run once
// the sequence is exhausted.
type scriptedScope struct {
	statuses []instrument.Status
	polls    int
	cancel   context.CancelFunc

	// readErr fails ReadRaw for the given channel during the given cycle
	// (1-based, counted by Stop calls).
	readErr func(cycle, channel int) error

	cycle  int
	calls  []string
	forced int
	closed bool
}

func (s *scriptedScope) Run() error {
	s.calls = append(s.calls, "run")
	return nil
}

func (s *scriptedScope) Stop() error {
	s.cycle++
	s.calls = append(s.calls, "stop")
	return nil
}

func (s *scriptedScope) ForceTrigger() error {
	s.forced++
	s.calls = append(s.calls, "force")
	return nil
}

func (s *scriptedScope) TriggerStatus() (instrument.Status, error) {
	if s.polls >= len(s.statuses) {
		s.cancel()
		return W, nil
	}
	status := s.statuses[s.polls]
	s.polls++

	return status, nil
}

func (s *scriptedScope) ReadRaw(ch int) (instrument.RawCapture, error) {
	s.calls = append(s.calls, "read")
	if s.readErr != nil {
		if err := s.readErr(s.cycle, ch); err != nil {
			return instrument.RawCapture{}, err
		}
	}

	return instrument.RawCapture{
		Channel:     ch,
		Payload:     testPayload,
		SampleCount: len(testPayload),
		Format:      waveform.FormatBinary,
		Calibration: waveform.Calibration{YIncrement: 0.1},
	}, nil
}

func (s *scriptedScope) Close() error {
	s.closed = true
	return nil
}

type memoryStore struct {
	records []*store.Record
	// failAt fails the append with this 1-based index
	failAt int
	closed bool
}

func (m *memoryStore) Append(rec *store.Record) error {
	if m.failAt > 0 && len(m.records)+1 == m.failAt {
		return errors.New().WithMessage(errors.ErrStorageWrite, "disk full")
	}
	m.records = append(m.records, rec)

	return nil
}

func (m *memoryStore) Close() error {
	m.closed = true
	return nil
}

func (m *memoryStore) byChannel(ch int) []*store.Record {
	var out []*store.Record
	for _, r := range m.records {
		if r.Channel == ch {
			out = append(out, r)
		}
	}

	return out
}

type recordingCollector struct {
	snapshots []*metrics.CycleSnapshot
}

func (r *recordingCollector) Record(_ context.Context, s *metrics.CycleSnapshot) error {
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *recordingCollector) Close() error { return nil }

// stepClock advances one millisecond per reading.
func stepClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

var twoChannels = []store.CalibrationProfile{
	{Channel: 1, Label: "CH1", SamplingRate: 1e9, TimeResolution: 1e-9},
	{Channel: 2, Label: "CH2", SamplingRate: 1e9, TimeResolution: 1e-9},
}

type harness struct {
	scope     *scriptedScope
	store     *memoryStore
	collector *recordingCollector
	ctrl      *Controller
	ctx       context.Context
}

func newHarness(t *testing.T, statuses []instrument.Status, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		scope:     &scriptedScope{statuses: statuses, cancel: cancel},
		store:     &memoryStore{},
		collector: &recordingCollector{},
		ctx:       ctx,
	}
	if opts.Channels == nil {
		opts.Channels = twoChannels
	}
	opts.Metrics = h.collector
	opts.Now = stepClock()
	h.ctrl = New(h.scope, h.store, opts)

	return h
}

func TestTwoChannelScenario(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, W, T, S, W, T}, Options{})

	require.NoError(t, h.ctrl.Run(h.ctx))

	assert.Equal(t, 2, h.ctrl.Stored())
	require.Len(t, h.store.records, 4)
	for _, ch := range []int{1, 2} {
		assert.Len(t, h.store.byChannel(ch), 2)
	}

	first, second := h.store.records[0], h.store.records[2]
	assert.Less(t, first.AcquisitionStart, second.AcquisitionStart)

	// both channels of one trigger share the window
	assert.Equal(t, h.store.records[0].AcquisitionStart, h.store.records[1].AcquisitionStart)
	assert.Equal(t, h.store.records[0].AcquisitionStop, h.store.records[1].AcquisitionStop)

	for _, rec := range h.store.records {
		assert.LessOrEqual(t, rec.AcquisitionStart, rec.AcquisitionStop)
		assert.Len(t, rec.Samples, len(testPayload))
		assert.InDelta(t, 0.0, rec.Samples[0], 1e-12)
		assert.InDelta(t, -0.5, rec.Samples[3], 1e-12)
	}

	assert.True(t, h.scope.closed)
	assert.True(t, h.store.closed)
	assert.Equal(t, StateArmedWaiting, h.ctrl.State())
}

func TestEdgeDetection(t *testing.T) {
	tests := []struct {
		name     string
		statuses []instrument.Status
		force    bool
		want     int
		forced   int
	}{
		{"held trigger fires once", []instrument.Status{W, T, T, T}, false, 1, 0},
		{"one cycle per edge", []instrument.Status{W, T, T, W, T, T, W, W, T}, false, 3, 0},
		{"trigger without waiting is ignored", []instrument.Status{T, T, S, T}, false, 0, 0},
		{"stopped without force stays idle", []instrument.Status{W, T, S, S, T}, false, 1, 0},
		{"force after stop arms", []instrument.Status{T, S, T}, true, 1, 1},
		{"force recovers a dropped trigger", []instrument.Status{W, T, S, T, S, T}, true, 3, 2},
		{"force once while stopped", []instrument.Status{T, S, S, S, T}, true, 1, 1},
		{"waiting ends the stopped episode", []instrument.Status{W, S, S, W, S, S}, true, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.statuses, Options{ForceTrigger: tt.force})
			require.NoError(t, h.ctrl.Run(h.ctx))

			assert.Equal(t, tt.want, h.ctrl.Stored())
			assert.Len(t, h.store.byChannel(1), tt.want)
			assert.Len(t, h.store.byChannel(2), tt.want)
			assert.Equal(t, tt.forced, h.scope.forced)
		})
	}
}

func TestDrainOrder(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T}, Options{})
	require.NoError(t, h.ctrl.Run(h.ctx))

	// arm, then stop before reading, re-arm after storing
	assert.Equal(t, []string{"run", "stop", "read", "read", "run"}, h.scope.calls)
}

func TestReadFailureDiscardsCycle(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T, W, T}, Options{})
	h.scope.readErr = func(cycle, ch int) error {
		if cycle == 1 && ch == 2 {
			return errors.New().WithData(errors.ErrInstrumentCommand, ":WAV:DATA?")
		}
		return nil
	}

	require.NoError(t, h.ctrl.Run(h.ctx))

	assert.Equal(t, 1, h.ctrl.Stored())
	assert.Equal(t, 1, h.ctrl.Discarded())
	require.Len(t, h.store.records, 2, "channel 1 of the failed cycle is not stored")
	assert.Equal(t, 1, h.store.records[0].Channel)
	assert.Equal(t, 2, h.store.records[1].Channel)

	require.Len(t, h.collector.snapshots, 2)
	assert.Equal(t, metrics.OutcomeDiscarded, h.collector.snapshots[0].Outcome)
	assert.Equal(t, metrics.OutcomeStored, h.collector.snapshots[1].Outcome)
}

func TestMalformedPayloadDiscardsCycle(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T}, Options{})
	ctrl := New(&shortScope{scriptedScope: h.scope}, h.store, Options{Channels: twoChannels, Now: stepClock()})

	require.NoError(t, ctrl.Run(h.ctx))
	assert.Equal(t, 0, ctrl.Stored())
	assert.Equal(t, 1, ctrl.Discarded())
	assert.Empty(t, h.store.records)
	assert.True(t, h.scope.closed)
}

// shortScope announces one sample more than its payload carries.
type shortScope struct {
	*scriptedScope
}

func (s *shortScope) ReadRaw(ch int) (instrument.RawCapture, error) {
	raw, err := s.scriptedScope.ReadRaw(ch)
	raw.SampleCount++
	return raw, err
}

func TestStoreFailureEndsRun(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T, W, T, W, T}, Options{})
	h.store.failAt = 2

	err := h.ctrl.Run(h.ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrStorageWrite))
	assert.Equal(t, 1, errors.ExitCode(err))

	assert.Equal(t, 2, h.scope.polls, "no poll after the failed append")
	assert.Equal(t, 0, h.ctrl.Stored())
	assert.Len(t, h.store.records, 1)
	assert.True(t, h.scope.closed)
	assert.True(t, h.store.closed)
}

func TestCancelBeforeStart(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.ctrl.Run(ctx))
	assert.Empty(t, h.scope.calls)
	assert.True(t, h.scope.closed)
	assert.True(t, h.store.closed)
}

func TestMaxCycles(t *testing.T) {
	h := newHarness(t, []instrument.Status{W, T, W, T, W, T}, Options{MaxCycles: 2})
	require.NoError(t, h.ctrl.Run(h.ctx))

	assert.Equal(t, 2, h.ctrl.Stored())
	assert.Equal(t, 4, h.scope.polls)
}

func TestCycleReport(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, []instrument.Status{W, T, W, T}, Options{Logger: logger.New(&buf)})
	require.NoError(t, h.ctrl.Run(h.ctx))

	require.Len(t, h.collector.snapshots, 2)
	snap := h.collector.snapshots[1]
	require.Len(t, snap.Channels, 2)

	var measured time.Duration
	measured += snap.Wait + snap.Window + snap.Rearm
	for _, ch := range snap.Channels {
		assert.Positive(t, ch.Read)
		assert.Positive(t, ch.Store)
		measured += ch.Read + ch.Store
	}
	assert.Equal(t, snap.Total, measured+snap.Overhead)
	assert.Positive(t, snap.Wait)

	summary := h.ctrl.Summary()
	assert.Equal(t, 2, summary.Cycles())
	q, ok := summary.Quantiles(StageTotal)
	require.True(t, ok)
	assert.Equal(t, 2, q.Count)
	assert.Greater(t, q.P50, 0.0)

	assert.Contains(t, buf.String(), "Acquisition cycle stored")
	assert.Contains(t, buf.String(), "overhead_pct")
	assert.Contains(t, buf.String(), "Stage latency")
}

func TestClockStepBackKeepsStartsUnique(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scope := &scriptedScope{statuses: []instrument.Status{W, T, W, T, W, T}, cancel: cancel}
	w, err := store.Create(t.TempDir(), store.RunMetadata{RunID: "clock", Created: time.Now()}, twoChannels, logger.Nop())
	require.NoError(t, err)
	path := w.Path()

	// one second back once the first cycle is stored
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stepped := false
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		if !stepped && scope.polls >= 3 {
			stepped = true
			now = now.Add(-time.Second)
		}
		return now
	}

	ctrl := New(scope, w, Options{Channels: twoChannels, Now: clock})
	require.NoError(t, ctrl.Run(ctx))
	assert.True(t, stepped)
	assert.Equal(t, 3, ctrl.Stored())

	r, err := store.Open(path)
	require.NoError(t, err)
	defer r.Close()

	last := map[int]int64{}
	count := 0
	require.NoError(t, r.Records(context.Background(), func(rec store.Record) error {
		count++
		assert.LessOrEqual(t, rec.AcquisitionStart, rec.AcquisitionStop)
		assert.Greater(t, rec.AcquisitionStart, last[rec.Channel])
		last[rec.Channel] = rec.AcquisitionStart
		return nil
	}))
	assert.Equal(t, 6, count)
}
