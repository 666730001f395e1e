package acquisition

import (
	"time"

	"codeberg.org/mutker/dsostream/internal/logger"
	"codeberg.org/mutker/dsostream/internal/metrics"
	"github.com/DataDog/sketches-go/ddsketch"
)

const sketchAccuracy = 0.01

// CycleReport is the stage timing of one acquisition cycle. Total runs from
// the end of the previous drain to the end of this cycle's re-arm; Overhead
// is whatever Total leaves unaccounted for after the measured stages.
type CycleReport struct {
	Started    time.Time
	Wait       time.Duration
	TriggerSet time.Duration
	Window     time.Duration
	Reads      []ChannelDuration
	Stores     []ChannelDuration
	Rearm      time.Duration
	Total      time.Duration
	Overhead   time.Duration
	Discarded  bool
}

type ChannelDuration struct {
	Channel  int
	Duration time.Duration
}

func (r *CycleReport) readTotal() time.Duration {
	return sumDurations(r.Reads)
}

func (r *CycleReport) storeTotal() time.Duration {
	return sumDurations(r.Stores)
}

func (r *CycleReport) finish(total time.Duration) {
	r.Total = total
	r.Overhead = total - r.Wait - r.Window - r.readTotal() - r.storeTotal() - r.Rearm
}

func sumDurations(ds []ChannelDuration) time.Duration {
	var sum time.Duration
	for _, d := range ds {
		sum += d.Duration
	}

	return sum
}

func percent(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}

	return float64(d) / float64(total) * 100
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// log writes the cycle summary at info and the per-channel detail at debug.
func (r *CycleReport) log(log logger.Logger, recordTime time.Duration) {
	for _, d := range r.Reads {
		log.Debug().Int("channel", d.Channel).Float64("read_ms", ms(d.Duration)).Msg("Channel read")
	}
	for _, d := range r.Stores {
		log.Debug().Int("channel", d.Channel).Float64("store_ms", ms(d.Duration)).Msg("Channel stored")
	}

	log.Info().
		Float64("total_ms", ms(r.Total)).
		Float64("wait_ms", ms(r.Wait)).
		Float64("wait_pct", percent(r.Wait, r.Total)).
		Float64("trigger_set_ms", ms(r.TriggerSet)).
		Float64("window_ms", ms(r.Window)).
		Float64("window_pct", percent(r.Window, r.Total)).
		Float64("read_ms", ms(r.readTotal())).
		Float64("read_pct", percent(r.readTotal(), r.Total)).
		Float64("store_ms", ms(r.storeTotal())).
		Float64("store_pct", percent(r.storeTotal(), r.Total)).
		Float64("rearm_ms", ms(r.Rearm)).
		Float64("rearm_pct", percent(r.Rearm, r.Total)).
		Float64("overhead_ms", ms(r.Overhead)).
		Float64("overhead_pct", percent(r.Overhead, r.Total)).
		Float64("record_time_ns", float64(recordTime.Nanoseconds())).
		Msg("Acquisition cycle stored")
}

func (r *CycleReport) snapshot() *metrics.CycleSnapshot {
	outcome := metrics.OutcomeStored
	if r.Discarded {
		outcome = metrics.OutcomeDiscarded
	}

	channels := make([]metrics.ChannelTiming, len(r.Reads))
	for i, d := range r.Reads {
		channels[i] = metrics.ChannelTiming{Channel: d.Channel, Read: d.Duration}
		if i < len(r.Stores) {
			channels[i].Store = r.Stores[i].Duration
		}
	}

	return &metrics.CycleSnapshot{
		Timestamp: r.Started,
		Outcome:   outcome,
		Wait:      r.Wait,
		Window:    r.Window,
		Rearm:     r.Rearm,
		Total:     r.Total,
		Overhead:  r.Overhead,
		Channels:  channels,
	}
}

// Stage names used by TimingSummary.
const (
	StageWait     = "wait"
	StageWindow   = "window"
	StageRead     = "read"
	StageStore    = "store"
	StageRearm    = "rearm"
	StageTotal    = "total"
	StageOverhead = "overhead"
)

var summaryStages = []string{StageWait, StageWindow, StageRead, StageStore, StageRearm, StageTotal, StageOverhead}

// TimingSummary accumulates stage durations of stored cycles into quantile
// sketches.
type TimingSummary struct {
	sketches map[string]*ddsketch.DDSketch
	cycles   int
}

// Quantiles holds stage quantiles in seconds.
type Quantiles struct {
	P50, P90, P99 float64
	Count         int
}

func NewTimingSummary() *TimingSummary {
	s := &TimingSummary{sketches: make(map[string]*ddsketch.DDSketch, len(summaryStages))}
	for _, stage := range summaryStages {
		sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
		if err == nil {
			s.sketches[stage] = sketch
		}
	}

	return s
}

// Add records a stored cycle. Read and store are summed over channels.
func (s *TimingSummary) Add(r *CycleReport) {
	if r.Discarded {
		return
	}
	s.cycles++

	s.add(StageWait, r.Wait)
	s.add(StageWindow, r.Window)
	s.add(StageRead, r.readTotal())
	s.add(StageStore, r.storeTotal())
	s.add(StageRearm, r.Rearm)
	s.add(StageTotal, r.Total)
	// the sketch only holds non-negative values
	overhead := r.Overhead
	if overhead < 0 {
		overhead = 0
	}
	s.add(StageOverhead, overhead)
}

func (s *TimingSummary) add(stage string, d time.Duration) {
	if sketch, ok := s.sketches[stage]; ok {
		_ = sketch.Add(d.Seconds())
	}
}

// Cycles returns the number of stored cycles added.
func (s *TimingSummary) Cycles() int {
	return s.cycles
}

// Quantiles returns the stage quantiles, or false when nothing was recorded.
func (s *TimingSummary) Quantiles(stage string) (Quantiles, bool) {
	sketch, ok := s.sketches[stage]
	if !ok || sketch.IsEmpty() {
		return Quantiles{}, false
	}

	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)

	return Quantiles{P50: p50, P90: p90, P99: p99, Count: int(sketch.GetCount())}, true
}

// Log writes one line per stage.
func (s *TimingSummary) Log(log logger.Logger) {
	log.Info().Int("cycles", s.cycles).Msg("Acquisition timing summary")
	for _, stage := range summaryStages {
		q, ok := s.Quantiles(stage)
		if !ok {
			continue
		}
		log.Info().
			Str("stage", stage).
			Float64("p50_ms", q.P50*1e3).
			Float64("p90_ms", q.P90*1e3).
			Float64("p99_ms", q.P99*1e3).
			Msg("Stage latency")
	}
}
