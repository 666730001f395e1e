package metrics

import (
	"context"
	"time"
)

// Collector receives the timing of every acquisition cycle
type Collector interface {
	Record(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// Outcome is how an acquisition cycle ended
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDiscarded Outcome = "discarded"
)

// CycleSnapshot is the stage timing of one acquisition cycle
type CycleSnapshot struct {
	Timestamp time.Time
	Outcome   Outcome
	Wait      time.Duration
	Window    time.Duration
	Rearm     time.Duration
	Total     time.Duration
	Overhead  time.Duration
	Channels  []ChannelTiming
}

type ChannelTiming struct {
	Channel int
	Read    time.Duration
	Store   time.Duration
}
