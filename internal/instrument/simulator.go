package instrument

import (
	"math"
	"strings"
	"sync"

	"codeberg.org/mutker/dsostream/internal/waveform"
)

const (
	simBufferSize     = 300
	simTimeResolution = 1e-9
	simWaitPolls      = 3
	simYIncrement     = 0.01
	simAmplitude      = 80
)

// Simulator is an instrument without hardware. After Run it reports Waiting
// for a fixed number of polls and then Triggered, and its channels carry a
// sine wave whose phase differs per channel.
type Simulator struct {
	mu           sync.Mutex
	running      bool
	polls        int
	waitPolls    int
	bufferSize   int
	points       int
	timeScale    float64
	samplingRate float64
	pointsMode   string
	scales       map[int]float64
	closed       bool
}

func NewSimulator() *Simulator {
	return &Simulator{
		waitPolls:    simWaitPolls,
		bufferSize:   simBufferSize,
		timeScale:    1e-6,
		samplingRate: 1e9,
		pointsMode:   "NORM",
		scales:       make(map[int]float64),
	}
}

func (s *Simulator) Identity() (Identity, error) {
	return Identity{Brand: "Generic DSO", Model: "DSO", Serial: "n/a", Firmware: "0.1"}, nil
}

func (s *Simulator) SetTimeScale(seconds float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeScale = seconds

	return s.timeScale, nil
}

func (s *Simulator) SetSamplingRate(rate float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplingRate = rate

	return s.samplingRate, nil
}

func (s *Simulator) SetPointsMode(mode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointsMode = strings.ToUpper(mode)

	return s.pointsMode, nil
}

// SetPoints clamps n to the simulated buffer.
func (s *Simulator) SetPoints(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > s.bufferSize {
		n = s.bufferSize
	}
	s.points = n

	return s.points, nil
}

func (s *Simulator) SetChannel(cfg ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scales[cfg.Channel] = cfg.Scale

	return nil
}

func (s *Simulator) VerticalScale(channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scale, ok := s.scales[channel]; ok {
		return scale, nil
	}

	return 1.0, nil
}

func (s *Simulator) SetTrigger(cfg TriggerConfig) error {
	_, err := TriggerSource(cfg.Source)
	return err
}

func (s *Simulator) TimeResolution() (float64, error) {
	return simTimeResolution, nil
}

func (s *Simulator) BufferSize() (int, error) {
	return s.bufferSize, nil
}

func (s *Simulator) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.polls = 0

	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false

	return nil
}

func (s *Simulator) Single() error {
	return s.Run()
}

func (s *Simulator) ForceTrigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.polls = s.waitPolls

	return nil
}

func (s *Simulator) TriggerStatus() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return StatusStopped, nil
	}
	if s.polls < s.waitPolls {
		s.polls++
		return StatusWaiting, nil
	}

	return StatusTriggered, nil
}

func (s *Simulator) ReadRaw(channel int) (RawCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.points
	if n == 0 {
		n = s.bufferSize
	}
	phase := float64(channel-1) * math.Pi / 2
	codes := make([]byte, n)
	for i := range codes {
		v := simAmplitude * math.Sin(2*math.Pi*float64(i)/float64(n)+phase)
		codes[i] = byte(waveform.MidscaleCode - int(math.Round(v)))
	}

	return RawCapture{
		Channel:     channel,
		Payload:     codes,
		SampleCount: n,
		Format:      waveform.FormatBinary,
		Calibration: waveform.Calibration{YIncrement: simYIncrement},
	}, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	return nil
}

// Closed reports whether Close was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
