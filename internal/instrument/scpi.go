package instrument

import (
	"fmt"
	"strconv"
	"strings"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/waveform"
)

// scpi drives the Agilent DSO1000/DSO3000 families (and the Rigol models
// sharing their command set) over any Transport.
type scpi struct {
	t      Transport
	format waveform.Format

	// sampleCount is the number of samples a waveform read is expected to
	// carry. It follows the last SetPoints or BufferSize answer.
	sampleCount int
}

func newSCPI(t Transport, format waveform.Format) *scpi {
	return &scpi{t: t, format: format}
}

func (s *scpi) Identity() (Identity, error) {
	const cmd = "*IDN?"
	resp, err := s.query(cmd)
	if err != nil {
		return Identity{}, err
	}

	return parseIdentity(resp)
}

func parseIdentity(resp string) (Identity, error) {
	fields := strings.Split(strings.TrimSpace(resp), ",")
	if len(fields) < 4 {
		return Identity{}, malformed("*IDN?", resp)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	return Identity{
		Brand:    fields[0],
		Model:    fields[1],
		Serial:   fields[2],
		Firmware: fields[3],
	}, nil
}

func (s *scpi) SetTimeScale(seconds float64) (float64, error) {
	if err := s.command(fmt.Sprintf(":TIMebase:SCALe %.1E", seconds)); err != nil {
		return 0, err
	}

	return s.queryFloat(":TIMebase:SCALe?")
}

func (s *scpi) SetSamplingRate(rate float64) (float64, error) {
	if err := s.command(fmt.Sprintf(":ACQuire:SRATe %.1E", rate)); err != nil {
		return 0, err
	}

	return s.queryFloat(":ACQuire:SRATe?")
}

func (s *scpi) SetPointsMode(mode string) (string, error) {
	if err := s.command(":WAVeform:POINts:MODE " + strings.ToUpper(mode)); err != nil {
		return "", err
	}

	resp, err := s.query(":WAVeform:POINts:MODE?")
	if err != nil {
		return "", err
	}

	return strings.ToUpper(strings.TrimSpace(resp)), nil
}

func (s *scpi) SetPoints(n int) (int, error) {
	if err := s.command(":WAVeform:POINts " + strconv.Itoa(n)); err != nil {
		return 0, err
	}

	points, err := s.queryInt(":WAVeform:POINts?")
	if err != nil {
		return 0, err
	}
	s.sampleCount = points

	return points, nil
}

func (s *scpi) SetChannel(cfg ChannelConfig) error {
	prefix := fmt.Sprintf(":CHAN%d:", cfg.Channel)
	cmds := []string{
		prefix + fmt.Sprintf("SCALe %.1E", cfg.Scale),
		prefix + "COUPling " + strings.ToUpper(cfg.Coupling),
		prefix + "BWLimit " + flag(cfg.BWLimit),
		prefix + "PROBe " + strconv.Itoa(cfg.ProbeAttn),
		prefix + "INVert " + flag(cfg.Invert),
		prefix + "DISPlay " + flag(cfg.Display),
	}

	return s.commands(cmds)
}

func (s *scpi) VerticalScale(channel int) (float64, error) {
	return s.queryFloat(fmt.Sprintf(":CHAN%d:SCALe?", channel))
}

func (s *scpi) SetTrigger(cfg TriggerConfig) error {
	source, err := TriggerSource(cfg.Source)
	if err != nil {
		return err
	}

	cmds := []string{
		":TRIGger:MODE " + strings.ToUpper(cfg.Mode),
		":TRIGger:SOURce " + source,
		":TRIGger:EDGE:SLOPe " + strings.ToUpper(cfg.Slope),
		fmt.Sprintf(":TRIGger:EDGE:LEVel %.2E", cfg.Level),
		":TRIGger:EDGE:COUPling " + strings.ToUpper(cfg.Coupling),
		":TRIGger:EDGE:SWEep " + strings.ToUpper(cfg.Sweep),
	}

	return s.commands(cmds)
}

func (s *scpi) TimeResolution() (float64, error) {
	return s.queryFloat(":WAVeform:XINCrement?")
}

func (s *scpi) BufferSize() (int, error) {
	size, err := s.queryInt(":WAVeform:WINMemsize?")
	if err != nil {
		return 0, err
	}
	if s.sampleCount == 0 {
		s.sampleCount = size
	}

	return size, nil
}

func (s *scpi) Run() error          { return s.command(":RUN") }
func (s *scpi) Stop() error         { return s.command(":STOP") }
func (s *scpi) Single() error       { return s.command(":SINGle") }
func (s *scpi) ForceTrigger() error { return s.command(":ForceTrig") }

func (s *scpi) TriggerStatus() (Status, error) {
	const cmd = ":TRIGger:STATus?"
	resp, err := s.query(cmd)
	if err != nil {
		return StatusUnknown, err
	}

	return parseStatus(cmd, resp)
}

func parseStatus(cmd, resp string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "T'D", "TD":
		return StatusTriggered, nil
	case "WAIT", "RUN", "AUTO":
		return StatusWaiting, nil
	case "STOP":
		return StatusStopped, nil
	default:
		return StatusUnknown, malformed(cmd, resp)
	}
}

func (s *scpi) ReadRaw(channel int) (RawCapture, error) {
	if s.sampleCount == 0 {
		if _, err := s.BufferSize(); err != nil {
			return RawCapture{}, err
		}
	}

	form := "BYTE"
	if s.format == waveform.FormatHex {
		form = "ASCii"
	}
	if err := s.commands([]string{
		fmt.Sprintf(":WAV:SOUR CHANNEL%d", channel),
		":WAV:FORM " + form,
	}); err != nil {
		return RawCapture{}, err
	}

	const dataCmd = ":WAV:DATA?"
	var payload []byte
	if s.format == waveform.FormatHex {
		resp, err := s.query(dataCmd)
		if err != nil {
			return RawCapture{}, err
		}
		payload = []byte(resp)
	} else {
		block, err := s.t.QueryBlock(dataCmd)
		if err != nil {
			return RawCapture{}, commandFailed(dataCmd, err)
		}
		payload = block
	}

	yinc, err := s.queryFloat(":WAV:YINC?")
	if err != nil {
		return RawCapture{}, err
	}
	yor, err := s.queryFloat(":WAV:YOR?")
	if err != nil {
		return RawCapture{}, err
	}

	return RawCapture{
		Channel:     channel,
		Payload:     payload,
		SampleCount: s.sampleCount,
		Format:      s.format,
		Calibration: waveform.Calibration{YIncrement: yinc, YOrigin: yor},
	}, nil
}

func (s *scpi) Close() error {
	return s.t.Close()
}

func (s *scpi) command(cmd string) error {
	if err := s.t.Command(cmd); err != nil {
		return commandFailed(cmd, err)
	}

	return nil
}

func (s *scpi) commands(cmds []string) error {
	for _, cmd := range cmds {
		if err := s.command(cmd); err != nil {
			return err
		}
	}

	return nil
}

func (s *scpi) query(cmd string) (string, error) {
	resp, err := s.t.Query(cmd)
	if err != nil {
		return "", commandFailed(cmd, err)
	}

	return resp, nil
}

func (s *scpi) queryFloat(cmd string) (float64, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, malformed(cmd, resp)
	}

	return v, nil
}

func (s *scpi) queryInt(cmd string) (int, error) {
	v, err := s.queryFloat(cmd)
	if err != nil {
		return 0, err
	}

	return int(v), nil
}

// TriggerSource maps the accepted spellings of a trigger source onto the
// SCPI token: EXT, EXTERNAL or EXTERN, and for channel n any of "n", "CHn",
// "CH n", "CHANn", "CHAN n" or "CHANNELn".
func TriggerSource(source string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(source))
	switch s {
	case "EXT", "EXTERNAL", "EXTERN":
		return "EXT", nil
	}

	for _, prefix := range []string{"CHANNEL", "CHAN", "CH", ""} {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 4 && len(rest) == 1 {
			return "CHANnel" + rest, nil
		}
	}

	return "", errFactory.WithData(errors.ErrInvalidArgument, source).WithMessage("Unknown trigger source")
}

func flag(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
