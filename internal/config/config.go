package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/instrument"
	"codeberg.org/mutker/dsostream/internal/waveform"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultEnvPrefix      = "DSOSTREAM"
	DefaultLogLevel       = string(LogLevelInfo)
	DefaultDriver         = "DSO1000"
	DefaultDataDir        = "./data"
	DefaultSamplingRate   = 1e9
	DefaultTimeScale      = 2e-9
	DefaultPointsMode     = "MAX"
	DefaultTransport      = "usbtmc"
	DefaultUSBTMCDevice   = "/dev/usbtmc0"
	DefaultBaudRate       = 9600
	DefaultGPIBAddress    = 7
	DefaultTimeout        = 10 * time.Second
)

type Config struct {
	Driver         string          `mapstructure:"driver" yaml:"driver"`
	DataDir        string          `mapstructure:"data_dir" yaml:"data_dir"`
	SamplingRate   float64         `mapstructure:"sampling_rate" yaml:"sampling_rate"`
	TimeScale      float64         `mapstructure:"time_scale" yaml:"time_scale"`
	PointsMode     string          `mapstructure:"points_mode" yaml:"points_mode"`
	Points         int             `mapstructure:"points" yaml:"points"`
	WaveformFormat string          `mapstructure:"waveform_format" yaml:"waveform_format"`
	Channels       []ChannelConfig `mapstructure:"channels" yaml:"channels"`

	TriggerMode     string  `mapstructure:"trigger_mode" yaml:"trigger_mode"`
	TriggerSource   string  `mapstructure:"trigger_source" yaml:"trigger_source"`
	TriggerSlope    string  `mapstructure:"trigger_slope" yaml:"trigger_slope"`
	TriggerLevel    float64 `mapstructure:"trigger_level" yaml:"trigger_level"`
	TriggerCoupling string  `mapstructure:"trigger_coupling" yaml:"trigger_coupling"`
	TriggerSweep    string  `mapstructure:"trigger_sweep" yaml:"trigger_sweep"`
	TriggerForce    bool    `mapstructure:"trigger_force" yaml:"trigger_force"`

	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	MaxCycles int             `mapstructure:"max_cycles" yaml:"max_cycles"`

	// ConfigFile is the file the values were read from, empty when none
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

type ChannelConfig struct {
	Channel   int     `mapstructure:"ch" yaml:"ch"`
	Label     string  `mapstructure:"label" yaml:"label"`
	VScale    float64 `mapstructure:"v_scale" yaml:"v_scale"`
	Coupling  string  `mapstructure:"coupling" yaml:"coupling"`
	BWLimit   int     `mapstructure:"bw_limit" yaml:"bw_limit"`
	ProbeAttn int     `mapstructure:"probe_attn" yaml:"probe_attn"`
	Invert    int     `mapstructure:"invert" yaml:"invert"`
}

type TransportConfig struct {
	Type        string        `mapstructure:"type" yaml:"type"`
	Address     string        `mapstructure:"address" yaml:"address"`
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	GPIBAddress int           `mapstructure:"gpib_address" yaml:"gpib_address"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Load reads configuration from flags, environment and the config file.
// args are the command line arguments without the program name; a single
// positional argument names the config file, as --config does.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrConfiguration, err)
		}
	}

	flags := pflag.NewFlagSet("dsostream", pflag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	configFlag := flags.StringP("config", "c", "", "Path to the YAML configuration file")
	flags.String("driver", DefaultDriver, "Instrument driver (DSO3000, DSO1000, SIM)")
	flags.String("data-dir", DefaultDataDir, "Directory receiving the run store")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, warn, error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.Int("max-cycles", 0, "Stop after this many stored acquisitions (0 = unbounded)")
	flags.Bool("trigger-force", false, "Force a trigger when the instrument settles in STOP")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	for flagName, key := range map[string]string{
		"driver":        "driver",
		"data-dir":      "data_dir",
		"log-level":     "log_level",
		"metrics-addr":  "metrics.addr",
		"max-cycles":    "max_cycles",
		"trigger-force": "trigger_force",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrConfiguration, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit := o.configPath, o.configPath != ""
	if *configFlag != "" {
		path, explicit = *configFlag, true
	}
	if flags.NArg() > 0 {
		path, explicit = flags.Arg(0), true
	}
	if path == "" {
		path = DefaultConfigFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	configFile := path
	if err := v.ReadInConfig(); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, errFactory.WithData(errors.ErrReadConfig, path).WithMessage("Failed to read config file: " + err.Error())
		}
		configFile = ""
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrConfiguration, err)
	}
	cfg.ConfigFile = configFile
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", DefaultDriver)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("sampling_rate", DefaultSamplingRate)
	v.SetDefault("time_scale", DefaultTimeScale)
	v.SetDefault("points_mode", DefaultPointsMode)
	v.SetDefault("points", 0)
	v.SetDefault("waveform_format", "")
	v.SetDefault("trigger_mode", "EDGE")
	v.SetDefault("trigger_source", "EXT")
	v.SetDefault("trigger_slope", "POS")
	v.SetDefault("trigger_level", 0.0)
	v.SetDefault("trigger_coupling", "DC")
	v.SetDefault("trigger_sweep", "AUTO")
	v.SetDefault("trigger_force", false)
	v.SetDefault("transport.type", DefaultTransport)
	v.SetDefault("transport.address", "")
	v.SetDefault("transport.baud_rate", 0)
	v.SetDefault("transport.gpib_address", 0)
	v.SetDefault("transport.timeout", DefaultTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
}

// applyDefaults fills the per-channel and per-transport values viper cannot
// default because they live inside lists or depend on the transport type.
func (c *Config) applyDefaults() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Label == "" {
			ch.Label = "CH" + strconv.Itoa(ch.Channel)
		}
		if ch.VScale == 0 {
			ch.VScale = 1.0
		}
		if ch.Coupling == "" {
			ch.Coupling = "DC"
		}
		if ch.ProbeAttn == 0 {
			ch.ProbeAttn = 1
		}
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Driver = strings.ToUpper(c.Driver)
	c.PointsMode = strings.ToUpper(c.PointsMode)
	c.WaveformFormat = strings.ToLower(c.WaveformFormat)
	if c.WaveformFormat == "" {
		c.WaveformFormat = instrument.DefaultFormat(c.Driver).String()
	}
	c.Transport.Type = strings.ToLower(c.Transport.Type)

	switch c.Transport.Type {
	case "usbtmc":
		if c.Transport.Address == "" {
			c.Transport.Address = DefaultUSBTMCDevice
		}
	case "serial", "gpib":
		if c.Transport.BaudRate == 0 {
			c.Transport.BaudRate = DefaultBaudRate
		}
		if c.Transport.Type == "gpib" && c.Transport.GPIBAddress == 0 {
			c.Transport.GPIBAddress = DefaultGPIBAddress
		}
	}
	if c.Transport.Timeout <= 0 {
		c.Transport.Timeout = DefaultTimeout
	}
}

// YAML renders the effective configuration, stored alongside every run.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInternal, err)
	}

	return out, nil
}

// InstrumentOptions selects the driver and link described by the
// configuration.
func (c *Config) InstrumentOptions() (instrument.Options, error) {
	format, err := waveform.ParseFormat(c.WaveformFormat)
	if err != nil {
		return instrument.Options{}, errors.New().WithData(errors.ErrConfiguration,
			FieldError{"waveform_format", c.WaveformFormat, "must be hex or binary"})
	}

	return instrument.Options{
		Driver:        c.Driver,
		Format:        format,
		TransportType: c.Transport.Type,
		Address:       c.Transport.Address,
		BaudRate:      c.Transport.BaudRate,
		GPIBAddress:   c.Transport.GPIBAddress,
		Timeout:       c.Transport.Timeout,
	}, nil
}

// ChannelIDs returns the configured channels in acquisition order.
func (c *Config) ChannelIDs() []int {
	ids := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		ids[i] = ch.Channel
	}

	return ids
}
