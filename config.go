package dashlog

import (
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/dashlog/conf"
	"github.com/jd3nn1s/dashlog/forwarder"
	"github.com/jd3nn1s/dashlog/obd"
	"github.com/pkg/errors"
)

// Duration is a time.Duration written as "250ms" in the config file.
type Duration = conf.Duration

func dur(d time.Duration) Duration {
	return Duration{Duration: d}
}

type Config struct {
	OBD        OBDConfig        `toml:"obd"`
	GPS        GPSConfig        `toml:"gps"`
	IMU        IMUConfig        `toml:"imu"`
	CAN        CANConfig        `toml:"can"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Display    DisplayConfig    `toml:"display"`
	Storage    StorageConfig    `toml:"storage"`
	Record     RecordConfig     `toml:"record"`
	Forward    ForwardConfig    `toml:"forward"`
	TestMode   bool             `toml:"testmode"`
}

type ParamConfig struct {
	Name   string `toml:"name"`
	Weight int    `toml:"weight"`
}

type OBDConfig struct {
	Enabled bool `toml:"enabled"`
	// Backend is "elm327" or "kw1281".
	Backend  string        `toml:"backend"`
	Port     string        `toml:"port"`
	Baud     int           `toml:"baud"`
	Protocol string        `toml:"protocol"`
	Timeout  Duration      `toml:"timeout"`
	Params   []ParamConfig `toml:"params"`
	// FuelWindow is the distance the medium fuel economy averages over.
	FuelWindow float64 `toml:"fuel_window_km"`
}

type GPSConfig struct {
	Enabled bool `toml:"enabled"`
	// Backend is "nmea" or "skytraq".
	Backend string  `toml:"backend"`
	Port    string  `toml:"port"`
	Baud    int     `toml:"baud"`
	MaxHDOP float64 `toml:"max_hdop"`
	// Clock is the system clock policy: "off", "once" or "periodic".
	Clock          string   `toml:"clock"`
	ClockThreshold Duration `toml:"clock_threshold"`
	ClockInterval  Duration `toml:"clock_interval"`
}

type IMUConfig struct {
	Enabled bool `toml:"enabled"`
	// Backend is "mpu9250", "serial" or "sim".
	Backend   string   `toml:"backend"`
	Port      string   `toml:"port"`
	Baud      int      `toml:"baud"`
	SPI       string   `toml:"spi"`
	CSPin     string   `toml:"cs_pin"`
	Calibrate bool     `toml:"calibrate"`
	Period    Duration `toml:"period"`
}

type CANConfig struct {
	Enabled   bool   `toml:"enabled"`
	Interface string `toml:"interface"`
}

type SmoothingConfig struct {
	Samples int      `toml:"samples"`
	Span    Duration `toml:"span"`
}

type AggregatorConfig struct {
	Readings       int      `toml:"readings_queue"`
	FrameQueue     int      `toml:"frame_queue"`
	RecordQueue    int      `toml:"record_queue"`
	PersistWait    Duration `toml:"persist_wait"`
	RenderInterval Duration `toml:"render_interval"`
	CodesTimeout   Duration `toml:"codes_timeout"`
	CodesDisplay   Duration `toml:"codes_display"`
	// Smoothing is keyed by channel name, e.g. "rpm".
	Smoothing map[string]SmoothingConfig `toml:"smoothing"`
}

type DisplayConfig struct {
	Enabled     bool   `toml:"enabled"`
	Framebuffer string `toml:"framebuffer"`
	Console     string `toml:"console"`
	// Width and Height override the geometry read from sysfs.
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

type StorageConfig struct {
	Dir            string   `toml:"dir"`
	Capacity       int      `toml:"capacity"`
	FlushInterval  Duration `toml:"flush_interval"`
	FlushThreshold int      `toml:"flush_threshold"`
	RetryBackoff   Duration `toml:"retry_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	SegmentBytes   int64    `toml:"segment_bytes"`
	SegmentAge     Duration `toml:"segment_age"`
}

type RecordConfig struct {
	// Scales overrides fixed-point scales, keyed "kind.field".
	Scales map[string]float64 `toml:"scales"`
}

type ForwardConfig struct {
	UDP  forwarder.UDPConfig  `toml:"udp"`
	MQTT forwarder.MQTTConfig `toml:"mqtt"`
}

func DefaultConfig() *Config {
	params := []ParamConfig{}
	for _, e := range obd.DefaultEntries() {
		params = append(params, ParamConfig{Name: e.Param.Name, Weight: e.Weight})
	}
	return &Config{
		OBD: OBDConfig{
			Enabled:    true,
			Backend:    "elm327",
			Port:       "/dev/obd",
			Baud:       115200,
			Protocol:   string(obd.ProtocolAuto),
			Timeout:    dur(3100 * time.Millisecond),
			Params:     params,
			FuelWindow: 5,
		},
		GPS: GPSConfig{
			Enabled:        true,
			Backend:        "nmea",
			Port:           "/dev/ttyAMA0",
			Baud:           9600,
			MaxHDOP:        5,
			Clock:          string(ClockOnce),
			ClockThreshold: dur(2 * time.Second),
			ClockInterval:  dur(time.Hour),
		},
		IMU: IMUConfig{
			Enabled: true,
			Backend: "serial",
			Port:    "/dev/imu",
			Baud:    115200,
			SPI:     "/dev/spidev0.0",
			CSPin:   "GPIO8",
			Period:  dur(10 * time.Millisecond),
		},
		CAN: CANConfig{
			Interface: "can0",
		},
		Aggregator: AggregatorConfig{
			Readings:       256,
			FrameQueue:     2,
			RecordQueue:    1024,
			PersistWait:    dur(5 * time.Millisecond),
			RenderInterval: dur(100 * time.Millisecond),
			CodesTimeout:   dur(15 * time.Second),
			CodesDisplay:   dur(7 * time.Second),
			Smoothing: map[string]SmoothingConfig{
				"rpm":   {Samples: 4, Span: dur(500 * time.Millisecond)},
				"accel": {Samples: 10, Span: dur(100 * time.Millisecond)},
				"gyro":  {Samples: 10, Span: dur(100 * time.Millisecond)},
			},
		},
		Display: DisplayConfig{
			Enabled:     true,
			Framebuffer: "/dev/fb0",
			Console:     "/dev/vcsa1",
		},
		Storage: StorageConfig{
			Dir:            "/var/lib/dashlog",
			Capacity:       3 * 60 * 120,
			FlushInterval:  dur(60 * time.Second),
			FlushThreshold: 60 * 120,
			RetryBackoff:   dur(time.Second),
			MaxBackoff:     dur(time.Minute),
			SegmentBytes:   64 << 20,
			SegmentAge:     dur(time.Hour),
		},
		Forward: ForwardConfig{
			UDP:  forwarder.UDPConfig{Interval: dur(100 * time.Millisecond)},
			MQTT: forwarder.MQTTConfig{Topic: "dashlog/records", ClientID: "dashlog"},
		},
	}
}

// LoadConfig overlays the file at path on the defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open config %s", path)
	}
	defer f.Close()
	return LoadConfigFromReader(f)
}

func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config")
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown config keys: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Schedule(); err != nil {
		return err
	}
	switch c.OBD.Backend {
	case "elm327", "kw1281":
	default:
		return errors.Errorf("obd.backend: unknown backend %q", c.OBD.Backend)
	}
	switch c.GPS.Backend {
	case "nmea", "skytraq":
	default:
		return errors.Errorf("gps.backend: unknown backend %q", c.GPS.Backend)
	}
	switch ClockPolicy(c.GPS.Clock) {
	case ClockOff, ClockOnce, ClockPeriodic:
	default:
		return errors.Errorf("gps.clock: unknown policy %q", c.GPS.Clock)
	}
	switch c.IMU.Backend {
	case "mpu9250", "serial", "sim":
	default:
		return errors.Errorf("imu.backend: unknown backend %q", c.IMU.Backend)
	}
	if c.IMU.Period.Duration <= 0 {
		return errors.New("imu.period must be positive")
	}
	if c.Aggregator.RenderInterval.Duration <= 0 {
		return errors.New("aggregator.render_interval must be positive")
	}
	for name, s := range c.Aggregator.Smoothing {
		if _, ok := ChannelByName(name); !ok {
			return errors.Errorf("aggregator.smoothing: unknown channel %q", name)
		}
		if s.Samples < 1 {
			return errors.Errorf("aggregator.smoothing.%s: samples must be at least 1", name)
		}
	}
	if c.Storage.Capacity < 1 || c.Storage.FlushThreshold < 1 {
		return errors.New("storage.capacity and storage.flush_threshold must be positive")
	}
	if c.Storage.FlushInterval.Duration <= 0 {
		return errors.New("storage.flush_interval must be positive")
	}
	return nil
}

// Schedule resolves the configured parameter list into scheduler entries.
func (c *Config) Schedule() ([]obd.Entry, error) {
	entries := make([]obd.Entry, 0, len(c.OBD.Params))
	for _, p := range c.OBD.Params {
		param, err := obd.Lookup(p.Name)
		if err != nil {
			return nil, errors.Wrap(err, "obd.params")
		}
		entries = append(entries, obd.Entry{Param: param, Weight: p.Weight})
	}
	if _, err := obd.NewScheduler(entries); err != nil {
		return nil, errors.Wrap(err, "obd.params")
	}
	return entries, nil
}
