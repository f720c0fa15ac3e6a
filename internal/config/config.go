package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gpsdo/internal/nmea"
)

// Config is the static daemon configuration: hardware wiring and paths.
// Operator-tunable values (time offset, correction law, saved duty, ...)
// live in the settings file instead, which the daemon rewrites.
type Config struct {
	GPS        GPSConfig        `yaml:"gps"`
	Capture    CaptureConfig    `yaml:"capture"`
	Discipline DisciplineConfig `yaml:"discipline"`
	PPSOutput  PPSOutputConfig  `yaml:"pps_output"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Settings   SettingsConfig   `yaml:"settings"`
	Sim        SimConfig        `yaml:"sim"`
	Status     StatusConfig     `yaml:"status"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`
	// Device is the receiver UART; empty auto-detects.
	Device    string `yaml:"device"`
	Companion string `yaml:"companion"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	ReopenEvery    time.Duration `yaml:"reopen_every"`
	WriteWait      time.Duration `yaml:"write_wait"`
	StrictChecksum bool          `yaml:"strict_checksum"`
}

const (
	SourceGPIO = "gpio"
	SourcePPS  = "pps"
	SourceSim  = "sim"
)

type CaptureConfig struct {
	// Source is one of gpio, pps or sim. gpio and pps edges carry host
	// timestamps converted to ticks at nominal_hz, so they measure the host
	// clock: the loop only steers the oscillator when it clocks the host.
	Source    string `yaml:"source"`
	GPIOPin   int    `yaml:"gpio_pin"`
	Falling   bool   `yaml:"falling"`
	PPSDevice string `yaml:"pps_device"`

	TimerPeriod uint32 `yaml:"timer_period"`
	Buffer      int    `yaml:"buffer"`
}

type DisciplineConfig struct {
	NominalHz        uint32        `yaml:"nominal_hz"`
	// Edges spaced outside [sanity_floor, sanity_ceiling) are not measured.
	SanityFloor      time.Duration `yaml:"sanity_floor"`
	SanityCeiling    time.Duration `yaml:"sanity_ceiling"`
	AveragerWindow   int           `yaml:"averager_window"`
	AveragerAlpha    float64       `yaml:"averager_alpha"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`
}

type PPSOutputConfig struct {
	Enable bool          `yaml:"enable"`
	Pin    int           `yaml:"pin"`
	Width  time.Duration `yaml:"width"`
}

type ActuatorConfig struct {
	// Backend is one of sysfs, periph or none.
	Backend     string `yaml:"backend"`
	Pin         string `yaml:"pin"`
	Chip        int    `yaml:"chip"`
	Channel     int    `yaml:"channel"`
	FrequencyHz int    `yaml:"frequency_hz"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type SimConfig struct {
	Enable bool `yaml:"enable"`
	// OffsetHz is the oscillator error at the center duty.
	OffsetHz    float64       `yaml:"offset_hz"`
	Gain        float64       `yaml:"gain"`
	Center      uint16        `yaml:"center"`
	JitterTicks float64       `yaml:"jitter_ticks"`
	Seed        uint64        `yaml:"seed"`
	Step        time.Duration `yaml:"step"`

	LatDeg float64     `yaml:"lat_deg"`
	LonDeg float64     `yaml:"lon_deg"`
	AltM   float64     `yaml:"alt_m"`
	Module nmea.Module `yaml:"module"`
}

type StatusConfig struct {
	Interval time.Duration `yaml:"interval"`
}

const DefaultSettingsPath = "/var/lib/gpsdo/settings.yaml"

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values with defaults and rejects
// inconsistent combinations.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.GPS.PollInterval <= 0 {
		cfg.GPS.PollInterval = 10 * time.Millisecond
	}
	if cfg.GPS.SilenceTimeout <= 0 {
		cfg.GPS.SilenceTimeout = 10 * time.Second
	}
	if cfg.GPS.ReopenEvery <= 0 {
		cfg.GPS.ReopenEvery = 2 * time.Second
	}
	if cfg.GPS.WriteWait <= 0 {
		cfg.GPS.WriteWait = 20 * time.Millisecond
	}
	if cfg.GPS.Companion != "" && cfg.GPS.Companion == cfg.GPS.Device {
		return fmt.Errorf("gps.companion must differ from gps.device")
	}

	cfg.Capture.Source = strings.ToLower(strings.TrimSpace(cfg.Capture.Source))
	if cfg.Capture.Source == "" {
		if cfg.Sim.Enable {
			cfg.Capture.Source = SourceSim
		} else {
			cfg.Capture.Source = SourceGPIO
		}
	}
	switch cfg.Capture.Source {
	case SourceGPIO:
		if cfg.Capture.GPIOPin < 0 {
			return fmt.Errorf("capture.gpio_pin must be >= 0")
		}
	case SourcePPS:
		if cfg.Capture.PPSDevice == "" {
			cfg.Capture.PPSDevice = "/dev/pps0"
		}
	case SourceSim:
		if !cfg.Sim.Enable {
			return fmt.Errorf("capture.source sim requires sim.enable")
		}
	default:
		return fmt.Errorf("capture.source must be gpio, pps or sim")
	}
	if cfg.Sim.Enable && cfg.Capture.Source != SourceSim {
		return fmt.Errorf("sim.enable requires capture.source sim")
	}
	if cfg.Capture.TimerPeriod == 0 {
		cfg.Capture.TimerPeriod = 65536
	}
	if cfg.Capture.Buffer <= 0 {
		cfg.Capture.Buffer = 64
	}

	if cfg.Discipline.NominalHz == 0 {
		cfg.Discipline.NominalHz = 70_000_000
	}
	if cfg.Discipline.SanityCeiling <= 0 {
		cfg.Discipline.SanityCeiling = 1300 * time.Millisecond
	}
	if cfg.Discipline.SanityCeiling <= time.Second {
		return fmt.Errorf("discipline.sanity_ceiling must be > 1s")
	}
	if cfg.Discipline.SanityFloor <= 0 {
		cfg.Discipline.SanityFloor = 700 * time.Millisecond
	}
	if cfg.Discipline.SanityFloor >= time.Second {
		return fmt.Errorf("discipline.sanity_floor must be < 1s")
	}
	if cfg.Discipline.AveragerWindow < 0 {
		return fmt.Errorf("discipline.averager_window must be >= 0")
	}
	if cfg.Discipline.AveragerAlpha < 0 || cfg.Discipline.AveragerAlpha > 1 {
		return fmt.Errorf("discipline.averager_alpha must be within 0..1")
	}
	if cfg.Discipline.AutoSaveInterval <= 0 {
		cfg.Discipline.AutoSaveInterval = time.Hour
	}

	if cfg.PPSOutput.Width <= 0 {
		cfg.PPSOutput.Width = 100 * time.Millisecond
	}
	if cfg.PPSOutput.Width >= time.Second {
		return fmt.Errorf("pps_output.width must be < 1s")
	}
	if cfg.PPSOutput.Enable && cfg.Capture.Source != SourceSim && cfg.PPSOutput.Pin < 0 {
		return fmt.Errorf("pps_output.pin must be >= 0")
	}

	cfg.Actuator.Backend = strings.ToLower(strings.TrimSpace(cfg.Actuator.Backend))
	switch cfg.Actuator.Backend {
	case "":
		cfg.Actuator.Backend = "none"
	case "none", "sysfs":
	case "periph":
		if strings.TrimSpace(cfg.Actuator.Pin) == "" {
			return fmt.Errorf("actuator.pin is required when actuator.backend is periph")
		}
	default:
		return fmt.Errorf("actuator.backend must be sysfs, periph or none")
	}
	if cfg.Actuator.FrequencyHz <= 0 {
		cfg.Actuator.FrequencyHz = 1000
	}

	if strings.TrimSpace(cfg.Settings.Path) == "" {
		cfg.Settings.Path = DefaultSettingsPath
	}

	// Simulator defaults (safe even if disabled).
	if cfg.Sim.Gain == 0 {
		cfg.Sim.Gain = 0.01
	}
	if cfg.Sim.Center == 0 {
		cfg.Sim.Center = 38000
	}
	if cfg.Sim.Step <= 0 {
		cfg.Sim.Step = time.Second
	}
	if cfg.Sim.JitterTicks < 0 {
		return fmt.Errorf("sim.jitter_ticks must be >= 0")
	}
	if cfg.Sim.LatDeg < -90 || cfg.Sim.LatDeg > 90 {
		return fmt.Errorf("sim.lat_deg must be within -90..90")
	}
	if cfg.Sim.LonDeg < -180 || cfg.Sim.LonDeg > 180 {
		return fmt.Errorf("sim.lon_deg must be within -180..180")
	}
	if cfg.Sim.LatDeg == 0 && cfg.Sim.LonDeg == 0 {
		cfg.Sim.LatDeg, cfg.Sim.LonDeg = 48.1173, 11.5167
	}
	if cfg.Sim.Module == nmea.ModuleUnknown {
		cfg.Sim.Module = nmea.ModuleATGM336H
	}

	if cfg.Status.Interval <= 0 {
		cfg.Status.Interval = 10 * time.Second
	}
	return nil
}
