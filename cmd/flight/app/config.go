package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	VehicleSim    VehicleType = "sim"
	VehicleSerial VehicleType = "serial"

	defaultDataDirectory   = "data"
	defaultKnownDistanceCm = 100
	defaultTrials          = 3
	maxConfigFileSize      = 1 << 20
)

type VehicleType string

type TimeDuration time.Duration

func NewTimeDuration(d time.Duration) TimeDuration {
	return TimeDuration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Course      string            `yaml:"course"`
	Vehicle     VehicleConfig     `yaml:"vehicle"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Storage     StorageConfig     `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level. Empty means info.
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// VehicleConfig selects and configures the vehicle adapter
type VehicleConfig struct {
	Type   VehicleType  `yaml:"type"`
	Serial SerialConfig `yaml:"serial"`
	Sim    SimConfig    `yaml:"sim"`
}

// SerialConfig represents the serial link to a real vehicle
type SerialConfig struct {
	Port            string       `yaml:"port"`
	BaudRate        int          `yaml:"baudRate"`
	ReadTimeout     TimeDuration `yaml:"readTimeout"`
	ResponseTimeout TimeDuration `yaml:"responseTimeout"`
	MaxParseErrors  int          `yaml:"maxParseErrors"`
}

// SimConfig represents the simulated vehicle used for dry runs
type SimConfig struct {
	SpeedCmS        float64 `yaml:"speedCmS"`
	FlowGain        float64 `yaml:"flowGain"`
	TakeoffHeightCm float64 `yaml:"takeoffHeightCm"`
	HeadingDeg      float64 `yaml:"headingDeg"`
}

// CalibrationConfig represents flow sensor calibration settings
type CalibrationConfig struct {
	KnownDistanceCm float64 `yaml:"knownDistanceCm"`
	Trials          int     `yaml:"trials"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Disabled      bool   `yaml:"disabled"`
	DataDirectory string `yaml:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize"`
}

// LoadConfig reads, defaults and validates the configuration file. A relative
// course path is resolved against the directory of the configuration file.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	if config.Course != "" && !filepath.IsAbs(config.Course) {
		config.Course = filepath.Join(filepath.Dir(cleanPath), config.Course)
	}
	return config, nil
}

// ParseConfig decodes a configuration document and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Vehicle.Type == "" {
		c.Vehicle.Type = VehicleSim
	}
	if c.Calibration.KnownDistanceCm == 0 {
		c.Calibration.KnownDistanceCm = defaultKnownDistanceCm
	}
	if c.Calibration.Trials == 0 {
		c.Calibration.Trials = defaultTrials
	}
	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultDataDirectory
	}
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Settings.Level(); err != nil {
		errs = append(errs, err)
	}

	switch c.Vehicle.Type {
	case VehicleSim:
	case VehicleSerial:
		if c.Vehicle.Serial.Port == "" {
			errs = append(errs, errors.New("vehicle.serial.port is required"))
		}
		if c.Vehicle.Serial.BaudRate < 0 {
			errs = append(errs, fmt.Errorf("vehicle.serial.baudRate must not be negative, got %d", c.Vehicle.Serial.BaudRate))
		}
		if c.Vehicle.Serial.ReadTimeout < 0 || c.Vehicle.Serial.ResponseTimeout < 0 {
			errs = append(errs, errors.New("vehicle.serial timeouts must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vehicle type '%s'", c.Vehicle.Type))
	}

	if c.Vehicle.Sim.SpeedCmS < 0 || c.Vehicle.Sim.FlowGain < 0 || c.Vehicle.Sim.TakeoffHeightCm < 0 {
		errs = append(errs, errors.New("vehicle.sim values must not be negative"))
	}

	if c.Calibration.KnownDistanceCm < 0 {
		errs = append(errs, fmt.Errorf("calibration.knownDistanceCm must be positive, got %v", c.Calibration.KnownDistanceCm))
	}
	if c.Calibration.Trials < 0 {
		errs = append(errs, fmt.Errorf("calibration.trials must be positive, got %d", c.Calibration.Trials))
	}

	if c.Storage.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("storage.maxBatchSize must not be negative, got %d", c.Storage.MaxBatchSize))
	}

	return errors.Join(errs...)
}
