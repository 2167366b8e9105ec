package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/overlay"
	"github.com/roman-kulish/ground-station/internal/serialport"
)

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field string
	msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.msg)
}

func newConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, msg: fmt.Sprintf(format, args...)}
}

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Journal  JournalConfig `yaml:"journal"`
	Vehicle  VehicleConfig `yaml:"vehicle"`
	Camera   CameraConfig  `yaml:"camera"`
	Console  ConsoleConfig `yaml:"console"`
	Storage  StorageConfig `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// JournalConfig represents the rotating log settings
type JournalConfig struct {
	Directory string   `yaml:"directory"`
	FileName  string   `yaml:"fileName"`
	MaxSize   ByteSize `yaml:"maxSize"`
	PanelSize int      `yaml:"panelSize"`
}

// VehicleConfig represents the vehicle link settings. Port is connected at
// startup when set.
type VehicleConfig struct {
	Port             string   `yaml:"port"`
	BaudRate         int      `yaml:"baudRate"`
	ConnectTimeout   Duration `yaml:"connectTimeout"`
	HeartbeatTimeout Duration `yaml:"heartbeatTimeout"`
	CommandTimeout   Duration `yaml:"commandTimeout"`
	CommandRetries   int      `yaml:"commandRetries"`
	TakeoffAltitude  float32  `yaml:"takeoffAltitude"`
	SystemID         uint8    `yaml:"systemID"`
	ComponentID      uint8    `yaml:"componentID"`
}

// CameraConfig represents the camera preview settings. Device is connected at
// startup when set.
type CameraConfig struct {
	Device   string  `yaml:"device"`
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	FPS      int     `yaml:"fps"`
	Overlay  bool    `yaml:"overlay"`
	Quality  int     `yaml:"quality"`
	FontSize float64 `yaml:"fontSize"`
}

// Format returns the capture format
func (c CameraConfig) Format() camera.Format {
	return camera.Format{Width: c.Width, Height: c.Height, FPS: c.FPS}
}

// ConsoleConfig represents the operator console settings
type ConsoleConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	TelemetryInterval Duration `yaml:"telemetryInterval"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
}

// StorageConfig represents flight recorder settings
type StorageConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DataDirectory  string   `yaml:"dataDirectory"`
	SampleInterval Duration `yaml:"sampleInterval"`
	MaxBatchSize   int      `yaml:"maxBatchSize"`
}

// DefaultConfig returns the configuration used for values missing from the file
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Journal: JournalConfig{
			Directory: "logs",
			FileName:  journal.DefaultFileName,
			MaxSize:   ByteSize(journal.DefaultMaxSize),
			PanelSize: journal.DefaultPanelSize,
		},
		Vehicle: VehicleConfig{
			BaudRate:         serialport.DefaultBaudRate,
			ConnectTimeout:   Duration(5 * time.Second),
			HeartbeatTimeout: Duration(mavlink.DefaultHeartbeatTimeout),
			CommandTimeout:   Duration(time.Second),
			CommandRetries:   3,
			TakeoffAltitude:  10,
			SystemID:         mavlink.DefaultSystemID,
			ComponentID:      mavlink.DefaultComponentID,
		},
		Camera: CameraConfig{
			Width:    camera.DefaultFormat.Width,
			Height:   camera.DefaultFormat.Height,
			FPS:      camera.DefaultFormat.FPS,
			Overlay:  true,
			Quality:  overlay.DefaultQuality,
			FontSize: 16,
		},
		Console: ConsoleConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			TelemetryInterval: Duration(200 * time.Millisecond),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Enabled:        true,
			DataDirectory:  storageDir,
			SampleInterval: Duration(time.Second),
			MaxBatchSize:   maxBatchSize,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig and validates it
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	config := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if _, err := journal.ParseLevel(c.Settings.LogLevel); err != nil {
		return newConfigError("settings.logLevel", "%s", err)
	}

	if c.Journal.Directory == "" {
		return newConfigError("journal.directory", "must not be empty")
	}
	if c.Journal.MaxSize == 0 {
		return newConfigError("journal.maxSize", "must be positive")
	}
	if c.Journal.PanelSize < 0 {
		return newConfigError("journal.panelSize", "must not be negative: %d given", c.Journal.PanelSize)
	}

	if c.Vehicle.Port != "" && !serialport.IsBaudRate(c.Vehicle.BaudRate) {
		return newConfigError("vehicle.baudRate", "unsupported baud rate %d", c.Vehicle.BaudRate)
	}
	if c.Vehicle.CommandRetries < 0 {
		return newConfigError("vehicle.commandRetries", "must not be negative: %d given", c.Vehicle.CommandRetries)
	}
	if c.Vehicle.TakeoffAltitude <= 0 {
		return newConfigError("vehicle.takeoffAltitude", "must be positive: %g given", c.Vehicle.TakeoffAltitude)
	}
	if c.Vehicle.SystemID == 0 {
		return newConfigError("vehicle.systemID", "must not be 0")
	}
	for field, d := range map[string]Duration{
		"vehicle.connectTimeout":    c.Vehicle.ConnectTimeout,
		"vehicle.heartbeatTimeout":  c.Vehicle.HeartbeatTimeout,
		"vehicle.commandTimeout":    c.Vehicle.CommandTimeout,
		"console.telemetryInterval": c.Console.TelemetryInterval,
		"storage.sampleInterval":    c.Storage.SampleInterval,
	} {
		if d <= 0 {
			return newConfigError(field, "must be positive: %s given", d)
		}
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 || c.Camera.FPS <= 0 {
		return newConfigError("camera", "format must be positive: %dx%d@%d given", c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return newConfigError("camera.quality", "must be between 1 and 100: %d given", c.Camera.Quality)
	}
	if c.Camera.Overlay && c.Camera.FontSize <= 0 {
		return newConfigError("camera.fontSize", "must be positive: %g given", c.Camera.FontSize)
	}

	if c.Console.Port < 0 || c.Console.Port > 65535 {
		return newConfigError("console.port", "out of range: %d given", c.Console.Port)
	}

	if c.Storage.Enabled && c.Storage.MaxBatchSize <= 0 {
		return newConfigError("storage.maxBatchSize", "must be positive: %d given", c.Storage.MaxBatchSize)
	}

	return nil
}

// Duration is a time.Duration written as "5s" or "200ms"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("duration: failed to parse %q: %s", value.Value, err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ByteSize is a size written as "10MB" or "512 KiB"
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		return errors.New("byte size: empty value")
	}

	size, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("byte size: failed to parse %q: %s", value.Value, err)
	}

	*b = ByteSize(size)
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.Bytes(uint64(b))
}
