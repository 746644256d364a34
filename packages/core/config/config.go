package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
)

// Config represents the hitbatch configuration
type Config struct {
	Timing           Timing            `yaml:"timing"`
	PollTimeout      Duration          `yaml:"pollTimeout,omitempty" validate:"gte=0"`
	ProgressInterval Duration          `yaml:"progressInterval,omitempty" validate:"gte=0"`
	ConnectTimeout   Duration          `yaml:"connectTimeout,omitempty" validate:"gte=0"`
	FollowRedirects  *bool             `yaml:"followRedirects,omitempty"`
	MaxRedirects     int               `yaml:"maxRedirects,omitempty" validate:"gte=0,lte=50"`
	CABundle         string            `yaml:"caBundle,omitempty" validate:"omitempty,file"`
	Headers          map[string]string `yaml:"headers,omitempty" validate:"dive,keys,required,endkeys"`
	Cache            string            `yaml:"cache,omitempty" validate:"omitempty,startswith=sqlite:"`
	Verbose          *bool             `yaml:"verbose,omitempty"`
	NoColor          *bool             `yaml:"noColor,omitempty"`
}

// Timing is the escalation ladder of the interruptible runner.
type Timing struct {
	PollingPeriod          Duration `yaml:"pollingPeriod,omitempty" validate:"gte=0"`
	GracefulShutdownPeriod Duration `yaml:"gracefulShutdownPeriod,omitempty" validate:"gte=0"`
	ExtendedShutdownPeriod Duration `yaml:"extendedShutdownPeriod,omitempty" validate:"gte=0"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	timing := interruptible.DefaultTimingConfig()
	return &Config{
		Timing: Timing{
			PollingPeriod:          Duration(timing.PollingPeriod),
			GracefulShutdownPeriod: Duration(timing.GracefulShutdownPeriod),
			ExtendedShutdownPeriod: Duration(timing.ExtendedShutdownPeriod),
		},
		PollTimeout:      Duration(time.Second),
		ProgressInterval: Duration(100 * time.Millisecond),
		ConnectTimeout:   Duration(30 * time.Second),
		FollowRedirects:  BoolPtr(true),
		MaxRedirects:     10,
		Verbose:          BoolPtr(false),
		NoColor:          BoolPtr(false),
	}
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// RunnerTiming converts the timing section for the interruptible runner.
func (c *Config) RunnerTiming() interruptible.TimingConfig {
	return interruptible.TimingConfig{
		PollingPeriod:          c.Timing.PollingPeriod.Std(),
		GracefulShutdownPeriod: c.Timing.GracefulShutdownPeriod.Std(),
		ExtendedShutdownPeriod: c.Timing.ExtendedShutdownPeriod.Std(),
	}
}

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".hitbatch.yaml",
	"hitbatch.yaml",
	".hitbatchrc",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.Timing.PollingPeriod > 0 {
		result.Timing.PollingPeriod = other.Timing.PollingPeriod
	}
	if other.Timing.GracefulShutdownPeriod > 0 {
		result.Timing.GracefulShutdownPeriod = other.Timing.GracefulShutdownPeriod
	}
	if other.Timing.ExtendedShutdownPeriod > 0 {
		result.Timing.ExtendedShutdownPeriod = other.Timing.ExtendedShutdownPeriod
	}
	if other.PollTimeout > 0 {
		result.PollTimeout = other.PollTimeout
	}
	if other.ProgressInterval > 0 {
		result.ProgressInterval = other.ProgressInterval
	}
	if other.ConnectTimeout > 0 {
		result.ConnectTimeout = other.ConnectTimeout
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.CABundle != "" {
		result.CABundle = other.CABundle
	}
	if other.Cache != "" {
		result.Cache = other.Cache
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range other.Headers {
			merged[k] = v
		}
		result.Headers = merged
	}

	return &result
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
