// Package config loads the application configuration from a YAML file.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/finwatch-lab/cryptofolio/pkg/errors"
)

// Default configuration values.
const (
	DefaultRestBaseURL    = "https://api.binance.com"
	DefaultStreamURL      = "wss://stream.binance.com:9443/ws"
	DefaultQuoteAsset     = "USDT"
	DefaultReconnectDelay = 5 * time.Second
	DefaultSnapshotPath   = "portfolio.json"
	DefaultListenAddress  = ":8080"
)

// Config holds every externally tunable setting. All endpoints are injected
// so tests can point the tracker at a local mock feed.
type Config struct {
	// RestBaseURL is the base URL for the REST ticker endpoint
	RestBaseURL string `yaml:"rest_base_url" validate:"required,url"`
	// StreamURL is the websocket endpoint for the live ticker stream
	StreamURL string `yaml:"stream_url" validate:"required"`
	// QuoteAsset is the fixed quote currency suffix for all pairs
	QuoteAsset string `yaml:"quote_asset" validate:"required,uppercase"`
	// ReconnectDelay is the fixed delay before a stream reconnect attempt
	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"min=0"`
	// SnapshotPath is the JSON file the portfolio snapshot is persisted to
	SnapshotPath string `yaml:"snapshot_path" validate:"required"`
	// ListenAddress is the HTTP API bind address
	ListenAddress string `yaml:"listen_address" validate:"required"`
}

// UnmarshalYAML implements custom unmarshaling for Config so the
// reconnect delay can be written as a duration string like "5s".
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		RestBaseURL    string `yaml:"rest_base_url"`
		StreamURL      string `yaml:"stream_url"`
		QuoteAsset     string `yaml:"quote_asset"`
		ReconnectDelay string `yaml:"reconnect_delay"`
		SnapshotPath   string `yaml:"snapshot_path"`
		ListenAddress  string `yaml:"listen_address"`
	}

	var raw rawConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.RestBaseURL = raw.RestBaseURL
	c.StreamURL = raw.StreamURL
	c.QuoteAsset = raw.QuoteAsset
	c.SnapshotPath = raw.SnapshotPath
	c.ListenAddress = raw.ListenAddress

	if raw.ReconnectDelay != "" {
		delay, err := time.ParseDuration(raw.ReconnectDelay)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid reconnect_delay", err)
		}

		c.ReconnectDelay = delay
	}

	return nil
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() Config {
	return Config{
		RestBaseURL:    DefaultRestBaseURL,
		StreamURL:      DefaultStreamURL,
		QuoteAsset:     DefaultQuoteAsset,
		ReconnectDelay: DefaultReconnectDelay,
		SnapshotPath:   DefaultSnapshotPath,
		ListenAddress:  DefaultListenAddress,
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	return nil
}

// Load reads a YAML config file, fills unset fields with defaults, and
// validates the result. An empty path yields the defaults unchanged.
func Load(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
		}
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// applyDefaults restores defaults for fields an explicit config left empty.
func applyDefaults(c *Config) {
	if c.RestBaseURL == "" {
		c.RestBaseURL = DefaultRestBaseURL
	}

	if c.StreamURL == "" {
		c.StreamURL = DefaultStreamURL
	}

	if c.QuoteAsset == "" {
		c.QuoteAsset = DefaultQuoteAsset
	}

	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}

	if c.SnapshotPath == "" {
		c.SnapshotPath = DefaultSnapshotPath
	}

	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
}
