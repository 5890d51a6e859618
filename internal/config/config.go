package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"beaconrelay/gateway/internal/model"

	"github.com/caarlos0/env/v11"
)

// Config lists the tunable parameters for the gateway.
type Config struct {
	// Record store. Endpoint accepts "https://host" for the remote service or
	// "sqlite:<path>" for the local development driver. Token is optional;
	// absent means ambient credential resolution.
	StoreEndpoint string `env:"BEACONRELAY_STORE_ENDPOINT"`
	StoreRegion   string `env:"BEACONRELAY_STORE_REGION"`
	StoreTable    string `env:"BEACONRELAY_STORE_TABLE" envDefault:"BeaconRecords"`
	StoreToken    string `env:"BEACONRELAY_STORE_TOKEN"`

	// Identity of this gateway, attached to every record. OriginID is the one
	// hard requirement; the rest is operator convenience.
	OriginID       string `env:"BEACONRELAY_ORIGIN_ID"`
	OriginName     string `env:"BEACONRELAY_ORIGIN_NAME"`
	OriginLocation string `env:"BEACONRELAY_ORIGIN_LOCATION"`

	// Scanner fleet.
	BrokerURL    string        `env:"BEACONRELAY_MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	ScanInterval time.Duration `env:"BEACONRELAY_SCAN_INTERVAL" envDefault:"5s"`
	ScanWindow   time.Duration `env:"BEACONRELAY_SCAN_WINDOW" envDefault:"2s"`

	// Pipeline policy.
	RateLimitInterval time.Duration `env:"BEACONRELAY_RATE_LIMIT" envDefault:"5s"`
	BufferCapacity    int           `env:"BEACONRELAY_BUFFER_CAPACITY" envDefault:"100"`
	RetryMaxAttempts  int           `env:"BEACONRELAY_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"BEACONRELAY_RETRY_BASE_DELAY" envDefault:"1s"`
	FlushInterval     time.Duration `env:"BEACONRELAY_FLUSH_INTERVAL" envDefault:"30s"`

	// Read side.
	HTTPPort      int           `env:"BEACONRELAY_HTTP_PORT" envDefault:"8080"`
	SummaryWindow time.Duration `env:"BEACONRELAY_SUMMARY_WINDOW" envDefault:"5m"`
	MDNSEnabled   bool          `env:"BEACONRELAY_MDNS" envDefault:"true"`
	WebDir        string        `env:"BEACONRELAY_WEB_DIR" envDefault:"web"`

	LogLevel string `env:"BEACONRELAY_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants that make a gateway worth starting.
func (c Config) Validate() error {
	if c.OriginID == "" {
		return fmt.Errorf("BEACONRELAY_ORIGIN_ID is required")
	}
	if c.StoreEndpoint == "" {
		return fmt.Errorf("BEACONRELAY_STORE_ENDPOINT is required")
	}
	if !strings.HasPrefix(c.StoreEndpoint, "sqlite:") {
		u, err := url.Parse(c.StoreEndpoint)
		if err != nil {
			return fmt.Errorf("invalid BEACONRELAY_STORE_ENDPOINT: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid BEACONRELAY_STORE_ENDPOINT scheme %q", u.Scheme)
		}
	}
	if c.StoreTable == "" {
		return fmt.Errorf("BEACONRELAY_STORE_TABLE must not be empty")
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("BEACONRELAY_BUFFER_CAPACITY must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("BEACONRELAY_RETRY_ATTEMPTS must be positive")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("BEACONRELAY_HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// Origin builds the gateway identity attached to every record.
func (c Config) Origin() model.Origin {
	return model.Origin{
		ID:       c.OriginID,
		Name:     c.OriginName,
		Location: model.ParseLocation(c.OriginLocation),
	}
}
