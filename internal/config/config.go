package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Validation bounds for the billing inputs. The billing start day is capped
// at 28 so the cycle start exists in every month, including February.
const (
	MinBillingStartDay = 1
	MaxBillingStartDay = 28
	MinSurchargeCents  = 0.0
	MaxSurchargeCents  = 500.0
	MinSubscription    = 0.0
	MaxSubscription    = 100.0
)

// DefaultTimezone is the NEM region Amber bills in, regardless of where the
// process runs.
const DefaultTimezone = "Australia/Sydney"

// Config holds the application configuration
type Config struct {
	Token           string     `yaml:"token"`
	SiteIDs         []string   `yaml:"site_ids,omitempty"`
	Name            string     `yaml:"name,omitempty"`
	BillingStartDay int        `yaml:"billing_start_day,omitempty"` // day of month the cycle starts (1-28)
	SurchargeCents  float64    `yaml:"surcharge_cents,omitempty"`   // flat daily surcharge in cents
	Subscription    float64    `yaml:"subscription,omitempty"`      // monthly subscription in dollars
	Timezone        string     `yaml:"timezone,omitempty"`          // retailer timezone (default Australia/Sydney)
	RefreshMinutes  int        `yaml:"refresh_minutes,omitempty"`   // monitor refresh interval (fallback: 60)
	MQTT            MQTTConfig `yaml:"mqtt,omitempty"`
	HomeAssistant   HAConfig   `yaml:"home_assistant,omitempty"`
}

// MQTTConfig holds MQTT broker settings for payload publishing
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // default "amber_balance"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`       // e.g., "http://homeassistant.local:8123"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.amber_balance"
}

// Load reads the config file and validates it
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate rejects invalid billing inputs up front, before any refresh loop
// can see them.
func (c *Config) Validate() error {
	if c.BillingStartDay != 0 && (c.BillingStartDay < MinBillingStartDay || c.BillingStartDay > MaxBillingStartDay) {
		return fmt.Errorf("billing_start_day %d out of range [%d, %d]", c.BillingStartDay, MinBillingStartDay, MaxBillingStartDay)
	}
	if c.SurchargeCents < MinSurchargeCents || c.SurchargeCents > MaxSurchargeCents {
		return fmt.Errorf("surcharge_cents %.2f out of range [%.0f, %.0f]", c.SurchargeCents, MinSurchargeCents, MaxSurchargeCents)
	}
	if c.Subscription < MinSubscription || c.Subscription > MaxSubscription {
		return fmt.Errorf("subscription %.2f out of range [%.0f, %.0f]", c.Subscription, MinSubscription, MaxSubscription)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
		}
	}
	for _, id := range c.SiteIDs {
		if id == "" {
			return fmt.Errorf("site_ids contains an empty id")
		}
	}
	return nil
}

// GetBillingStartDay returns the configured cycle start day with a default of 1
func (c *Config) GetBillingStartDay() int {
	if c.BillingStartDay == 0 {
		return 1
	}
	return c.BillingStartDay
}

// GetName returns the display name with a default of "Amber Balance"
func (c *Config) GetName() string {
	if c.Name == "" {
		return "Amber Balance"
	}
	return c.Name
}

// GetRefreshInterval returns the monitor refresh interval with a default of one hour
func (c *Config) GetRefreshInterval() time.Duration {
	if c.RefreshMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.RefreshMinutes) * time.Minute
}

// Location returns the retailer timezone, defaulting to Australia/Sydney
func (c *Config) Location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	return time.LoadLocation(tz)
}
