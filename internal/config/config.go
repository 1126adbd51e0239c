// Package config loads and persists the service configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	defaultSiteName          = "EVE Corp KM Stats"
	defaultTimezone          = "Asia/Shanghai"
	defaultDatabasePath      = "corpstat.sqlite"
	defaultRequestsPerSecond = 10
	dateLayout               = "2006-01-02"
)

// Config is the service configuration backed by a YAML file.
// AllianceID is a pointer so an absent value can be told apart from an
// explicit 0, which marks an independent corporation.
type Config struct {
	CorporationID     int64   `yaml:"corporation_id"`
	AllianceID        *int64  `yaml:"alliance_id,omitempty"`
	SiteName          string  `yaml:"site_name,omitempty"`
	Timezone          string  `yaml:"timezone,omitempty"`
	DatabasePath      string  `yaml:"database_path,omitempty"`
	UserAgent         string  `yaml:"user_agent,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	StartDate         string  `yaml:"start_date,omitempty"`
}

// Load reads and validates the configuration file at path.
// Missing optional values are filled with defaults.
func Load(path string) (*Config, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapErr(err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, wrapErr(err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, wrapErr(err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.SiteName == "" {
		c.SiteName = defaultSiteName
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
}

func (c *Config) validate() error {
	if c.CorporationID <= 0 {
		return errors.New("corporation_id must be set")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.StartDate != "" {
		if _, err := c.StartDay(); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the configuration back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, fs.FileMode(0o644)); err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	return nil
}

// Location returns the configured local timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// StartDay returns the first day of the killmail feed backlog.
func (c *Config) StartDay() (time.Time, error) {
	t, err := time.Parse(dateLayout, c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	return t, nil
}

// IsIndependent reports whether the corporation flies outside any alliance.
// It requires a resolved alliance id.
func (c *Config) IsIndependent() bool {
	return c.AllianceID != nil && *c.AllianceID == 0
}

// AllianceResolver looks up the alliance a corporation belongs to.
type AllianceResolver interface {
	LookupAllianceID(ctx context.Context, corporationID int64) (int64, error)
}

// EnsureAllianceID returns the configured alliance id, resolving it through
// the identity system and persisting it back to path when not yet set.
func (c *Config) EnsureAllianceID(ctx context.Context, r AllianceResolver, path string) (int64, error) {
	if c.AllianceID != nil {
		return *c.AllianceID, nil
	}
	id, err := r.LookupAllianceID(ctx, c.CorporationID)
	if err != nil {
		return 0, fmt.Errorf("resolve alliance id: %w", err)
	}
	c.AllianceID = &id
	if err := c.Save(path); err != nil {
		return 0, err
	}
	return id, nil
}
