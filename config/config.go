// Package config loads and validates the server's YAML configuration: a
// viper-unmarshaled struct checked section by section with validator.v10
// tags.
package config

import (
	"fmt"
	"os"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level on-disk configuration.
type Config struct {
	Service  ServiceConfig            `mapstructure:"service"`
	DNS      DNSEngineConfig          `mapstructure:"dns"`
	API      APIServerConfig          `mapstructure:"apiserver"`
	Log      LogConfig                `mapstructure:"log"`
	Db       DbConfig                 `mapstructure:"db"`
	Sig0     Sig0Config               `mapstructure:"sig0"`
	Tsig     TsigConfig               `mapstructure:"tsig"`
	ZonesFile string                  `mapstructure:"zones_file"`
	Zones    map[string]ZoneConfig    `mapstructure:"zones"`
}

// ServiceConfig names the running process.
type ServiceConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Verbose bool   `mapstructure:"verbose"`
	Debug   bool   `mapstructure:"debug"`
}

// DNSEngineConfig configures the DNS listener addresses.
type DNSEngineConfig struct {
	Addresses   []string `mapstructure:"addresses" validate:"required,min=1"`
	DoQAddress  string   `mapstructure:"doq_address"`
	UDPMaxSize  int      `mapstructure:"udp_max_size"`
}

// APIServerConfig configures the control-plane HTTP API.
type APIServerConfig struct {
	Addresses []string `mapstructure:"addresses" validate:"required,min=1"`
	APIKey    string   `mapstructure:"apikey" validate:"required"`
	CertFile  string   `mapstructure:"certfile" validate:"omitempty,file"`
	KeyFile   string   `mapstructure:"keyfile"`
	UseTLS    bool     `mapstructure:"usetls"`
}

// LogConfig configures structured logging: output file with rotation,
// or plain stderr when File is empty.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxsize_mb"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxage_days"`
}

// DbConfig points at the SIG(0)/TSIG key store.
type DbConfig struct {
	File string `mapstructure:"file" validate:"required"`
}

// Sig0Config names this server's own SIG(0) signing identity, used to
// sign responses to authenticated requests. KeyFile is a BIND-style
// key basename with a ".key"/".private" pair alongside it; signing is
// disabled (authenticated requests are validated but not re-signed)
// when it is empty.
type Sig0Config struct {
	SignerName string `mapstructure:"signer_name"`
	KeyFile    string `mapstructure:"keyfile"`
}

// TsigConfig enables the TSIG shared-secret signing passthrough,
// keyed by name against the key store's TsigKeyStore table. Mutually
// exclusive with Sig0 at the engine level: a query engine validates
// against one signing scheme or the other.
type TsigConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ZoneConfig describes one served zone.
type ZoneConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Store    string `mapstructure:"store" validate:"required,oneof=file"`
	File     string `mapstructure:"file" validate:"required_if=Store file"`
	Primary  bool   `mapstructure:"primary"`
	FollowDepth int `mapstructure:"follow_depth"`
}

// Load reads and validates a YAML config file via viper.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if c.ZonesFile != "" {
		if err := loadZonesFile(c.ZonesFile, &c); err != nil {
			return nil, err
		}
	}
	if err := validateBySection(&c); err != nil {
		return nil, err
	}
	for name, z := range c.Zones {
		if z.FollowDepth == 0 {
			z.FollowDepth = 10
			c.Zones[name] = z
		}
	}
	return &c, nil
}

// loadZonesFile reads the zone list from its own YAML file via a direct
// yaml.Unmarshal, rather than folding it into the single viper
// Unmarshal pass over the primary config. Entries here add to (and
// override by name) any zones already present in the main file.
func loadZonesFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: zones file %s: %w", path, err)
	}
	var zones map[string]ZoneConfig
	if err := yaml.Unmarshal(data, &zones); err != nil {
		return fmt.Errorf("config: zones file %s: %w", path, err)
	}
	if c.Zones == nil {
		c.Zones = map[string]ZoneConfig{}
	}
	for name, z := range zones {
		c.Zones[name] = z
	}
	return nil
}

// validateBySection runs validator.v10 struct tags against each
// top-level section independently, rather than one pass over the whole
// tree, so a failure names the offending section.
func validateBySection(c *Config) error {
	validate := validator.New()
	sections := map[string]interface{}{
		"Service":   c.Service,
		"DNS":       c.DNS,
		"API":       c.API,
		"Db":        c.Db,
	}
	for name, data := range sections {
		if err := validate.Struct(data); err != nil {
			return fmt.Errorf("config: section %s: %w", name, err)
		}
	}
	for zname, z := range c.Zones {
		if err := validate.Struct(z); err != nil {
			return fmt.Errorf("config: zone %s: %w", zname, err)
		}
	}
	return nil
}
