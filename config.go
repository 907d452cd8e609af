package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nwah/lockad-server/nav"
)

// Config holds the application configuration
type Config struct {
	Port string        `toml:"port" yaml:"port" validate:"required"`
	Log  LogConfig     `toml:"log" yaml:"log"`
	Nav  nav.NavConfig `toml:"nav" yaml:"nav"`
}

// LogConfig controls where logs go and how much is written.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
}

var config Config

// DefaultConfig is the configuration used for anything a file leaves unset.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		Log:  LogConfig{Level: "info", MaxSizeMB: 64, MaxAgeDays: 14},
		Nav: nav.NavConfig{
			NominatimURL:            "https://nominatim.openstreetmap.org",
			RoutingProvider:         nav.ProviderAuto,
			FallbackProvider:        nav.EngineOSRM,
			ORSURL:                  "https://api.openrouteservice.org",
			OSRMURL:                 "https://router.project-osrm.org",
			ValhallaURL:             "https://valhalla1.openstreetmap.de",
			OffRouteThresholdMeters: 60,
			SafetyMode:              nav.ModeFastest,
			GeocodeCacheSize:        256,
			GeocodeCacheTTLSeconds:  600,
			HTTPTimeoutSeconds:      10,
		},
	}
}

// LoadConfig loads the configuration from a TOML or YAML file, chosen by
// extension, on top of DefaultConfig. A .env file next to it is read
// first, and ORS_API_KEY, ROUTING_PROVIDER and PORT override the file.
// ROUTING_PROVIDER also takes the engine names "ors" and "osrm".
func LoadConfig(filename string) error {
	cfg, err := readConfig(filename)
	if err != nil {
		return err
	}
	config = cfg
	return nil
}

func readConfig(filename string) (Config, error) {
	envFile := filepath.Join(filepath.Dir(filename), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading %s: %w", envFile, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yml", ".yaml":
		data, err := os.ReadFile(filename)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(filename, &cfg); err != nil {
			return Config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	applyEnv(&cfg)

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("ORS_API_KEY"); key != "" {
		cfg.Nav.ORSAPIKey = key
	}
	if p := os.Getenv("ROUTING_PROVIDER"); p != "" {
		cfg.Nav.RoutingProvider = nav.ProviderMode(p)
	}
	cfg.Nav.RoutingProvider = nav.ParseProviderMode(string(cfg.Nav.RoutingProvider))
	if port := os.Getenv("PORT"); port != "" {
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		cfg.Port = port
	}
}

// GetConfig returns the current configuration
func GetConfig() Config {
	return config
}

// GetNavConfig returns the navigation-specific configuration
func GetNavConfig() nav.NavConfig {
	return config.Nav
}
