// Package config loads the service's YAML configuration via koanf. The
// enforcer URL falls back to the ENFORCER_URL environment variable when the
// YAML leaves it empty; other settings, the Postgres DSN included, come from
// the YAML file only.
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ---- Server ----

type Server struct {
	Addr string `yaml:"addr"`
}

// ---- Redis (replay guard) ----

type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// ---- Durable storage ----

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Storage struct {
	Postgres       Postgres `yaml:"postgres"`
	BlockStorePath string   `yaml:"block_store_path"`
	SettingsPath   string   `yaml:"settings_path"`
	CampaignPath   string   `yaml:"campaign_path"`
}

// ---- Detection (risk engine + decision thresholds) ----

type Risk struct {
	HalfLifeSeconds float64 `yaml:"half_life_seconds"`
	MaxRisk         float64 `yaml:"max_risk"`

	// JanitorIntervalSeconds enables the State Store's cold-entry sweep
	// (spec.md §9) when > 0. Off by default: the documented invariants hold
	// without it. It bounds growth of the window key sets and of the
	// failed_login_velocity active-signal entries over time.
	JanitorIntervalSeconds int `yaml:"janitor_interval_seconds"`
}

type Decision struct {
	BlockThreshold     float64 `yaml:"block_threshold"`
	ChallengeThreshold float64 `yaml:"challenge_threshold"`
	MonitorThreshold   float64 `yaml:"monitor_threshold"`
}

type Detection struct {
	Risk     Risk     `yaml:"risk"`
	Decision Decision `yaml:"decision"`
}

// ---- Enforcement ----

type Enforcement struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ---- Alerting ----

type Alert struct {
	WebhookURL               string `yaml:"webhook_url"`
	SuppressionWindowSeconds int    `yaml:"suppression_window_seconds"`
}

// ---- Replay guard ----

type Replay struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

// ---------------------------

type Config struct {
	Server      Server      `yaml:"server"`
	Redis       Redis       `yaml:"redis"`
	Storage     Storage     `yaml:"storage"`
	Detection   Detection   `yaml:"detection"`
	Enforcement Enforcement `yaml:"enforcement"`
	Alert       Alert       `yaml:"alert"`
	Replay      Replay      `yaml:"replay"`
}

// Load reads the YAML config, resolving the path from the AUTHGUARD_CONFIG
// env var with a configs/authguard.yaml fallback.
func Load() (*Config, error) {
	path := os.Getenv("AUTHGUARD_CONFIG")
	if path == "" {
		path = "configs/authguard.yaml"
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
	}); err != nil {
		return nil, err
	}
	if cfg.Enforcement.URL == "" {
		cfg.Enforcement.URL = MustEnv("ENFORCER_URL", "http://ratelimiter:8081")
	}
	return &cfg, nil
}

// MustEnv returns the environment variable key, or def if unset/empty.
func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
