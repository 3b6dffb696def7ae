// Package config resolves service settings from defaults, an optional YAML file
// and SELLERGATE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SELLERGATE_"

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	FeatureFromConfig   = "config"
	FeatureFromDatabase = "database"
)

// Gate holds the business settings of the authorization gate.
type Gate struct {
	Enabled         bool `yaml:"enabled"`
	ProductLimit    int  `yaml:"product_limit" validate:"gt=0"`
	CooldownDays    int  `yaml:"cooldown_days" validate:"gt=0"`
	CacheTTLSeconds int  `yaml:"cache_ttl_seconds" validate:"gt=0"`
}

// CacheTTL returns the cache lifetime as a duration.
func (g Gate) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLSeconds) * time.Second
}

type Config struct {
	HTTPAddr       string  `yaml:"http_addr" validate:"required"`
	GRPCAddr       string  `yaml:"grpc_addr"`
	DatabaseURL    string  `yaml:"database_url" validate:"required_if=FeatureSource database"`
	RedisURL       string  `yaml:"redis_url" validate:"required_if=CacheBackend redis"`
	AuthSecret     string  `yaml:"auth_secret"`
	LogLevel       string  `yaml:"log_level" validate:"oneof=debug info warn error"`
	CacheBackend   string  `yaml:"cache_backend" validate:"oneof=memory redis"`
	FeatureSource  string  `yaml:"feature_source" validate:"oneof=config database"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
	Gate           Gate    `yaml:"gate"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		LogLevel:       "info",
		CacheBackend:   CacheMemory,
		FeatureSource:  FeatureFromConfig,
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		Gate: Gate{
			Enabled:         false,
			ProductLimit:    10,
			CooldownDays:    30,
			CacheTTLSeconds: 30,
		},
	}
}

// Load resolves the configuration. An empty path or a missing file skips the YAML
// layer.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envOrDefault("GRPC_ADDR", cfg.GRPCAddr)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.AuthSecret = envOrDefault("AUTH_SECRET", cfg.AuthSecret)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.CacheBackend = strings.ToLower(envOrDefault("CACHE_BACKEND", cfg.CacheBackend))
	cfg.FeatureSource = strings.ToLower(envOrDefault("FEATURE_SOURCE", cfg.FeatureSource))
	cfg.RateLimitRPS = envFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.Gate.Enabled = envBool("ENABLED", cfg.Gate.Enabled)
	cfg.Gate.ProductLimit = envInt("PRODUCT_LIMIT", cfg.Gate.ProductLimit)
	cfg.Gate.CooldownDays = envInt("COOLDOWN_DAYS", cfg.Gate.CooldownDays)
	cfg.Gate.CacheTTLSeconds = envInt("CACHE_TTL_SECONDS", cfg.Gate.CacheTTLSeconds)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + name)); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
