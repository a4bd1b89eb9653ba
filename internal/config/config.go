// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

const envPrefix = "PRODUCTCACHE_"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	AccessKey          string
	SecretKey          string
	PartnerTag         string
	DefaultMarketplace string

	CacheEnabled  bool
	CacheDuration time.Duration
	ThrottleRate  float64
	HTTPTimeout   time.Duration
	Debug         bool
	Environment   string

	ListenAddr string
	DBPath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SiteSecret string
	SiteSalt   string

	RefreshInterval   time.Duration
	RefreshBatchLimit int
	PruneInterval     time.Duration
	ClickRetention    time.Duration
}

// HasSiteCipher reports whether both the site secret and salt are set, which
// enables encryption of stored credentials.
func (c *Config) HasSiteCipher() bool {
	return c.SiteSecret != "" && c.SiteSalt != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is loaded first when present;
// variables already set in the environment win. API credentials are optional:
// without them the app starts but every upstream call fails with a
// credentials error until they are provided over the API.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var err error
	cfg := &Config{
		AccessKey:     os.Getenv(envPrefix + "ACCESS_KEY"),
		SecretKey:     os.Getenv(envPrefix + "SECRET_KEY"),
		PartnerTag:    os.Getenv(envPrefix + "PARTNER_TAG"),
		RedisAddr:     os.Getenv(envPrefix + "REDIS_ADDR"),
		RedisPassword: os.Getenv(envPrefix + "REDIS_PASSWORD"),
		SiteSecret:    os.Getenv(envPrefix + "SITE_SECRET"),
		SiteSalt:      os.Getenv(envPrefix + "SITE_SALT"),
		ListenAddr:    stringVar("LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:        stringVar("DB_PATH", "productcache.db"),
		Environment:   stringVar("ENV", "production"),
	}

	mp := stringVar("DEFAULT_MARKETPLACE", model.DefaultMarketplace)
	if !model.IsValidMarketplace(mp) {
		return nil, fmt.Errorf("%sDEFAULT_MARKETPLACE has unknown marketplace %q", envPrefix, mp)
	}
	cfg.DefaultMarketplace = model.LookupMarketplace(mp).Code

	if cfg.CacheEnabled, err = boolVar("CACHE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Debug, err = boolVar("DEBUG", false); err != nil {
		return nil, err
	}

	hours, err := intVar("CACHE_DURATION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if hours < 1 {
		return nil, fmt.Errorf("%sCACHE_DURATION_HOURS must be at least 1, got %d", envPrefix, hours)
	}
	cfg.CacheDuration = time.Duration(hours) * time.Hour

	if cfg.ThrottleRate, err = floatVar("THROTTLE_RATE", 1); err != nil {
		return nil, err
	}
	if cfg.ThrottleRate < 1 {
		cfg.ThrottleRate = 1
	}

	if cfg.RedisDB, err = intVar("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationVar("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = durationVar("REFRESH_INTERVAL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = durationVar("PRUNE_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.RefreshBatchLimit, err = intVar("REFRESH_BATCH_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.RefreshBatchLimit < 1 {
		return nil, fmt.Errorf("%sREFRESH_BATCH_LIMIT must be at least 1, got %d", envPrefix, cfg.RefreshBatchLimit)
	}

	days, err := intVar("CLICK_RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}
	cfg.ClickRetention = time.Duration(days) * 24 * time.Hour

	return cfg, nil
}

func stringVar(name, def string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func boolVar(name string, def bool) (bool, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s has invalid boolean %q: %w", envPrefix, name, v, err)
	}
	return parsed, nil
}

func intVar(name string, def int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid integer %q: %w", envPrefix, name, v, err)
	}
	return parsed, nil
}

func floatVar(name string, def float64) (float64, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid number %q: %w", envPrefix, name, v, err)
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, fmt.Errorf("%s%s must be a finite number, got %q", envPrefix, name, v)
	}
	return parsed, nil
}

func durationVar(name string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, name, v, err)
	}
	return parsed, nil
}
