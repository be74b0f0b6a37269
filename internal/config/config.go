// Package config resolves runtime settings from an optional YAML file and
// M3U_EPG_* environment variables. Environment values override file values;
// call LoadEnvFile(".env") first to pick up a local env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option.
type Config struct {
	// Sources
	PlaylistURL     string   // M3U playlist
	PlaylistFile    string   // local fallback playlist
	CodesURL        string   // station-code directory (JSON)
	CodesFile       string   // local fallback directory
	CustomGuideFile string   // always-included local XMLTV source
	ConfirmedFile   string   // manually confirmed channel mappings
	Countries       []string // lowercase 2-letter whitelist; empty = keep all

	// Lifetimes and the guide time window
	CodesLifetime   time.Duration
	CatalogLifetime time.Duration
	GuideLifetime   time.Duration
	GuideAhead      time.Duration
	GuideBehind     time.Duration
	HonorOffset     bool // apply guide timestamp offsets instead of treating them as UTC
	KeepAllVariants bool // disable definition/region deduplication

	// Storage and caching
	StoreDriver string // memory | sqlite | postgres
	StoreDSN    string
	RedisURL    string // optional fetch cache
	CacheDir    string // fallback copies of fetched sources

	// Outputs
	PlaylistOut string
	GuideOut    string

	// Observability
	MetricsAddr string // Prometheus exposition address; "" = disabled
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CodesLifetime:   24 * time.Hour,
		CatalogLifetime: 24 * time.Hour,
		GuideLifetime:   12 * time.Hour,
		GuideAhead:      48 * time.Hour,
		GuideBehind:     6 * time.Hour,
		StoreDriver:     "sqlite",
		StoreDSN:        "m3u-epg.db",
		CacheDir:        "./cache",
		PlaylistOut:     "playlist.m3u",
		GuideOut:        "guide.xml",
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path when non-empty, then environment overrides.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	for i, cc := range c.Countries {
		c.Countries[i] = strings.ToLower(strings.TrimSpace(cc))
	}
	return c, nil
}

// fileConfig mirrors Config with YAML-friendly duration strings.
type fileConfig struct {
	PlaylistURL     string   `yaml:"playlist_url"`
	PlaylistFile    string   `yaml:"playlist_file"`
	CodesURL        string   `yaml:"codes_url"`
	CodesFile       string   `yaml:"codes_file"`
	CustomGuideFile string   `yaml:"custom_guide_file"`
	ConfirmedFile   string   `yaml:"confirmed_file"`
	Countries       []string `yaml:"countries"`

	CodesLifetime   string `yaml:"codes_lifetime"`
	CatalogLifetime string `yaml:"catalog_lifetime"`
	GuideLifetime   string `yaml:"guide_lifetime"`
	GuideAhead      string `yaml:"guide_ahead"`
	GuideBehind     string `yaml:"guide_behind"`
	HonorOffset     *bool  `yaml:"honor_offset"`
	KeepAllVariants *bool  `yaml:"keep_all_variants"`

	StoreDriver string `yaml:"store_driver"`
	StoreDSN    string `yaml:"store_dsn"`
	RedisURL    string `yaml:"redis_url"`
	CacheDir    string `yaml:"cache_dir"`

	PlaylistOut string `yaml:"playlist_out"`
	GuideOut    string `yaml:"guide_out"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	setString(&c.PlaylistURL, fc.PlaylistURL)
	setString(&c.PlaylistFile, fc.PlaylistFile)
	setString(&c.CodesURL, fc.CodesURL)
	setString(&c.CodesFile, fc.CodesFile)
	setString(&c.CustomGuideFile, fc.CustomGuideFile)
	setString(&c.ConfirmedFile, fc.ConfirmedFile)
	if len(fc.Countries) > 0 {
		c.Countries = fc.Countries
	}
	if err := setDuration(&c.CodesLifetime, fc.CodesLifetime); err != nil {
		return err
	}
	if err := setDuration(&c.CatalogLifetime, fc.CatalogLifetime); err != nil {
		return err
	}
	if err := setDuration(&c.GuideLifetime, fc.GuideLifetime); err != nil {
		return err
	}
	if err := setDuration(&c.GuideAhead, fc.GuideAhead); err != nil {
		return err
	}
	if err := setDuration(&c.GuideBehind, fc.GuideBehind); err != nil {
		return err
	}
	if fc.HonorOffset != nil {
		c.HonorOffset = *fc.HonorOffset
	}
	if fc.KeepAllVariants != nil {
		c.KeepAllVariants = *fc.KeepAllVariants
	}
	setString(&c.StoreDriver, fc.StoreDriver)
	setString(&c.StoreDSN, fc.StoreDSN)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.CacheDir, fc.CacheDir)
	setString(&c.PlaylistOut, fc.PlaylistOut)
	setString(&c.GuideOut, fc.GuideOut)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	return nil
}

func (c *Config) applyEnv() {
	c.PlaylistURL = getEnv("M3U_EPG_PLAYLIST_URL", c.PlaylistURL)
	c.PlaylistFile = getEnv("M3U_EPG_PLAYLIST_FILE", c.PlaylistFile)
	c.CodesURL = getEnv("M3U_EPG_CODES_URL", c.CodesURL)
	c.CodesFile = getEnv("M3U_EPG_CODES_FILE", c.CodesFile)
	c.CustomGuideFile = getEnv("M3U_EPG_CUSTOM_GUIDE_FILE", c.CustomGuideFile)
	c.ConfirmedFile = getEnv("M3U_EPG_CONFIRMED_FILE", c.ConfirmedFile)
	c.Countries = getEnvList("M3U_EPG_COUNTRIES", c.Countries)
	c.CodesLifetime = getEnvDuration("M3U_EPG_CODES_LIFETIME", c.CodesLifetime)
	c.CatalogLifetime = getEnvDuration("M3U_EPG_CATALOG_LIFETIME", c.CatalogLifetime)
	c.GuideLifetime = getEnvDuration("M3U_EPG_GUIDE_LIFETIME", c.GuideLifetime)
	c.GuideAhead = getEnvDuration("M3U_EPG_GUIDE_AHEAD", c.GuideAhead)
	c.GuideBehind = getEnvDuration("M3U_EPG_GUIDE_BEHIND", c.GuideBehind)
	c.HonorOffset = getEnvBool("M3U_EPG_HONOR_OFFSET", c.HonorOffset)
	c.KeepAllVariants = getEnvBool("M3U_EPG_KEEP_ALL_VARIANTS", c.KeepAllVariants)
	c.StoreDriver = getEnv("M3U_EPG_STORE_DRIVER", c.StoreDriver)
	c.StoreDSN = getEnv("M3U_EPG_STORE_DSN", c.StoreDSN)
	c.RedisURL = getEnv("M3U_EPG_REDIS_URL", c.RedisURL)
	c.CacheDir = getEnv("M3U_EPG_CACHE_DIR", c.CacheDir)
	c.PlaylistOut = getEnv("M3U_EPG_PLAYLIST_OUT", c.PlaylistOut)
	c.GuideOut = getEnv("M3U_EPG_GUIDE_OUT", c.GuideOut)
	c.MetricsAddr = getEnv("M3U_EPG_METRICS_ADDR", c.MetricsAddr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", v, err)
	}
	*dst = d
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
