// Package config loads eaglemeta settings from .env, environment variables
// and an optional eaglemeta.yaml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting. Environment variables use the EAGLE_ prefix
// and the upper-cased key, e.g. EAGLE_SERVER_URL.
type Config struct {
	ServerURL  string `mapstructure:"server_url"`
	ComfyUIURL string `mapstructure:"comfyui_url"`
	APIToken   string `mapstructure:"api_token"`
	// Timezone is an IANA name; empty means local time.
	Timezone  string `mapstructure:"timezone"`
	OutputDir string `mapstructure:"output_dir"`
	// ModelsDir is the ComfyUI models directory searched for hashing.
	ModelsDir string `mapstructure:"models_dir"`
	RulesFile string `mapstructure:"rules_file"`
	HistoryDB string `mapstructure:"history_db"`
	LogLevel  string `mapstructure:"log_level"`
	LogDev    bool   `mapstructure:"log_dev"`

	HashCacheSize  int    `mapstructure:"hash_cache_size"`
	CalcHashes     bool   `mapstructure:"calc_hashes"`
	CivitaiSampler bool   `mapstructure:"civitai_sampler"`
	SamplerMethod  string `mapstructure:"sampler_method"`
}

// Load reads configuration. An empty file means eaglemeta.yaml in the
// working directory, which may be absent; an explicit file must exist.
func Load(file string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("server_url", "http://localhost:41595")
	v.SetDefault("comfyui_url", "http://localhost:8188")
	v.SetDefault("api_token", "")
	v.SetDefault("timezone", "")
	v.SetDefault("output_dir", "output")
	v.SetDefault("models_dir", "models")
	v.SetDefault("rules_file", "")
	v.SetDefault("history_db", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("hash_cache_size", 256)
	v.SetDefault("calc_hashes", false)
	v.SetDefault("civitai_sampler", false)
	v.SetDefault("sampler_method", "farthest")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("eaglemeta")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EAGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")
	cfg.ComfyUIURL = strings.TrimSuffix(cfg.ComfyUIURL, "/")
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
