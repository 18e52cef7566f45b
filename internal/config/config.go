package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ReaperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type Config struct {
	HTTPAddr  string       `yaml:"http_addr"`
	MySQLDSN  string       `yaml:"mysql_dsn"`
	RedisAddr string       `yaml:"redis_addr"`
	LogLevel  string       `yaml:"log_level"`
	Reaper    ReaperConfig `yaml:"reaper"`
}

func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		MySQLDSN:  "root:root@tcp(localhost:3306)/inventory?parseTime=true",
		RedisAddr: "localhost:6379",
		LogLevel:  "info",
		Reaper: ReaperConfig{
			Interval:  time.Minute,
			BatchSize: 500,
		},
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides on top. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MySQLDSN = getEnv("MYSQL_DSN", cfg.MySQLDSN)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v, ok := os.LookupEnv("REAPER_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REAPER_INTERVAL %q: %w", v, err)
		}
		cfg.Reaper.Interval = d
	}
	if v, ok := os.LookupEnv("REAPER_BATCH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REAPER_BATCH %q: %w", v, err)
		}
		cfg.Reaper.BatchSize = n
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
