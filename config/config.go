// Package config loads process settings: an optional YAML file, then .env
// and environment variables, then command-line flags applied by main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	DB DBConfig `yaml:"database"`

	// CoefficientsFile is a YAML or JSON coefficient document. When empty the
	// document lives in the database.
	CoefficientsFile string `yaml:"coefficients_file"`
	// ConfigRefresh polls the stored document for changes made by other
	// processes. Zero disables polling.
	ConfigRefresh time.Duration `yaml:"config_refresh"`

	Redis RedisConfig `yaml:"redis"`
	Auth  AuthConfig  `yaml:"auth"`
	Log   LogConfig   `yaml:"log"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// RedisConfig enables the shared coefficient cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig enables bearer-token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the development settings.
func Default() Config {
	return Config{
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		DB:              DBConfig{Driver: "sqlite", URL: "./data/commission.db"},
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies .env and
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read settings %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	// Convenience for local dev: load variables from .env if present.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = port
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if v := os.Getenv("CONFIG_REFRESH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONFIG_REFRESH: %w", err)
		}
		c.ConfigRefresh = d
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}

	c.DB.Driver = env("DB_DRIVER", c.DB.Driver)
	c.DB.URL = env("DATABASE_URL", c.DB.URL)
	c.CoefficientsFile = env("COEFFICIENTS_FILE", c.CoefficientsFile)
	c.Redis.Addr = env("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env("REDIS_PASSWORD", c.Redis.Password)
	c.Auth.JWTSecret = env("JWT_SECRET", c.Auth.JWTSecret)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env("LOG_FORMAT", c.Log.Format)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
