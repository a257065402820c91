// Package config loads settings from defaults, an optional YAML file and the
// environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names.
const (
	ProviderMemory    = "memory"
	ProviderFirestore = "firestore"
	ProviderRedis     = "redis"
)

type FirestoreConfig struct {
	Project string `yaml:"project"`
	// Database defaults to "(default)".
	Database string `yaml:"database"`
	// Endpoint points at an emulator and disables authentication.
	Endpoint        string        `yaml:"endpoint"`
	CredentialsFile string        `yaml:"credentials_file"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	TokenFile       string        `yaml:"token_file"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type FeedConfig struct {
	Addr string `yaml:"addr"`
}

type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"`
}

// PublishConfig drives the calendar mirror. Email and Password identify the organizer
// whose events are published.
type PublishConfig struct {
	StateFile string `yaml:"state_file"`
	Cron      string `yaml:"cron"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	AppID          string          `yaml:"app_id"`
	Provider       string          `yaml:"provider"`
	PasswordScheme string          `yaml:"password_scheme"`
	LogLevel       string          `yaml:"log_level"`
	Firestore      FirestoreConfig `yaml:"firestore"`
	Redis          RedisConfig     `yaml:"redis"`
	Feed           FeedConfig      `yaml:"feed"`
	CalDAV         CalDAVConfig    `yaml:"caldav"`
	Publish        PublishConfig   `yaml:"publish"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AppID:          "default-app-id",
		Provider:       ProviderMemory,
		PasswordScheme: "bcrypt",
		LogLevel:       "info",
		Firestore: FirestoreConfig{
			Database:     "(default)",
			TokenFile:    "token-firestore.json",
			PollInterval: 5 * time.Second,
		},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379"},
		Feed:   FeedConfig{Addr: "127.0.0.1:8080"},
		CalDAV: CalDAVConfig{Endpoint: "https://caldav.icloud.com/", Calendar: "Events"},
		Publish: PublishConfig{
			StateFile: "publish-state.json",
			Cron:      "*/15 * * * *",
		},
	}
}

// Load reads the YAML file at path when given, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.AppID = getenv("APP_ID", c.AppID)
	c.Provider = getenv("PROVIDER", c.Provider)
	c.PasswordScheme = getenv("PASSWORD_SCHEME", c.PasswordScheme)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)

	c.Firestore.Project = getenv("FIRESTORE_PROJECT", c.Firestore.Project)
	c.Firestore.Database = getenv("FIRESTORE_DATABASE", c.Firestore.Database)
	c.Firestore.Endpoint = getenv("FIRESTORE_ENDPOINT", c.Firestore.Endpoint)
	c.Firestore.CredentialsFile = getenv("GOOGLE_APPLICATION_CREDENTIALS", c.Firestore.CredentialsFile)
	c.Firestore.ClientID = getenv("GOOGLE_CLIENT_ID", c.Firestore.ClientID)
	c.Firestore.ClientSecret = getenv("GOOGLE_CLIENT_SECRET", c.Firestore.ClientSecret)
	c.Firestore.TokenFile = getenv("FIRESTORE_TOKEN_FILE", c.Firestore.TokenFile)
	c.Firestore.PollInterval = getenvDuration("FIRESTORE_POLL_INTERVAL", c.Firestore.PollInterval)

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvInt("REDIS_DB", c.Redis.DB)

	c.Feed.Addr = getenv("FEED_ADDR", c.Feed.Addr)

	c.CalDAV.Endpoint = getenv("CALDAV_ENDPOINT", c.CalDAV.Endpoint)
	c.CalDAV.Username = getenv("CALDAV_USERNAME", c.CalDAV.Username)
	c.CalDAV.Password = getenv("CALDAV_PASSWORD", c.CalDAV.Password)
	c.CalDAV.Calendar = getenv("CALDAV_CALENDAR", c.CalDAV.Calendar)

	c.Publish.StateFile = getenv("PUBLISH_STATE_FILE", c.Publish.StateFile)
	c.Publish.Cron = getenv("PUBLISH_CRON", c.Publish.Cron)
	c.Publish.Email = getenv("PUBLISH_EMAIL", c.Publish.Email)
	c.Publish.Password = getenv("PUBLISH_PASSWORD", c.Publish.Password)
}

// Normalize fills in zero values left by a partial YAML file.
func (c *Config) Normalize() {
	d := Default()
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.AppID == "" {
		c.AppID = d.AppID
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Firestore.Database == "" {
		c.Firestore.Database = d.Firestore.Database
	}
	if c.Firestore.PollInterval <= 0 {
		c.Firestore.PollInterval = d.Firestore.PollInterval
	}
	if c.Publish.StateFile == "" {
		c.Publish.StateFile = d.Publish.StateFile
	}
}

// Validate checks the settings that depend on the chosen provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderRedis:
	case ProviderFirestore:
		if c.Firestore.Project == "" {
			return errors.New("FIRESTORE_PROJECT is required for the firestore provider")
		}
	default:
		return fmt.Errorf("unknown provider %q, expected memory, firestore or redis", c.Provider)
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
