package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting. Values come from environment
// variables first, then an optional config.yaml, then the defaults below.
type Config struct {
	ServerAddr  string `mapstructure:"server_addr"`
	Environment string `mapstructure:"environment"`

	// DatabaseURL selects the storage backend: a postgres DSN in
	// deployment, or a sqlite path (e.g. "file:whisper.db") locally.
	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`

	// SecretKey signs login tokens and session cookies.
	SecretKey string `mapstructure:"secret_key"`

	// SuperUsers is a comma-separated list of emails with moderation rights.
	SuperUsers string `mapstructure:"super_users"`

	SentryDSN    string `mapstructure:"sentry_dsn"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// PostRatePerMinute bounds message creation per client address.
	PostRatePerMinute int `mapstructure:"post_rate_per_minute"`
	ReadRatePerMinute int `mapstructure:"read_rate_per_minute"`

	// SessionTTL bounds how long a login cookie stays valid.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_addr", ":8080")
	v.SetDefault("environment", "production")
	v.SetDefault("database_url", "file:whisper.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("secret_key", "")
	v.SetDefault("super_users", "")
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("post_rate_per_minute", 10)
	v.SetDefault("read_rate_per_minute", 60)
	v.SetDefault("session_ttl", 7*24*time.Hour)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SuperUserSet splits SuperUsers into a lookup set of lowercased emails.
func (c *Config) SuperUserSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, e := range strings.Split(c.SuperUsers, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}
