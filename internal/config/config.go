// Package config loads process configuration from environment
// variables, following the teacher's viper-based loader but bound to
// the env-var names this spec's external interfaces require directly
// (no YAML file, no mapstructure nesting — a single flat var set).
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds everything the composition root needs to start serving.
type Config struct {
	DatabaseURL              string        `mapstructure:"database_url"`
	JWTSecretKey             string        `mapstructure:"jwt_secret_key"`
	Algorithm                string        `mapstructure:"algorithm"`
	AccessTokenExpireMinutes int           `mapstructure:"access_token_expire_minutes"`
	Host                     string        `mapstructure:"host"`
	Port                     int           `mapstructure:"port"`
	Symbol                   string        `mapstructure:"symbol"`
	DefaultPrice             string        `mapstructure:"default_price"`
	LogLevel                 string        `mapstructure:"log_level"`
}

// TokenDuration is AccessTokenExpireMinutes as a time.Duration.
func (c *Config) TokenDuration() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from the process environment exactly once,
// mirroring the teacher's sync.Once-guarded package-level loader. The
// env var names match spec.md §6 verbatim: DATABASE_URL, JWT_SECRET_KEY,
// ALGORITHM, ACCESS_TOKEN_EXPIRE_MINUTES.
func Load() (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()
		setDefaults(v)
		v.AutomaticEnv()

		c := &Config{}
		c.DatabaseURL = v.GetString("database_url")
		c.JWTSecretKey = v.GetString("jwt_secret_key")
		c.Algorithm = v.GetString("algorithm")
		c.AccessTokenExpireMinutes = v.GetInt("access_token_expire_minutes")
		c.Host = v.GetString("host")
		c.Port = v.GetInt("port")
		c.Symbol = v.GetString("symbol")
		c.DefaultPrice = v.GetString("default_price")
		c.LogLevel = v.GetString("log_level")

		if c.JWTSecretKey == "" {
			err = fmt.Errorf("config: JWT_SECRET_KEY is required")
			return
		}
		cfg = c
	})
	return cfg, err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("algorithm", "HS256")
	v.SetDefault("access_token_expire_minutes", 30)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("symbol", "BTC-USD")
	v.SetDefault("default_price", "100")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "postgres://localhost:5432/exchange?sslmode=disable")
}

// InitLogger builds the process zap.Logger, switching on log level the
// same way the teacher's config.InitLogger does.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch cfg.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
