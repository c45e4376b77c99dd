package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	RateLimit struct {
		Capacity   int     `mapstructure:"capacity"`
		RefillRate float64 `mapstructure:"refill_rate"`
	} `mapstructure:"rate_limit"`
}

// Load reads configuration from the environment (TANIN_ prefix, dots become
// underscores) and, when path is non-empty, a YAML file underneath it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TANIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rate_limit.capacity", 20)
	v.SetDefault("rate_limit.refill_rate", 5)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}
