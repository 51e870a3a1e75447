package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig    `mapstructure:"server"`
	Redis       RedisConfig     `mapstructure:"redis"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Retry       RetryConfig     `mapstructure:"retry"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Services    []ServiceConfig `mapstructure:"services"`
	HealthPaths []string        `mapstructure:"health_paths"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Fail modes for the admission layer when the counter store is unreachable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Tie-break choices for which window's Retry-After wins when both the IP
// and the user policy are exceeded on the same request.
const (
	TieBreakIP       = "ip"
	TieBreakUser     = "user"
	TieBreakEarliest = "earliest"
)

type RateLimitConfig struct {
	IPLimit     int           `mapstructure:"ip_limit"`
	IPWindow    time.Duration `mapstructure:"ip_window"`
	UserLimit   int           `mapstructure:"user_limit"`
	UserWindow  time.Duration `mapstructure:"user_window"`
	ExpiryGrace time.Duration `mapstructure:"expiry_grace"`
	FailMode    string        `mapstructure:"fail_mode"`
	TieBreak    string        `mapstructure:"tie_break"`
}

type RetryConfig struct {
	MaxAttempts     int   `mapstructure:"max_attempts"`
	RetryableStatus []int `mapstructure:"retryable_status"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakDuration    time.Duration `mapstructure:"break_duration"`
}

type ServiceConfig struct {
	Path   string `mapstructure:"path"`
	Target string `mapstructure:"target"`
}

// Load reads configuration from the given file (if it exists), GATEWAY_*
// environment variables, and built-in defaults, in that order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine; defaults and env still apply
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("rate_limit.ip_limit", 100)
	v.SetDefault("rate_limit.ip_window", time.Minute)
	v.SetDefault("rate_limit.user_limit", 1000)
	v.SetDefault("rate_limit.user_window", time.Hour)
	v.SetDefault("rate_limit.expiry_grace", 5*time.Second)
	v.SetDefault("rate_limit.fail_mode", FailOpen)
	v.SetDefault("rate_limit.tie_break", TieBreakIP)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.retryable_status", []int{502, 503, 504})

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.break_duration", 30*time.Second)

	v.SetDefault("health_paths", []string{"/health"})
}

func (c *Config) Validate() error {
	if c.RateLimit.IPLimit <= 0 {
		return fmt.Errorf("rate_limit.ip_limit must be positive, got %d", c.RateLimit.IPLimit)
	}
	if c.RateLimit.IPWindow <= 0 {
		return fmt.Errorf("rate_limit.ip_window must be positive, got %v", c.RateLimit.IPWindow)
	}
	if c.RateLimit.UserLimit <= 0 {
		return fmt.Errorf("rate_limit.user_limit must be positive, got %d", c.RateLimit.UserLimit)
	}
	if c.RateLimit.UserWindow <= 0 {
		return fmt.Errorf("rate_limit.user_window must be positive, got %v", c.RateLimit.UserWindow)
	}

	switch c.RateLimit.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("rate_limit.fail_mode must be %q or %q, got %q", FailOpen, FailClosed, c.RateLimit.FailMode)
	}

	switch c.RateLimit.TieBreak {
	case TieBreakIP, TieBreakUser, TieBreakEarliest:
	default:
		return fmt.Errorf("rate_limit.tie_break must be one of %q, %q, %q, got %q",
			TieBreakIP, TieBreakUser, TieBreakEarliest, c.RateLimit.TieBreak)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.BreakDuration <= 0 {
		return fmt.Errorf("breaker.break_duration must be positive, got %v", c.Breaker.BreakDuration)
	}

	for i, svc := range c.Services {
		if svc.Path == "" {
			return fmt.Errorf("services[%d].path is required", i)
		}
		if svc.Target == "" {
			return fmt.Errorf("services[%d].target is required", i)
		}
	}

	return nil
}
