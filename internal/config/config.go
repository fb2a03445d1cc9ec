package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode               string          `mapstructure:"mode"`
	Port               int             `mapstructure:"port"`
	LogLevel           string          `mapstructure:"log_level"`
	ReadLimit          int64           `mapstructure:"read_limit"`
	PingPeriod         time.Duration   `mapstructure:"ping_period"`
	SendBuffer         int             `mapstructure:"send_buffer"`
	NegotiationTimeout time.Duration   `mapstructure:"negotiation_timeout"`
	EvictionInterval   time.Duration   `mapstructure:"eviction_interval"`
	ICEServers         []string        `mapstructure:"ice_servers"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
	Directory          DirectoryConfig `mapstructure:"directory"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// DirectoryConfig selects where exams and enrollments come from. Driver is
// "memory" (Exams below) or "postgres" (DSN).
type DirectoryConfig struct {
	Driver string       `mapstructure:"driver"`
	DSN    string       `mapstructure:"dsn"`
	Exams  []ExamConfig `mapstructure:"exams"`
}

type ExamConfig struct {
	ID string `mapstructure:"id"`
	// Start is RFC 3339.
	Start    string        `mapstructure:"start"`
	Duration time.Duration `mapstructure:"duration"`
	Takers   []string      `mapstructure:"takers"`
	Proctors []string      `mapstructure:"proctors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("eviction_interval", "1m")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rate_limit.per_second", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("directory.driver", "memory")
	v.SetDefault("directory.dsn", "")
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists. PROCTOR_* environment variables
// override it, e.g. PROCTOR_DIRECTORY_DSN.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("Loaded config: %s\n", fileName)
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

func (c *Config) Validate() error {
	switch c.Directory.Driver {
	case "memory":
	case "postgres":
		if c.Directory.DSN == "" {
			return fmt.Errorf("config: directory.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown directory driver %q", c.Directory.Driver)
	}
	for _, e := range c.Directory.Exams {
		if e.ID == "" {
			return fmt.Errorf("config: exam without id")
		}
		if _, err := time.Parse(time.RFC3339, e.Start); err != nil {
			return fmt.Errorf("config: exam %s start: %w", e.ID, err)
		}
		if e.Duration <= 0 {
			return fmt.Errorf("config: exam %s duration must be positive", e.ID)
		}
	}
	return nil
}
