// Package config loads the scanner configuration from defaults, an optional
// YAML file, GROUPSCAN_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/Sternrassler/group-scanner/pkg/groupapi"
	"github.com/Sternrassler/group-scanner/pkg/idspace"
)

// EnvPrefix prefixes every environment variable, e.g. GROUPSCAN_SCAN_WORKERS.
const EnvPrefix = "GROUPSCAN"

// Config is the complete scanner configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Stats   StatsConfig   `mapstructure:"stats"`
}

// APIConfig locates the groups API.
type APIConfig struct {
	// Address is the host:port connections are opened to.
	Address string `mapstructure:"address" validate:"required,hostname_port"`

	// Host is sent in the Host header and used as the TLS server name.
	Host string `mapstructure:"host" validate:"required"`

	// TLS wraps every connection in TLS.
	TLS bool `mapstructure:"tls"`
}

// ScanConfig shapes the scan itself.
type ScanConfig struct {
	// Ranges lists half-open "start-end" ID ranges.
	Ranges []string `mapstructure:"ranges" validate:"required,min=1"`

	Workers   int           `mapstructure:"workers" validate:"gte=1,lte=4096"`
	BatchSize int           `mapstructure:"batch_size" validate:"gte=1,lte=100"`
	Cutoff    uint64        `mapstructure:"cutoff"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// Mode is "split" (disjoint shares) or "full" (every worker scans everything).
	Mode string `mapstructure:"mode" validate:"oneof=split full"`
}

// ProxyConfig points at the proxy list. An empty File means direct connections.
type ProxyConfig struct {
	File string `mapstructure:"file"`
}

// NotifyConfig enables the optional discovery sinks.
type NotifyConfig struct {
	WebhookURL  string  `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookRate float64 `mapstructure:"webhook_rate" validate:"gte=0"`
	PostgresDSN string  `mapstructure:"postgres_dsn"`
	QueueSize   int     `mapstructure:"queue_size" validate:"gte=1"`
}

// RedisConfig enables the shared progress counter. An empty Addr disables it.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db" validate:"gte=0,lte=16"`
	Key           string        `mapstructure:"key" validate:"required"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
}

// MetricsConfig enables the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

// StatsConfig configures the progress line. A zero Interval disables it.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.address", groupapi.DefaultHost+":443")
	v.SetDefault("api.host", groupapi.DefaultHost)
	v.SetDefault("api.tls", true)

	v.SetDefault("scan.ranges", []string{})
	v.SetDefault("scan.workers", 8)
	v.SetDefault("scan.batch_size", 100)
	v.SetDefault("scan.cutoff", 0)
	v.SetDefault("scan.timeout", 5*time.Second)
	v.SetDefault("scan.mode", "split")

	v.SetDefault("proxy.file", "")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_rate", 0.5)
	v.SetDefault("notify.postgres_dsn", "")
	v.SetDefault("notify.queue_size", 256)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "groupscan:progress")
	v.SetDefault("redis.flush_interval", 10*time.Second)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("stats.interval", time.Minute)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v, then decodes and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			result = multierror.Append(result, fieldError(fe))
		}
	}

	if _, err := idspace.ParseRanges(c.Scan.Ranges); err != nil {
		result = multierror.Append(result, fmt.Errorf("scan.ranges: %w", err))
	}

	return result.ErrorOrNil()
}

// ParsedRanges returns the scan ranges as ID ranges, with overlaps removed.
func (c *Config) ParsedRanges() ([]idspace.Range, error) {
	ranges, err := idspace.ParseRanges(c.Scan.Ranges)
	if err != nil {
		return nil, err
	}
	return idspace.Normalize(ranges), nil
}

func fieldError(fe validator.FieldError) error {
	field := stripPrefix(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("field %s is required but was not found", field)
	default:
		return fmt.Errorf("field %s has invalid value %v: %s", field, fe.Value(), fe.Tag())
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
