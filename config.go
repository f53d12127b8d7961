package elif

import (
	"errors"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/elifgo/elif/internal/errs"
)

// EnvPrefix prefixes every environment variable read by LoadConfig, e.g.
// ELIF_BIND_ADDR.
const EnvPrefix = "ELIF"

// Config holds server settings. Zero values are not defaults; start from
// DefaultConfig or LoadConfig.
type Config struct {
	BindAddr             string `mapstructure:"bind_addr"`
	RequestTimeoutSecs   int    `mapstructure:"request_timeout_secs"`
	KeepAliveTimeoutSecs int    `mapstructure:"keep_alive_timeout_secs"`
	ShutdownTimeoutSecs  int    `mapstructure:"shutdown_timeout_secs"`
	MaxRequestSize       int64  `mapstructure:"max_request_size"`
	MaxHeaderBytes       int    `mapstructure:"max_header_bytes"`
	MaxConnections       int    `mapstructure:"max_connections"`
	HealthCheckPath      string `mapstructure:"health_check_path"`
	ReadinessPath        string `mapstructure:"readiness_path"`
	MetricsPath          string `mapstructure:"metrics_path"`
	EnableTracing        bool   `mapstructure:"enable_tracing"`
	EnableRequestID      bool   `mapstructure:"enable_request_id"`
	EnableTiming         bool   `mapstructure:"enable_timing"`
	EnableCompression    bool   `mapstructure:"enable_compression"`
	CompressionMinBytes  int    `mapstructure:"compression_min_bytes"`
	EnableETag           bool   `mapstructure:"enable_etag"`
	EnableNegotiation    bool   `mapstructure:"enable_negotiation"`
	EnableMetrics        bool   `mapstructure:"enable_metrics"`
	// ShedRPS enables load shedding above this many requests per second.
	ShedRPS   float64 `mapstructure:"shed_rps"`
	ShedBurst int     `mapstructure:"shed_burst"`
	// Debug turns misuse of the middleware contract into panics.
	Debug bool `mapstructure:"debug"`
}

func DefaultConfig() Config {
	return Config{
		BindAddr:             "127.0.0.1:3000",
		RequestTimeoutSecs:   30,
		KeepAliveTimeoutSecs: 75,
		ShutdownTimeoutSecs:  10,
		MaxRequestSize:       16 << 20,
		MaxHeaderBytes:       1 << 20,
		HealthCheckPath:      "/health",
		ReadinessPath:        "/ready",
		MetricsPath:          "/metrics",
		EnableTracing:        true,
		EnableRequestID:      true,
		EnableTiming:         true,
		EnableCompression:    true,
		CompressionMinBytes:  1024,
		EnableETag:           true,
		EnableNegotiation:    true,
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c Config) KeepAliveTimeout() time.Duration {
	return time.Duration(c.KeepAliveTimeoutSecs) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// LoadConfig reads a .env file if present, then the environment, then the
// config file at path when path is not empty. Environment variables win
// over the file.
func LoadConfig(path string) (Config, error) {
	return ReadConfig(NewViper(), path)
}

// ReadConfig is LoadConfig on a caller supplied viper instance, typically
// one with command line flags bound to it.
func ReadConfig(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errs.New(ErrCodeInvalidConfig, "cannot read .env", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errs.New(ErrCodeInvalidConfig, "cannot read config file "+path, err)
		}
	}

	return ConfigFromViper(v)
}

// NewViper returns a viper instance with every key defaulted and bound to
// its ELIF_ environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	def := DefaultConfig()

	v.SetDefault("bind_addr", def.BindAddr)
	v.SetDefault("request_timeout_secs", def.RequestTimeoutSecs)
	v.SetDefault("keep_alive_timeout_secs", def.KeepAliveTimeoutSecs)
	v.SetDefault("shutdown_timeout_secs", def.ShutdownTimeoutSecs)
	v.SetDefault("max_request_size", def.MaxRequestSize)
	v.SetDefault("max_header_bytes", def.MaxHeaderBytes)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("health_check_path", def.HealthCheckPath)
	v.SetDefault("readiness_path", def.ReadinessPath)
	v.SetDefault("metrics_path", def.MetricsPath)
	v.SetDefault("enable_tracing", def.EnableTracing)
	v.SetDefault("enable_request_id", def.EnableRequestID)
	v.SetDefault("enable_timing", def.EnableTiming)
	v.SetDefault("enable_compression", def.EnableCompression)
	v.SetDefault("compression_min_bytes", def.CompressionMinBytes)
	v.SetDefault("enable_etag", def.EnableETag)
	v.SetDefault("enable_negotiation", def.EnableNegotiation)
	v.SetDefault("enable_metrics", def.EnableMetrics)
	v.SetDefault("shed_rps", def.ShedRPS)
	v.SetDefault("shed_burst", def.ShedBurst)
	v.SetDefault("debug", def.Debug)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func ConfigFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.New(ErrCodeInvalidConfig, "cannot decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems error
	bad := func(format string, args ...any) {
		problems = multierr.Append(problems, errs.Newf(ErrCodeInvalidConfig, format, args...))
	}

	if _, port, err := net.SplitHostPort(c.BindAddr); err != nil || port == "" {
		bad("bind_addr %q is not host:port", c.BindAddr)
	}
	if c.RequestTimeoutSecs <= 0 {
		bad("request_timeout_secs must be positive, got %d", c.RequestTimeoutSecs)
	}
	if c.KeepAliveTimeoutSecs < 0 {
		bad("keep_alive_timeout_secs must not be negative, got %d", c.KeepAliveTimeoutSecs)
	}
	if c.ShutdownTimeoutSecs < 0 {
		bad("shutdown_timeout_secs must not be negative, got %d", c.ShutdownTimeoutSecs)
	}
	if c.MaxRequestSize <= 0 {
		bad("max_request_size must be positive, got %d", c.MaxRequestSize)
	}
	if c.MaxHeaderBytes <= 0 {
		bad("max_header_bytes must be positive, got %d", c.MaxHeaderBytes)
	}
	if c.MaxConnections < 0 {
		bad("max_connections must not be negative, got %d", c.MaxConnections)
	}
	if c.CompressionMinBytes < 0 {
		bad("compression_min_bytes must not be negative, got %d", c.CompressionMinBytes)
	}
	if c.ShedRPS < 0 || c.ShedBurst < 0 {
		bad("shed_rps and shed_burst must not be negative")
	}
	if c.ShedRPS > 0 && c.ShedBurst == 0 {
		bad("shed_burst must be positive when shed_rps is set")
	}

	reserved := map[string]string{}
	check := func(key, path string, enabled bool) {
		if !enabled {
			return
		}
		if !strings.HasPrefix(path, "/") {
			bad("%s %q must start with /", key, path)
			return
		}
		if other, ok := reserved[path]; ok {
			bad("%s and %s both use %q", other, key, path)
			return
		}
		reserved[path] = key
	}
	check("health_check_path", c.HealthCheckPath, true)
	check("readiness_path", c.ReadinessPath, c.ReadinessPath != "")
	check("metrics_path", c.MetricsPath, c.EnableMetrics)

	if problems != nil {
		return errs.New(ErrCodeInvalidConfig, "invalid configuration", problems)
	}
	return nil
}
