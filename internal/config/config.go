package config

import (
	"fmt"
	"net"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/authgate/authgate/model"
)

// Config holds the daemon configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	LogLevel       string `mapstructure:"log_level"`
	ManagementAddr string `mapstructure:"management_addr"`

	// Defaults applied to service descriptors that omit them.
	DefaultBindHTTP   []string `mapstructure:"default_bind_http"`
	DefaultBindHTTPS  []string `mapstructure:"default_bind_https"`
	DefaultServerName []string `mapstructure:"default_server_name"`
	DefaultCertPath   string   `mapstructure:"default_cert_path"`
	DefaultKeyPath    string   `mapstructure:"default_key_path"`
	DefaultCPUThreads int      `mapstructure:"default_cpu_threads"`

	RequestTimeoutMs  int64         `mapstructure:"request_timeout_ms"`
	ResponseTimeoutMs int64         `mapstructure:"response_timeout_ms"`
	RequestTimeout    time.Duration `mapstructure:"-"`
	ResponseTimeout   time.Duration `mapstructure:"-"`

	// Listener tuning applied to every proxy runtime.
	ReadHeaderTimeoutSeconds int64 `mapstructure:"read_header_timeout_seconds"`
	IdleTimeoutSeconds       int64 `mapstructure:"idle_timeout_seconds"`
	MaxHeaderBytes           int   `mapstructure:"max_header_bytes"`
	HTTP1Only                bool  `mapstructure:"http1_only"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	// Directories scanned at boot for service descriptor files.
	ServiceLookupDirs []string `mapstructure:"service_lookup_dirs"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetDefault("app_name", "authgate")
	v.SetDefault("log_level", "info")
	v.SetDefault("management_addr", "127.0.0.1:6668")
	v.SetDefault("default_cpu_threads", 0)
	v.SetDefault("request_timeout_ms", 0)
	v.SetDefault("response_timeout_ms", 0)
	v.SetDefault("read_header_timeout_seconds", 30)
	v.SetDefault("idle_timeout_seconds", 300)
	v.SetDefault("max_header_bytes", 0)
	v.SetDefault("http1_only", false)
	v.SetDefault("storage_type", "none")
	v.SetDefault("bbolt_path", "./data/authgate.db")

	v.SetEnvPrefix("authgate")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if _, _, err := net.SplitHostPort(cfg.ManagementAddr); err != nil {
		return nil, fmt.Errorf("invalid management_addr: %w", err)
	}
	if cfg.RequestTimeoutMs < 0 || cfg.ResponseTimeoutMs < 0 {
		return nil, fmt.Errorf("timeouts must not be negative")
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	cfg.ResponseTimeout = time.Duration(cfg.ResponseTimeoutMs) * time.Millisecond

	if _, err := model.ParseAddresses(cfg.DefaultBindHTTP...); err != nil {
		return nil, fmt.Errorf("invalid default_bind_http: %w", err)
	}
	if _, err := model.ParseAddresses(cfg.DefaultBindHTTPS...); err != nil {
		return nil, fmt.Errorf("invalid default_bind_https: %w", err)
	}

	return &cfg, nil
}

// ManagementLoopback reports whether the management API binds to a loopback
// address. Anything else deserves a loud warning at boot.
func (c *Config) ManagementLoopback() bool {
	host, _, err := net.SplitHostPort(c.ManagementAddr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
