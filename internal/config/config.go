// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// Viewer engines.
const (
	ViewerChromium = "chromium"
	ViewerNone     = "none"
)

// Delivery sinks.
const (
	SinkNone   = "none"
	SinkMemory = "memory"
	SinkLocal  = "local"
	SinkGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Viewer   ViewerConfig   `mapstructure:"viewer"`
	Export   ExportConfig   `mapstructure:"export"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// BackendConfig points at the proxy/rendering server.
type BackendConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	ProxyPath        string            `mapstructure:"proxy_path"`
	DownloadPath     string            `mapstructure:"download_path"`
	UserAgent        string            `mapstructure:"user_agent"`
	Headers          map[string]string `mapstructure:"headers"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	MaxRetries       int               `mapstructure:"max_retries"`
	BackoffInitialMs int               `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int               `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int               `mapstructure:"rate_limit_burst"`
}

// ViewerConfig configures the document viewer.
type ViewerConfig struct {
	Engine               string  `mapstructure:"engine"`
	DefaultWidth         float64 `mapstructure:"default_width"`
	DefaultHeight        float64 `mapstructure:"default_height"`
	ExecPath             string  `mapstructure:"exec_path"`
	MaxParallel          int     `mapstructure:"max_parallel"`
	RenderTimeoutSeconds int     `mapstructure:"render_timeout_seconds"`
	NoSandbox            bool    `mapstructure:"no_sandbox"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	DefaultFilename string `mapstructure:"default_filename"`
}

// DeliveryConfig controls transient handles and where downloads are saved.
type DeliveryConfig struct {
	ReleaseDelayMs      int    `mapstructure:"release_delay_ms"`
	TombstoneTTLSeconds int    `mapstructure:"tombstone_ttl_seconds"`
	Sink                string `mapstructure:"sink"`
	Dir                 string `mapstructure:"dir"`
	GCSBucket           string `mapstructure:"gcs_bucket"`
	Prefix              string `mapstructure:"prefix"`
}

// DBConfig controls access to the export record table.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for export notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AuditConfig controls batching of export records before they reach the
// store and the publisher.
type AuditConfig struct {
	BufferSize         int `mapstructure:"buffer_size"`
	MaxBatch           int `mapstructure:"max_batch"`
	MaxBatchWaitMs     int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSeconds int `mapstructure:"sink_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBANNOTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("backend.base_url", "http://localhost:3001")
	v.SetDefault("backend.proxy_path", "/pdftron-proxy")
	v.SetDefault("backend.download_path", "/pdftron-download")
	v.SetDefault("backend.user_agent", "webannotate/0.1")
	v.SetDefault("backend.timeout_seconds", 30)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("backend.backoff_initial_ms", 250)
	v.SetDefault("backend.backoff_max_ms", 2000)
	v.SetDefault("backend.rate_limit_rps", 0)
	v.SetDefault("backend.rate_limit_burst", 1)
	v.SetDefault("viewer.engine", ViewerChromium)
	v.SetDefault("viewer.default_width", 1440)
	v.SetDefault("viewer.default_height", 900)
	v.SetDefault("viewer.max_parallel", 1)
	v.SetDefault("viewer.render_timeout_seconds", 30)
	v.SetDefault("export.default_filename", "annotated.pdf")
	v.SetDefault("delivery.release_delay_ms", 5000)
	v.SetDefault("delivery.tombstone_ttl_seconds", 600)
	v.SetDefault("delivery.sink", SinkNone)
	v.SetDefault("delivery.dir", "exports")
	v.SetDefault("db.table", "exports")
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.max_batch", 100)
	v.SetDefault("audit.max_batch_wait_ms", 500)
	v.SetDefault("audit.sink_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) url, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return errors.New("backend.timeout_seconds must be > 0")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must be >= 0")
	}
	if c.Backend.RateLimitRPS < 0 {
		return errors.New("backend.rate_limit_rps must be >= 0")
	}
	if !c.DefaultViewport().Valid() {
		return errors.New("viewer.default_width and viewer.default_height must be > 0")
	}
	switch c.Viewer.Engine {
	case ViewerChromium:
		if c.Viewer.MaxParallel < 0 {
			return errors.New("viewer.max_parallel must be >= 0")
		}
	case ViewerNone:
	default:
		return fmt.Errorf("viewer.engine must be %q or %q, got %q", ViewerChromium, ViewerNone, c.Viewer.Engine)
	}
	if c.Delivery.ReleaseDelayMs <= 0 {
		return errors.New("delivery.release_delay_ms must be > 0")
	}
	if c.Delivery.TombstoneTTLSeconds < 0 {
		return errors.New("delivery.tombstone_ttl_seconds must be >= 0")
	}
	switch c.Delivery.Sink {
	case SinkNone, SinkMemory:
	case SinkLocal:
		if strings.TrimSpace(c.Delivery.Dir) == "" {
			return errors.New("delivery.dir must be set when delivery.sink is local")
		}
	case SinkGCS:
		if c.Delivery.GCSBucket == "" {
			return errors.New("delivery.gcs_bucket must be set when delivery.sink is gcs")
		}
	default:
		return fmt.Errorf("unknown delivery.sink %q", c.Delivery.Sink)
	}
	if c.Audit.BufferSize < 0 || c.Audit.MaxBatch < 0 {
		return errors.New("audit.buffer_size and audit.max_batch must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// DefaultViewport returns the viewport used until the page reports its size.
func (c Config) DefaultViewport() webview.Dimensions {
	return webview.Dimensions{Width: c.Viewer.DefaultWidth, Height: c.Viewer.DefaultHeight}
}

// BackendTimeout returns the per-request backend timeout.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// ReleaseDelay returns how long transient handles stay valid.
func (c Config) ReleaseDelay() time.Duration {
	return time.Duration(c.Delivery.ReleaseDelayMs) * time.Millisecond
}

// TombstoneTTL is how long released handles are remembered as released.
func (c Config) TombstoneTTL() time.Duration {
	return time.Duration(c.Delivery.TombstoneTTLSeconds) * time.Second
}
