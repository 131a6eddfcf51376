// Package config loads the targetwatch configuration file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmslite/targetwatch/internal/channels"
	"github.com/nmslite/targetwatch/internal/credentials"
	"github.com/nmslite/targetwatch/internal/models"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "TW_"

type Config struct {
	Poller      PollerConfig                 `yaml:"poller"`
	Collector   CollectorConfig              `yaml:"collector"`
	Registry    RegistryConfig               `yaml:"registry"`
	Database    DatabaseConfig               `yaml:"database"`
	Credentials CredentialsConfig            `yaml:"credentials"`
	Channel     channels.EventChannelsConfig `yaml:"channel"`
	Metrics     MetricsConfig                `yaml:"metrics"`
	Logging     LoggingConfig                `yaml:"logging"`
}

type PollerConfig struct {
	IntervalMS    int `yaml:"interval_ms" validate:"gt=0"`
	DownThreshold int `yaml:"down_threshold" validate:"min=0"`
}

type CollectorConfig struct {
	Mode            string       `yaml:"mode" validate:"oneof=http direct"`
	BaseURL         string       `yaml:"base_url" validate:"omitempty,url"`
	DataMode        string       `yaml:"data_mode" validate:"oneof=demo live"`
	TimeoutMS       int          `yaml:"timeout_ms" validate:"min=0"`
	TokenSecret     string       `yaml:"token_secret"`
	TokenIssuer     string       `yaml:"token_issuer"`
	TokenTTLMinutes int          `yaml:"token_ttl_minutes" validate:"min=0"`
	APIToken        string       `yaml:"api_token"`
	Direct          DirectConfig `yaml:"direct"`
}

type DirectConfig struct {
	KnownHosts string `yaml:"known_hosts"`
	SSHConfig  string `yaml:"ssh_config"`
	Domain     string `yaml:"domain"`
	UseHTTPS   bool   `yaml:"use_https"`
	TimeoutMS  int    `yaml:"timeout_ms" validate:"min=0"`
}

type RegistryConfig struct {
	Source    string          `yaml:"source" validate:"oneof=static http postgres"`
	HTTPTTLMS int             `yaml:"http_ttl_ms" validate:"min=0"`
	Migrate   bool            `yaml:"migrate"`
	Targets   []models.Target `yaml:"targets" validate:"dive"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

type DatabaseConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	DBName   string     `yaml:"dbname"`
	SSLMode  string     `yaml:"ssl_mode"`
	Pool     PoolConfig `yaml:"pool"`
}

type CredentialsConfig struct {
	// FallbackEnabled defaults to true; hardened builds ignore it
	FallbackEnabled  *bool                 `yaml:"fallback_enabled"`
	FallbackProfiles []credentials.Profile `yaml:"fallback_profiles" validate:"dive"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset value
func (c *Config) ApplyDefaults() {
	if c.Poller.IntervalMS == 0 {
		c.Poller.IntervalMS = 5000
	}
	if c.Poller.DownThreshold == 0 {
		c.Poller.DownThreshold = 3
	}

	if c.Collector.Mode == "" {
		c.Collector.Mode = "http"
	}
	if c.Collector.DataMode == "" {
		c.Collector.DataMode = "live"
	}
	if c.Collector.TimeoutMS == 0 {
		c.Collector.TimeoutMS = 30000
	}
	if c.Collector.TokenIssuer == "" {
		c.Collector.TokenIssuer = "targetwatch"
	}
	if c.Collector.TokenTTLMinutes == 0 {
		c.Collector.TokenTTLMinutes = 15
	}
	if c.Collector.Direct.TimeoutMS == 0 {
		c.Collector.Direct.TimeoutMS = 10000
	}

	if c.Registry.Source == "" {
		c.Registry.Source = "static"
	}
	if c.Registry.HTTPTTLMS == 0 {
		c.Registry.HTTPTTLMS = 2000
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	c.Database.Pool.ApplyDefaults()

	c.Channel.ApplyDefaults()

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate ensures all configuration values are usable
func (c *Config) Validate() error {
	if err := models.ValidateStruct(c); err != nil {
		return err
	}

	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging.output is file")
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	if c.Collector.Mode == "http" && c.Collector.BaseURL == "" {
		return fmt.Errorf("collector.base_url is required when collector.mode is http")
	}
	if c.Registry.Source == "http" && c.Collector.BaseURL == "" {
		return fmt.Errorf("collector.base_url is required when registry.source is http")
	}
	if c.Registry.Source == "postgres" && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database host and dbname are required when registry.source is postgres")
	}

	seen := make(map[string]bool, len(c.Registry.Targets))
	for _, t := range c.Registry.Targets {
		if seen[t.ID] {
			return fmt.Errorf("registry.targets: duplicate id %q", t.ID)
		}
		seen[t.ID] = true
	}

	return nil
}

// applyEnvOverrides checks for environment variables with the TW_ prefix
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"COLLECTOR_MODE":         &cfg.Collector.Mode,
		"COLLECTOR_BASE_URL":     &cfg.Collector.BaseURL,
		"COLLECTOR_DATA_MODE":    &cfg.Collector.DataMode,
		"COLLECTOR_TOKEN_SECRET": &cfg.Collector.TokenSecret,
		"COLLECTOR_API_TOKEN":    &cfg.Collector.APIToken,
		"REGISTRY_SOURCE":        &cfg.Registry.Source,
		"DATABASE_HOST":          &cfg.Database.Host,
		"DATABASE_USER":          &cfg.Database.User,
		"DATABASE_PASSWORD":      &cfg.Database.Password,
		"DATABASE_DBNAME":        &cfg.Database.DBName,
		"METRICS_LISTEN":         &cfg.Metrics.Listen,
		"LOGGING_LEVEL":          &cfg.Logging.Level,
		"LOGGING_FORMAT":         &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POLLER_INTERVAL_MS":    &cfg.Poller.IntervalMS,
		"POLLER_DOWN_THRESHOLD": &cfg.Poller.DownThreshold,
		"COLLECTOR_TIMEOUT_MS":  &cfg.Collector.TimeoutMS,
		"DATABASE_PORT":         &cfg.Database.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "CREDENTIALS_FALLBACK_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sCREDENTIALS_FALLBACK_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Credentials.FallbackEnabled = &enabled
	}

	return nil
}

// Interval returns the polling interval as a duration
func (p *PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// Timeout returns the backend request timeout as a duration
func (c *CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// TokenTTL returns the service token lifetime as a duration
func (c *CollectorConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// Timeout returns the direct connection timeout as a duration
func (d *DirectConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// HTTPTTL returns the remote registry cache lifetime as a duration
func (r *RegistryConfig) HTTPTTL() time.Duration {
	return time.Duration(r.HTTPTTLMS) * time.Millisecond
}

// Profiles returns the fallback profile table in effect: none when disabled
// or unsupported by the build, the configured table when set, the built-in
// table otherwise.
func (c *CredentialsConfig) Profiles() []credentials.Profile {
	if !credentials.FallbackSupported {
		return nil
	}
	if c.FallbackEnabled != nil && !*c.FallbackEnabled {
		return nil
	}
	if len(c.FallbackProfiles) > 0 {
		return c.FallbackProfiles
	}
	return credentials.DefaultProfiles()
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// ApplyDefaults sets default values for pool configuration
func (p *PoolConfig) ApplyDefaults() {
	if p.MaxConns == 0 {
		p.MaxConns = 10
	}
	if p.MinConns == 0 {
		p.MinConns = 1
	}
	if p.MaxConnLifetimeMinutes == 0 {
		p.MaxConnLifetimeMinutes = 60
	}
	if p.MaxConnIdleTimeMinutes == 0 {
		p.MaxConnIdleTimeMinutes = 15
	}
	if p.HealthCheckPeriodSeconds == 0 {
		p.HealthCheckPeriodSeconds = 30
	}
}

// MaxConnLifetime returns the max connection lifetime as a duration
func (p *PoolConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}

// MaxConnIdleTime returns the max connection idle time as a duration
func (p *PoolConfig) MaxConnIdleTime() time.Duration {
	return time.Duration(p.MaxConnIdleTimeMinutes) * time.Minute
}

// HealthCheckPeriod returns the health check period as a duration
func (p *PoolConfig) HealthCheckPeriod() time.Duration {
	return time.Duration(p.HealthCheckPeriodSeconds) * time.Second
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	enabled := true
	example := &Config{
		Poller: PollerConfig{
			IntervalMS:    5000,
			DownThreshold: 3,
		},
		Collector: CollectorConfig{
			Mode:            "http",
			BaseURL:         "http://localhost:5001/api",
			DataMode:        "live",
			TimeoutMS:       30000,
			TokenSecret:     "",
			TokenIssuer:     "targetwatch",
			TokenTTLMinutes: 15,
			Direct: DirectConfig{
				KnownHosts: "~/.ssh/known_hosts",
				SSHConfig:  "~/.ssh/config",
				TimeoutMS:  10000,
			},
		},
		Registry: RegistryConfig{
			Source:    "static",
			HTTPTTLMS: 2000,
			Targets: []models.Target{
				{
					ID:       "web-1",
					Name:     "web",
					Address:  "10.0.0.10",
					OSFamily: models.OSLinux,
					AuthMode: models.AuthKey,
					Username: "monitor",
					KeyPath:  "/etc/targetwatch/id_ed25519",
				},
				{
					ID:       "dc-1",
					Address:  "10.0.0.20",
					OSFamily: models.OSWindows,
					AuthMode: models.AuthPassword,
					Username: "Administrator",
				},
			},
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "targetwatch",
			Password: "changeme",
			DBName:   "targetwatch",
			SSLMode:  "disable",
			Pool: PoolConfig{
				MaxConns:                 10,
				MinConns:                 1,
				MaxConnLifetimeMinutes:   60,
				MaxConnIdleTimeMinutes:   15,
				HealthCheckPeriodSeconds: 30,
			},
		},
		Credentials: CredentialsConfig{
			FallbackEnabled: &enabled,
		},
		Channel: channels.EventChannelsConfig{
			PollingStateBufferSize: 64,
			OutcomeBufferSize:      64,
			CredentialBufferSize:   64,
			StatusBufferSize:       64,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9108",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stdout",
			FilePath: "/var/log/targetwatch/targetwatch.log",
		},
	}

	// Create a YAML node for custom formatting with comments
	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# targetwatch Example Configuration
# =============================================================================
# Copy this file to config.yaml and modify it according to your needs.
#
# Environment variable overrides follow the pattern: TW_<SECTION>_<KEY>
# Example: TW_COLLECTOR_BASE_URL, TW_COLLECTOR_TOKEN_SECRET, TW_DATABASE_PASSWORD
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	footer := `
# =============================================================================
# Notes:
# =============================================================================
#
# 1. Collector:
#    - mode "http" talks to the collection backend at base_url
#    - mode "direct" connects to targets over SSH (linux) or WinRM (windows)
#    - set token_secret to sign service tokens, or api_token for a static one
#
# 2. Registry:
#    - "static" uses registry.targets below
#    - "http" reads GET {base_url}/servers
#    - "postgres" reads the servers table (set migrate: true to create it)
#
# 3. Credentials:
#    - secrets typed at a prompt live in memory for the session only
#    - fallback profiles are development conveniences; disable them in
#      production or build with -tags hardened
# =============================================================================
`
	if _, err := fmt.Fprint(w, footer); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	return nil
}

// InitLogger initializes the global logger based on configuration.
// The returned closer releases the log file, if one was opened.
func InitLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
