package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/loykin/serverctl/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. SERVERCTL_SERVERS_BASE_DIR.
const EnvPrefix = "SERVERCTL"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Servers    ServersConfig    `toml:"servers" mapstructure:"servers"`
	Extraction ExtractionConfig `toml:"extraction" mapstructure:"extraction"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Server     HTTPConfig       `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
}

// ServersConfig locates installations and describes how they are driven.
type ServersConfig struct {
	BaseDir        string        `toml:"base_dir" mapstructure:"base_dir"`
	Prefix         string        `toml:"prefix" mapstructure:"prefix"`
	Port           int           `toml:"port" mapstructure:"port"`
	VendorPrefix   string        `toml:"vendor_prefix" mapstructure:"vendor_prefix"`
	BindAddress    string        `toml:"bind_address" mapstructure:"bind_address"`
	ManagementPort int           `toml:"management_port" mapstructure:"management_port"`
	CLIScript      string        `toml:"cli_script" mapstructure:"cli_script"`
	StopTimeout    int           `toml:"stop_timeout" mapstructure:"stop_timeout"` // seconds
	ConsoleLog     string        `toml:"console_log" mapstructure:"console_log"`
	CommandTimeout time.Duration `toml:"command_timeout" mapstructure:"command_timeout"`
	Env            []string      `toml:"env" mapstructure:"env"`
	EnvFiles       []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv       bool          `toml:"use_os_env" mapstructure:"use_os_env"`
}

// ExtractionConfig sizes the extraction worker pool.
type ExtractionConfig struct {
	CoreSize          int           `toml:"core_size" mapstructure:"core_size"`
	MaxSize           int           `toml:"max_size" mapstructure:"max_size"`
	QueueCapacity     int           `toml:"queue_capacity" mapstructure:"queue_capacity"`
	KeepAlive         time.Duration `toml:"keep_alive" mapstructure:"keep_alive"`
	UploadDir         string        `toml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadBytes    int64         `toml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RetentionTTL      time.Duration `toml:"retention_ttl" mapstructure:"retention_ttl"`
	RetentionSchedule string        `toml:"retention_schedule" mapstructure:"retention_schedule"`
}

// HTTPConfig configures the REST surface.
type HTTPConfig struct {
	Listen   string    `toml:"listen" mapstructure:"listen"`
	BasePath string    `toml:"base_path" mapstructure:"base_path"`
	TLS      TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the REST API over HTTPS. CertFile/KeyFile take precedence
// over Dir, which holds tls.crt and tls.key (generated when AutoGenerate).
type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	ValidDays    int    `toml:"valid_days" mapstructure:"valid_days"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"` // 1.2 or 1.3
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig selects the event sink. An empty DSN disables history.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

// Defaults returns the configuration used when a key is absent.
func Defaults() FileConfig {
	return FileConfig{
		Servers: ServersConfig{
			Prefix:         "",
			Port:           8080,
			VendorPrefix:   "jboss-eap",
			BindAddress:    "0.0.0.0",
			ManagementPort: 9990,
			CLIScript:      defaultCLIScript(),
			StopTimeout:    300,
			CommandTimeout: 15 * time.Second,
		},
		Extraction: ExtractionConfig{
			CoreSize:          2,
			MaxSize:           5,
			QueueCapacity:     100,
			KeepAlive:         60 * time.Second,
			MaxUploadBytes:    5 << 30,
			RetentionTTL:      24 * time.Hour,
			RetentionSchedule: "@every 10m",
		},
		Log: logger.Config{
			Level:  "info",
			Format: "text",
		},
		Server: HTTPConfig{
			Listen:   ":8090",
			BasePath: "/api",
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
	}
}

func defaultCLIScript() string {
	if runtime.GOOS == "windows" {
		return "jboss-cli.bat"
	}
	return "jboss-cli.sh"
}

// newViper prepares a viper instance with defaults and environment overrides.
// Every key gets a default so AutomaticEnv can resolve it during Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("servers.base_dir", d.Servers.BaseDir)
	v.SetDefault("servers.prefix", d.Servers.Prefix)
	v.SetDefault("servers.port", d.Servers.Port)
	v.SetDefault("servers.vendor_prefix", d.Servers.VendorPrefix)
	v.SetDefault("servers.bind_address", d.Servers.BindAddress)
	v.SetDefault("servers.management_port", d.Servers.ManagementPort)
	v.SetDefault("servers.cli_script", d.Servers.CLIScript)
	v.SetDefault("servers.stop_timeout", d.Servers.StopTimeout)
	v.SetDefault("servers.console_log", d.Servers.ConsoleLog)
	v.SetDefault("servers.command_timeout", d.Servers.CommandTimeout)
	v.SetDefault("servers.use_os_env", d.Servers.UseOSEnv)

	v.SetDefault("extraction.core_size", d.Extraction.CoreSize)
	v.SetDefault("extraction.max_size", d.Extraction.MaxSize)
	v.SetDefault("extraction.queue_capacity", d.Extraction.QueueCapacity)
	v.SetDefault("extraction.keep_alive", d.Extraction.KeepAlive)
	v.SetDefault("extraction.upload_dir", d.Extraction.UploadDir)
	v.SetDefault("extraction.max_upload_bytes", d.Extraction.MaxUploadBytes)
	v.SetDefault("extraction.retention_ttl", d.Extraction.RetentionTTL)
	v.SetDefault("extraction.retention_schedule", d.Extraction.RetentionSchedule)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.show_time", true)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.valid_days", 0)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsn", d.History.DSN)
	return v
}

// Load reads the TOML file at path (optional when empty), applies defaults and
// environment overrides, then validates the result.
func Load(path string) (*FileConfig, error) {
	v := newViper()
	if path != "" {
		// Mitigate G304: sanitize user-provided path by cleaning it before use.
		v.SetConfigFile(filepath.Clean(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks ranges and required fields.
func (c *FileConfig) Validate() error {
	var errs []error
	s := c.Servers
	if strings.TrimSpace(s.BaseDir) == "" {
		errs = append(errs, fmt.Errorf("%w: servers.base_dir is required", ErrInvalid))
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: servers.port %d out of range", ErrInvalid, s.Port))
	}
	if s.ManagementPort < 1 || s.ManagementPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: servers.management_port %d out of range", ErrInvalid, s.ManagementPort))
	}
	if s.StopTimeout < 10 || s.StopTimeout > 600 {
		errs = append(errs, fmt.Errorf("%w: servers.stop_timeout must be within [10, 600] seconds", ErrInvalid))
	}
	e := c.Extraction
	if e.CoreSize < 1 {
		errs = append(errs, fmt.Errorf("%w: extraction.core_size must be positive", ErrInvalid))
	}
	if e.MaxSize < e.CoreSize {
		errs = append(errs, fmt.Errorf("%w: extraction.max_size must be >= core_size", ErrInvalid))
	}
	if e.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("%w: extraction.queue_capacity must not be negative", ErrInvalid))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, fmt.Errorf("%w: history.dsn is required when history is enabled", ErrInvalid))
	}
	return errors.Join(errs...)
}

// UploadDir returns the directory uploaded archives are stored in.
func (c *FileConfig) UploadDir() string {
	if c.Extraction.UploadDir != "" {
		return c.Extraction.UploadDir
	}
	return filepath.Join(c.Servers.BaseDir, "ServerZip")
}

// LaunchEnv composes the environment handed to started servers: optional OS
// environment, then env_files in order, then the inline env list.
func (s ServersConfig) LaunchEnv() ([]string, error) {
	var out []string
	for _, p := range s.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, s.Env...), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored. Order of the file is preserved.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
