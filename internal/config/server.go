package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel   = "mistralai/Mistral-Nemo-Instruct-2407"
	DefaultBaseURL = "https://router.huggingface.co/v1"
)

// ServerConfig holds configuration for the chat relay.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APIKey          string        `yaml:"api_key"`
	APIKeyParam     string        `yaml:"api_key_param"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ArchiveTable    string        `yaml:"archive_table"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ConfigFile      string        `yaml:"-"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = 2 * time.Minute
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	c.MetricsEnabled = true
}

// LoadFile overlays values from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
// Unparsable values leave the field unchanged and are reported together.
func (c *ServerConfig) ApplyEnv() error {
	var errs []error
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("HOST", ""); v != "" {
		c.Host = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		} else {
			errs = append(errs, fmt.Errorf("config: PORT %q: %w", v, err))
		}
	}
	if v := GetEnv("HF_API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("HF_API_KEY_PARAM", ""); v != "" {
		c.APIKeyParam = v
	}
	if v := GetEnv("HF_BASE_URL", ""); v != "" {
		c.BaseURL = v
	}
	if v := GetEnv("MODEL", ""); v != "" {
		c.Model = v
	}
	if v := GetEnv("UPSTREAM_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.UpstreamTimeout = d
		} else {
			errs = append(errs, fmt.Errorf("config: UPSTREAM_TIMEOUT %q: %w", v, err))
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("ARCHIVE_TABLE", ""); v != "" {
		c.ArchiveTable = v
	}
	if v := GetEnv("METRICS_ENABLED", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MetricsEnabled = b
		} else {
			errs = append(errs, fmt.Errorf("config: METRICS_ENABLED %q: %w", v, err))
		}
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("LOG_FORMAT", ""); v != "" {
		c.LogFormat = v
	}
	return errors.Join(errs...)
}

// BindFlags binds command line flags on fs using the current config values
// as defaults. The API key itself is deliberately not a flag so it never
// shows up in process listings.
func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file path")
	fs.StringVar(&c.Host, "host", c.Host, "HTTP listen host")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.APIKeyParam, "api-key-param", c.APIKeyParam, "SSM parameter holding the Hugging Face token")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "Hugging Face inference base URL")
	fs.StringVar(&c.Model, "model", c.Model, "hosted model identifier")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", c.UpstreamTimeout, "maximum time to wait for a complete upstream stream")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.StringVar(&c.ArchiveTable, "archive-table", c.ArchiveTable, "DynamoDB table for archiving exchanges; empty disables archiving")
	fs.BoolVar(&c.MetricsEnabled, "metrics", c.MetricsEnabled, "expose Prometheus metrics on /metrics")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (console, json)")
}

// Validate reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config: upstream timeout must be positive, got %s", c.UpstreamTimeout)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("config: model must not be empty")
	}
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.APIKeyParam) == "" {
		return errors.New("config: HF_API_KEY or HF_API_KEY_PARAM must be set")
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NeedsAWS reports whether any configured feature talks to AWS.
func (c *ServerConfig) NeedsAWS() bool {
	return (strings.TrimSpace(c.APIKey) == "" && c.APIKeyParam != "") || c.ArchiveTable != ""
}

// GetEnv returns the value of key or def when unset.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load resolves configuration with precedence defaults < file < env < args.
// The config file path itself may come from CONFIG_FILE or --config.
func Load(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	var c ServerConfig
	c.SetDefaults()
	if err := c.ApplyEnv(); err != nil {
		return c, err
	}
	if p := configFlag(args); p != "" {
		c.ConfigFile = p
	}
	if c.ConfigFile != "" {
		if err := c.LoadFile(c.ConfigFile); err != nil {
			return c, err
		}
		if err := c.ApplyEnv(); err != nil {
			return c, err
		}
	}
	c.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, nil
}

func configFlag(args []string) string {
	for i, a := range args {
		switch {
		case (a == "--config" || a == "-config") && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		}
	}
	return ""
}
