// Package config loads txsync settings from defaults, an optional YAML file
// and TXSYNC_* environment variables, then checks them against an embedded
// CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/txsync/internal/channel"
)

//go:embed schema.cue
var schemaSource []byte

// EnvPrefix is prepended to every environment override, e.g.
// TXSYNC_API_BASE_URL.
const EnvPrefix = "TXSYNC"

// Config is the full configuration.
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	Channel       ChannelConfig       `mapstructure:"channel"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`

	// Path is the file the configuration was read from, if any.
	Path string `mapstructure:"-"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChannelConfig struct {
	// URL defaults to the API base URL with a ws(s) scheme and the
	// transactions channel path.
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Enabled          bool          `mapstructure:"enabled"`
}

type NotificationsConfig struct {
	Limit int `mapstructure:"limit"`
}

type JournalConfig struct {
	// Path of the SQLite journal. Empty disables journaling.
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `mapstructure:"addr"`
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration. An explicit path must exist; with no path,
// txsync.yaml is looked up in the working directory and then in the user
// config directory, and its absence is not an error.
func Load(path string) (*Config, error) {
	var dirs []string
	if path == "" {
		dirs = append(dirs, ".")
		if dir, err := os.UserConfigDir(); err == nil {
			dirs = append(dirs, filepath.Join(dir, "txsync"))
		}
	}
	return load(viper.New(), path, dirs)
}

func load(v *viper.Viper, path string, dirs []string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("txsync")
		v.SetConfigType("yaml")
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	if path != "" || len(dirs) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if path != "" || !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if cfg.Channel.URL == "" {
		u, err := channel.URLFromBase(cfg.API.BaseURL)
		if err != nil {
			return nil, &ValidationError{Problems: []string{fmt.Sprintf("api.base_url: %v", err)}}
		}
		cfg.Channel.URL = u
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("channel.url", "")
	v.SetDefault("channel.handshake_timeout", 5*time.Second)
	v.SetDefault("channel.enabled", true)
	v.SetDefault("notifications.limit", 5)
	v.SetDefault("journal.path", "")
	v.SetDefault("metrics.addr", "")
}

// Validate checks cfg against the embedded schema and reports every
// violation with its key path.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.Encode(document(cfg))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		verr := &ValidationError{}
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			verr.Problems = append(verr.Problems,
				fmt.Sprintf("%s: %s", strings.Join(e.Path(), "."), fmt.Sprintf(format, args...)))
		}
		return verr
	}
	return nil
}

// document is the schema's view of cfg.
func document(cfg *Config) map[string]any {
	return map[string]any{
		"api": map[string]any{
			"base_url":   cfg.API.BaseURL,
			"timeout_ms": cfg.API.Timeout.Milliseconds(),
		},
		"channel": map[string]any{
			"url":                  cfg.Channel.URL,
			"handshake_timeout_ms": cfg.Channel.HandshakeTimeout.Milliseconds(),
			"enabled":              cfg.Channel.Enabled,
		},
		"notifications": map[string]any{
			"limit": cfg.Notifications.Limit,
		},
		"journal": map[string]any{
			"path": cfg.Journal.Path,
		},
		"metrics": map[string]any{
			"addr": cfg.Metrics.Addr,
		},
	}
}
