// Package config loads runtime settings from defaults, an optional file and
// NOCTRA_* environment variables, then checks them against a CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use an
// underscore, e.g. NOCTRA_FILE_NATIVE_THREADS.
const EnvPrefix = "NOCTRA"

//go:embed schema.cue
var schemaSource string

// Config is the decoded configuration.
type Config struct {
	DefaultBackend string     `mapstructure:"default_backend" json:"default_backend"`
	Relational     Relational `mapstructure:"relational" json:"relational"`
	FileNative     FileNative `mapstructure:"file_native" json:"file_native"`
	Session        Session    `mapstructure:"session" json:"session"`
	Log            Log        `mapstructure:"log" json:"log"`
}

// Relational configures the SQLite store.
type Relational struct {
	Path string `mapstructure:"path" json:"path"`
}

// FileNative configures the DuckDB engine. An empty path is in-memory and
// zero threads leaves the engine default.
type FileNative struct {
	Path    string `mapstructure:"path" json:"path"`
	Threads int    `mapstructure:"threads" json:"threads"`
}

// Session configures new sessions.
type Session struct {
	HistoryLimit int `mapstructure:"history_limit" json:"history_limit"`
}

// Log configures the CLI log handler.
type Log struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_backend", "sqlite")
	v.SetDefault("relational.path", ":memory:")
	v.SetDefault("file_native.path", "")
	v.SetDefault("file_native.threads", 0)
	v.SetDefault("session.history_limit", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// ValidationError reports a configuration that does not satisfy the schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// LogLevel returns the slog level for c.Log.Level.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
