package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LogLevel defines the minimum severity for log records.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogFormat selects how log records are encoded.
type LogFormat string

const (
	// LogFormatJSON writes one JSON object per record.
	LogFormatJSON LogFormat = "json"
	// LogFormatConsole writes human readable records.
	LogFormatConsole LogFormat = "console"
)

const (
	defaultPort                   = 80
	defaultPrivate                = false
	defaultAllowParentDirectories = false
	defaultH2C                    = false
	defaultLogLevel               = LogLevelInfo
	defaultLogFormat              = LogFormatJSON
	defaultLogTarget              = "stdout"
)

var defaultIndexFiles = []string{"index.html"}

// Config is the top-level configuration structure.
type Config struct {
	Server    *ServerConfig     `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Logging   *LoggingConfig    `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
	Metrics   *MetricsConfig    `json:"metrics,omitempty" toml:"metrics,omitempty" yaml:"metrics,omitempty"`
	MimeTypes map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`

	// OriginalFilePath is the file the configuration was loaded from, if any.
	OriginalFilePath string `json:"-" toml:"-" yaml:"-"`
}

// ServerConfig holds the sharing and listener settings.
type ServerConfig struct {
	Directory              *string  `json:"directory,omitempty" toml:"directory,omitempty" yaml:"directory,omitempty"`
	Port                   *int     `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
	Private                *bool    `json:"private,omitempty" toml:"private,omitempty" yaml:"private,omitempty"`
	AllowParentDirectories *bool    `json:"allow_parent_directories,omitempty" toml:"allow_parent_directories,omitempty" yaml:"allow_parent_directories,omitempty"`
	IndexFiles             []string `json:"index_files,omitempty" toml:"index_files,omitempty" yaml:"index_files,omitempty"`
	H2C                    *bool    `json:"h2c,omitempty" toml:"h2c,omitempty" yaml:"h2c,omitempty"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel  `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	Format   LogFormat `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	// Target is "stdout" or "stderr".
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	// File, when set, receives a JSON copy of every record in append mode.
	File *string `json:"file,omitempty" toml:"file,omitempty" yaml:"file,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address *string `json:"address,omitempty" toml:"address,omitempty" yaml:"address,omitempty"`
}

// ConfigError reports a problem with a configuration file or value.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config error")
	if e.FilePath != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.FilePath)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig reads, parses, defaults and validates the configuration file at
// path. The format is chosen by extension (.json, .toml, .yaml, .yml); any
// other extension is tried as JSON, then TOML, then YAML.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: path, Message: "configuration file is empty"}
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if err := decodeTOML(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse TOML config", Err: err}
		}
	case ".yaml", ".yml":
		if err := decodeYAML(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to parse YAML config", Err: err}
		}
	default:
		if err := autoDetect(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: path, Message: "failed to auto-detect and parse config", Err: err}
		}
	}

	cfg.OriginalFilePath = path
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, &ConfigError{FilePath: path, Message: "invalid configuration", Err: err}
	}
	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func autoDetect(data []byte, cfg *Config) error {
	jsonErr := decodeJSON(data, cfg)
	if jsonErr == nil {
		return nil
	}
	*cfg = Config{}
	tomlErr := decodeTOML(data, cfg)
	if tomlErr == nil {
		return nil
	}
	*cfg = Config{}
	yamlErr := decodeYAML(data, cfg)
	if yamlErr == nil {
		return nil
	}
	*cfg = Config{}
	return fmt.Errorf("JSON error: %v; TOML error: %v; YAML error: %v", jsonErr, tomlErr, yamlErr)
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	s := cfg.Server
	if s.Port == nil {
		s.Port = intPtr(defaultPort)
	}
	if s.Private == nil {
		s.Private = boolPtr(defaultPrivate)
	}
	if s.AllowParentDirectories == nil {
		s.AllowParentDirectories = boolPtr(defaultAllowParentDirectories)
	}
	if len(s.IndexFiles) == 0 {
		s.IndexFiles = append([]string(nil), defaultIndexFiles...)
	}
	if s.H2C == nil {
		s.H2C = boolPtr(defaultH2C)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	l := cfg.Logging
	if l.LogLevel == "" {
		l.LogLevel = defaultLogLevel
	}
	if l.Format == "" {
		l.Format = defaultLogFormat
	}
	if l.Target == nil {
		l.Target = strPtr(defaultLogTarget)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.MimeTypes == nil {
		cfg.MimeTypes = map[string]string{}
	}
}

// Validate checks a defaulted configuration. The shared directory itself is
// checked separately by CheckDirectory.
func Validate(cfg *Config) error {
	var errs []error

	s := cfg.Server
	if s.Directory != nil && strings.TrimSpace(*s.Directory) == "" {
		errs = append(errs, errors.New("server.directory, if provided, cannot be empty"))
	}
	if s.Port != nil && (*s.Port < 0 || *s.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", *s.Port))
	}
	for i, name := range s.IndexFiles {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			errs = append(errs, fmt.Errorf("server.index_files[%d] %q must be a plain file name", i, name))
		}
	}

	l := cfg.Logging
	switch l.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		errs = append(errs, fmt.Errorf("logging.log_level %q is invalid; must be one of DEBUG, INFO, WARNING, ERROR", l.LogLevel))
	}
	switch l.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is invalid; must be json or console", l.Format))
	}
	if l.Target != nil && *l.Target != "stdout" && *l.Target != "stderr" {
		errs = append(errs, fmt.Errorf("logging.target %q is invalid; must be stdout or stderr", *l.Target))
	}
	if l.File != nil && strings.TrimSpace(*l.File) == "" {
		errs = append(errs, errors.New("logging.file, if provided, cannot be empty"))
	}

	if cfg.Metrics.Address != nil && strings.TrimSpace(*cfg.Metrics.Address) == "" {
		errs = append(errs, errors.New("metrics.address, if provided, cannot be empty"))
	}

	for ext, mimeType := range cfg.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("mime_types key %q must start with a '.'", ext))
		}
		if strings.TrimSpace(mimeType) == "" {
			errs = append(errs, fmt.Errorf("mime_types value for %q cannot be empty", ext))
		}
	}

	return errors.Join(errs...)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
