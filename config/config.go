package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/starbridge/errors"
)

// FileName is the configuration file looked up by DefaultPath.
const FileName = "starbridge.yaml"

var validate = validator.New()

// Config is the bridge configuration file.
type Config struct {
	// ModulePaths are directories searched for guest modules, in order.
	ModulePaths []string `yaml:"module_paths" json:"module_paths,omitempty" validate:"dive,required" jsonschema:"description=Directories searched for .star and .wasm modules"`

	// AutoConvert sets whether imported modules convert value shapes.
	AutoConvert bool `yaml:"auto_convert" json:"auto_convert" jsonschema:"description=Convert guest values to Go shapes automatically,default=true"`

	LogLevel string `yaml:"log_level" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	// MaxSteps caps guest steps per host call. 0 means unlimited.
	MaxSteps uint64 `yaml:"max_steps" json:"max_steps,omitempty"`

	// Print selects where guest print output goes.
	Print string `yaml:"print" json:"print,omitempty" validate:"omitempty,oneof=stdout stderr discard" jsonschema:"enum=stdout,enum=stderr,enum=discard"`

	Wasm    WasmConfig    `yaml:"wasm" json:"wasm"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// WasmConfig controls .wasm guest modules.
type WasmConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MemoryLimitPages is the per-instance memory cap in 64KB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" json:"memory_limit_pages,omitempty" validate:"lte=65536" jsonschema:"maximum=65536"`

	WASI bool `yaml:"wasi" json:"wasi,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AutoConvert: true,
		LogLevel:    "warn",
		Print:       "stdout",
		Wasm:        WasmConfig{Enabled: true},
		Metrics:     MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// DefaultPath returns the configuration file in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "user config directory")
	}
	return filepath.Join(dir, "starbridge", FileName), nil
}

// Load reads and validates the file at path. Fields the file omits keep
// their defaults. Relative module paths are resolved against the file's
// directory.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "open config")
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i, p := range cfg.ModulePaths {
		if !filepath.IsAbs(p) {
			cfg.ModulePaths[i] = filepath.Join(base, p)
		}
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
// Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "invalid config")
	}
	return nil
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "encode config")
	}
	return buf.Bytes(), nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := reflector.Reflect(&Config{})
	s.Title = "starbridge configuration"

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "marshal schema")
	}
	return out, nil
}
