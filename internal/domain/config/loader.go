package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileNames are the configuration files Discover looks for, in order.
var FileNames = []string{"acorn.yaml", "acorn.yml", "acorn.toml"}

// Loader loads configuration from the filesystem.
type Loader struct {
	lookup func(string) (string, bool)
}

// NewLoader creates a Loader that applies the process environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnv returns a Loader reading overrides through lookup.
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	return &Loader{lookup: lookup}
}

// Load reads the configuration at path. The project base directory is the
// directory containing the file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg := Default(filepath.Dir(abs))
	cfg.File = abs

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// Discover loads the first of FileNames found in dir, or returns the
// defaults rooted at dir when there is none.
func (l *Loader) Discover(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return l.Load(path)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return l.finish(Default(abs))
}

func (l *Loader) finish(cfg *Config) (*Config, error) {
	if l.lookup != nil {
		cfg.ApplyEnv(l.lookup)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode unmarshals data over cfg, so keys absent from the file keep their
// defaults. Unknown keys are errors.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return NewYAMLParseError(path, err)
		}
		return nil
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var de *toml.DecodeError
			if errors.As(err, &de) {
				row, col := de.Position()
				return NewTOMLParseError(path, row, col, err)
			}
			return NewTOMLParseError(path, 0, 0, err)
		}
		return nil
	default:
		return NewUnsupportedTypeError(path)
	}
}
