package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ShellSettings is the user's persisted shell preference.
type ShellSettings struct {
	Kind   string   `json:"kind" yaml:"kind" toml:"kind"`
	Path   string   `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Args   []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Distro string   `json:"distro,omitempty" yaml:"distro,omitempty" toml:"distro,omitempty"`
}

// Settings is the on-disk settings document. Unknown keys are ignored.
type Settings struct {
	Shell ShellSettings     `json:"shell" yaml:"shell" toml:"shell"`
	Env   map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// LoadSettings reads a settings file, picking the decoder from its extension.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	settings, err := ParseSettings(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

// ParseSettings decodes data in the format named by ext (".json", ".yaml", ".yml", ".toml").
func ParseSettings(ext string, data []byte) (*Settings, error) {
	var s Settings
	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = sonic.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	case ".toml":
		err = toml.Unmarshal(data, &s)
	default:
		return nil, fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	s.Shell.Kind = strings.ToLower(strings.TrimSpace(s.Shell.Kind))
	return &s, nil
}
