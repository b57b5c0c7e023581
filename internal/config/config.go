// Package config loads lazyns settings with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the base name of the configuration file, without extension.
const FileName = "lazyns"

// EnvPrefix prefixes environment overrides, e.g. LAZYNS_LOGGING_LEVEL.
const EnvPrefix = "LAZYNS"

// Config is the complete lazyns configuration.
type Config struct {
	// Roots are the directories to manage and the namespaces they populate
	Roots []RootConfig `mapstructure:"roots"`

	// Ignore, Collapse and EagerExclude hold glob patterns
	Ignore       []string `mapstructure:"ignore"`
	Collapse     []string `mapstructure:"collapse"`
	EagerExclude []string `mapstructure:"eager_exclude"`

	// Reloading enables Reload; it must be set before setup
	Reloading bool `mapstructure:"reloading"`

	// Eager loads every binding right after setup
	Eager bool `mapstructure:"eager"`

	// Tag names the loader in logs; empty derives one from its ID
	Tag string `mapstructure:"tag"`

	// Inflections override the binding name of specific basenames
	Inflections map[string]string `mapstructure:"inflections"`

	Logging LoggingConfig `mapstructure:"logging"`
	Mount   MountConfig   `mapstructure:"mount"`
	State   StateConfig   `mapstructure:"state"`
}

// RootConfig is one root directory.
type RootConfig struct {
	Path string `mapstructure:"path"`
	// Namespace is a binding path below the top-level namespace; empty
	// means the top-level namespace itself
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MountConfig controls the FUSE view.
type MountConfig struct {
	Point string `mapstructure:"point"`
}

// StateConfig controls where manifests are written.
type StateConfig struct {
	// Path of the manifest; empty disables manifests
	Path    string `mapstructure:"path"`
	Backups int    `mapstructure:"backups"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Roots:        []RootConfig{},
		Ignore:       []string{},
		Collapse:     []string{},
		EagerExclude: []string{},
		Inflections:  map[string]string{},
		Logging: LoggingConfig{
			Level: "info",
		},
		State: StateConfig{
			Backups: 5,
		},
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("roots", defaults.Roots)
	v.SetDefault("ignore", defaults.Ignore)
	v.SetDefault("collapse", defaults.Collapse)
	v.SetDefault("eager_exclude", defaults.EagerExclude)
	v.SetDefault("reloading", defaults.Reloading)
	v.SetDefault("eager", defaults.Eager)
	v.SetDefault("tag", defaults.Tag)
	v.SetDefault("inflections", defaults.Inflections)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("mount.point", defaults.Mount.Point)
	v.SetDefault("state.path", defaults.State.Path)
	v.SetDefault("state.backups", defaults.State.Backups)
}

// New returns a viper instance with defaults and LAZYNS_* environment
// overrides. cfgFile selects the file to read; when empty, lazyns.yaml
// (or .toml, .json) is searched in the working directory and in
// ConfigDir. A missing file is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "lazyns"), nil
}

// Load reads the configuration from v, resolves relative paths against
// the directory of the config file in use (or the working directory) and
// validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	baseDir := "."
	if used := v.ConfigFileUsed(); used != "" {
		baseDir = filepath.Dir(used)
	}
	if err := cfg.ResolvePaths(baseDir); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ResolvePaths makes every path and pattern absolute. A leading ~ expands
// to the home directory.
func (c *Config) ResolvePaths(baseDir string) error {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	for i := range c.Roots {
		c.Roots[i].Path = resolvePath(base, c.Roots[i].Path)
	}
	for _, patterns := range [][]string{c.Ignore, c.Collapse, c.EagerExclude} {
		for i := range patterns {
			patterns[i] = resolvePath(base, patterns[i])
		}
	}
	c.Mount.Point = resolvePath(base, c.Mount.Point)
	c.State.Path = resolvePath(base, c.State.Path)
	return nil
}

func resolvePath(base, path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}
