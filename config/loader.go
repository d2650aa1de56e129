package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	appName  = "jamcore"
	fileName = "jamcore.toml"
)

// DefaultPath returns the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, fileName)
}

// DefaultFile returns the embedded default configuration file.
func DefaultFile() []byte {
	return append([]byte(nil), defaultConfigFile...)
}

// Loader reads configuration from one file path plus environment and
// flags. Each Loader owns its own viper instance.
type Loader struct {
	path string
	v    *viper.Viper

	mu      sync.RWMutex
	current Config
}

// NewLoader creates a loader for path. An empty path means DefaultPath.
func NewLoader(path string) (*Loader, error) {
	if path == "" {
		path = DefaultPath()
	}

	defaults := viper.New()
	defaults.SetConfigType("toml")
	if err := defaults.ReadConfig(bytes.NewReader(defaultConfigFile)); err != nil {
		return nil, fmt.Errorf("read embedded default config: %w", err)
	}

	v := viper.New()
	for _, key := range defaults.AllKeys() {
		v.SetDefault(key, defaults.Get(key))
	}
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	v.SetEnvPrefix(appName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{path: path, v: v, current: Default()}, nil
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// EnsureFile writes the embedded default file to the config path if no
// file exists there yet. It reports whether a file was created.
func (l *Loader) EnsureFile() (bool, error) {
	if _, err := os.Stat(l.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(l.path, defaultConfigFile, 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Loader.EnsureFile",
		"path":     l.path,
	}).Info("Wrote default configuration file")

	return true, nil
}

// Load reads the file (if present), applies environment and flag
// overrides, and validates the result.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file %s: %w", l.path, err)
			}
		}
		logrus.WithFields(logrus.Fields{
			"function": "Loader.Load",
			"path":     l.path,
		}).Debug("No config file, using defaults")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Loader.Load",
		"path":        l.path,
		"preset":      cfg.Audio.Preset,
		"buffer_size": cfg.Network.BufferSize,
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch reloads the file whenever it is written and calls onChange with
// the previous and new configuration. Invalid edits are logged and
// ignored. Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func(prev, next Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so the directory is watched.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Loader.Watch",
		"path":     l.path,
	}).Info("Watching configuration file")

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			l.reload(onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Loader.Watch",
				"error":    err.Error(),
			}).Warn("Config watcher error")
		}
	}
}

func (l *Loader) reload(onChange func(prev, next Config)) {
	prev := l.Current()
	next, err := l.Load()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Loader.reload",
			"path":     l.path,
			"error":    err.Error(),
		}).Warn("Ignoring invalid configuration change")
		return
	}
	if next == prev {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Loader.reload",
		"path":     l.path,
	}).Info("Configuration reloaded")

	if onChange != nil {
		onChange(prev, next)
	}
}

// WriteFile saves cfg as TOML.
func WriteFile(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
