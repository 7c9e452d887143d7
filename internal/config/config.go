package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultLocations are backed up when backup.locations is not configured. They
// are relative to the home directory.
var DefaultLocations = []string{
	".git-template",
	".gitconfig",
	".gitignore_global",
	".gnupg",
	".jump",
	".ssh",
	".vim",
	".vimrc",
	".zprofile",
	".zsh_history",
	".zshrc",
	"iterm2-colors",
	"iterm2-prefs",
}

type Config struct {
	LogJSON bool          `mapstructure:"log_json"`
	NoColor bool          `mapstructure:"no_color"`
	DryRun  bool          `mapstructure:"dry_run"`
	Audit   bool          `mapstructure:"audit"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

type BackupConfig struct {
	Locations []string `mapstructure:"locations"`
	Keep      int      `mapstructure:"keep"`
	Retention string   `mapstructure:"retention"`
}

type ArchiveConfig struct {
	Compression string `mapstructure:"compression"`
	Level       int    `mapstructure:"level"`
}

type CatalogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	listeners    []func(*Config)
)

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dotvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".dotvault"))
		}
	}

	v.SetEnvPrefix("DOTVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		return err
	}
	set(cfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			if cfg, err := load(v); err == nil {
				set(cfg)
			}
		})
		v.WatchConfig()
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_json", false)
	v.SetDefault("no_color", false)
	v.SetDefault("dry_run", true)
	v.SetDefault("audit", false)
	v.SetDefault("backup.locations", DefaultLocations)
	v.SetDefault("backup.keep", 0)
	v.SetDefault("backup.retention", "")
	v.SetDefault("archive.compression", "deflate")
	v.SetDefault("archive.level", 0)
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", defaultCatalogPath())
}

func defaultCatalogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dotvault", "catalog.db")
	}
	return filepath.Join(home, ".dotvault", "catalog.db")
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func set(cfg *Config) {
	mu.Lock()
	globalConfig = cfg
	fns := append([]func(*Config){}, listeners...)
	mu.Unlock()

	for _, fn := range fns {
		fn(cfg)
	}
}

// OnChange registers fn to run after every successful reload.
func OnChange(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	listeners = append(listeners, fn)
}

func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		return &Config{
			DryRun:  true,
			Backup:  BackupConfig{Locations: DefaultLocations},
			Archive: ArchiveConfig{Compression: "deflate"},
			Catalog: CatalogConfig{Enabled: true, Path: defaultCatalogPath()},
		}
	}
	return globalConfig
}

func reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	listeners = nil
}
