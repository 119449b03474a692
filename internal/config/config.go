// Package config handles pueue-webui configuration loading and platform path resolution.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bridge.
type Config struct {
	Pueue     PueueConfig     `yaml:"pueue"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Watch     WatchConfig     `yaml:"watch"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

// PueueConfig describes the external queue manager.
type PueueConfig struct {
	Binary     string        `yaml:"binary"`
	DataDir    string        `yaml:"data_dir"` // pueue state directory (watched for status changes)
	LogDir     string        `yaml:"log_dir"`  // task log directory (watched for log tailing)
	Timeout    time.Duration `yaml:"timeout"`  // 0 = no timeout
	ScrubField string        `yaml:"scrub_field"`
}

// BridgeConfig tunes the protocol session.
type BridgeConfig struct {
	MetaFile        string        `yaml:"meta_file"`
	StatusDebounce  time.Duration `yaml:"status_debounce"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	DefaultLogLines int           `yaml:"default_log_lines"`
	DefaultLogBytes int64         `yaml:"default_log_bytes"`
}

// WatchConfig selects the filesystem watch strategy.
type WatchConfig struct {
	Mode         string        `yaml:"mode"` // auto, notify, poll
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WebSocketConfig defines the bridged WebSocket listener.
type WebSocketConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig defines diagnostic logging. Logs never go to stdout.
type LogConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// DefaultConfig returns a config with platform defaults resolved.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Pueue: PueueConfig{
			Binary:     "pueue",
			DataDir:    dataDir,
			LogDir:     filepath.Join(dataDir, "task_logs"),
			ScrubField: "envs",
		},
		Bridge: BridgeConfig{
			MetaFile:        filepath.Join(dataDir, "pueue_webui.json"),
			StatusDebounce:  100 * time.Millisecond,
			DrainTimeout:    5 * time.Second,
			DefaultLogLines: 1000,
			DefaultLogBytes: 500000,
		},
		Watch: WatchConfig{
			Mode:         DefaultWatchMode(runtime.GOOS),
			PollInterval: time.Second,
		},
		WebSocket: WebSocketConfig{
			Host: "localhost",
			Port: 9092,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the directory pueue keeps its state and task logs in.
func DefaultDataDir() string {
	return dataDirFor(runtime.GOOS, os.Getenv)
}

func dataDirFor(goos string, getenv func(string) string) string {
	homeDir, _ := os.UserHomeDir()

	switch goos {
	case "windows":
		if dir := getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "pueue")
		}
		return filepath.Join(homeDir, "AppData", "Local", "pueue")
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "pueue")
	default:
		if dir := getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, "pueue")
		}
		return filepath.Join(homeDir, ".local", "share", "pueue")
	}
}

// DefaultWatchMode picks the watch strategy for a platform. Windows
// change notifications are unreliable on network shares, so it polls.
func DefaultWatchMode(goos string) string {
	switch goos {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return "auto"
	default:
		return "poll"
	}
}

// Load reads configuration from the default path or returns defaults.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	dataDir := cfg.Pueue.DataDir
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	cfg.deriveDirs(dataDir)
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("PUEUE_WEBUI_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "pueue-webui", "config.yaml")
}

func (c *Config) expandEnvVars() {
	c.Pueue.DataDir = os.ExpandEnv(c.Pueue.DataDir)
	c.Pueue.LogDir = os.ExpandEnv(c.Pueue.LogDir)
	c.Bridge.MetaFile = os.ExpandEnv(c.Bridge.MetaFile)
	c.WebSocket.JWTSecret = os.ExpandEnv(c.WebSocket.JWTSecret)
	c.Log.SentryDSN = os.ExpandEnv(c.Log.SentryDSN)
}

// deriveDirs keeps log_dir and meta_file under a relocated data_dir unless
// they were set explicitly.
func (c *Config) deriveDirs(defaultDataDir string) {
	if c.Pueue.DataDir == defaultDataDir {
		return
	}
	if c.Pueue.LogDir == filepath.Join(defaultDataDir, "task_logs") {
		c.Pueue.LogDir = filepath.Join(c.Pueue.DataDir, "task_logs")
	}
	if c.Bridge.MetaFile == filepath.Join(defaultDataDir, "pueue_webui.json") {
		c.Bridge.MetaFile = filepath.Join(c.Pueue.DataDir, "pueue_webui.json")
	}
}
