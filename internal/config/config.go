package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration tree, populated from a config
// file (if present) overlaid with environment variables. Field groups match
// spec.md §6's configuration surface.
type Config struct {
	Destinations DestinationsConfig `mapstructure:"destinations"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Downloads    DownloadsConfig    `mapstructure:"downloads"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Advanced     AdvancedConfig     `mapstructure:"advanced"`
}

// DestinationsConfig holds the per-kind roots described in spec.md §6's
// filesystem layout.
type DestinationsConfig struct {
	AnimeRoot string `mapstructure:"anime_root"`
	TVRoot    string `mapstructure:"tv_root"`
	FilmRoot  string `mapstructure:"film_root"`
}

// DatabaseConfig configures the catalog store's sqlite connection.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	WALMode        bool   `mapstructure:"wal_mode"`
	AutoVacuum     bool   `mapstructure:"auto_vacuum"`
}

// DownloadsConfig configures the HLS fetcher backends.
type DownloadsConfig struct {
	Backend     string        `mapstructure:"backend"` // "segmented" | "mux" | "auto"
	BinaryPath  string        `mapstructure:"binary_path"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	ThreadCount int           `mapstructure:"thread_count"`
	RetryCount  int           `mapstructure:"retry_count"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxSpeed    string        `mapstructure:"max_speed"` // e.g. "15M", empty = unlimited
	TempDir     string        `mapstructure:"temp_dir"`
}

// SchedulerConfig configures the download scheduler's parallelism bound.
type SchedulerConfig struct {
	Parallelism     int `mapstructure:"parallelism"`      // global P, default 2
	AnimeSubBound   int `mapstructure:"anime_sub_bound"`   // default 3
	KeepCompleted   int `mapstructure:"keep_completed"`    // terminal-job LRU size, default 50
}

// ProvidersConfig selects which adapter backs each kind.
type ProvidersConfig struct {
	Default DefaultProviders `mapstructure:"default"`
}

// DefaultProviders names the adapter id used per kind when none is given
// explicitly on a Title.
type DefaultProviders struct {
	Anime  string `mapstructure:"anime"`
	Series string `mapstructure:"series"`
	Film   string `mapstructure:"film"`
}

// LoggingConfig configures the slog logger and lumberjack rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "text" | "json"
	File       string `mapstructure:"file"`
	Color      bool   `mapstructure:"color"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// TelegramConfig carries only the identifier the core needs to know about;
// the chat UI itself lives outside this module.
type TelegramConfig struct {
	AuthorizedChatID string `mapstructure:"authorized_chat_id"`
}

// AdvancedConfig is a catch-all for debug/override flags.
type AdvancedConfig struct {
	Debug            bool          `mapstructure:"debug"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present, mirroring spec.md §5's stated
// defaults (P=2, anime sub-bound 3, 100s download timeout, daily tick).
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           filepath.Join(getStateDir(), "acquisitiond", "catalog.db"),
			MaxConnections: 4,
			WALMode:        true,
			AutoVacuum:     true,
		},
		Downloads: DownloadsConfig{
			Backend:     "auto",
			BinaryPath:  "N_m3u8DL-RE",
			FFmpegPath:  "ffmpeg",
			ThreadCount: 16,
			RetryCount:  3,
			Timeout:     100 * time.Second,
			TempDir:     filepath.Join(os.TempDir(), "acquisitiond"),
		},
		Scheduler: SchedulerConfig{
			Parallelism:   2,
			AnimeSubBound: 3,
			KeepCompleted: 50,
		},
		Providers: ProvidersConfig{
			Default: DefaultProviders{
				Anime:  "allanime",
				Series: "streamingcommunity",
				Film:   "streamingcommunity",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Color:      true,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Advanced: AdvancedConfig{
			ReconcileInterval: 24 * time.Hour,
		},
	}
}

// Load reads a config file (if cfgFile is non-empty or a default one is
// found) and overlays ACQ_-prefixed environment variables, mirroring
// the teacher's viper-based cmd/greg/main.go bootstrap.
func Load(cfgFile string) (*Config, *viper.Viper, error) {
	v := viper.New()
	cfg := DefaultConfig()

	v.SetEnvPrefix("ACQ")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(getConfigDir(), "acquisitiond"))
	}

	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(cfg)

	if cfg.Destinations.AnimeRoot == "" || cfg.Destinations.TVRoot == "" || cfg.Destinations.FilmRoot == "" {
		return nil, nil, fmt.Errorf("destinations.anime_root, destinations.tv_root and destinations.film_root are required")
	}

	return cfg, v, nil
}

// bindEnv wires the viper keys to the explicit environment variable names
// spec.md §6 calls out (ACQ_* would otherwise require nested key munging
// that doesn't match the spec's flat var names).
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("destinations.anime_root", "ANIME_ROOT")
	_ = v.BindEnv("destinations.tv_root", "TV_ROOT")
	_ = v.BindEnv("destinations.film_root", "FILM_ROOT")
	_ = v.BindEnv("telegram.authorized_chat_id", "TELEGRAM_AUTHORIZED_CHAT_ID")
	_ = v.BindEnv("advanced.reconcile_interval", "RECONCILE_INTERVAL")
	_ = v.BindEnv("downloads.backend", "HLS_BACKEND")
	_ = v.BindEnv("downloads.thread_count", "HLS_THREADS")
	_ = v.BindEnv("downloads.timeout", "HLS_TIMEOUT")
	_ = v.BindEnv("downloads.max_speed", "HLS_MAX_SPEED")
	_ = v.BindEnv("downloads.binary_path", "HLS_BINARY_PATH")
	_ = v.BindEnv("downloads.temp_dir", "TEMP_DIR")
	_ = v.BindEnv("database.path", "CATALOG_PATH")
}

// applyLegacyEnv covers the handful of env vars whose type (time.Duration,
// int) viper's BindEnv cannot coerce from a raw string without a matching
// default already set to the right type; Unmarshal above already applied
// anything viper parsed, this is a second pass for stragglers.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Advanced.ReconcileInterval = d
		}
	}
	if v := os.Getenv("HLS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Downloads.Timeout = d
		}
	}
}

// InitializeDirs creates the state/config/cache directories the process
// needs before anything else runs.
func InitializeDirs() error {
	for _, dir := range []string{
		filepath.Join(getStateDir(), "acquisitiond"),
		filepath.Join(getConfigDir(), "acquisitiond"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// getStateDir returns the per-user state directory (logs, database).
func getStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

// getConfigDir returns the per-user config directory.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}
