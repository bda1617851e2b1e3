package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Server   ServerConfig   `mapstructure:"server"`
	UI       UIConfig       `mapstructure:"ui"`
	Media    MediaConfig    `mapstructure:"media"`
	Keys     KeyConfig      `mapstructure:"keys"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	SearchIndex string        `mapstructure:"search_index"`
	PageArchive string        `mapstructure:"page_archive"`
}

type ScraperConfig struct {
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MinRequestDelay   time.Duration `mapstructure:"min_request_delay"`
	QueueSize         int           `mapstructure:"queue_size"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequiredFields    []string      `mapstructure:"required_fields"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after"`
}

type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	RefreshRateLimit int           `mapstructure:"refresh_rate_limit"` // mutating requests per minute per client
}

type UIConfig struct {
	Colors  UIColors      `mapstructure:"colors"`
	Library LibraryConfig `mapstructure:"library"`
}

type UIColors struct {
	Primary    string `mapstructure:"primary"`
	Secondary  string `mapstructure:"secondary"`
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
	Surface    string `mapstructure:"surface"`
	Text       string `mapstructure:"text"`
	Muted      string `mapstructure:"muted"`
	Error      string `mapstructure:"error"`
	Success    string `mapstructure:"success"`
}

type LibraryConfig struct {
	TitleMaxLength   int `mapstructure:"title_max_length"`
	WordWrapMaxWidth int `mapstructure:"word_wrap_max_width"`
	WordWrapMinWidth int `mapstructure:"word_wrap_min_width"`
}

type MediaConfig struct {
	Darwin        OpenerSet `mapstructure:"darwin"`
	Linux         OpenerSet `mapstructure:"linux"`
	Windows       OpenerSet `mapstructure:"windows"`
	DefaultOpener string    `mapstructure:"default_opener"`
}

// OpenerSet lists candidate programs per link type, tried in order.
type OpenerSet struct {
	Workout []string `mapstructure:"workout"`
	Song    []string `mapstructure:"song"`
	Web     []string `mapstructure:"web"`
}

type KeyConfig struct {
	Modifier string      `mapstructure:"modifier"`
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Quit           string `mapstructure:"quit"`
	Search         string `mapstructure:"search"`
	AddWorkouts    string `mapstructure:"add_workouts"`
	Refresh        string `mapstructure:"refresh"`
	ToggleFavorite string `mapstructure:"toggle_favorite"`
	StaleOnly      string `mapstructure:"stale_only"`
	OpenLink       string `mapstructure:"open_link"`
	Back           string `mapstructure:"back"`
	Help           string `mapstructure:"help"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultRequiredFields are the metadata fields a record needs before it is
// considered fresh.
var DefaultRequiredFields = []string{"trainer", "duration", "genre"}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".fitlist")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "workouts.db"),
			BusyTimeout: 5 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
			PageArchive: filepath.Join(dataDir, "pages.db"),
		},
		Scraper: ScraperConfig{
			HTTPTimeout:       30 * time.Second,
			FetchTimeout:      45 * time.Second,
			MinRequestDelay:   2 * time.Second,
			QueueSize:         256,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequiredFields:    append([]string(nil), DefaultRequiredFields...),
			DefaultRetryAfter: 1 * time.Minute,
		},
		Server: ServerConfig{
			Address:          "127.0.0.1:8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			RefreshRateLimit: 30,
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:    "#FF6B6B",
				Secondary:  "#4ECDC4",
				Accent:     "#95E1D3",
				Background: "#1A1A2E",
				Surface:    "#16213E",
				Text:       "#EAEAEA",
				Muted:      "#94A3B8",
				Error:      "#F87171",
				Success:    "#4ADE80",
			},
			Library: LibraryConfig{
				TitleMaxLength:   60,
				WordWrapMaxWidth: 120,
				WordWrapMinWidth: 40,
			},
		},
		Media: MediaConfig{
			Darwin: OpenerSet{
				Workout: []string{"open"},
				Song:    []string{"open"},
				Web:     []string{"open"},
			},
			Linux: OpenerSet{
				Workout: []string{"xdg-open", "firefox", "chromium"},
				Song:    []string{"xdg-open", "firefox", "chromium"},
				Web:     []string{"xdg-open", "firefox"},
			},
			Windows: OpenerSet{
				Workout: []string{"start"},
				Song:    []string{"start"},
				Web:     []string{"start"},
			},
			DefaultOpener: getDefaultOpener(),
		},
		Keys: KeyConfig{
			Modifier: "ctrl",
			Bindings: KeyBindings{
				Quit:           "q",
				Search:         "s",
				AddWorkouts:    "n",
				Refresh:        "r",
				ToggleFavorite: "f",
				StaleOnly:      "u",
				OpenLink:       "o",
				Back:           "esc",
				Help:           "?",
			},
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "fitlist.log"),
		},
	}
}

func getDefaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "linux":
		return "xdg-open"
	case "windows":
		return "start"
	default:
		return "open"
	}
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "fitlist", "config.toml")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("database", cfg.Database)
	v.SetDefault("scraper", cfg.Scraper)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("ui", cfg.UI)
	v.SetDefault("media", cfg.Media)
	v.SetDefault("keys", cfg.Keys)
	v.SetDefault("log", cfg.Log)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FITLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Decode onto the defaults so a partial section keeps its other values.
	config := *defaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the scraper and coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Scraper.MinRequestDelay < 0 {
		return fmt.Errorf("scraper.min_request_delay must not be negative")
	}
	if c.Scraper.QueueSize <= 0 {
		return fmt.Errorf("scraper.queue_size must be positive, got %d", c.Scraper.QueueSize)
	}
	if c.Scraper.FetchTimeout <= 0 {
		return fmt.Errorf("scraper.fetch_timeout must be positive")
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Database.PageArchive = expandPath(cfg.Database.PageArchive)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	dbCfg := map[string]any{
		"path":         config.Database.Path,
		"busy_timeout": config.Database.BusyTimeout.String(),
		"search_index": config.Database.SearchIndex,
		"page_archive": config.Database.PageArchive,
	}

	scraperCfg := map[string]any{
		"http_timeout":        config.Scraper.HTTPTimeout.String(),
		"fetch_timeout":       config.Scraper.FetchTimeout.String(),
		"min_request_delay":   config.Scraper.MinRequestDelay.String(),
		"queue_size":          config.Scraper.QueueSize,
		"user_agent":          config.Scraper.UserAgent,
		"required_fields":     config.Scraper.RequiredFields,
		"default_retry_after": config.Scraper.DefaultRetryAfter.String(),
	}

	serverCfg := map[string]any{
		"address":            config.Server.Address,
		"read_timeout":       config.Server.ReadTimeout.String(),
		"write_timeout":      config.Server.WriteTimeout.String(),
		"shutdown_timeout":   config.Server.ShutdownTimeout.String(),
		"refresh_rate_limit": config.Server.RefreshRateLimit,
	}

	v.Set("database", dbCfg)
	v.Set("scraper", scraperCfg)
	v.Set("server", serverCfg)
	v.Set("ui", config.UI)
	v.Set("media", config.Media)
	v.Set("keys", config.Keys)
	v.Set("log", config.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
