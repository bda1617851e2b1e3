package config

import "time"

// TestConfig returns a config suitable for testing: no inter-request delay
// worth waiting for, short timeouts and a browser-free user agent.
func TestConfig() *Config {
	defaults := defaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Path:        ":memory:",
			BusyTimeout: 1 * time.Second,
		},
		Scraper: ScraperConfig{
			HTTPTimeout:       5 * time.Second,
			FetchTimeout:      5 * time.Second,
			MinRequestDelay:   10 * time.Millisecond,
			QueueSize:         16,
			UserAgent:         "fitlist-test/1.0",
			RequiredFields:    append([]string(nil), DefaultRequiredFields...),
			DefaultRetryAfter: 1 * time.Second,
		},
		Server: ServerConfig{
			Address:          "127.0.0.1:0",
			ReadTimeout:      5 * time.Second,
			WriteTimeout:     5 * time.Second,
			ShutdownTimeout:  time.Second,
			RefreshRateLimit: 1000,
		},
		UI:    defaults.UI,
		Media: defaults.Media,
		Keys:  defaults.Keys,
		Log:   LogConfig{Level: "off"},
	}
}
