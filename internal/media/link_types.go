package media

import (
	_ "embed"
	"net/url"
	"runtime"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed link_types.toml
var linkTypesTOML []byte

type TypeConfig struct {
	Hosts        []string `toml:"hosts"`
	PathPatterns []string `toml:"path_patterns"`
}

type TypesConfig struct {
	Workout   TypeConfig                `toml:"workout"`
	Song      TypeConfig                `toml:"song"`
	Platforms map[string]PlatformConfig `toml:"platforms"`
}

type PlatformConfig struct {
	DefaultOpener string `toml:"default_opener"`
}

type TypeDetector struct {
	config *TypesConfig
}

func NewTypeDetector() (*TypeDetector, error) {
	var config TypesConfig
	if _, err := toml.Decode(string(linkTypesTOML), &config); err != nil {
		return nil, err
	}

	return &TypeDetector{config: &config}, nil
}

// DetectType classifies a link. Any other http(s) link is LinkWeb.
func (d *TypeDetector) DetectType(link string) LinkType {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return LinkUnknown
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return LinkUnknown
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	switch {
	case d.matches(d.config.Workout, host, path):
		return LinkWorkout
	case d.matches(d.config.Song, host, path):
		return LinkSong
	default:
		return LinkWeb
	}
}

func (d *TypeDetector) GetDefaultOpener() string {
	if platformConfig, ok := d.config.Platforms[runtime.GOOS]; ok {
		return platformConfig.DefaultOpener
	}
	if fallback, ok := d.config.Platforms["fallback"]; ok {
		return fallback.DefaultOpener
	}
	return "open"
}

func (d *TypeDetector) matches(tc TypeConfig, host, path string) bool {
	if !slices.Contains(tc.Hosts, host) {
		return false
	}
	if len(tc.PathPatterns) == 0 {
		return true
	}
	for _, pattern := range tc.PathPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}
