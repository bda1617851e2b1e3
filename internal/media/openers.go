package media

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

//go:embed openers.toml
var openersTOML []byte

// OpenerDefinition defines how a program should be invoked for each link type
type OpenerDefinition struct {
	Description string          `toml:"description"`
	Platforms   []string        `toml:"platforms"`
	Command     string          `toml:"command,omitempty"` // executable when it differs from the opener name
	Workout     *LinkTypeConfig `toml:"workout,omitempty"`
	Song        *LinkTypeConfig `toml:"song,omitempty"`
	Web         *LinkTypeConfig `toml:"web,omitempty"`
}

// LinkTypeConfig holds the arguments for one link type
type LinkTypeConfig struct {
	Args        []string `toml:"args,omitempty"`
	ArgsDarwin  []string `toml:"args_darwin,omitempty"`
	ArgsLinux   []string `toml:"args_linux,omitempty"`
	ArgsWindows []string `toml:"args_windows,omitempty"`
}

type OpenersConfig struct {
	Openers map[string]OpenerDefinition `toml:"openers"`
}

type OpenerRegistry struct {
	openers map[string]OpenerDefinition
}

// NewOpenerRegistry creates a registry from the embedded TOML merged with
// the user's overrides.
func NewOpenerRegistry() (*OpenerRegistry, error) {
	var config OpenersConfig
	if err := toml.Unmarshal(openersTOML, &config); err != nil {
		return nil, fmt.Errorf("parsing openers.toml: %w", err)
	}

	registry := &OpenerRegistry{openers: config.Openers}
	if home, err := os.UserHomeDir(); err == nil {
		_ = registry.LoadFile(filepath.Join(home, ".config", "fitlist", "openers.toml"))
	}
	return registry, nil
}

// LoadFile merges definitions from path, overriding built-ins of the same
// name. A missing file is not an error.
func (r *OpenerRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var userConfig OpenersConfig
	if err := toml.Unmarshal(data, &userConfig); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if r.openers == nil {
		r.openers = make(map[string]OpenerDefinition)
	}
	for name, def := range userConfig.Openers {
		r.openers[name] = def
	}
	return nil
}

// GetCommand builds the command for an opener and link type
func (r *OpenerRegistry) GetCommand(openerName string, linkType LinkType, url string) (*exec.Cmd, error) {
	opener, exists := r.openers[openerName]
	if !exists {
		// Unknown openers get the URL as their only argument
		return exec.Command(openerName, url), nil
	}

	if !slices.Contains(opener.Platforms, runtime.GOOS) {
		return nil, fmt.Errorf("%s not supported on %s", openerName, runtime.GOOS)
	}

	var config *LinkTypeConfig
	switch linkType {
	case LinkWorkout:
		config = opener.Workout
	case LinkSong:
		config = opener.Song
	case LinkWeb:
		config = opener.Web
	}
	if config == nil {
		return nil, fmt.Errorf("%s doesn't open %s links", openerName, linkType)
	}

	command := openerName
	if opener.Command != "" {
		command = opener.Command
	}
	args := append(slices.Clone(r.getArgs(config)), url)
	return exec.Command(command, args...), nil
}

// getArgs returns the appropriate args for the current platform
func (r *OpenerRegistry) getArgs(config *LinkTypeConfig) []string {
	if config == nil {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		if len(config.ArgsDarwin) > 0 {
			return config.ArgsDarwin
		}
	case "linux":
		if len(config.ArgsLinux) > 0 {
			return config.ArgsLinux
		}
	case "windows":
		if len(config.ArgsWindows) > 0 {
			return config.ArgsWindows
		}
	}

	return config.Args
}

// IsAvailable checks if an opener is installed
func (r *OpenerRegistry) IsAvailable(openerName string) bool {
	command := openerName
	if def, ok := r.openers[openerName]; ok && def.Command != "" {
		command = def.Command
	}
	_, err := exec.LookPath(command)
	return err == nil
}

// FindAvailable returns the first installed opener from a list
func (r *OpenerRegistry) FindAvailable(openers []string) string {
	for _, o := range openers {
		if r.IsAvailable(o) {
			return o
		}
	}
	return ""
}
