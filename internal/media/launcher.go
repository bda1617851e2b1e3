package media

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/storage"
)

type LinkType int

const (
	LinkWorkout LinkType = iota
	LinkSong
	LinkWeb
	LinkUnknown
)

func (t LinkType) String() string {
	switch t {
	case LinkWorkout:
		return "workout"
	case LinkSong:
		return "song"
	case LinkWeb:
		return "web"
	default:
		return "unknown"
	}
}

type Launcher struct {
	workoutOpener string
	songOpener    string
	webOpener     string
	defaultOpener string
	registry      *OpenerRegistry
	detector      *TypeDetector
}

func NewLauncher(cfg *config.Config) *Launcher {
	registry, err := NewOpenerRegistry()
	if err != nil {
		registry = &OpenerRegistry{openers: make(map[string]OpenerDefinition)}
	}

	detector, err := NewTypeDetector()
	if err != nil {
		detector = &TypeDetector{config: &TypesConfig{}}
	}

	defaultOpener := cfg.Media.DefaultOpener
	if defaultOpener == "" {
		defaultOpener = detector.GetDefaultOpener()
	}

	l := &Launcher{
		defaultOpener: defaultOpener,
		registry:      registry,
		detector:      detector,
	}

	var set config.OpenerSet
	switch runtime.GOOS {
	case "linux":
		set = cfg.Media.Linux
	case "windows":
		set = cfg.Media.Windows
	default:
		set = cfg.Media.Darwin
	}

	l.workoutOpener = firstNonEmpty(registry.FindAvailable(set.Workout), defaultOpener)
	l.songOpener = firstNonEmpty(registry.FindAvailable(set.Song), defaultOpener)
	l.webOpener = firstNonEmpty(registry.FindAvailable(set.Web), defaultOpener)

	return l
}

func firstNonEmpty(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// Command resolves the program and arguments for link without starting it.
func (l *Launcher) Command(link string) (*exec.Cmd, error) {
	linkType := l.detector.DetectType(link)

	var openerName string
	switch linkType {
	case LinkWorkout:
		openerName = l.workoutOpener
	case LinkSong:
		openerName = l.songOpener
	case LinkWeb:
		openerName = l.webOpener
	default:
		return nil, fmt.Errorf("refusing to open %q: not an http(s) link", link)
	}
	if openerName == "" {
		return nil, fmt.Errorf("no application found to open %s links", linkType)
	}

	cmd, err := l.registry.GetCommand(openerName, linkType, link)
	if err != nil {
		cmd = exec.Command(openerName, link)
	}
	return cmd, nil
}

// Open starts the opener for link detached from the TUI.
func (l *Launcher) Open(link string) error {
	cmd, err := l.Command(link)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// SongLink returns the song's own link, or an Apple Music search for it
// when the playlist entry carried none.
func SongLink(song storage.Song) string {
	if song.Link != "" {
		return song.Link
	}
	term := strings.TrimSpace(song.Artist + " " + song.Title)
	if term == "" {
		return ""
	}
	return "https://music.apple.com/us/search?term=" + url.QueryEscape(term)
}
