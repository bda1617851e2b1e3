package media

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/storage"
)

func TestDetectType(t *testing.T) {
	detector, err := NewTypeDetector()
	if err != nil {
		t.Fatalf("NewTypeDetector() error = %v", err)
	}

	tests := []struct {
		name     string
		url      string
		expected LinkType
	}{
		{name: "workout", url: "https://fitness.apple.com/us/workout/core-with-kim/1577451830", expected: LinkWorkout},
		{name: "regional workout", url: "https://fitness.apple.com/gb/workout/core-with-kim/1577451830?ref=x", expected: LinkWorkout},
		{name: "uppercase host", url: "HTTPS://Fitness.Apple.com/us/workout/a/1", expected: LinkWorkout},
		{name: "trainer page", url: "https://fitness.apple.com/us/trainer/kim/123", expected: LinkWeb},
		{name: "apple music song", url: "https://music.apple.com/us/song/hips-dont-lie/123", expected: LinkSong},
		{name: "apple music album", url: "https://music.apple.com/us/album/x/1?i=2", expected: LinkSong},
		{name: "spotify", url: "https://open.spotify.com/track/abc", expected: LinkSong},
		{name: "plain web page", url: "https://example.com/page.html", expected: LinkWeb},
		{name: "mailto", url: "mailto:someone@example.com", expected: LinkUnknown},
		{name: "file scheme", url: "file:///etc/passwd", expected: LinkUnknown},
		{name: "no host", url: "/us/workout/a/1", expected: LinkUnknown},
		{name: "empty", url: "", expected: LinkUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detector.DetectType(tt.url); got != tt.expected {
				t.Errorf("DetectType(%q) = %v, want %v", tt.url, got, tt.expected)
			}
		})
	}
}

func TestGetDefaultOpener(t *testing.T) {
	detector, err := NewTypeDetector()
	if err != nil {
		t.Fatalf("NewTypeDetector() error = %v", err)
	}

	want := map[string]string{"darwin": "open", "linux": "xdg-open", "windows": "start"}[runtime.GOOS]
	if want == "" {
		want = "open"
	}
	if got := detector.GetDefaultOpener(); got != want {
		t.Errorf("GetDefaultOpener() = %q, want %q", got, want)
	}

	empty := &TypeDetector{config: &TypesConfig{}}
	if got := empty.GetDefaultOpener(); got != "open" {
		t.Errorf("GetDefaultOpener() without platforms = %q, want open", got)
	}
}

func TestNewOpenerRegistry(t *testing.T) {
	registry, err := NewOpenerRegistry()
	if err != nil {
		t.Fatalf("NewOpenerRegistry() error = %v", err)
	}

	for _, name := range []string{"open", "xdg-open", "start", "firefox", "chromium"} {
		if _, ok := registry.openers[name]; !ok {
			t.Errorf("built-in opener %q missing", name)
		}
	}
	if registry.openers["start"].Command != "cmd" {
		t.Errorf("start should run through cmd, got %q", registry.openers["start"].Command)
	}
}

func TestOpenerRegistry_GetCommand(t *testing.T) {
	all := []string{"darwin", "linux", "windows"}
	registry := &OpenerRegistry{
		openers: map[string]OpenerDefinition{
			"browser": {
				Platforms: all,
				Workout:   &LinkTypeConfig{Args: []string{"--new-tab"}},
				Web:       &LinkTypeConfig{Args: []string{"--new-window"}, ArgsLinux: []string{"--linux"}, ArgsDarwin: []string{"--mac"}, ArgsWindows: []string{"--win"}},
			},
			"shell": {
				Platforms: all,
				Command:   "sh",
				Song:      &LinkTypeConfig{Args: []string{"-c", "echo"}},
			},
			"elsewhere": {
				Platforms: []string{"plan9"},
				Workout:   &LinkTypeConfig{},
			},
		},
	}

	platformArg := map[string]string{"darwin": "--mac", "linux": "--linux", "windows": "--win"}[runtime.GOOS]
	if platformArg == "" {
		platformArg = "--new-window"
	}

	const link = "https://fitness.apple.com/us/workout/a/1"
	tests := []struct {
		name     string
		opener   string
		linkType LinkType
		wantErr  bool
		wantArgs []string
	}{
		{name: "workout args", opener: "browser", linkType: LinkWorkout, wantArgs: []string{"browser", "--new-tab", link}},
		{name: "platform args", opener: "browser", linkType: LinkWeb, wantArgs: []string{"browser", platformArg, link}},
		{name: "unsupported link type", opener: "browser", linkType: LinkSong, wantErr: true},
		{name: "command override", opener: "shell", linkType: LinkSong, wantArgs: []string{"sh", "-c", "echo", link}},
		{name: "unsupported platform", opener: "elsewhere", linkType: LinkWorkout, wantErr: true},
		{name: "unknown opener", opener: "mystery", linkType: LinkWorkout, wantArgs: []string{"mystery", link}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := registry.GetCommand(tt.opener, tt.linkType, link)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !slices.Equal(cmd.Args, tt.wantArgs) {
				t.Errorf("GetCommand() args = %v, want %v", cmd.Args, tt.wantArgs)
			}
		})
	}

	// args slices are not shared between commands
	first, _ := registry.GetCommand("browser", LinkWorkout, "a")
	second, _ := registry.GetCommand("browser", LinkWorkout, "b")
	if first.Args[2] != "a" || second.Args[2] != "b" {
		t.Errorf("commands share argument storage: %v %v", first.Args, second.Args)
	}
}

func TestOpenerRegistry_LoadFile(t *testing.T) {
	registry, err := NewOpenerRegistry()
	if err != nil {
		t.Fatalf("NewOpenerRegistry() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "openers.toml")
	content := `
[openers.firefox]
description = "custom firefox"
platforms = ["linux"]
[openers.firefox.web]
args = ["--private-window"]

[openers.qutebrowser]
platforms = ["linux", "darwin"]
[openers.qutebrowser.workout]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := registry.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if got := registry.openers["firefox"].Description; got != "custom firefox" {
		t.Errorf("override not applied, description = %q", got)
	}
	if registry.openers["qutebrowser"].Workout == nil {
		t.Errorf("new opener not loaded")
	}

	if err := registry.LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("[openers\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := registry.LoadFile(bad); err == nil {
		t.Errorf("expected parse error")
	}
}

func TestOpenerRegistry_FindAvailable(t *testing.T) {
	registry := &OpenerRegistry{openers: map[string]OpenerDefinition{}}

	if got := registry.FindAvailable([]string{"definitely-not-installed-xyz"}); got != "" {
		t.Errorf("FindAvailable() = %q, want empty", got)
	}

	sh := "sh"
	if runtime.GOOS == "windows" {
		sh = "cmd"
	}
	if got := registry.FindAvailable([]string{"definitely-not-installed-xyz", sh}); got != sh {
		t.Errorf("FindAvailable() = %q, want %q", got, sh)
	}
}

func TestLauncher_Command(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Media.DefaultOpener = "fallback-opener"
	none := config.OpenerSet{Workout: []string{"not-installed-1"}, Song: []string{"not-installed-2"}}
	cfg.Media.Darwin, cfg.Media.Linux, cfg.Media.Windows = none, none, none

	l := NewLauncher(cfg)

	cmd, err := l.Command("https://fitness.apple.com/us/workout/a/1")
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if cmd.Args[0] != "fallback-opener" {
		t.Errorf("expected fallback opener, got %v", cmd.Args)
	}

	if _, err := l.Command("javascript:alert(1)"); err == nil {
		t.Errorf("non-http link should be refused")
	}
}

func TestSongLink(t *testing.T) {
	tests := []struct {
		name string
		song storage.Song
		want string
	}{
		{name: "own link", song: storage.Song{Artist: "A", Title: "B", Link: "https://music.apple.com/us/song/1"}, want: "https://music.apple.com/us/song/1"},
		{name: "search fallback", song: storage.Song{Artist: "Bad Bunny", Title: "Tití Me Preguntó"}, want: "https://music.apple.com/us/search?term=Bad+Bunny+Tit%C3%AD+Me+Pregunt%C3%B3"},
		{name: "nothing to search", song: storage.Song{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SongLink(tt.song); got != tt.want {
				t.Errorf("SongLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkTypeString(t *testing.T) {
	for lt, want := range map[LinkType]string{LinkWorkout: "workout", LinkSong: "song", LinkWeb: "web", LinkUnknown: "unknown"} {
		if got := lt.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", lt, got, want)
		}
	}
}
