package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/pders01/fitlist/internal/config"
)

// keyMap holds the configurable bindings. Action keys carry the modifier
// prefix; navigation keys do not.
type keyMap struct {
	Add       key.Binding
	Refresh   key.Binding
	Favorite  key.Binding
	StaleOnly key.Binding
	Open      key.Binding
	Search    key.Binding
	Back      key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func modifierPrefix(cfg *config.Config) string {
	if cfg.Keys.Modifier == "" {
		return ""
	}
	return cfg.Keys.Modifier + "+"
}

func newKeyMap(cfg *config.Config) keyMap {
	mod := modifierPrefix(cfg)
	b := cfg.Keys.Bindings

	action := func(k, desc string) key.Binding {
		return key.NewBinding(key.WithKeys(mod+k), key.WithHelp(mod+k, desc))
	}

	return keyMap{
		Add:       action(b.AddWorkouts, "add"),
		Refresh:   action(b.Refresh, "refresh"),
		Favorite:  action(b.ToggleFavorite, "favorite"),
		StaleOnly: action(b.StaleOnly, "stale only"),
		Open:      action(b.OpenLink, "open"),
		Search:    action(b.Search, "search"),
		Back:      key.NewBinding(key.WithKeys(b.Back), key.WithHelp(b.Back, "back")),
		Help:      key.NewBinding(key.WithKeys(b.Help), key.WithHelp(b.Help, "more")),
		Quit:      key.NewBinding(key.WithKeys("ctrl+c", b.Quit), key.WithHelp(b.Quit, "quit")),
	}
}

// viewKeys implements help.KeyMap for one view's bindings.
type viewKeys []key.Binding

func (v viewKeys) ShortHelp() []key.Binding { return v }

func (v viewKeys) FullHelp() [][]key.Binding {
	var cols [][]key.Binding
	for i := 0; i < len(v); i += 3 {
		cols = append(cols, v[i:min(i+3, len(v))])
	}
	return cols
}
