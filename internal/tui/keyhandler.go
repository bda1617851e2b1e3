package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/media"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
)

type KeyHandler struct {
	app         *App
	keys        keyMap
	modifierKey string
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	return &KeyHandler{app: app, keys: newKeyMap(cfg), modifierKey: modifierPrefix(cfg)}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	// The list owns every key while its filter prompt is open.
	if kh.isFiltering() {
		return kh.delegateToCharm(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(msg); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	switch kh.app.view {
	case ViewAddWorkouts:
		return kh.app.textInput.Focused()
	case ViewSearch:
		return kh.app.searchInput.Focused()
	default:
		return false
	}
}

func (kh *KeyHandler) isFiltering() bool {
	switch kh.app.view {
	case ViewLibrary:
		return kh.app.libraryList.SettingFilter()
	case ViewSongs:
		return kh.app.songList.SettingFilter()
	default:
		return false
	}
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return kh.navigateBack()
	case "ctrl+c":
		return kh.app, tea.Quit
	case "enter":
		return kh.handleTextInputEnter()
	case "tab", "down":
		if kh.app.view == ViewSearch {
			if len(kh.app.searchList.Items()) > 0 {
				kh.app.searchInput.Blur()
				kh.app.searchList.Select(0)
			}
			return kh.app, nil
		}
	}
	return kh.delegateToTextInput(msg)
}

func (kh *KeyHandler) handleTextInputEnter() (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewAddWorkouts:
		urls := parseURLList(kh.app.textInput.Value())
		if len(urls) == 0 {
			return kh.app, func() tea.Msg { return errorMsg{err: errors.New("enter at least one workout URL")} }
		}
		kh.app.setStatus(MsgSubmitting, StatusInfo)
		return kh.app, kh.app.submitWorkouts(urls)

	case ViewSearch:
		if items := kh.app.searchList.Items(); len(items) > 0 {
			if i, ok := items[0].(searchResultItem); ok {
				return kh.selectSearchResult(i)
			}
		}
		return kh.app, nil

	default:
		return kh.app, nil
	}
}

func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewAddWorkouts:
		var cmd tea.Cmd
		kh.app.textInput, cmd = kh.app.textInput.Update(msg)
		return kh.app, cmd

	case ViewSearch:
		prev := kh.app.pendingSearchQuery
		var cmd tea.Cmd
		kh.app.searchInput, cmd = kh.app.searchInput.Update(msg)

		query := sanitizeSearchInput(kh.app.searchInput.Value())
		if query == prev {
			return kh.app, cmd
		}
		kh.app.pendingSearchQuery = query
		kh.app.searchSeq++
		if len([]rune(query)) < 2 {
			kh.app.searchResults = []searchResultItem{}
			kh.app.searchList.SetItems([]list.Item{})
			return kh.app, cmd
		}
		seq := kh.app.searchSeq
		return kh.app, tea.Batch(cmd, tea.Tick(searchDebounce, func(time.Time) tea.Msg {
			return searchDebounceFireMsg{seq: seq}
		}))

	default:
		return kh.app, nil
	}
}

// handleCustomKeys handles the configurable action keys. Anything else goes
// to the focused bubbles component.
func (kh *KeyHandler) handleCustomKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, kh.keys.Quit):
		return kh.app, tea.Quit, true
	case key.Matches(msg, kh.keys.Back):
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case key.Matches(msg, kh.keys.Search):
		model, cmd := kh.enterSearchMode()
		return model, cmd, true
	case key.Matches(msg, kh.keys.Help):
		kh.app.help.ShowAll = !kh.app.help.ShowAll
		return kh.app, nil, true
	}

	switch kh.app.view {
	case ViewLibrary:
		return kh.handleLibraryKeys(msg)
	case ViewWorkout:
		return kh.handleWorkoutKeys(msg)
	case ViewSongs:
		return kh.handleSongsKeys(msg)
	default:
		return kh.app, nil, false
	}
}

func (kh *KeyHandler) selectedRecord() *storage.WorkoutRecord {
	if i, ok := kh.app.libraryList.SelectedItem().(workoutItem); ok {
		return i.record
	}
	return nil
}

func (kh *KeyHandler) handleLibraryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, kh.keys.Add):
		kh.app.view = ViewAddWorkouts
		kh.app.textInput.Reset()
		kh.app.textInput.Focus()
		return kh.app, textinput.Blink, true

	case key.Matches(msg, kh.keys.Refresh):
		if kh.app.staleOnly {
			return kh.app, kh.app.updatePending(), true
		}
		if rec := kh.selectedRecord(); rec != nil {
			return kh.app, kh.app.refreshWorkout(rec), true
		}
		return kh.app, nil, true

	case key.Matches(msg, kh.keys.Favorite):
		if rec := kh.selectedRecord(); rec != nil && rec.IdentityKey != "" {
			return kh.app, kh.app.toggleFavorite(rec), true
		}
		return kh.app, nil, true

	case key.Matches(msg, kh.keys.StaleOnly):
		kh.app.staleOnly = !kh.app.staleOnly
		kh.app.libraryList.ResetFilter()
		kh.app.libraryList.Select(0)
		if kh.app.staleOnly {
			kh.app.setStatus(MsgStaleOnlyOn, StatusInfo)
		} else {
			kh.app.setStatus(MsgStaleOnlyOff, StatusInfo)
		}
		return kh.app, kh.app.loadLibrary(), true

	case key.Matches(msg, kh.keys.Open):
		if rec := kh.selectedRecord(); rec != nil && rec.URL() != "" {
			return kh.app, kh.openURL(rec.URL()), true
		}
		return kh.app, nil, true
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) handleWorkoutKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	rec := kh.app.current
	if rec == nil {
		return kh.app, nil, false
	}
	switch {
	case key.Matches(msg, kh.keys.Refresh):
		return kh.app, kh.app.refreshWorkout(rec), true
	case key.Matches(msg, kh.keys.Favorite):
		return kh.app, kh.app.toggleFavorite(rec), true
	case key.Matches(msg, kh.keys.Open):
		if len(rec.Songs) == 0 {
			if rec.URL() != "" {
				return kh.app, kh.openURL(rec.URL()), true
			}
			kh.app.setStatus(MsgNoPlaylist, StatusWarn)
			return kh.app, nil, true
		}
		kh.app.setSongs(rec)
		kh.app.songList.Select(0)
		kh.app.view = ViewSongs
		return kh.app, nil, true
	}
	return kh.app, nil, false
}

func (kh *KeyHandler) handleSongsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	if key.Matches(msg, kh.keys.Open) || msg.String() == "enter" {
		if i, ok := kh.app.songList.SelectedItem().(songItem); ok {
			if link := media.SongLink(i.song); link != "" {
				return kh.app, kh.openURL(link), true
			}
		}
		return kh.app, nil, true
	}
	return kh.app, nil, false
}

// delegateToCharm lets the bubbles components handle keys we don't intercept.
func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch kh.app.view {
	case ViewLibrary:
		filtering := kh.app.libraryList.SettingFilter()
		kh.app.libraryList, cmd = kh.app.libraryList.Update(msg)
		if msg.String() == "enter" && !filtering {
			if rec := kh.selectedRecord(); rec != nil {
				return kh.openWorkout(rec, false)
			}
		}
		return kh.app, cmd

	case ViewSongs:
		kh.app.songList, cmd = kh.app.songList.Update(msg)
		return kh.app, cmd

	case ViewSearch:
		if !kh.app.searchInput.Focused() {
			switch msg.String() {
			case "tab", "shift+tab", "/":
				kh.app.searchInput.Focus()
				return kh.app, nil
			case "up":
				if kh.app.searchList.Index() == 0 {
					kh.app.searchInput.Focus()
					return kh.app, nil
				}
			case "enter":
				if i, ok := kh.app.searchList.SelectedItem().(searchResultItem); ok {
					return kh.selectSearchResult(i)
				}
				return kh.app, nil
			}
		}
		kh.app.searchList, cmd = kh.app.searchList.Update(msg)
		return kh.app, cmd

	case ViewWorkout:
		kh.app.viewport, cmd = kh.app.viewport.Update(msg)
		return kh.app, cmd

	default:
		return kh.app, nil
	}
}

func (kh *KeyHandler) openWorkout(rec *storage.WorkoutRecord, fromSearch bool) (tea.Model, tea.Cmd) {
	kh.app.current = rec
	kh.app.cameFromSearch = fromSearch
	kh.app.loadingWorkout = true
	kh.app.setStatus(MsgLoadingWorkout, StatusInfo)
	kh.app.view = ViewWorkout
	return kh.app, kh.app.renderWorkout(rec)
}

func (kh *KeyHandler) selectSearchResult(result searchResultItem) (tea.Model, tea.Cmd) {
	if result.result == nil || result.result.Workout == nil {
		return kh.app, nil
	}
	return kh.openWorkout(result.result.Workout, true)
}

// navigateBack walks one level up the view stack. Esc on the library
// clears any filter first, then quits.
func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	switch kh.app.view {
	case ViewAddWorkouts:
		kh.app.view = ViewLibrary
		kh.app.textInput.Reset()
		kh.app.textInput.Blur()
		return kh.app, nil

	case ViewSearch:
		kh.app.view = kh.app.previousView
		kh.app.searchInput.Reset()
		kh.app.pendingSearchQuery = ""
		kh.app.searchSeq++
		kh.app.searchResults = []searchResultItem{}
		kh.app.searchList.SetItems([]list.Item{})
		return kh.app, nil

	case ViewSongs:
		kh.app.view = ViewWorkout
		return kh.app, nil

	case ViewWorkout:
		if kh.app.cameFromSearch {
			kh.app.view = ViewSearch
			kh.app.cameFromSearch = false
			kh.app.searchInput.Blur()
			return kh.app, nil
		}
		kh.app.view = ViewLibrary
		return kh.app, nil

	case ViewLibrary:
		if kh.app.libraryList.FilterState() == list.FilterApplied {
			kh.app.libraryList.ResetFilter()
			return kh.app, nil
		}
		if kh.app.staleOnly {
			kh.app.staleOnly = false
			kh.app.setStatus(MsgStaleOnlyOff, StatusInfo)
			return kh.app, kh.app.loadLibrary()
		}
		return kh.app, tea.Quit

	default:
		return kh.app, tea.Quit
	}
}

func (kh *KeyHandler) enterSearchMode() (tea.Model, tea.Cmd) {
	if kh.app.view == ViewSearch {
		kh.app.searchInput.Focus()
		return kh.app, nil
	}
	if kh.app.view == ViewAddWorkouts {
		return kh.app, nil
	}
	kh.app.previousView = kh.app.view
	if kh.app.view == ViewSongs {
		kh.app.previousView = ViewWorkout
	}
	kh.app.view = ViewSearch
	kh.app.searchInput.Reset()
	kh.app.searchInput.Focus()
	kh.app.pendingSearchQuery = ""
	kh.app.searchResults = []searchResultItem{}
	kh.app.searchList.SetItems([]list.Item{})

	engine := fmt.Sprintf("%T", kh.app.searcher)
	engine = engine[strings.LastIndex(engine, ".")+1:]
	if ds, ok := kh.app.searcher.(search.DebugStatser); ok {
		if n, err := ds.DocCount(); err == nil {
			kh.app.setStatus(fmt.Sprintf("Search: %s • idx: %d", engine, n), StatusInfo)
			return kh.app, textinput.Blink
		}
	}
	kh.app.setStatus("Search: "+engine, StatusInfo)
	return kh.app, textinput.Blink
}

// sanitizeSearchInput trims, collapses whitespace and caps the query length.
func sanitizeSearchInput(input string) string {
	input = strings.Join(strings.Fields(input), " ")
	if r := []rune(input); len(r) > 256 {
		input = strings.TrimSpace(string(r[:256]))
	}
	return input
}

func (kh *KeyHandler) openURL(link string) tea.Cmd {
	return func() tea.Msg {
		if err := kh.app.launcher.Open(link); err != nil {
			return errorMsg{err: fmt.Errorf("failed to open %s: %w", link, err)}
		}
		return nil
	}
}

// HelpForCurrentView returns the action bindings relevant to the active view.
func (kh *KeyHandler) HelpForCurrentView() viewKeys {
	k := kh.keys
	switch kh.app.view {
	case ViewLibrary:
		return viewKeys{k.Add, k.Refresh, k.Favorite, k.StaleOnly, k.Open, k.Search, k.Help, k.Quit}
	case ViewWorkout:
		open := k.Open
		open.SetHelp(open.Help().Key, "playlist")
		return viewKeys{open, k.Refresh, k.Favorite, k.Search, k.Back}
	case ViewSongs:
		return viewKeys{k.Open, k.Search, k.Back}
	case ViewSearch:
		return viewKeys{k.Back}
	case ViewAddWorkouts:
		return viewKeys{key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "scrape")), k.Back}
	default:
		return nil
	}
}
