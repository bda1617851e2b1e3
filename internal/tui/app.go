package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/fitlist/internal/config"
	"github.com/pders01/fitlist/internal/media"
	"github.com/pders01/fitlist/internal/refresh"
	"github.com/pders01/fitlist/internal/search"
	"github.com/pders01/fitlist/internal/storage"
)

const (
	searchDebounce    = 150 * time.Millisecond
	batchPollInterval = 500 * time.Millisecond
)

type App struct {
	config     *config.Config
	store      *storage.Store
	coord      *refresh.Coordinator
	searcher   search.Searcher
	launcher   *media.Launcher
	keyHandler *KeyHandler
	keys       keyMap

	libraryList list.Model
	songList    list.Model
	searchList  list.Model
	searchInput textinput.Model
	textInput   textinput.Model
	viewport    viewport.Model
	spinner     spinner.Model
	help        help.Model

	view           View
	previousView   View
	cameFromSearch bool

	records       []*storage.WorkoutRecord
	current       *storage.WorkoutRecord
	staleOnly     bool
	searchResults []searchResultItem

	pendingSearchQuery string
	searchSeq          int

	polling    bool
	status     string
	statusKind StatusKind
	err        error

	width  int
	height int

	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
	loadingWorkout  bool
}

// NewApp builds the library browser. A nil searcher falls back to the
// in-memory scorer over the store.
func NewApp(store *storage.Store, coord *refresh.Coordinator, searcher search.Searcher, cfg *config.Config) *App {
	ApplyColors(cfg.UI.Colors)

	libraryList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	libraryList.Title = "› workouts"
	libraryList.SetShowStatusBar(false)
	libraryList.SetFilteringEnabled(true)
	libraryList.SetShowHelp(false)

	songList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	songList.Title = "› playlist"
	songList.SetShowStatusBar(false)
	songList.SetFilteringEnabled(true)
	songList.SetShowHelp(false)

	searchList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	searchList.Title = "› search results"
	searchList.SetShowStatusBar(false)
	searchList.SetShowHelp(false)
	searchList.SetFilteringEnabled(false)

	ti := textinput.New()
	ti.Placeholder = "Paste workout URLs (space or comma separated)…"
	ti.CharLimit = 8192

	si := textinput.New()
	si.Placeholder = "Search workouts, trainers and songs…"
	si.CharLimit = 256

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	if searcher == nil {
		searcher = search.NewEngine(store)
	}

	app := &App{
		config:        cfg,
		store:         store,
		coord:         coord,
		searcher:      searcher,
		launcher:      media.NewLauncher(cfg),
		keys:          newKeyMap(cfg),
		libraryList:   libraryList,
		songList:      songList,
		searchList:    searchList,
		searchInput:   si,
		textInput:     ti,
		viewport:      viewport.New(0, 0),
		spinner:       sp,
		help:          help.New(),
		view:          ViewLibrary,
		previousView:  ViewLibrary,
		searchResults: []searchResultItem{},
	}
	app.keyHandler = NewKeyHandler(app, cfg)

	return app
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	lib := a.config.UI.Library
	wordWrapWidth := (a.width * 9) / 10
	if lib.WordWrapMaxWidth > 0 && wordWrapWidth > lib.WordWrapMaxWidth {
		wordWrapWidth = lib.WordWrapMaxWidth
	}
	if wordWrapWidth < lib.WordWrapMinWidth {
		wordWrapWidth = lib.WordWrapMinWidth
	}
	if a.width < 50 {
		wordWrapWidth = max(a.width-4, 20)
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}

	return a.glamourRenderer, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) setStatus(text string, kind StatusKind) {
	a.status = text
	a.statusKind = kind
	if kind != StatusError {
		a.err = nil
	}
}

func (a *App) titleWidth() int {
	limit := a.config.UI.Library.TitleMaxLength
	if limit <= 0 {
		limit = 60
	}
	if a.width > 0 && a.width-6 < limit {
		limit = max(a.width-6, 10)
	}
	return limit
}

func (a *App) setRecords(records []*storage.WorkoutRecord) {
	a.records = records
	width := a.titleWidth()
	items := make([]list.Item, len(records))
	for i, r := range records {
		items[i] = workoutItem{record: r, maxTitle: width}
		if a.current != nil && r.IdentityKey == a.current.IdentityKey {
			a.current = r
		}
	}
	a.libraryList.SetItems(items)
	if a.staleOnly {
		a.libraryList.Title = "› stale workouts"
	} else {
		a.libraryList.Title = "› workouts"
	}
}

func (a *App) setSongs(rec *storage.WorkoutRecord) {
	items := make([]list.Item, len(rec.Songs))
	for i, s := range rec.Songs {
		items[i] = songItem{song: s, index: i, total: len(rec.Songs)}
	}
	a.songList.SetItems(items)
	a.songList.Title = "› playlist: " + truncateEnd(workoutLabel(rec), max(a.width-16, 20))
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadLibrary(), tea.EnterAltScreen}
	if a.coord != nil && a.coord.Status().Processing {
		cmds = append(cmds, a.startPolling())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.libraryList.SetSize(msg.Width, msg.Height-3)
		a.songList.SetSize(msg.Width, msg.Height-3)
		a.searchList.SetSize(msg.Width, max(msg.Height-10, 5))
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 3
		a.help.Width = msg.Width

		inputWidth := msg.Width - 8
		if inputWidth < 20 {
			inputWidth = msg.Width
		}
		a.textInput.Width = inputWidth
		a.searchInput.Width = inputWidth
		if a.records != nil {
			a.setRecords(a.records)
		}

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case spinner.TickMsg:
		if !a.polling {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case libraryLoadedMsg:
		a.setRecords(msg.records)
		if a.view == ViewWorkout && a.current != nil && a.current.IdentityKey != "" && !a.loadingWorkout {
			return a, a.renderWorkout(a.current)
		}
		return a, nil

	case workoutRenderedMsg:
		if a.view == ViewWorkout && a.current != nil && a.current.IdentityKey == msg.key {
			offset := a.viewport.YOffset
			a.viewport.SetContent(msg.content)
			if a.loadingWorkout {
				a.viewport.GotoTop()
			} else {
				a.viewport.SetYOffset(offset)
			}
			a.loadingWorkout = false
			if a.status == MsgLoadingWorkout {
				a.setStatus("", StatusInfo)
			}
		}
		return a, nil

	case workoutsSubmittedMsg:
		if msg.err != nil {
			a.err = msg.err
		}
		if msg.result != nil {
			if msg.err == nil {
				a.setStatus(MsgSubmitSummary(msg.result), StatusSuccess)
			}
			a.view = ViewLibrary
			a.textInput.Reset()
			a.textInput.Blur()
			if msg.result.Queued > 0 || msg.result.Coalesced > 0 {
				return a, tea.Batch(a.loadLibrary(), a.startPolling())
			}
			return a, a.loadLibrary()
		}
		return a, nil

	case refreshQueuedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		if msg.count >= 0 {
			if msg.count == 0 {
				a.setStatus(MsgNothingPending, StatusInfo)
				return a, nil
			}
			a.setStatus(MsgPendingQueued(msg.count), StatusInfo)
		} else {
			a.setStatus(MsgRefreshQueued(msg.title), StatusInfo)
		}
		return a, a.startPolling()

	case favoriteToggledMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		if msg.favorite {
			a.setStatus(MsgFavoriteAdded, StatusSuccess)
		} else {
			a.setStatus(MsgFavoriteRemoved, StatusSuccess)
		}
		return a, a.loadLibrary()

	case batchStatusMsg:
		if msg.status.Processing {
			a.setStatus(MsgBatchProgress(msg.status), StatusInfo)
			return a, tea.Batch(a.loadLibrary(), a.pollBatch())
		}
		a.polling = false
		kind := StatusSuccess
		if len(msg.status.Errors) > 0 {
			kind = StatusWarn
		}
		a.setStatus(MsgBatchSummary(msg.status), kind)
		return a, a.loadLibrary()

	case searchDebounceFireMsg:
		if msg.seq == a.searchSeq && a.view == ViewSearch {
			return a, a.performSearch(msg.seq, a.pendingSearchQuery)
		}
		return a, nil

	case searchResultsMsg:
		if a.view == ViewSearch && msg.seq == a.searchSeq {
			a.searchResults = msg.results
			items := make([]list.Item, len(msg.results))
			for i, r := range msg.results {
				items[i] = r
			}
			a.searchList.SetItems(items)
			if len(msg.results) == 0 {
				a.setStatus(MsgNoResults, StatusInfo)
			} else {
				a.setStatus(MsgResultsCount(len(msg.results)), StatusInfo)
			}
		}
		return a, nil

	case errorMsg:
		a.err = msg.err
		a.loadingWorkout = false
		return a, nil
	}

	switch a.view {
	case ViewLibrary:
		var cmd tea.Cmd
		a.libraryList, cmd = a.libraryList.Update(msg)
		cmds = append(cmds, cmd)
	case ViewSongs:
		var cmd tea.Cmd
		a.songList, cmd = a.songList.Update(msg)
		cmds = append(cmds, cmd)
	case ViewWorkout:
		switch msg.(type) {
		case tea.WindowSizeMsg, tea.MouseMsg:
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
	case ViewAddWorkouts:
		var cmd tea.Cmd
		a.textInput, cmd = a.textInput.Update(msg)
		cmds = append(cmds, cmd)
	case ViewSearch:
		var cmd tea.Cmd
		a.searchInput, cmd = a.searchInput.Update(msg)
		cmds = append(cmds, cmd)
		a.searchList, cmd = a.searchList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) startPolling() tea.Cmd {
	if a.polling {
		return nil
	}
	a.polling = true
	return tea.Batch(a.spinner.Tick, a.pollBatch())
}

func (a *App) View() string {
	contentHeight := a.height - 3
	var content string

	switch a.view {
	case ViewLibrary:
		if len(a.records) == 0 && !a.staleOnly {
			content = renderCentered(a.width, contentHeight, GetWelcomeMessage(a.keys.Add.Help().Key))
		} else {
			content = a.libraryList.View()
		}

	case ViewWorkout:
		if a.loadingWorkout {
			content = renderCentered(a.width, contentHeight, renderMuted(MsgLoadingWorkout))
		} else {
			content = a.viewport.View()
		}

	case ViewSongs:
		content = a.songList.View()

	case ViewAddWorkouts:
		content = renderCentered(a.width, contentHeight,
			lipgloss.JoinVertical(
				lipgloss.Center,
				TitleStyle.Render("› add workouts"),
				"",
				renderInputFrame(a.textInput.View(), a.textInput.Focused(), a.textInput.Width),
				"",
				renderHelp("Enter to scrape, Esc to cancel"),
			),
		)

	case ViewSearch:
		header := "› search"
		subtitle := ""
		if a.previousView == ViewWorkout && a.current != nil {
			header = "› search in workout"
			subtitle = workoutLabel(a.current)
		}

		var hint string
		switch {
		case a.searchInput.Focused():
			hint = "Type to search • Tab/↓: results • Esc: back"
		case len(a.searchList.Items()) > 0:
			hint = "↑↓: navigate • Enter: select • Tab: search box • Esc: back"
		default:
			hint = "No results found • Tab: search box • Esc: back"
		}

		content = lipgloss.NewStyle().
			Width(a.width).
			Height(contentHeight).
			MaxHeight(contentHeight).
			Render(lipgloss.JoinVertical(
				lipgloss.Top,
				renderHeader(header, subtitle, a.width),
				"",
				renderInputFrame(a.searchInput.View(), a.searchInput.Focused(), a.searchInput.Width),
				renderMuted(hint),
				"",
				a.searchList.View(),
			))
	}

	separator := SeparatorStyle.Render(strings.Repeat("─", max(a.width-1, 0)))
	return lipgloss.JoinVertical(lipgloss.Top, content, separator, a.statusBar())
}

func (a *App) statusBar() string {
	bar := lipgloss.NewStyle().Width(a.width).Padding(0, 1)

	if a.err != nil {
		return bar.Render(ErrorMessageStyle.Render("✗ " + a.err.Error()))
	}

	var left string
	if a.polling {
		left = a.spinner.View() + " "
	}
	if a.status != "" {
		left += statusStyle(a.statusKind).Render(a.status)
	}

	bindings := a.keyHandler.HelpForCurrentView()
	var helpView string
	if a.help.ShowAll {
		helpView = a.help.FullHelpView(bindings.FullHelp())
	} else {
		helpView = a.help.ShortHelpView(bindings.ShortHelp())
	}

	if left == "" {
		return bar.Render(helpView)
	}
	return bar.Render(lipgloss.JoinVertical(lipgloss.Left, left, helpView))
}
