// Package tui provides the Bubble Tea collection browser behind
// "sensboxd browse".
//
// The store is the only state the model mirrors: every store event nudges a
// one-slot channel, and the model re-reads the store when it sees the nudge.
// Bursts of events therefore coalesce into a single redraw and store handlers
// never block on the UI.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/export"
	"github.com/Sternrassler/sensboxd/pkg/fetchloop"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// loadingInterval is how often the loading notice rotates.
const loadingInterval = 3 * time.Second

// Screen is the part of the UI currently shown.
type Screen int

const (
	ScreenInput Screen = iota
	ScreenBrowse
)

// Options wires the model to a session.
type Options struct {
	Store    *collection.Store
	Loop     *fetchloop.Loop
	Planner  *export.Planner
	Messages fetchloop.Messages

	PageSize int
	FetchAll bool

	// OutputDir and Concurrency configure the "e" export.
	OutputDir   string
	Concurrency int

	// Username, when set, starts a session immediately.
	Username string
}

// bridge is shared by every copy of the model.
type bridge struct {
	activity    chan struct{}
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// Model is the Bubble Tea model for the browser.
type Model struct {
	opts   Options
	bridge *bridge

	screen    Screen
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	viewport  viewport.Model

	tabs     []collection.Availability
	active   int
	fetching bool
	percent  float64
	page     int

	loadingIdx int
	status     string
	statusErr  bool

	width  int
	height int
}

// Message types
type (
	// storeChangedMsg is sent when the store emitted at least one event.
	storeChangedMsg struct{}

	// sessionDoneMsg is sent when Loop.Start returns.
	sessionDoneMsg struct {
		Summary fetchloop.Summary
		Err     error
	}

	// exportDoneMsg is sent when an export finished.
	exportDoneMsg struct {
		Paths []string
		Items int
		Err   error
	}

	// loadingTickMsg rotates the loading notice.
	loadingTickMsg struct{}
)

// NewModel creates the browser model and subscribes it to the store.
func NewModel(opts Options) Model {
	if opts.Messages.LoadFailed == "" {
		opts.Messages = fetchloop.DefaultMessages()
	}

	ti := textinput.New()
	ti.Placeholder = "nom d'utilisateur SensCritique"
	ti.Focus()
	ti.CharLimit = 100
	ti.Width = 40

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#2EE59D"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{
		activity: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.unsubscribe = opts.Store.Subscribe(collection.AllEvents, func(collection.Event) error {
		select {
		case b.activity <- struct{}{}:
		default:
		}
		return nil
	})

	m := Model{
		opts:      opts,
		bridge:    b,
		screen:    ScreenInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		viewport:  viewport.New(80, 20),
	}
	if name := strings.TrimSpace(opts.Username); name != "" {
		m.textInput.SetValue(name)
		m.screen = ScreenBrowse
		m.fetching = true
	}
	m.refresh()
	return m
}

// Close cancels any running session and detaches from the store.
func (m Model) Close() {
	m.bridge.cancel()
	m.bridge.unsubscribe()
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.waitForActivity()}
	if m.screen == ScreenBrowse {
		cmds = append(cmds, m.startSession(m.textInput.Value()), m.tickLoading())
	}
	return tea.Batch(cmds...)
}

// waitForActivity blocks until the store emits, or the model is closed.
func (m Model) waitForActivity() tea.Cmd {
	b := m.bridge
	return func() tea.Msg {
		select {
		case <-b.activity:
			return storeChangedMsg{}
		case <-b.ctx.Done():
			return nil
		}
	}
}

func (m Model) startSession(username string) tea.Cmd {
	loop, ctx := m.opts.Loop, m.bridge.ctx
	pageSize, fetchAll := m.opts.PageSize, m.opts.FetchAll
	return func() tea.Msg {
		sum, err := loop.Start(ctx, username, pageSize, fetchAll)
		return sessionDoneMsg{Summary: sum, Err: err}
	}
}

func (m Model) runExport() tea.Cmd {
	store, planner, ctx := m.opts.Store, m.opts.Planner, m.bridge.ctx
	dir, concurrency := m.opts.OutputDir, m.opts.Concurrency
	return func() tea.Msg {
		plan, err := planner.PlanAllExports(store, store.Availability())
		if err != nil {
			return exportDoneMsg{Err: err}
		}
		paths, err := export.WriteJobs(ctx, dir, plan.Jobs, concurrency)
		return exportDoneMsg{Paths: paths, Items: plan.TotalItems, Err: err}
	}
}

func (m Model) tickLoading() tea.Cmd {
	return tea.Tick(loadingInterval, func(time.Time) tea.Msg {
		return loadingTickMsg{}
	})
}

// refresh re-reads the store.
func (m *Model) refresh() {
	st := m.opts.Store
	snap := st.Snapshot()

	m.tabs = st.Availability()
	m.active = snap.ActiveCategory
	m.fetching = snap.IsFetching
	m.percent = float64(st.Progress()) / 100

	if snap.PageNumber > m.page && snap.PageNumber > 0 {
		m.setStatus(m.opts.Messages.Page(snap.PageNumber), false)
	}
	m.page = snap.PageNumber

	m.viewport.SetContent(m.renderItems(snap))
	if snap.AutoContinueEnabled {
		m.viewport.GotoBottom()
	}
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// cycleTab moves the active category by delta among the non-empty tabs.
func (m Model) cycleTab(delta int) {
	var ids []int
	for _, a := range m.tabs {
		if a.Count > 0 {
			ids = append(ids, a.CategoryID)
		}
	}
	if len(ids) == 0 {
		return
	}
	active := m.opts.Store.ActiveCategory()
	idx := 0
	for i, id := range ids {
		if id == active {
			idx = i
			break
		}
	}
	next := ((idx+delta)%len(ids) + len(ids)) % len(ids)
	m.opts.Store.SetActiveCategory(ids[next])
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-10, 3)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.Close()
			return m, tea.Quit
		}
		if m.screen == ScreenInput {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)

	case tea.MouseMsg:
		if m.screen == ScreenBrowse {
			return m.scroll(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case storeChangedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForActivity())

	case loadingTickMsg:
		if m.fetching {
			m.loadingIdx++
			cmds = append(cmds, m.tickLoading())
		}

	case sessionDoneMsg:
		if errors.Is(msg.Err, fetchloop.ErrSuperseded) {
			return m, nil
		}
		m.refresh()
		switch {
		case msg.Err != nil && msg.Summary.Session != 0 && msg.Summary.State == fetchloop.StateIdle:
			// Canceled sessions end idle.
			m.setStatus("Chargement interrompu.", false)
			return m, nil
		case msg.Err != nil:
			m.setStatus(m.opts.Messages.For(msg.Err), true)
			return m, nil
		}
		m.setStatus(fmt.Sprintf("%d éléments chargés sur %d.", msg.Summary.Loaded, msg.Summary.Expected), false)

	case exportDoneMsg:
		switch {
		case errors.Is(msg.Err, export.ErrNoDataToExport):
			m.setStatus("Rien à exporter pour le moment.", true)
		case msg.Err != nil:
			m.setStatus(fmt.Sprintf("Export impossible : %v", msg.Err), true)
		default:
			m.setStatus(fmt.Sprintf("%d éléments exportés dans %d fichiers (%s).", msg.Items, len(msg.Paths), m.opts.OutputDir), false)
		}
	}

	if m.screen == ScreenInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.Close()
		return m, tea.Quit

	case "enter":
		username := strings.TrimSpace(m.textInput.Value())
		if username == "" {
			m.setStatus(m.opts.Messages.InvalidUsername, true)
			return m, nil
		}
		m.screen = ScreenBrowse
		m.fetching = true
		m.page = 0
		m.setStatus("", false)
		m.textInput.Blur()
		return m, tea.Batch(m.startSession(username), m.tickLoading(), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.Close()
		return m, tea.Quit

	case "a":
		m.opts.Store.SetAutoContinue(!m.opts.Store.AutoContinue())
		return m, nil

	case "tab", "right", "l":
		m.cycleTab(1)
		return m, nil

	case "shift+tab", "left", "h":
		m.cycleTab(-1)
		return m, nil

	case "e":
		m.setStatus("Export en cours...", false)
		return m, m.runExport()

	case "n":
		m.opts.Loop.Cancel()
		m.screen = ScreenInput
		m.textInput.Focus()
		m.textInput.SetValue("")
		return m, textinput.Blink
	}

	return m.scroll(msg)
}

// scroll forwards navigation to the viewport and reports user scrolls to the
// store. The reported position is the viewport's row offset from the top.
func (m Model) scroll(msg tea.Msg) (tea.Model, tea.Cmd) {
	before := m.viewport.YOffset
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	if m.viewport.YOffset != before {
		m.opts.Store.RecordScrollPosition(m.viewport.YOffset)
	}
	return m, cmd
}

// Run starts the browser and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	m := NewModel(opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
