// Package tui implements the live fleet view behind 'pistatusd top'.
// It long-polls the daemon's watch operation and redraws on change.
package tui

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pi-agent/statusd/internal/scan"
	"github.com/pi-agent/statusd/internal/sockd"
)

// watchTimeoutMS is the long-poll timeout per daemon round-trip.
const watchTimeoutMS = 20000

// retryDelay paces reconnect attempts when the daemon is unreachable.
const retryDelay = 2 * time.Second

// KeyMap holds the fleet view key bindings.
type KeyMap struct {
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Help, k.Quit}}
}

// Model is the bubbletea model for the fleet view.
type Model struct {
	width  int
	height int

	result      *scan.Result
	fingerprint string
	err         error
	updatedAt   time.Time

	keys     KeyMap
	help     help.Model
	showHelp bool

	// request is a seam for tests; defaults to the daemon socket.
	request func(req string) ([]byte, error)
}

// NewModel returns a fleet view wired to the daemon socket.
func NewModel() *Model {
	return &Model{
		keys:    DefaultKeyMap(),
		help:    help.New(),
		request: sockd.Request,
	}
}

// Init starts the first watch round-trip.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.watch(""), tea.SetWindowTitle("pi agents"))
}

// watchMsg carries one watch response from the daemon.
type watchMsg struct {
	result      scan.Result
	fingerprint string
}

// watchErrMsg reports a failed daemon round-trip.
type watchErrMsg struct{ err error }

// retryTickMsg fires when a failed watch should be retried.
type retryTickMsg struct{}

// watchResponse is the daemon's watch payload shape.
type watchResponse struct {
	OK          bool        `json:"ok"`
	Event       string      `json:"event"`
	Fingerprint string      `json:"fingerprint"`
	Status      scan.Result `json:"status"`
}

// watch long-polls the daemon; the command blocks in its own goroutine
// until the fleet changes or the daemon times the poll out.
func (m *Model) watch(fingerprint string) tea.Cmd {
	request := m.request
	return func() tea.Msg {
		req := fmt.Sprintf("watch %d", watchTimeoutMS)
		if fingerprint != "" {
			req += " " + fingerprint
		}
		data, err := request(req)
		if err != nil {
			return watchErrMsg{err: err}
		}
		var resp watchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return watchErrMsg{err: fmt.Errorf("decoding watch response: %w", err)}
		}
		if !resp.OK {
			return watchErrMsg{err: fmt.Errorf("daemon refused watch")}
		}
		return watchMsg{result: resp.Status, fingerprint: resp.Fingerprint}
	}
}

func retryTick() tea.Cmd {
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return retryTickMsg{}
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.fingerprint = ""
			return m, m.watch("")
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case watchMsg:
		res := msg.result
		m.result = &res
		m.fingerprint = msg.fingerprint
		m.err = nil
		m.updatedAt = time.Now()
		return m, m.watch(m.fingerprint)

	case watchErrMsg:
		m.err = msg.err
		return m, retryTick()

	case retryTickMsg:
		return m, m.watch(m.fingerprint)
	}
	return m, nil
}

// Run starts the fleet view and blocks until the user quits.
func Run() error {
	_, err := tea.NewProgram(NewModel(), tea.WithAltScreen()).Run()
	return err
}
