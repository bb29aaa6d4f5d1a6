// Package tui is the terminal front-end: an identity form, the roster, the
// active conversation and a message box.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// actionTimeout bounds every client call made on behalf of a key press.
const actionTimeout = 30 * time.Second

// Controller is what the model drives. Implementations own the client
// lifecycle; each Connect starts a fresh session.
type Controller interface {
	Connect(ctx context.Context, identity types.Identity) error
	Select(ctx context.Context, id string) error
	Send(ctx context.Context, text string) (bool, error)
	Refresh(ctx context.Context) error
	Logout() error
}

// Options prefill the identity form.
type Options struct {
	Identity types.Identity
	// AutoConnect submits the form on start when the identity is complete.
	AutoConnect bool
}

// Results of controller calls.
type (
	connectResultMsg struct{ err error }
	sendResultMsg    struct {
		text string
		sent bool
		err  error
	}
	actionResultMsg struct {
		action string
		err    error
	}
)

type pane int

const (
	paneRoster pane = iota
	paneChat
)

const (
	fieldID = iota
	fieldName
	fieldRole
	fieldCount
)

// Model is the bubbletea model.
type Model struct {
	ctrl Controller
	log  *zap.Logger
	auto bool

	width  int
	height int

	// Identity form
	fields     [fieldCount]textinput.Model
	focused    int
	connecting bool
	banner     string

	// Session
	inSession    bool
	identity     types.Identity
	entries      []types.DirectoryEntry
	cursor       int
	conversation interfaces.ConversationSnapshot
	focusedPane  pane
	messageInput textinput.Model
	chatViewport viewport.Model
	status       string
}

// New builds the model in the identity-form state.
func New(ctrl Controller, opts Options, log *zap.Logger) Model {
	placeholders := [fieldCount]string{"user id", "full name", "MANAGER or CUSTOMER"}
	values := [fieldCount]string{opts.Identity.ID, opts.Identity.FullName, string(opts.Identity.Role)}

	var fields [fieldCount]textinput.Model
	for i := range fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 64
		ti.Width = 32
		ti.SetValue(values[i])
		fields[i] = ti
	}
	fields[fieldID].Focus()

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 2000
	messageInput.Width = 60

	return Model{
		ctrl:         ctrl,
		log:          log,
		auto:         opts.AutoConnect,
		fields:       fields,
		messageInput: messageInput,
		chatViewport: viewport.New(80, 20),
		width:        100,
		height:       30,
	}
}

func (m Model) Init() tea.Cmd {
	if m.auto {
		if identity := m.formIdentity(); identity.Validate() == nil {
			return tea.Batch(textinput.Blink, m.connect(identity))
		}
	}
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if !m.inSession {
			return m.updateForm(msg)
		}
		return m.updateSession(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.renderConversation()

	case connectResultMsg:
		m.connecting = false
		if msg.err != nil {
			// ConnectFailure keeps the user on the form with a diagnostic.
			m.banner = "Connection failed: " + msg.err.Error()
			m.log.Warn("connect failed", zap.Error(msg.err))
		}

	case sessionStartedMsg:
		m.inSession = true
		m.identity = msg.identity
		m.banner = ""
		m.status = ""
		m.entries = nil
		m.cursor = 0
		m.conversation = interfaces.ConversationSnapshot{}
		m.focusedPane = paneRoster
		m.messageInput.Reset()
		m.messageInput.Blur()
		m.renderConversation()

	case directoryMsg:
		m.applyDirectory(msg.entries)

	case conversationMsg:
		m.conversation = msg.snapshot
		m.renderConversation()

	case sessionEndedMsg:
		m.inSession = false
		m.connecting = false
		m.entries = nil
		m.conversation = interfaces.ConversationSnapshot{}
		m.messageInput.Reset()
		if msg.err != nil {
			m.banner = "Session ended: " + msg.err.Error()
		}
		m.focusField(fieldID)

	case sendResultMsg:
		if msg.err != nil {
			m.status = "Send failed: " + msg.err.Error()
		} else if msg.sent {
			// Text typed while the send was in flight stays in the input.
			if m.messageInput.Value() == msg.text {
				m.messageInput.Reset()
			}
			m.status = ""
		}

	case actionResultMsg:
		if msg.err != nil {
			m.status = msg.action + " failed: " + msg.err.Error()
		}
	}
	return m, nil
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.focusField((m.focused + 1) % fieldCount)
		return m, nil
	case "shift+tab", "up":
		m.focusField((m.focused + fieldCount - 1) % fieldCount)
		return m, nil
	case "enter":
		if m.connecting {
			return m, nil
		}
		identity := m.formIdentity()
		if identity.Validate() != nil {
			// FUNCTIONAL DISCOVERY: an incomplete identity re-shows the form
			// without a banner
			return m, nil
		}
		m.connecting = true
		m.banner = ""
		return m, m.connect(identity)
	}

	var cmd tea.Cmd
	m.fields[m.focused], cmd = m.fields[m.focused].Update(msg)
	return m, cmd
}

func (m Model) updateSession(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+l":
		return m, m.logout()
	case "ctrl+r":
		return m, m.refresh()
	case "tab":
		if m.focusedPane == paneRoster {
			m.focusedPane = paneChat
			m.messageInput.Focus()
		} else {
			m.focusedPane = paneRoster
			m.messageInput.Blur()
		}
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chatViewport, cmd = m.chatViewport.Update(msg)
		return m, cmd
	}

	if m.focusedPane == paneRoster {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case "enter", "l", "right":
			if m.cursor < len(m.entries) {
				id := m.entries[m.cursor].User.ID
				m.focusedPane = paneChat
				m.messageInput.Focus()
				return m, m.selectEntry(id)
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "enter":
		return m, m.send(m.messageInput.Value())
	case "esc":
		m.focusedPane = paneRoster
		m.messageInput.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.messageInput, cmd = m.messageInput.Update(msg)
	return m, cmd
}

func (m *Model) focusField(i int) {
	for f := range m.fields {
		m.fields[f].Blur()
	}
	m.focused = i
	m.fields[i].Focus()
}

func (m Model) formIdentity() types.Identity {
	return types.NewIdentity(m.fields[fieldID].Value(), m.fields[fieldName].Value(), m.fields[fieldRole].Value())
}

// applyDirectory keeps the cursor on the same user when it is still listed.
func (m *Model) applyDirectory(entries []types.DirectoryEntry) {
	var current string
	if m.cursor < len(m.entries) {
		current = m.entries[m.cursor].User.ID
	}

	m.entries = entries
	m.cursor = 0
	for i, e := range entries {
		if e.User.ID == current {
			m.cursor = i
			break
		}
	}
}

// Commands. Every client call runs off the program's loop.

func (m Model) connect(identity types.Identity) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return connectResultMsg{err: ctrl.Connect(ctx, identity)}
	}
}

func (m Model) selectEntry(id string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{action: "Select", err: ctrl.Select(ctx, id)}
	}
}

func (m Model) send(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		sent, err := ctrl.Send(ctx, text)
		return sendResultMsg{text: text, sent: sent, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{action: "Refresh", err: ctrl.Refresh(ctx)}
	}
}

func (m Model) logout() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return actionResultMsg{action: "Logout", err: ctrl.Logout()}
	}
}
