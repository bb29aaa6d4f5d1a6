package tui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

type fakeController struct {
	mu         sync.Mutex
	connectErr error
	sendResult bool
	connected  []types.Identity
	selected   []string
	sent       []string
	refreshes  int
	logouts    int
}

func (f *fakeController) Connect(ctx context.Context, identity types.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, identity)
	return f.connectErr
}

func (f *fakeController) Select(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeController) Send(ctx context.Context, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.sendResult, nil
}

func (f *fakeController) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeController) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model, cmd
}

func key(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

// run executes cmd synchronously and feeds its message back into the model.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m, _ = update(t, m, cmd())
	return m
}

func entries(ids ...string) []types.DirectoryEntry {
	out := make([]types.DirectoryEntry, len(ids))
	for i, id := range ids {
		out[i] = types.DirectoryEntry{User: types.UserRecord{ID: id, FullName: strings.ToUpper(id), Status: types.StatusOnline}}
	}
	return out
}

func inSession(t *testing.T, ctrl *fakeController) Model {
	t.Helper()
	m := New(ctrl, Options{}, zaptest.NewLogger(t))
	m, _ = update(t, m, sessionStartedMsg{identity: types.NewIdentity("u1", "Alice", "CUSTOMER")})
	m, _ = update(t, m, directoryMsg{entries: entries("m1", "m2")})
	return m
}

func TestModel_IncompleteIdentityReshowsForm(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, Options{Identity: types.NewIdentity("u1", "", "CUSTOMER")}, zaptest.NewLogger(t))

	m, cmd := update(t, m, key(tea.KeyEnter))
	if cmd != nil {
		t.Fatal("incomplete identity should not start a connect")
	}
	if m.banner != "" || m.connecting || m.inSession {
		t.Errorf("form state changed: banner=%q connecting=%v inSession=%v", m.banner, m.connecting, m.inSession)
	}
	if len(ctrl.connected) != 0 {
		t.Errorf("Connect called %d times", len(ctrl.connected))
	}
}

func TestModel_SubmitConnects(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, Options{}, zaptest.NewLogger(t))

	m = typeText(t, m, " u1 ")
	m, _ = update(t, m, key(tea.KeyTab))
	m = typeText(t, m, "Alice")
	m, _ = update(t, m, key(tea.KeyTab))
	m = typeText(t, m, "CUSTOMER")

	m, cmd := update(t, m, key(tea.KeyEnter))
	if !m.connecting {
		t.Error("expected connecting state")
	}
	m = run(t, m, cmd)

	if len(ctrl.connected) != 1 {
		t.Fatalf("Connect called %d times, want 1", len(ctrl.connected))
	}
	want := types.Identity{ID: "u1", FullName: "Alice", Role: types.RoleCustomer}
	if ctrl.connected[0] != want {
		t.Errorf("identity = %+v, want %+v", ctrl.connected[0], want)
	}
	if m.connecting || m.banner != "" {
		t.Errorf("after success connecting=%v banner=%q", m.connecting, m.banner)
	}
}

func TestModel_ConnectFailureStaysOnForm(t *testing.T) {
	ctrl := &fakeController{connectErr: errors.Wrap(types.ErrConnectFailed, "dial refused")}
	m := New(ctrl, Options{Identity: types.NewIdentity("u1", "Alice", "CUSTOMER")}, zaptest.NewLogger(t))

	m, cmd := update(t, m, key(tea.KeyEnter))
	m = run(t, m, cmd)

	if m.inSession {
		t.Error("connect failure must not enter the chat view")
	}
	if !strings.Contains(m.banner, "dial refused") {
		t.Errorf("banner = %q, want connect diagnostic", m.banner)
	}
	if !strings.Contains(m.View(), "Connection failed") {
		t.Error("form view should show the diagnostic")
	}
}

func TestModel_AutoConnect(t *testing.T) {
	ctrl := &fakeController{}
	m := New(ctrl, Options{Identity: types.NewIdentity("u1", "Alice", "CUSTOMER"), AutoConnect: true}, zaptest.NewLogger(t))
	if m.Init() == nil {
		t.Fatal("Init returned no command")
	}

	incomplete := New(ctrl, Options{Identity: types.NewIdentity("u1", "", ""), AutoConnect: true}, zaptest.NewLogger(t))
	_ = incomplete.Init()
	if len(ctrl.connected) != 0 {
		t.Error("Init must not call the controller synchronously")
	}
}

func TestModel_SelectFromRoster(t *testing.T) {
	ctrl := &fakeController{}
	m := inSession(t, ctrl)

	m, _ = update(t, m, key(tea.KeyDown))
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}
	m, _ = update(t, m, key(tea.KeyDown))
	if m.cursor != 1 {
		t.Errorf("cursor moved past the last entry: %d", m.cursor)
	}

	m, cmd := update(t, m, key(tea.KeyEnter))
	if len(ctrl.selected) != 0 {
		t.Fatal("Select must run inside the returned command")
	}
	m = run(t, m, cmd)

	if len(ctrl.selected) != 1 || ctrl.selected[0] != "m2" {
		t.Errorf("selected = %v, want [m2]", ctrl.selected)
	}
	if m.focusedPane != paneChat {
		t.Error("selecting should move focus to the message box")
	}
}

func TestModel_CursorFollowsUserAcrossRefresh(t *testing.T) {
	m := inSession(t, &fakeController{})
	m, _ = update(t, m, key(tea.KeyDown))

	m, _ = update(t, m, directoryMsg{entries: entries("m0", "m1", "m2")})
	if m.cursor != 2 {
		t.Errorf("cursor = %d, want 2 (still on m2)", m.cursor)
	}

	m, _ = update(t, m, directoryMsg{entries: entries("m0")})
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0 after m2 left", m.cursor)
	}
}

func TestModel_SendClearsInputOnlyWhenSent(t *testing.T) {
	ctrl := &fakeController{sendResult: false}
	m := inSession(t, ctrl)
	m, _ = update(t, m, key(tea.KeyTab))
	m = typeText(t, m, "hello")

	m, cmd := update(t, m, key(tea.KeyEnter))
	m = run(t, m, cmd)
	if m.messageInput.Value() != "hello" {
		t.Errorf("input = %q, want it kept when nothing was sent", m.messageInput.Value())
	}

	ctrl.sendResult = true
	m, cmd = update(t, m, key(tea.KeyEnter))
	m = run(t, m, cmd)
	if m.messageInput.Value() != "" {
		t.Errorf("input = %q, want cleared after send", m.messageInput.Value())
	}
	if len(ctrl.sent) != 2 || ctrl.sent[1] != "hello" {
		t.Errorf("sent = %v", ctrl.sent)
	}
}

func TestModel_SendKeepsTextTypedAfterEnter(t *testing.T) {
	ctrl := &fakeController{sendResult: true}
	m := inSession(t, ctrl)
	m, _ = update(t, m, key(tea.KeyTab))
	m = typeText(t, m, "hello")

	m, cmd := update(t, m, key(tea.KeyEnter))
	m = typeText(t, m, " again")
	m = run(t, m, cmd)

	if m.messageInput.Value() != "hello again" {
		t.Errorf("input = %q, want the text typed after Enter kept", m.messageInput.Value())
	}
	if len(ctrl.sent) != 1 || ctrl.sent[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", ctrl.sent)
	}
}

func TestModel_ConversationRendering(t *testing.T) {
	m := inSession(t, &fakeController{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m, _ = update(t, m, conversationMsg{snapshot: interfaces.ConversationSnapshot{
		CounterpartID: "m1",
		Messages: []types.RenderedMessage{
			{SenderID: "m1", Content: "how can I help", Own: false},
			{SenderID: "u1", Content: "my order is late", Own: true},
		},
		ScrollToLatest: true,
	}})

	view := m.View()
	for _, want := range []string{"how can I help", "my order is late", "M1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view is missing %q", want)
		}
	}
	if !m.chatViewport.AtBottom() {
		t.Error("viewport should be scrolled to the latest message")
	}
}

func TestModel_UnreadMarker(t *testing.T) {
	m := inSession(t, &fakeController{})
	list := entries("m1", "m2")
	list[1].Unread = true
	m, _ = update(t, m, directoryMsg{entries: list})

	sidebar := m.sidebarView()
	if strings.Count(sidebar, "new") != 1 {
		t.Errorf("sidebar lacks the unread marker:\n%s", sidebar)
	}
}

func TestModel_LogoutReturnsToForm(t *testing.T) {
	ctrl := &fakeController{}
	m := inSession(t, ctrl)

	m, cmd := update(t, m, key(tea.KeyCtrlL))
	m = run(t, m, cmd)
	if ctrl.logouts != 1 {
		t.Fatalf("Logout called %d times", ctrl.logouts)
	}

	m, _ = update(t, m, sessionEndedMsg{})
	if m.inSession {
		t.Error("expected the identity form after SessionEnded")
	}
	if len(m.entries) != 0 || m.conversation.CounterpartID != "" {
		t.Error("session state should be cleared")
	}
	if m.banner != "" {
		t.Errorf("clean logout set banner %q", m.banner)
	}
}

func TestModel_RefreshKey(t *testing.T) {
	ctrl := &fakeController{}
	m := inSession(t, ctrl)

	m, cmd := update(t, m, key(tea.KeyCtrlR))
	_ = run(t, m, cmd)
	if ctrl.refreshes != 1 {
		t.Errorf("Refresh called %d times", ctrl.refreshes)
	}
}

func TestModel_CtrlCQuits(t *testing.T) {
	m := New(&fakeController{}, Options{}, zaptest.NewLogger(t))
	_, cmd := update(t, m, key(tea.KeyCtrlC))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}

func TestBridge_ForwardsCallbacks(t *testing.T) {
	var got []tea.Msg
	b := NewBridge()

	// Dropped before Attach.
	b.SessionStarted(types.NewIdentity("u1", "Alice", "CUSTOMER"))

	b.Attach(func(msg tea.Msg) { got = append(got, msg) })
	var view interfaces.View = b
	view.SessionStarted(types.NewIdentity("u1", "Alice", "CUSTOMER"))
	view.DirectoryChanged(entries("m1"))
	view.ConversationChanged(interfaces.ConversationSnapshot{CounterpartID: "m1"})
	view.SessionEnded(nil)

	if len(got) != 4 {
		t.Fatalf("forwarded %d messages, want 4", len(got))
	}
	if _, ok := got[0].(sessionStartedMsg); !ok {
		t.Errorf("got[0] = %T", got[0])
	}
	if d, ok := got[1].(directoryMsg); !ok || len(d.entries) != 1 {
		t.Errorf("got[1] = %#v", got[1])
	}
	if c, ok := got[2].(conversationMsg); !ok || c.snapshot.CounterpartID != "m1" {
		t.Errorf("got[2] = %#v", got[2])
	}
	if _, ok := got[3].(sessionEndedMsg); !ok {
		t.Errorf("got[3] = %T", got[3])
	}
}
