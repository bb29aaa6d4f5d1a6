package client

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"chatdesk/internal/config"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

type publishedFrame struct {
	destination string
	body        []byte
}

// fakeTransport records every connection call in order.
type fakeTransport struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr map[string]error
	calls        []string
	published    []publishedFrame
	handlers     map[string]interfaces.Handler
	connects     int
	disconnects  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscribeErr: make(map[string]error),
		handlers:     make(map[string]interfaces.Handler),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, identity types.Identity) (interfaces.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeConn{t: f}, nil
}

func (f *fakeTransport) deliver(channel string, payload string) {
	f.mu.Lock()
	handler := f.handlers[channel]
	f.mu.Unlock()
	if handler != nil {
		handler([]byte(payload))
	}
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Published(destination string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, p := range f.published {
		if p.destination == destination {
			out = append(out, p.body)
		}
	}
	return out
}

func (f *fakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeConn struct {
	t *fakeTransport
}

func (c *fakeConn) Subscribe(channel string, handler interfaces.Handler) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.calls = append(c.t.calls, "subscribe "+channel)
	if err := c.t.subscribeErr[channel]; err != nil {
		return err
	}
	c.t.handlers[channel] = handler
	return nil
}

func (c *fakeConn) Publish(destination string, payload []byte) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.calls = append(c.t.calls, "publish "+destination)
	c.t.published = append(c.t.published, publishedFrame{destination, append([]byte(nil), payload...)})
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.calls = append(c.t.calls, "disconnect")
	c.t.disconnects++
	return nil
}

// fakeCollaborators serves canned directory and history responses. A gate,
// when set, holds the response until it is closed.
type fakeCollaborators struct {
	mu           sync.Mutex
	users        []types.UserRecord
	usersErr     error
	usersGate    chan struct{}
	listCalls    int
	history      map[string][]types.ChatMessage
	historyGates map[string]chan struct{}
	historyCalls []string
}

func newFakeCollaborators(users []types.UserRecord) *fakeCollaborators {
	return &fakeCollaborators{
		users:        users,
		history:      make(map[string][]types.ChatMessage),
		historyGates: make(map[string]chan struct{}),
	}
}

func (f *fakeCollaborators) ListUsers(ctx context.Context) ([]types.UserRecord, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.usersGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return append([]types.UserRecord(nil), f.users...), nil
}

func (f *fakeCollaborators) Conversation(ctx context.Context, selfID, counterpartID string) ([]types.ChatMessage, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, counterpartID)
	gate := f.historyGates[counterpartID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ChatMessage(nil), f.history[counterpartID]...), nil
}

func (f *fakeCollaborators) setUsers(users []types.UserRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

func (f *fakeCollaborators) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeCollaborators) HistoryCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.historyCalls...)
}

// recordingView keeps every update it receives.
type recordingView struct {
	mu            sync.Mutex
	started       []types.Identity
	directories   [][]types.DirectoryEntry
	conversations []interfaces.ConversationSnapshot
	ended         []error
}

func (v *recordingView) SessionStarted(identity types.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = append(v.started, identity)
}

func (v *recordingView) DirectoryChanged(entries []types.DirectoryEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.directories = append(v.directories, entries)
}

func (v *recordingView) ConversationChanged(snapshot interfaces.ConversationSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conversations = append(v.conversations, snapshot)
}

func (v *recordingView) SessionEnded(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ended = append(v.ended, err)
}

func (v *recordingView) DirectoryUpdates() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.directories)
}

func (v *recordingView) LastDirectory() []types.DirectoryEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.directories) == 0 {
		return nil
	}
	return v.directories[len(v.directories)-1]
}

func (v *recordingView) ConversationUpdates() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.conversations)
}

func (v *recordingView) LastConversation() interfaces.ConversationSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.conversations) == 0 {
		return interfaces.ConversationSnapshot{}
	}
	return v.conversations[len(v.conversations)-1]
}

func (v *recordingView) Ended() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.ended...)
}

func entryIDs(entries []types.DirectoryEntry) string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.User.ID)
	}
	return strings.Join(ids, ",")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// harness wires a Client to fakes and closes it when the test ends.
type harness struct {
	client    *Client
	transport *fakeTransport
	collab    *fakeCollaborators
	view      *recordingView
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, users []types.UserRecord) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core))

	cfg := config.DefaultConfig()
	cfg.API.Timeout = 5 * time.Second

	h := &harness{
		transport: newFakeTransport(),
		collab:    newFakeCollaborators(users),
		view:      &recordingView{},
		logs:      logs,
	}
	h.client = New(Options{
		Transport:     h.transport,
		Collaborators: h.collab,
		View:          h.view,
		Gateway:       cfg.Gateway,
		API:           cfg.API,
		Log:           log,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.client.Close(ctx)
	})
	return h
}

func (h *harness) connect(t *testing.T, identity types.Identity) {
	t.Helper()
	if err := h.client.Connect(context.Background(), identity); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}
