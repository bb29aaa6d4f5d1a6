// Package gatewaytest runs an in-process chat gateway for tests: STOMP over
// websocket plus the directory and history REST endpoints, backed by an
// in-memory SQLite store.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"chatdesk/internal/config"
	"chatdesk/internal/transport/wsstream"
	"chatdesk/pkg/types"
)

// WebSocketPath is where the STOMP endpoint is mounted.
const WebSocketPath = "/ws/websocket"

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 5 * time.Second,
}

// Event is one client frame observed by the gateway.
type Event struct {
	SessionID   string
	Command     string
	Destination string
	Body        []byte
}

// Gateway is a running test gateway.
type Gateway struct {
	store    *Store
	registry *Registry
	channels *config.ChannelConfig
	server   *httptest.Server
	log      *zap.Logger

	mu       sync.Mutex
	events   []Event
	restDown bool
	closed   bool

	sessions  sync.WaitGroup
	closeOnce sync.Once
}

// New starts a gateway and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Gateway {
	t.Helper()

	store, err := NewStore()
	if err != nil {
		t.Fatalf("gatewaytest: %v", err)
	}

	g := &Gateway{
		store:    store,
		registry: NewRegistry(),
		channels: config.DefaultChannels(config.KindSTOMP),
		log:      zaptest.NewLogger(t).Named("gateway"),
	}

	r := chi.NewRouter()
	r.Get("/users", g.handleUsers)
	r.Get("/messages/{senderId}/{recipientId}", g.handleMessages)
	r.Get(WebSocketPath, g.handleWebSocket)
	g.server = httptest.NewServer(r)

	t.Cleanup(g.Close)
	return g
}

// BaseURL is the REST root.
func (g *Gateway) BaseURL() string {
	return g.server.URL
}

// WebSocketURL is the STOMP endpoint.
func (g *Gateway) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + WebSocketPath
}

// GatewayConfig returns a client configuration pointing at this gateway.
func (g *Gateway) GatewayConfig() *config.GatewayConfig {
	cfg := config.DefaultConfig().Gateway
	cfg.URL = g.WebSocketURL()
	cfg.ConnectTimeout = 5 * time.Second
	cfg.DisconnectTimeout = 2 * time.Second
	return cfg
}

// APIConfig returns a REST collaborator configuration for this gateway.
func (g *Gateway) APIConfig() *config.APIConfig {
	return &config.APIConfig{BaseURL: g.BaseURL(), Timeout: 5 * time.Second}
}

// Store exposes the backing store for seeding and assertions.
func (g *Gateway) Store() *Store {
	return g.store
}

// Registry exposes live sessions and subscriptions.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// SetRESTDown makes the REST endpoints answer 503 while on.
func (g *Gateway) SetRESTDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restDown = down
}

// Events returns a copy of every client frame seen so far, in arrival order.
func (g *Gateway) Events() []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Event(nil), g.events...)
}

// WaitFor polls the event log until match accepts it or timeout elapses.
func (g *Gateway) WaitFor(t testing.TB, timeout time.Duration, match func([]Event) bool) []Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		events := g.Events()
		if match(events) {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("gatewaytest: condition not met within %v; events: %v", timeout, describe(events))
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Deliver pushes body to every subscriber of destination and returns how
// many subscriptions received it.
func (g *Gateway) Deliver(destination string, body []byte) int {
	delivered := 0
	for _, sub := range g.registry.subscribers(destination) {
		if err := sub.session.deliver(sub.id, destination, body); err != nil {
			g.log.Warn("deliver failed", zap.String("destination", destination), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// DeliverJSON marshals v and delivers it.
func (g *Gateway) DeliverJSON(destination string, v interface{}) int {
	body, err := json.Marshal(v)
	if err != nil {
		g.log.Error("marshal delivery", zap.Error(err))
		return 0
	}
	return g.Deliver(destination, body)
}

// Close drops every session, stops the server and closes the store.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		for _, s := range g.registry.all() {
			_ = s.close()
		}
		g.sessions.Wait()
		g.server.Close()
		_ = g.store.Close()
	})
}

func (g *Gateway) record(s *session, f *frame.Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, Event{
		SessionID:   s.id,
		Command:     f.Command,
		Destination: f.Header.Get(hdrDestination),
		Body:        append([]byte(nil), f.Body...),
	})
}

func (g *Gateway) restAvailable(w http.ResponseWriter) bool {
	g.mu.Lock()
	down := g.restDown
	g.mu.Unlock()
	if down {
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (g *Gateway) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !g.restAvailable(w) {
		return
	}
	users, err := g.store.OnlineUsers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []types.UserRecord{}
	}
	writeJSON(w, users)
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !g.restAvailable(w) {
		return
	}
	messages, err := g.store.Conversation(chi.URLParam(r, "senderId"), chi.URLParam(r, "recipientId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleWebSocket upgrades and runs the frame loop on the request goroutine.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	}
	g.sessions.Add(1)
	g.mu.Unlock()
	defer g.sessions.Done()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(wsstream.New(ws, 5*time.Second))
	defer s.close()

	if err := s.handshake(); err != nil {
		g.log.Warn("stomp handshake failed", zap.Error(err))
		return
	}

	g.registry.register(s)
	defer g.registry.unregister(s)

	g.serve(s)
}

func (g *Gateway) serve(s *session) {
	log := g.log.With(zap.String("session_id", s.id))

	for {
		f, err := s.read()
		if err != nil {
			if !isClosed(err) {
				log.Debug("session read ended", zap.Error(err))
			}
			return
		}

		g.record(s, f)

		switch f.Command {
		case cmdSubscribe:
			g.registry.subscribe(s, f.Header.Get(hdrID), f.Header.Get(hdrDestination))
		case cmdUnsubscribe:
			g.registry.unsubscribe(s, f.Header.Get(hdrID))
		case cmdSend:
			g.dispatch(log, f.Header.Get(hdrDestination), f.Body)
		case cmdDisconnect:
			if err := s.receipt(f); err != nil {
				log.Debug("receipt failed", zap.Error(err))
			}
			return
		default:
			log.Warn("unsupported frame", zap.String("command", f.Command))
			_ = s.fail("unsupported frame " + f.Command)
			return
		}

		if err := s.receipt(f); err != nil {
			return
		}
	}
}

// dispatch applies the application destinations the real gateway handles.
func (g *Gateway) dispatch(log *zap.Logger, destination string, body []byte) {
	switch destination {
	case g.channels.Destination(types.DestinationAddUser):
		var u types.UserRecord
		if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
			log.Warn("bad addUser payload", zap.ByteString("body", body))
			return
		}
		stored, err := g.store.SaveUser(u)
		if err != nil {
			log.Error("save user", zap.Error(err))
			return
		}
		g.DeliverJSON(g.channels.Personal(stored.ID), stored)

	case g.channels.Destination(types.DestinationDisconnectUser):
		var u types.UserRecord
		if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
			log.Warn("bad disconnectUser payload", zap.ByteString("body", body))
			return
		}
		stored, known, err := g.store.Disconnect(u.ID)
		if err != nil {
			log.Error("disconnect user", zap.Error(err))
			return
		}
		if known {
			g.DeliverJSON(g.channels.Personal(stored.ID), stored)
		}

	case g.channels.Destination(types.DestinationChat):
		var m types.ChatMessage
		if err := json.Unmarshal(body, &m); err != nil || m.RecipientID == "" {
			log.Warn("bad chat payload", zap.ByteString("body", body))
			return
		}
		if err := g.store.SaveMessage(m); err != nil {
			log.Error("save message", zap.Error(err))
			return
		}
		g.Deliver(g.channels.Personal(m.RecipientID), body)

	default:
		log.Warn("no handler for destination", zap.String("destination", destination))
	}
}

func describe(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Command+" "+e.Destination)
	}
	return out
}
