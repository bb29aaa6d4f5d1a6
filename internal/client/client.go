// Package client runs one chat session: it connects, announces presence,
// keeps the roster and conversation current and tears everything down
// exactly once.
package client

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/internal/conversation"
	"chatdesk/internal/directory"
	"chatdesk/internal/presence"
	"chatdesk/internal/router"
	"chatdesk/internal/session"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// taskBuffer sizes the event queue; producers block when it is full.
const taskBuffer = 256

// Options are the collaborators and settings of a Client.
type Options struct {
	Transport     interfaces.Transport
	Collaborators interfaces.Collaborators
	View          interfaces.View
	Gateway       *config.GatewayConfig
	API           *config.APIConfig
	Log           *zap.Logger
}

// Snapshot is a consistent copy of the client's state.
type Snapshot struct {
	Identity     types.Identity
	Selection    string
	Directory    []types.DirectoryEntry
	Conversation interfaces.ConversationSnapshot
}

// Client is a single-use session runtime. Create a new one per login.
// ARCHITECTURAL DISCOVERY: every state change runs on one event-loop
// goroutine fed by a FIFO task queue, so inbound payloads, user actions and
// fetch results are applied in the order they arrive and need no locks
type Client struct {
	transport interfaces.Transport
	collab    interfaces.Collaborators
	view      interfaces.View
	gateway   *config.GatewayConfig
	apiCfg    *config.APIConfig
	registrar *presence.Registrar
	log       *zap.Logger

	tasks chan func()
	stop  chan struct{}
	done  chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu         sync.Mutex
	connecting bool
	started    bool
	closed     bool

	teardownOnce sync.Once
	teardownErr  error

	// Owned by the event loop.
	sess   *session.Session
	roster *directory.Roster
	buffer *conversation.Buffer
	router *router.Router
	joined bool

	refreshSeq      uint64
	refreshApplied  uint64
	refreshInFlight bool
	refreshPending  bool

	historyGen uint64
}

// New creates an idle client.
func New(opts Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport: opts.Transport,
		collab:    opts.Collaborators,
		view:      opts.View,
		gateway:   opts.Gateway,
		apiCfg:    opts.API,
		registrar: presence.NewRegistrar(opts.Gateway.Channels, opts.Log),
		log:       opts.Log,
		tasks:     make(chan func(), taskBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect opens the transport session for identity, subscribes, announces
// presence and starts the first directory refresh. An incomplete identity
// returns types.ErrIncompleteIdentity without touching the network; a
// failed handshake or join returns an error wrapping types.ErrConnectFailed.
func (c *Client) Connect(ctx context.Context, identity types.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.connecting || c.started:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	// STEP 1: handshake
	conn, err := c.transport.Connect(ctx, identity)
	if err != nil {
		c.log.Warn("connect failed", zap.String("user_id", identity.ID), zap.Error(err))
		return err
	}

	sess, err := session.New(identity, conn)
	if err != nil {
		_ = conn.Disconnect()
		return errors.Wrap(types.ErrConnectFailed, err.Error())
	}

	// STEP 2: session context and event loop
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Disconnect()
		return ErrClosed
	}
	base := c.log
	c.log = base.With(zap.String("session_id", sess.ID()), zap.String("user_id", identity.ID))
	c.sess = sess
	c.roster = directory.NewRoster(sess)
	c.buffer = conversation.NewBuffer()
	c.router = router.NewRouter(router.Deps{
		Session:  sess,
		Roster:   c.roster,
		Buffer:   c.buffer,
		View:     c.view,
		Channels: c.gateway.Channels,
		Refresh:  c.requestRefresh,
		Limiter:  router.NewRateLimiter(c.gateway.SendRateLimit, time.Minute),
		Log:      base,
	})
	c.started = true
	go c.run()
	c.mu.Unlock()

	// STEP 3: subscribe, then announce
	err = c.call(ctx, func() error {
		if err := c.registrar.Join(c.sess, c.enqueueInbound); err != nil {
			return err
		}
		c.joined = true
		c.view.SessionStarted(identity)
		c.requestRefresh()
		return nil
	})
	if err != nil {
		c.log.Warn("join failed", zap.Error(err))
		_ = c.teardown()
		if err == ErrClosed {
			return err
		}
		return errors.Wrap(types.ErrConnectFailed, err.Error())
	}

	c.log.Info("session started", zap.String("role", string(identity.Role)))
	return nil
}

// Select makes id the active counterpart and loads its history. Selecting
// the active counterpart again reloads the history. Ids absent from the
// roster are rejected with directory.ErrUnknownEntry.
func (c *Client) Select(ctx context.Context, id string) error {
	return c.call(ctx, func() error {
		if _, ok := c.roster.Find(id); !ok {
			return errors.Wrapf(directory.ErrUnknownEntry, "select %q", id)
		}

		c.sess.Select(id)
		c.view.DirectoryChanged(c.roster.Entries())

		if c.buffer.Counterpart() != id {
			c.view.ConversationChanged(c.buffer.Reset(id, nil, c.sess.Identity().ID))
		}
		c.loadHistory(id)
		return nil
	})
}

// Send publishes text to the active counterpart. It reports whether the
// message went out, in which case the caller clears its input.
func (c *Client) Send(ctx context.Context, text string) (bool, error) {
	var sent bool
	err := c.call(ctx, func() error {
		sent = c.router.Send(text)
		return nil
	})
	return sent, err
}

// Refresh requests a directory refresh.
func (c *Client) Refresh(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.requestRefresh()
		return nil
	})
}

// Snapshot returns a consistent copy of the current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() error {
		selection, _ := c.sess.Selection()
		snap = Snapshot{
			Identity:     c.sess.Identity(),
			Selection:    selection,
			Directory:    c.roster.Entries(),
			Conversation: c.buffer.Snapshot(),
		}
		return nil
	})
	return snap, err
}

// Done is closed once the event loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Logout announces OFFLINE, disconnects and stops the client.
func (c *Client) Logout() error {
	return c.teardown()
}

// Close runs the same teardown as Logout for abrupt termination, waiting at
// most until ctx is done. Whichever of Logout and Close comes first does the
// work; exactly one presence-leave is published.
func (c *Client) Close(ctx context.Context) error {
	result := make(chan error, 1)
	go func() { result <- c.teardown() }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) teardown() error {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		close(c.stop)
		c.cancel()
		if !started {
			close(c.done)
			return
		}

		// The loop has exited after this, so its state is ours.
		<-c.done
		c.workers.Wait()

		if c.joined {
			c.teardownErr = c.registrar.Leave(c.sess)
		} else if conn, err := c.sess.Release(); err == nil {
			_ = conn.Disconnect()
		}

		c.view.SessionEnded(c.teardownErr)
		c.log.Info("session ended", zap.Bool("announced", c.joined))
	})
	return c.teardownErr
}

// run is the event loop.
func (c *Client) run() {
	defer close(c.done)

	for {
		select {
		case task := <-c.tasks:
			c.safely(task)
		case <-c.stop:
			return
		}
	}
}

// safely runs task, logging instead of propagating a panic.
func (c *Client) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event loop task panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	task()
}

// post queues task unless the client is stopping. Safe from any goroutine.
func (c *Client) post(task func()) bool {
	select {
	case c.tasks <- task:
		return true
	case <-c.stop:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (c *Client) call(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	started, closed := c.started, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotConnected
	}

	result := make(chan error, 1)
	task := func() {
		err := ErrTaskPanicked
		defer func() { result <- err }()
		err = fn()
	}

	select {
	case c.tasks <- task:
	case <-c.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueInbound is the transport handler for both channels.
func (c *Client) enqueueInbound(payload []byte) {
	c.post(func() { c.router.HandleInbound(payload) })
}

// requestRefresh starts a directory fetch, or marks one pending when a
// fetch is already in flight. It returns the sequence number of the fetch
// that will answer the request. Loop only.
func (c *Client) requestRefresh() uint64 {
	if c.refreshInFlight {
		// The pending follow-up is started with the next sequence number.
		c.refreshPending = true
		return c.refreshSeq + 1
	}
	c.startRefresh()
	return c.refreshSeq
}

func (c *Client) startRefresh() {
	c.refreshInFlight = true
	c.refreshSeq++
	seq := c.refreshSeq

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.apiCfg.Timeout)
		defer cancel()

		users, err := c.collab.ListUsers(ctx)
		c.post(func() { c.applyRefresh(seq, users, err) })
	}()
}

func (c *Client) applyRefresh(seq uint64, users []types.UserRecord, err error) {
	c.refreshInFlight = false

	switch {
	case err != nil:
		c.log.Warn("directory refresh failed", zap.Error(err))
	case seq <= c.refreshApplied:
		c.log.Debug("discarding stale directory", zap.Uint64("seq", seq))
	default:
		c.refreshApplied = seq
		c.roster.Render(users)
		c.router.DirectoryApplied(seq)
		c.view.DirectoryChanged(c.roster.Entries())
	}

	if c.refreshPending {
		c.refreshPending = false
		c.startRefresh()
	}
}

// loadHistory fetches the conversation with counterpart. Only the response
// to the latest load is applied, and only while counterpart is selected.
func (c *Client) loadHistory(counterpart string) {
	c.historyGen++
	gen := c.historyGen
	self := c.sess.Identity().ID

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.apiCfg.Timeout)
		defer cancel()

		history, err := c.collab.Conversation(ctx, self, counterpart)
		c.post(func() { c.applyHistory(gen, counterpart, history, err) })
	}()
}

func (c *Client) applyHistory(gen uint64, counterpart string, history []types.ChatMessage, err error) {
	if gen != c.historyGen || !c.sess.IsActive(counterpart) {
		c.log.Debug("discarding stale history",
			zap.String("counterpart", counterpart), zap.Uint64("generation", gen))
		return
	}
	if err != nil {
		c.log.Warn("history load failed", zap.String("counterpart", counterpart), zap.Error(err))
		return
	}
	c.view.ConversationChanged(c.buffer.Reset(counterpart, history, c.sess.Identity().ID))
}
